package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dulce-e2e/internal/config"
	"dulce-e2e/internal/loader"
	"dulce-e2e/internal/logger"
	"dulce-e2e/internal/metrics"
	"dulce-e2e/internal/warehouse"

	"github.com/rs/zerolog/log"
)

// cmd/loader
// ====================================================================
// NDJSON → 웨어하우스 적재기.
//
// SOURCE_FILE(기본 data.json, s3://bucket/key 도 가능)을 줄 단위로
// 읽어 LOAD_BATCH_SIZE 행씩 dulce.agent_runs 로 INSERT 한다.
// gzip source 는 내용(magic bytes)으로 자동 판별한다.
//
// 파싱 실패 라인은 REJECT_DIR 의 사이드 파일로 우회되고
// 적재는 계속된다. INSERT 실패는 적재를 중단시킨다.
//
// 종료 코드: 0 - 적재 완료 / 1 - 실패
// ====================================================================

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	logger.Init(cfg)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := warehouse.New(ctx, cfg, m)
	if err != nil {
		log.Error().Err(err).Msg("warehouse init failed")
		return 1
	}
	defer store.Close()

	l := loader.New(cfg, store, m)

	rows, err := l.Run(ctx)
	if err != nil {
		log.Error().
			Err(err).
			Int64("rows_loaded", rows).
			Str("counters", m.String()).
			Msg("load failed")
		return 1
	}

	log.Info().
		Int64("rows_loaded", rows).
		Str("source", cfg.SourceFile).
		Str("table", cfg.Database+"."+cfg.Table).
		Str("counters", m.String()).
		Msg("load complete")

	return 0
}
