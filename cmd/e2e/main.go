package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dulce-e2e/internal/channel"
	"dulce-e2e/internal/config"
	"dulce-e2e/internal/logger"
	"dulce-e2e/internal/metrics"
	"dulce-e2e/internal/verify"
	"dulce-e2e/internal/warehouse"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// cmd/e2e
// ====================================================================
// Publish-and-Verify 검증기.
//
// 합성 이벤트 1건을 채널(dulce.agents)로 발행한 뒤,
// 웨어하우스(dulce.agent_runs)에 같은 event_id 의 행이
// 정확히 기록될 때까지 deadline 안에서 폴링한다.
//
// 종료 코드:
//   0 - 행이 발견되고 모든 필드 비교 통과 (match)
//   1 - 그 외 전부 (mismatch / timeout / not_configured / fatal 에러)
//
// CI 파이프라인이 이 종료 코드 하나로 배포 후 ingest 경로의
// 정상 여부를 판단한다.
// ====================================================================

func main() {
	os.Exit(run())
}

func run() int {

	// ====================================================================
	// Config & Logger 초기화
	// ====================================================================
	//
	// 모든 값은 환경변수에서 오며 기본값이 있다 (config.Load 참고).
	// CI 에서는 보통 PROJECT_ID / KAFKA_BROKERS / CLICKHOUSE_ADDR 만
	// 오버라이드한다.
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)
	m := metrics.New()

	// ====================================================================
	// 종료 신호 처리
	// ====================================================================
	//
	// 검증기는 장시간 폴링 sleep 에 머무르는 시간이 대부분이므로,
	// SIGTERM/SIGINT 를 context 취소로 연결해 sleep 중에도
	// 즉시 반응하도록 한다.
	// ====================================================================
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// ====================================================================
	// 외부 의존성 초기화 (채널 + 웨어하우스)
	// ====================================================================
	//
	// 초기화 실패는 fatal: 검증을 시작할 수 없으므로 즉시 1로 종료.
	// ====================================================================
	pub, err := channel.New(cfg, m)
	if err != nil {
		log.Error().Err(err).Msg("channel init failed")
		return 1
	}
	defer pub.Close()

	store, err := warehouse.New(ctx, cfg, m)
	if err != nil {
		log.Error().Err(err).Msg("warehouse init failed")
		return 1
	}
	defer store.Close()

	// ====================================================================
	// 검증 실행
	// ====================================================================
	checker := verify.New(cfg, pub, store, m)

	verdict, err := checker.Run(ctx)
	if err != nil {
		// publish 단계(및 그 이전)의 fatal 에러. 재시도하지 않는다.
		log.Error().Err(err).Str("counters", m.String()).Msg("e2e check aborted")
		return 1
	}

	level := zerolog.InfoLevel
	if !verdict.OK() {
		level = zerolog.ErrorLevel
	}
	log.WithLevel(level).
		Str("outcome", verdict.Outcome.String()).
		Int("attempts", verdict.Attempts).
		Dur("elapsed", verdict.Elapsed).
		Str("reason", verdict.Reason).
		Str("counters", m.String()).
		Msg("e2e check finished")

	if verdict.OK() {
		return 0
	}
	return 1
}
