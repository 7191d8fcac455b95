// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"dulce-e2e/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 프로세스 시작 시 한 번만 호출되는 로거 초기화 함수.
// Config 설정(환경변수)에 따라 개발용 콘솔 출력 또는
// 운영용 JSON 출력으로 자동 전환된다.
//
// [주요 기능]
//
//  1. 로그 포맷 자동 전환:
//     - LOG_PRETTY=true : 색상이 적용된 텍스트 출력 (로컬 개발용)
//     - LOG_PRETTY=false: JSON 포맷 (CloudWatch 등 수집/검색용)
//
//  2. 공통 필드 자동 추가:
//     - 모든 로그에 "service", "project", "instance" 가 붙는다.
//     - CI에서 여러 파이프라인의 검증 로그가 섞여도 즉시 식별 가능.
//
//  3. 로그 샘플링:
//     - Debug/Info 레벨은 LOG_SAMPLE_N 에 따라 일부만 기록.
//     - Warn/Error 는 샘플링하지 않고 100% 기록.
//
// 사용 예:
//
//	logger.Init(cfg)
//	log.Info().Msg("polling warehouse")
func Init(cfg config.Config) {

	// 1) 로그 레벨 결정 (최소 출력 기준)
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil {
		level = l
	}

	zerolog.SetGlobalLevel(level)

	// 2) 출력 방식 결정 (사람 vs 기계)
	var w io.Writer

	if cfg.LogPretty {
		// [Local 개발 환경] 사람이 보기 좋은 콘솔 출력
		w = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	} else {
		// [운영/CI 환경] 표준 JSON 포맷을 그대로 stdout으로
		w = os.Stdout
	}

	// 3) 기본 Logger 생성 (공통 태그 부착)
	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("project", cfg.ProjectID).
		Str("instance", cfg.InstanceID).
		Logger()

	// 4) 샘플링 설정
	// 폴링 진행 메시지(Info)가 CI 로그를 덮지 않도록 비율 조절 가능.
	// Warn/Error 는 절대 버리지 않는다 (nil sampler).
	logger := base

	if cfg.LogSampleN > 1 {
		logger = base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: uint32(cfg.LogSampleN)},
			InfoSampler:  &zerolog.BasicSampler{N: uint32(cfg.LogSampleN)},
		})
	}

	// 5) 전역 Logger 교체
	zlog.Logger = logger

	// 표준 라이브러리 log 를 쓰는 경로(aws sdk 등)도
	// zerolog 설정을 따르도록 연결한다.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}
