// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config
//
// e2e 검증기(cmd/e2e)와 로더(cmd/loader)가 공유하는 환경 변수 설정 구조체.
// 모든 값은 프로세스 시작 시점에 Load() 에 의해 초기화되며,
// 이후에는 변경되지 않는 불변(read-only) 설정들이다.
type Config struct {

	// ---------------------------
	// 서비스 식별자
	// ---------------------------

	ProjectID   string // 파이프라인 네임스페이스 (기본: saigon-signals)
	ServiceName string // 로그 공통 필드용 서비스 이름
	InstanceID  string // 실행 프로세스 고유 ID (호스트명 기반, 실패 시 랜덤 hex)

	// ---------------------------
	// 로깅
	// ---------------------------

	LogLevel   string // zerolog 최소 레벨 (debug/info/warn/error)
	LogPretty  bool   // true: ConsoleWriter(개발용) / false: JSON(운영용)
	LogSampleN int    // Debug/Info 샘플링 비율 (1이면 전체 기록)

	// ---------------------------
	// 메시지 채널 (발행 대상)
	// ---------------------------

	Channel      string   // 채널 backend: "kafka" | "redis"
	Topic        string   // 발행 토픽/스트림 이름 (기본: dulce.agents)
	KafkaBrokers []string // Kafka broker 목록 (쉼표 구분)
	RedisAddr    string   // Redis Streams 주소

	PublishTimeout time.Duration // publish ack 대기 상한 (기본 30s)

	// ---------------------------
	// 웨어하우스 (조회/적재 대상)
	// ---------------------------

	Warehouse string // 저장소 backend: "clickhouse" | "postgres"
	Database  string // 대상 database (기본: dulce)
	Table     string // 대상 table (기본: agent_runs)

	ClickHouseAddr     string // ClickHouse HTTP 인터페이스 주소 (host:port)
	ClickHouseUser     string // basic auth (비어 있으면 인증 없이 접속)
	ClickHousePassword string

	PostgresDSN string // WAREHOUSE=postgres 일 때 필수 (fail-fast)

	QueryTimeout time.Duration // 조회 1회당 timeout (기본 30s)

	// ---------------------------
	// 검증 루프 파라미터
	// ---------------------------
	//
	// 원칙: "아직 행이 없음"과 "일시적 조회 실패"는 deadline 안에서
	// 계속 재시도하고, "행은 있는데 값이 다름"과 "테이블 미프로비저닝"은
	// 즉시 종료한다. eventual consistency 지연은 흡수하되
	// 데이터 정합성 버그를 재시도로 덮지 않기 위한 구분이다.

	PollTimeout  time.Duration // 전체 폴링 deadline (기본 60s)
	PollInterval time.Duration // 폴링 간격 (기본 5s)
	TsTolerance  time.Duration // timestamp 허용 오차 (기본 2s)

	// ---------------------------
	// 로더 파라미터
	// ---------------------------

	SourceFile    string // 적재할 NDJSON 경로 (로컬 또는 s3://bucket/key)
	LoadBatchSize int    // 배치 크기 (N행 모이면 INSERT)
	RejectDir     string // 파싱 실패 라인을 모아두는 로컬 디렉토리

	// ---------------------------
	// S3 source 설정 (s3:// 입력일 때만 사용)
	// ---------------------------

	AWSRegion    string
	S3AppRetries int // GetObject 재시도 횟수 (SDK retry는 항상 0)
}

// Load
//
// 환경 변수 기반으로 Config 값을 초기화한다.
// 운영자가 아무것도 지정하지 않아도 로컬 파이프라인 기준 기본값으로
// 동작하도록 대부분 def* 헬퍼를 사용하며,
// 기본값이 존재할 수 없는 값(PostgreSQL DSN)만 must 로 강제한다.
func Load() Config {
	warehouse := def("WAREHOUSE", "clickhouse")

	// PostgreSQL DSN에는 의미 있는 기본값이 없다.
	// postgres backend를 선택한 경우에만 fail-fast로 요구한다.
	pgDSN := os.Getenv("POSTGRES_DSN")
	if warehouse == "postgres" {
		pgDSN = must("POSTGRES_DSN")
	}

	return Config{
		ProjectID:   def("PROJECT_ID", "saigon-signals"),
		ServiceName: def("SERVICE_NAME", "dulce-e2e"),
		InstanceID:  fallbackInstanceID(),

		LogLevel:   def("LOG_LEVEL", "info"),
		LogPretty:  defBool("LOG_PRETTY", false),
		LogSampleN: defInt("LOG_SAMPLE_N", 1),

		Channel:      def("CHANNEL", "kafka"),
		Topic:        def("TOPIC", "dulce.agents"),
		KafkaBrokers: strings.Split(def("KAFKA_BROKERS", "localhost:9092"), ","),
		RedisAddr:    def("REDIS_ADDR", "localhost:6379"),

		PublishTimeout: defDur("PUBLISH_TIMEOUT", 30*time.Second),

		Warehouse: warehouse,
		Database:  def("DATABASE", "dulce"),
		Table:     def("TABLE", "agent_runs"),

		ClickHouseAddr:     def("CLICKHOUSE_ADDR", "localhost:8123"),
		ClickHouseUser:     os.Getenv("CLICKHOUSE_USER"),
		ClickHousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),

		PostgresDSN: pgDSN,

		QueryTimeout: defDur("QUERY_TIMEOUT", 30*time.Second),

		PollTimeout:  defDur("POLL_TIMEOUT", 60*time.Second),
		PollInterval: defDur("POLL_INTERVAL", 5*time.Second),
		TsTolerance:  defDur("TS_TOLERANCE", 2*time.Second),

		SourceFile:    def("SOURCE_FILE", "data.json"),
		LoadBatchSize: defInt("LOAD_BATCH_SIZE", 500),
		RejectDir:     def("REJECT_DIR", "reject"),

		AWSRegion:    def("AWS_REGION", "ap-northeast-2"),
		S3AppRetries: defInt("S3_APP_RETRIES", 3),
	}
}

// must / def / defInt / defBool / defDur
//
// 공통 패턴.
// must: 필수 환경변수가 없으면 즉시 로그 출력 후 종료(fail-fast).
// def*: 값이 없으면 기본값, 형식이 잘못되면 종료.
// 런타임 중 설정 오류를 겪지 않도록 하기 위한 보호 전략.
func must(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing required env: %s", key)
	}
	return v
}

func def(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

func defBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid bool env %s=%q: %v", key, v, err)
	}
	return b
}

func defDur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration env %s=%q: %v", key, v, err)
	}
	return d
}

// fallbackInstanceID
//
// 실행 프로세스를 식별하는 고유 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	// 랜덤 6바이트 → 12자리 hex
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
