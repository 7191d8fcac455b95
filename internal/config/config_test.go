package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// clearEnv 는 Load 가 읽는 키들을 테스트 동안 비운다.
// (CI 환경에 우연히 설정된 값이 기본값 검증을 깨지 않도록)
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PROJECT_ID", "SERVICE_NAME", "LOG_LEVEL", "LOG_PRETTY", "LOG_SAMPLE_N",
		"CHANNEL", "TOPIC", "KAFKA_BROKERS", "REDIS_ADDR", "PUBLISH_TIMEOUT",
		"WAREHOUSE", "DATABASE", "TABLE",
		"CLICKHOUSE_ADDR", "CLICKHOUSE_USER", "CLICKHOUSE_PASSWORD", "POSTGRES_DSN",
		"QUERY_TIMEOUT", "POLL_TIMEOUT", "POLL_INTERVAL", "TS_TOLERANCE",
		"SOURCE_FILE", "LOAD_BATCH_SIZE", "REJECT_DIR",
		"AWS_REGION", "S3_APP_RETRIES",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	require.Equal(t, "saigon-signals", cfg.ProjectID)
	require.Equal(t, "dulce-e2e", cfg.ServiceName)
	require.NotEmpty(t, cfg.InstanceID)

	require.Equal(t, "kafka", cfg.Channel)
	require.Equal(t, "dulce.agents", cfg.Topic)
	require.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)

	require.Equal(t, "clickhouse", cfg.Warehouse)
	require.Equal(t, "dulce", cfg.Database)
	require.Equal(t, "agent_runs", cfg.Table)

	require.Equal(t, 30*time.Second, cfg.PublishTimeout)
	require.Equal(t, 30*time.Second, cfg.QueryTimeout)
	require.Equal(t, 60*time.Second, cfg.PollTimeout)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.Equal(t, 2*time.Second, cfg.TsTolerance)

	require.Equal(t, "data.json", cfg.SourceFile)
	require.Equal(t, 500, cfg.LoadBatchSize)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROJECT_ID", "dulce-staging")
	t.Setenv("TOPIC", "dulce.agents.staging")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("POLL_TIMEOUT", "90s")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("LOAD_BATCH_SIZE", "50")
	t.Setenv("LOG_PRETTY", "true")

	cfg := Load()

	require.Equal(t, "dulce-staging", cfg.ProjectID)
	require.Equal(t, "dulce.agents.staging", cfg.Topic)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 90*time.Second, cfg.PollTimeout)
	require.Equal(t, 2*time.Second, cfg.PollInterval)
	require.Equal(t, 50, cfg.LoadBatchSize)
	require.True(t, cfg.LogPretty)
}

func TestLoad_PostgresDSNOptionalForClickHouse(t *testing.T) {
	clearEnv(t)
	t.Setenv("WAREHOUSE", "clickhouse")

	cfg := Load()
	require.Empty(t, cfg.PostgresDSN)
}
