// internal/channel/redis.go
package channel

import (
	"context"
	"sync/atomic"

	"dulce-e2e/internal/config"
	"dulce-e2e/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher
// ------------------------------------------------------------
// Redis Streams 기반 publisher.
// XADD 가 entry ID("<ms>-<seq>")를 직접 돌려주기 때문에
// ack 토큰을 별도 가공 없이 그대로 사용한다.
//
// 로컬 개발 환경에서 Kafka 없이 파이프라인을 돌릴 때 쓰는 backend.
type RedisPublisher struct {
	cfg     config.Config
	metrics *metrics.Metrics
	rdb     *redis.Client
}

func NewRedisPublisher(cfg config.Config, m *metrics.Metrics) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:       cfg.RedisAddr,
		ClientName: cfg.ProjectID,
	})
	return &RedisPublisher{cfg: cfg, metrics: m, rdb: rdb}
}

// Publish 는 스트림(cfg.Topic)에 entry 하나를 추가한다.
// XADD 응답이 곧 ack 이며, 대기는 PublishTimeout 으로 제한된다.
func (p *RedisPublisher) Publish(ctx context.Context, key string, payload []byte) (string, error) {
	atomic.AddInt64(&p.metrics.PublishAttemptsTotal, 1)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.cfg.Topic,
		Values: map[string]any{
			"event_id": key,
			"event":    payload,
		},
	}).Result()
	if err != nil {
		atomic.AddInt64(&p.metrics.PublishErrorsTotal, 1)
		return "", &ChannelError{Backend: "redis", Op: "write", Err: err}
	}

	return id, nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
