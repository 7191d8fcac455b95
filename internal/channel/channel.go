// internal/channel/channel.go
package channel

import (
	"context"
	"fmt"

	"dulce-e2e/internal/config"
	"dulce-e2e/internal/metrics"
)

// Publisher
// ------------------------------------------------------------
// 외부 메시지 채널에 직렬화된 이벤트 1건을 전달하는 계약.
// Publish 는 채널이 부여한 acknowledgment 토큰을 돌려준다.
//
// 호출자(검증기)는 publish 실패를 재시도하지 않는다:
// 발행 단계의 실패는 검증 전체를 중단시키는 fatal 에러다.
type Publisher interface {
	// Publish 는 payload 를 key(event_id) 와 함께 토픽으로 발행하고
	// 채널이 부여한 ack 토큰을 반환한다.
	// ack 대기는 Config.PublishTimeout 으로 제한된다.
	Publish(ctx context.Context, key string, payload []byte) (string, error)

	Close() error
}

// ChannelError
// ------------------------------------------------------------
// 채널 계층에서 발생한 모든 에러의 공통 래퍼.
// backend 와 실패 지점(op)을 함께 보존해서,
// CI 로그만 보고도 어느 단계에서 끊겼는지 알 수 있게 한다.
type ChannelError struct {
	Backend string // "kafka" | "redis"
	Op      string // "dial" | "write" | "ack"
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// New 는 Config.Channel 값에 따라 publisher backend 를 선택한다.
func New(cfg config.Config, m *metrics.Metrics) (Publisher, error) {
	switch cfg.Channel {
	case "kafka":
		return NewKafkaPublisher(cfg, m), nil
	case "redis":
		return NewRedisPublisher(cfg, m), nil
	default:
		return nil, fmt.Errorf("unknown channel backend %q (want kafka|redis)", cfg.Channel)
	}
}
