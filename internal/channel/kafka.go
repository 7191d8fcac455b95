// internal/channel/kafka.go
package channel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"dulce-e2e/internal/config"
	"dulce-e2e/internal/metrics"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher
// ------------------------------------------------------------
// segmentio/kafka-go Writer 기반 publisher.
//
// ack 토큰:
//   kafka-go 의 동기 WriteMessages 는 broker ack 이후에 반환되지만
//   partition/offset 을 직접 돌려주지 않는다. Writer.Completion
//   callback 에는 ack 된 메시지(offset 포함)가 전달되므로,
//   callback → acks 채널로 받아서 "topic[partition]@offset" 형태의
//   토큰을 만든다.
//
// RequiredAcks=all:
//   e2e 검증은 "채널이 메시지를 확실히 보관했다"는 전제가 필요하므로
//   leader ack 만으로는 부족하다.
type KafkaPublisher struct {
	cfg     config.Config
	metrics *metrics.Metrics
	w       *kafka.Writer
	acks    chan kafka.Message
}

func NewKafkaPublisher(cfg config.Config, m *metrics.Metrics) *KafkaPublisher {
	p := &KafkaPublisher{
		cfg:     cfg,
		metrics: m,
		acks:    make(chan kafka.Message, 1),
	}

	p.w = &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // event_id(key) 기준 파티셔닝
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1, // 검증기는 메시지 1건만 보낸다
		BatchTimeout: 10 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				return
			}
			for _, msg := range messages {
				// 버퍼(1) 가득이면 버린다. Publish 측이 이미 떠난
				// 이전 실행의 찌꺼기 ack 가 다음 발행을 막으면 안 된다.
				select {
				case p.acks <- msg:
				default:
				}
			}
		},
	}

	return p
}

// Publish 는 메시지 1건을 쓰고 broker ack 에서 얻은
// partition/offset 으로 ack 토큰을 구성한다.
// 전체 과정(write + completion 대기)은 PublishTimeout 으로 제한된다.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) (string, error) {
	atomic.AddInt64(&p.metrics.PublishAttemptsTotal, 1)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
	}

	if err := p.w.WriteMessages(ctx, msg); err != nil {
		atomic.AddInt64(&p.metrics.PublishErrorsTotal, 1)
		return "", &ChannelError{Backend: "kafka", Op: "write", Err: err}
	}

	// WriteMessages 가 동기 모드에서 ack 후 반환하므로 completion 은
	// 거의 즉시 도착한다. 대기는 write 와 같은 deadline 을 공유한다.
	select {
	case m := <-p.acks:
		return fmt.Sprintf("%s[%d]@%d", p.cfg.Topic, m.Partition, m.Offset), nil
	case <-ctx.Done():
		atomic.AddInt64(&p.metrics.PublishErrorsTotal, 1)
		return "", &ChannelError{Backend: "kafka", Op: "ack", Err: ctx.Err()}
	}
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
