// internal/verify/verify.go
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"dulce-e2e/internal/channel"
	"dulce-e2e/internal/config"
	"dulce-e2e/internal/metrics"
	"dulce-e2e/internal/model"
	"dulce-e2e/internal/warehouse"

	"github.com/rs/zerolog/log"
)

// Outcome 은 검증 1회의 최종 결과 분류다.
// bool 하나로 접으면 "왜 실패했는지"가 사라지므로
// 종료 코드 산출과 별개로 결과 종류를 보존한다.
type Outcome int

const (
	// OutcomeMatch: 행이 발견되었고 모든 비교를 통과.
	OutcomeMatch Outcome = iota

	// OutcomeMismatch: 행은 발견되었으나 필드 불일치 또는
	// timestamp 허용 오차 초과. 발견 즉시 종료하며 재시도하지 않는다
	// (정합성 버그를 재시도로 덮으면 안 된다).
	OutcomeMismatch

	// OutcomeTimeout: deadline 내에 행이 나타나지 않음.
	OutcomeTimeout

	// OutcomeNotConfigured: 대상 테이블/데이터베이스 미프로비저닝.
	// eventual consistency 지연이 아니므로 즉시 종료.
	OutcomeNotConfigured
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeNotConfigured:
		return "not_configured"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Verdict 는 검증 결과와 진단 정보를 함께 담는다.
type Verdict struct {
	Outcome  Outcome
	Attempts int           // 수행한 poll 횟수
	Elapsed  time.Duration // publish 이후 경과 시간
	Reason   string        // mismatch 등 결과를 만든 구체 사유
}

// OK 는 최종 pass/fail 신호다. cmd/e2e 의 종료 코드가 된다.
func (v *Verdict) OK() bool { return v.Outcome == OutcomeMatch }

// Checker
// ------------------------------------------------------------
// Publish-and-Verify 검증기.
//
// 흐름은 완전히 순차적이다:
//  1. 합성 이벤트 생성
//  2. 채널로 발행 (실패 시 fatal, 재시도 없음)
//  3. deadline 까지 웨어하우스 폴링
//
// publish 가 성공적으로 반환하기 전에는 절대 폴링을 시작하지 않는다.
type Checker struct {
	cfg     config.Config
	ch      channel.Publisher
	store   warehouse.Store
	metrics *metrics.Metrics

	// 시간 의존성 주입 지점. 테스트에서만 교체된다.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg config.Config, ch channel.Publisher, store warehouse.Store, m *metrics.Metrics) *Checker {
	return &Checker{
		cfg:     cfg,
		ch:      ch,
		store:   store,
		metrics: m,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// sleepCtx 는 취소 가능한 고정 interval sleep.
// SIGTERM/SIGINT 가 와도 interval 끝까지 붙잡고 있지 않는다.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run 은 검증 1회를 끝까지 수행한다.
// 반환 에러는 publish 단계(및 그 이전)의 fatal 에러뿐이다.
// 폴링 단계의 모든 결과는 Verdict 로 표현되며 에러를 던지지 않는다.
func (c *Checker) Run(ctx context.Context) (*Verdict, error) {
	ev := model.Generate(c.cfg.ServiceName)

	payload, err := ev.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	ack, err := c.ch.Publish(ctx, ev.EventID, payload)
	if err != nil {
		// 발행 실패는 재시도하지 않고 그대로 전파한다.
		return nil, err
	}

	log.Info().
		Str("event_id", ev.EventID).
		Str("ack", ack).
		Str("topic", c.cfg.Topic).
		Msg("event published, polling warehouse")

	return c.Verify(ctx, ev), nil
}

// Verify 는 발행된 이벤트가 웨어하우스에 정확히 기록되었는지
// deadline 까지 폴링으로 확인한다.
//
// 분기 정책 (순서 중요):
//   - 행 발견          → 즉시 비교 후 match/mismatch 확정
//   - 테이블 없음      → 즉시 not_configured
//   - 일시적 조회 실패 → 로그만 남기고 폴링 계속
//   - 행 없음          → interval 만큼 대기 후 재시도
//   - deadline 도달    → timeout
func (c *Checker) Verify(ctx context.Context, ev *model.AgentEvent) *Verdict {
	start := c.now()
	deadline := start.Add(c.cfg.PollTimeout)

	attempts := 0

	for c.now().Before(deadline) {
		attempts++
		atomic.AddInt64(&c.metrics.PollAttemptsTotal, 1)

		row, err := c.store.QueryEvent(ctx, ev.EventID)

		switch {
		case errors.Is(err, warehouse.ErrNotConfigured):
			return &Verdict{
				Outcome:  OutcomeNotConfigured,
				Attempts: attempts,
				Elapsed:  c.now().Sub(start),
				Reason:   err.Error(),
			}

		case err != nil:
			// 일시 장애로 보고 deadline 안에서 계속 재시도한다.
			atomic.AddInt64(&c.metrics.QueryErrorsTotal, 1)
			log.Warn().Err(err).Int("attempt", attempts).Msg("warehouse query failed, retrying")

		case row != nil:
			v := c.compare(ev, row)
			v.Attempts = attempts
			v.Elapsed = c.now().Sub(start)
			return v
		default:
			log.Info().Int("attempt", attempts).Msg("row not visible yet")
		}

		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			// 프로세스 종료 요청. 미완료 상태로 timeout 처리한다.
			return &Verdict{
				Outcome:  OutcomeTimeout,
				Attempts: attempts,
				Elapsed:  c.now().Sub(start),
				Reason:   "canceled: " + err.Error(),
			}
		}
	}

	return &Verdict{
		Outcome:  OutcomeTimeout,
		Attempts: attempts,
		Elapsed:  c.now().Sub(start),
		Reason:   fmt.Sprintf("no matching row within %s", c.cfg.PollTimeout),
	}
}

// compare 는 발견된 행을 원본 이벤트와 비교한다.
// 3개 식별자는 완전 일치, timestamp 는 |delta| < TsTolerance.
// 첫 불일치에서 바로 확정한다.
func (c *Checker) compare(ev *model.AgentEvent, row *warehouse.Row) *Verdict {
	if row.EventID != ev.EventID {
		return mismatch("event_id", ev.EventID, row.EventID)
	}
	if row.AgentID != ev.AgentID {
		return mismatch("agent_id", ev.AgentID, row.AgentID)
	}
	if row.SessionID != ev.SessionID {
		return mismatch("session_id", ev.SessionID, row.SessionID)
	}

	// 직렬화/시계 오차 흡수용 허용치.
	delta := row.Timestamp.Sub(ev.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	if delta >= c.cfg.TsTolerance {
		return &Verdict{
			Outcome: OutcomeMismatch,
			Reason: fmt.Sprintf("timestamp delta %s exceeds tolerance %s",
				delta, c.cfg.TsTolerance),
		}
	}

	return &Verdict{Outcome: OutcomeMatch}
}

func mismatch(field, want, got string) *Verdict {
	return &Verdict{
		Outcome: OutcomeMismatch,
		Reason:  fmt.Sprintf("%s mismatch: want %q, got %q", field, want, got),
	}
}
