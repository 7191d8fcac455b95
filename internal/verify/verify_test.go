package verify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"dulce-e2e/internal/channel"
	"dulce-e2e/internal/config"
	"dulce-e2e/internal/metrics"
	"dulce-e2e/internal/model"
	"dulce-e2e/internal/warehouse"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

// ------------------------------------------------------------
// 테스트 더블
// ------------------------------------------------------------

// fakeClock: sleep 이 실제로 기다리지 않고 가상 시간만 전진시킨다.
// 폴링 횟수/경과 시간을 결정적으로 검증하기 위한 장치.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.t = c.t.Add(d)
	return nil
}

type storeResp struct {
	row *warehouse.Row
	err error
}

// scriptedStore 는 호출 순서대로 미리 정한 응답을 돌려준다.
// 스크립트가 소진되면 "아직 행 없음"으로 동작한다.
type scriptedStore struct {
	responses []storeResp
	calls     int
}

func (s *scriptedStore) QueryEvent(_ context.Context, _ string) (*warehouse.Row, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		return nil, nil
	}
	return s.responses[i].row, s.responses[i].err
}

func (s *scriptedStore) InsertRows(_ context.Context, _ []*model.AgentEvent) error { return nil }
func (s *scriptedStore) Close() error                                              { return nil }

type fakePublisher struct {
	err     error
	last    []byte
	publish int
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload []byte) (string, error) {
	p.publish++
	if p.err != nil {
		return "", p.err
	}
	p.last = payload
	return "dulce.agents[0]@42", nil
}

func (p *fakePublisher) Close() error { return nil }

// ------------------------------------------------------------
// 헬퍼
// ------------------------------------------------------------

func testConfig() config.Config {
	return config.Config{
		ServiceName:  "dulce-e2e-test",
		Topic:        "dulce.agents",
		PollTimeout:  60 * time.Second,
		PollInterval: 5 * time.Second,
		TsTolerance:  2 * time.Second,
	}
}

func newChecker(t *testing.T, store warehouse.Store, pub channel.Publisher) (*Checker, *fakeClock, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	c := New(testConfig(), pub, store, m)
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0).UTC()}
	c.now = clk.now
	c.sleep = clk.sleep
	return c, clk, m
}

func matchingRow(ev *model.AgentEvent, tsDelta time.Duration) *warehouse.Row {
	return &warehouse.Row{
		EventID:   ev.EventID,
		AgentID:   ev.AgentID,
		SessionID: ev.SessionID,
		Timestamp: ev.Timestamp.Add(tsDelta),
	}
}

// ------------------------------------------------------------
// Verify
// ------------------------------------------------------------

func TestVerify_MatchOnThirdPoll(t *testing.T) {
	ev := model.Generate("test")
	ev.EventID = "e1"

	store := &scriptedStore{responses: []storeResp{
		{}, // 아직 행 없음
		{}, // 아직 행 없음
		{row: matchingRow(ev, 100 * time.Millisecond)},
	}}
	c, _, _ := newChecker(t, store, &fakePublisher{})

	v := c.Verify(context.Background(), ev)

	require.Equal(t, OutcomeMatch, v.Outcome)
	require.True(t, v.OK())
	require.Equal(t, 3, v.Attempts)
}

func TestVerify_TimeoutNeverAppears(t *testing.T) {
	ev := model.Generate("test")
	ev.EventID = "e2"

	store := &scriptedStore{} // 영원히 행 없음
	c, clk, _ := newChecker(t, store, &fakePublisher{})
	start := clk.t

	v := c.Verify(context.Background(), ev)

	require.Equal(t, OutcomeTimeout, v.Outcome)
	require.False(t, v.OK())

	// timeout/interval 번의 시도 (±1)
	want := int(c.cfg.PollTimeout / c.cfg.PollInterval)
	require.InDelta(t, want, v.Attempts, 1)

	// 경과 시간 ≈ 전체 timeout
	require.Equal(t, c.cfg.PollTimeout, clk.t.Sub(start))
	require.Equal(t, c.cfg.PollTimeout, v.Elapsed)
}

func TestVerify_MismatchIsTerminal(t *testing.T) {
	ev := model.Generate("test")
	ev.EventID = "e3"

	row := matchingRow(ev, 0)
	row.AgentID = "someone_else"

	store := &scriptedStore{responses: []storeResp{{row: row}}}
	c, _, _ := newChecker(t, store, &fakePublisher{})

	v := c.Verify(context.Background(), ev)

	// 행을 발견한 첫 시도에서 즉시 종료해야 한다 (전체 timeout 소진 금지)
	require.Equal(t, OutcomeMismatch, v.Outcome)
	require.Equal(t, 1, v.Attempts)
	require.Equal(t, 1, store.calls)
	require.Contains(t, v.Reason, "agent_id")
}

func TestVerify_TimestampWithinTolerance(t *testing.T) {
	ev := model.Generate("test")

	store := &scriptedStore{responses: []storeResp{
		{row: matchingRow(ev, 1500 * time.Millisecond)}, // 2s 허용치 안
	}}
	c, _, _ := newChecker(t, store, &fakePublisher{})

	v := c.Verify(context.Background(), ev)
	require.Equal(t, OutcomeMatch, v.Outcome)
}

func TestVerify_TimestampBeyondTolerance(t *testing.T) {
	ev := model.Generate("test")

	store := &scriptedStore{responses: []storeResp{
		{row: matchingRow(ev, -3 * time.Second)}, // 2s 허용치 초과 (부호 무관)
	}}
	c, _, _ := newChecker(t, store, &fakePublisher{})

	v := c.Verify(context.Background(), ev)
	require.Equal(t, OutcomeMismatch, v.Outcome)
	require.Equal(t, 1, v.Attempts)
	require.Contains(t, v.Reason, "timestamp")
}

func TestVerify_NotConfiguredIsImmediate(t *testing.T) {
	ev := model.Generate("test")

	store := &scriptedStore{responses: []storeResp{
		{err: fmt.Errorf("%w: dulce.agent_runs", warehouse.ErrNotConfigured)},
	}}
	c, _, _ := newChecker(t, store, &fakePublisher{})

	v := c.Verify(context.Background(), ev)

	require.Equal(t, OutcomeNotConfigured, v.Outcome)
	require.Equal(t, 1, v.Attempts)
	require.Equal(t, 1, store.calls)
}

func TestVerify_TransientErrorKeepsPolling(t *testing.T) {
	ev := model.Generate("test")

	store := &scriptedStore{responses: []storeResp{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{row: matchingRow(ev, 0)},
	}}
	c, _, m := newChecker(t, store, &fakePublisher{})

	v := c.Verify(context.Background(), ev)

	require.Equal(t, OutcomeMatch, v.Outcome)
	require.Equal(t, 3, v.Attempts)
	require.EqualValues(t, 2, m.QueryErrorsTotal)
}

// ------------------------------------------------------------
// Run (publish + verify)
// ------------------------------------------------------------

// echoStore 는 publisher 가 실제로 발행한 payload 를 되돌려준다.
// publish → 적재 → 조회 왕복을 프로세스 안에서 흉내낸 것.
type echoStore struct {
	pub *fakePublisher
}

func (s *echoStore) QueryEvent(_ context.Context, _ string) (*warehouse.Row, error) {
	var ev model.AgentEvent
	if err := json.Unmarshal(s.pub.last, &ev); err != nil {
		return nil, err
	}
	return &warehouse.Row{
		EventID:   ev.EventID,
		AgentID:   ev.AgentID,
		SessionID: ev.SessionID,
		Timestamp: ev.Timestamp,
	}, nil
}

func (s *echoStore) InsertRows(_ context.Context, _ []*model.AgentEvent) error { return nil }
func (s *echoStore) Close() error                                              { return nil }

func TestRun_PublishThenVerify(t *testing.T) {
	pub := &fakePublisher{}
	c, _, _ := newChecker(t, &echoStore{pub: pub}, pub)

	v, err := c.Run(context.Background())

	require.NoError(t, err)
	require.Equal(t, 1, pub.publish)
	require.Equal(t, OutcomeMatch, v.Outcome)
}

func TestRun_PublishErrorAborts(t *testing.T) {
	pub := &fakePublisher{
		err: &channel.ChannelError{Backend: "kafka", Op: "ack", Err: context.DeadlineExceeded},
	}
	store := &scriptedStore{}
	c, _, _ := newChecker(t, store, pub)

	v, err := c.Run(context.Background())

	require.Nil(t, v)
	require.Error(t, err)

	var chErr *channel.ChannelError
	require.ErrorAs(t, err, &chErr)

	// 발행이 실패하면 폴링은 시작조차 하지 않는다
	require.Equal(t, 0, store.calls)
}
