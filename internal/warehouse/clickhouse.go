// internal/warehouse/clickhouse.go
package warehouse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"dulce-e2e/internal/config"
	"dulce-e2e/internal/metrics"
	"dulce-e2e/internal/model"

	json "github.com/goccy/go-json"
)

// ClickHouse 예외 코드.
// HTTP 인터페이스는 실패 시 X-ClickHouse-Exception-Code 헤더와
// "Code: NN." 으로 시작하는 본문을 돌려준다.
const (
	chCodeUnknownTable    = "60" // UNKNOWN_TABLE
	chCodeUnknownDatabase = "81" // UNKNOWN_DATABASE
)

// ClickHouseStore
// ------------------------------------------------------------
// ClickHouse HTTP 인터페이스 기반 store.
//   - 조회: bound parameter + FORMAT JSONEachRow
//   - 적재: gzip 압축된 JSONEachRow body POST
//
// native driver 대신 HTTP 를 쓰는 이유는 단순하다:
// 이 파이프라인의 적재 형식이 처음부터 JSONEachRow(NDJSON) 이고,
// 검증기/로더 모두 요청 몇 번이면 끝나는 일회성 도구이기 때문이다.
type ClickHouseStore struct {
	cfg     config.Config
	metrics *metrics.Metrics
	hc      *http.Client
	base    string // "http://host:port"
}

func NewClickHouseStore(cfg config.Config, m *metrics.Metrics) *ClickHouseStore {
	base := cfg.ClickHouseAddr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &ClickHouseStore{
		cfg:     cfg,
		metrics: m,
		hc:      &http.Client{},
		base:    strings.TrimRight(base, "/"),
	}
}

// chRow 는 JSONEachRow 응답 한 줄의 원본 형태.
// DateTime64 가 타임존 없는 문자열로 오기 때문에
// Row 로 바꾸기 전에 별도 파싱을 거친다.
type chRow struct {
	EventID   string `json:"event_id"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

// QueryEvent 는 event_id 로 행 하나를 조회한다.
// event_id 는 SQL 문자열 결합이 아니라 ClickHouse bound parameter
// ({event_id:String} + param_event_id) 로 전달한다.
func (s *ClickHouseStore) QueryEvent(ctx context.Context, eventID string) (*Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT event_id, agent_id, session_id, timestamp FROM %s WHERE event_id = {event_id:String} LIMIT 1",
		s.cfg.Table,
	)

	params := url.Values{}
	params.Set("database", s.cfg.Database)
	params.Set("param_event_id", eventID)
	params.Set("default_format", "JSONEachRow")

	body, err := s.do(ctx, params, strings.NewReader(query), nil)
	if err != nil {
		return nil, err
	}

	// 빈 본문 = 아직 행 없음 (에러 아님)
	line := bytes.TrimSpace(body)
	if len(line) == 0 {
		return nil, nil
	}

	// LIMIT 1 이므로 첫 줄만 해석한다.
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	var raw chRow
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("clickhouse: decode row: %w", err)
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, err
	}

	return &Row{
		EventID:   raw.EventID,
		AgentID:   raw.AgentID,
		SessionID: raw.SessionID,
		Timestamp: ts,
	}, nil
}

// InsertRows 는 배치를 gzip JSONEachRow body 로 적재한다.
func (s *ClickHouseStore) InsertRows(ctx context.Context, rows []*model.AgentEvent) error {
	if len(rows) == 0 {
		return nil
	}

	payload, err := encodeRowsJSONLGZ(rows)
	if err != nil {
		return fmt.Errorf("clickhouse: encode batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("database", s.cfg.Database)
	params.Set("query", fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", s.cfg.Table))

	headers := map[string]string{
		"Content-Encoding": "gzip",
		"Content-Type":     "application/x-ndjson",
	}

	if _, err := s.do(ctx, params, bytes.NewReader(payload), headers); err != nil {
		atomic.AddInt64(&s.metrics.InsertErrorsTotal, 1)
		return err
	}

	atomic.AddInt64(&s.metrics.BatchesInsertedTotal, 1)
	atomic.AddInt64(&s.metrics.RowsLoadedTotal, int64(len(rows)))
	return nil
}

func (s *ClickHouseStore) Close() error {
	s.hc.CloseIdleConnections()
	return nil
}

// do 는 ClickHouse HTTP 요청 1회를 수행하고 응답 본문을 돌려준다.
// 실패 응답은 예외 코드에 따라 ErrNotConfigured 또는 일반 에러로
// 분류한다.
func (s *ClickHouseStore) do(ctx context.Context, params url.Values, body io.Reader, headers map[string]string) ([]byte, error) {
	endpoint := s.base + "/?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if s.cfg.ClickHouseUser != "" {
		req.SetBasicAuth(s.cfg.ClickHouseUser, s.cfg.ClickHousePassword)
	}

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: http post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		code := resp.Header.Get("X-ClickHouse-Exception-Code")
		if code == chCodeUnknownTable || code == chCodeUnknownDatabase {
			return nil, fmt.Errorf("%w: %s.%s (code %s)",
				ErrNotConfigured, s.cfg.Database, s.cfg.Table, code)
		}
		return nil, fmt.Errorf("clickhouse: status %d: %s",
			resp.StatusCode, truncate(string(respBody), 200))
	}

	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
