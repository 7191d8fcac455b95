package warehouse

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dulce-e2e/internal/config"
	"dulce-e2e/internal/metrics"
	"dulce-e2e/internal/model"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) (*ClickHouseStore, *metrics.Metrics) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{
		ClickHouseAddr: srv.URL,
		Database:       "dulce",
		Table:          "agent_runs",
		QueryTimeout:   5 * time.Second,
	}
	m := metrics.New()
	return NewClickHouseStore(cfg, m), m
}

func TestClickHouseQuery_RowFound(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "dulce", q.Get("database"))
		require.Equal(t, "e1", q.Get("param_event_id"))
		require.Equal(t, "JSONEachRow", q.Get("default_format"))

		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), "{event_id:String}")

		// ClickHouse 는 DateTime64 를 타임존 없는 문자열로 내보낸다
		io.WriteString(w, `{"event_id":"e1","agent_id":"a1","session_id":"s1","timestamp":"2024-05-01 10:00:00.123"}`+"\n")
	})

	row, err := store.QueryEvent(context.Background(), "e1")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "e1", row.EventID)
	require.Equal(t, "a1", row.AgentID)
	require.Equal(t, "s1", row.SessionID)
	require.Equal(t,
		time.Date(2024, 5, 1, 10, 0, 0, 123_000_000, time.UTC),
		row.Timestamp)
}

func TestClickHouseQuery_NoRowYet(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		// 빈 JSONEachRow 응답 = 매칭 행 없음
	})

	row, err := store.QueryEvent(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestClickHouseQuery_NotConfigured(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-ClickHouse-Exception-Code", "60")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "Code: 60. DB::Exception: Table dulce.agent_runs does not exist.")
	})

	row, err := store.QueryEvent(context.Background(), "e1")
	require.Nil(t, row)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestClickHouseQuery_TransientServerError(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-ClickHouse-Exception-Code", "241") // MEMORY_LIMIT_EXCEEDED
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "Code: 241. DB::Exception: Memory limit exceeded")
	})

	row, err := store.QueryEvent(context.Background(), "e1")
	require.Nil(t, row)
	require.Error(t, err)
	// 일시 장애는 ErrNotConfigured 로 승격되면 안 된다 (폴링이 계속되어야 함)
	require.NotErrorIs(t, err, ErrNotConfigured)
}

func TestClickHouseInsert_GzipJSONEachRow(t *testing.T) {
	var gotQuery string
	var gotLines [][]byte

	store, m := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		require.Equal(t, "gzip", r.Header.Get("Content-Encoding"))

		zr, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		raw, err := io.ReadAll(zr)
		require.NoError(t, err)

		gotLines = bytes.Split(bytes.TrimSpace(raw), []byte{'\n'})
	})

	rows := []*model.AgentEvent{
		model.Generate("test"),
		model.Generate("test"),
		model.Generate("test"),
	}

	require.NoError(t, store.InsertRows(context.Background(), rows))

	require.Contains(t, gotQuery, "INSERT INTO agent_runs FORMAT JSONEachRow")
	require.Len(t, gotLines, 3)
	require.Contains(t, string(gotLines[0]), rows[0].EventID)

	require.EqualValues(t, 3, m.RowsLoadedTotal)
	require.EqualValues(t, 1, m.BatchesInsertedTotal)
}

func TestClickHouseInsert_EmptyBatchIsNoop(t *testing.T) {
	called := false
	store, _ := newTestStore(t, func(http.ResponseWriter, *http.Request) {
		called = true
	})

	require.NoError(t, store.InsertRows(context.Background(), nil))
	require.False(t, called)
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T10:00:00.5Z", time.Date(2024, 5, 1, 10, 0, 0, 500_000_000, time.UTC)},
		{"2024-05-01 10:00:00.5", time.Date(2024, 5, 1, 10, 0, 0, 500_000_000, time.UTC)},
		{"2024-05-01 10:00:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := parseTimestamp(tc.in)
		require.NoError(t, err, tc.in)
		require.True(t, tc.want.Equal(got), "parse %q", tc.in)
	}

	_, err := parseTimestamp("yesterday-ish")
	require.Error(t, err)
}
