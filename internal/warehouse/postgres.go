// internal/warehouse/postgres.go
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"dulce-e2e/internal/config"
	"dulce-e2e/internal/metrics"
	"dulce-e2e/internal/model"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE.
const (
	pgCodeUndefinedTable = "42P01" // undefined_table
	pgCodeInvalidCatalog = "3D000" // invalid_catalog_name
)

// PostgresStore
// ------------------------------------------------------------
// pgx 기반 store. 웨어하우스로 PostgreSQL 계열(redshift 포함)을
// 쓰는 환경을 위한 backend.
//
// 검증기/로더는 단일 호출 흐름이므로 커넥션 풀 대신
// *pgx.Conn 하나로 충분하다.
type PostgresStore struct {
	cfg     config.Config
	metrics *metrics.Metrics
	conn    *pgx.Conn
}

func NewPostgresStore(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*PostgresStore, error) {
	conn, err := pgx.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &PostgresStore{cfg: cfg, metrics: m, conn: conn}, nil
}

// QueryEvent 는 event_id 로 행 하나를 조회한다.
func (s *PostgresStore) QueryEvent(ctx context.Context, eventID string) (*Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT event_id, agent_id, session_id, timestamp FROM %s WHERE event_id = $1 LIMIT 1",
		pgx.Identifier{s.cfg.Table}.Sanitize(),
	)

	var r Row
	err := s.conn.QueryRow(ctx, query, eventID).
		Scan(&r.EventID, &r.AgentID, &r.SessionID, &r.Timestamp)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// 아직 행 없음 (에러 아님)
		return nil, nil
	case err != nil:
		return nil, classifyPgError(err, s.cfg)
	}

	r.Timestamp = r.Timestamp.UTC()
	return &r, nil
}

// InsertRows 는 배치를 COPY 프로토콜로 적재한다.
// data 컬럼은 JSON 문자열로 직렬화해 넣는다.
func (s *PostgresStore) InsertRows(ctx context.Context, rows []*model.AgentEvent) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	cols := []string{"event_id", "agent_id", "session_id", "timestamp", "event_type", "data"}

	_, err := s.conn.CopyFrom(ctx,
		pgx.Identifier{s.cfg.Table},
		cols,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			data, err := json.Marshal(r.Data)
			if err != nil {
				return nil, err
			}
			return []any{r.EventID, r.AgentID, r.SessionID, r.Timestamp, r.EventType, string(data)}, nil
		}),
	)
	if err != nil {
		atomic.AddInt64(&s.metrics.InsertErrorsTotal, 1)
		return classifyPgError(err, s.cfg)
	}

	atomic.AddInt64(&s.metrics.BatchesInsertedTotal, 1)
	atomic.AddInt64(&s.metrics.RowsLoadedTotal, int64(len(rows)))
	return nil
}

func (s *PostgresStore) Close() error {
	return s.conn.Close(context.Background())
}

// classifyPgError 는 "테이블/데이터베이스 없음" SQLSTATE 를
// ErrNotConfigured 로 승격하고 나머지는 그대로 감싼다.
func classifyPgError(err error, cfg config.Config) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgCodeUndefinedTable || pgErr.Code == pgCodeInvalidCatalog {
			return fmt.Errorf("%w: %s (sqlstate %s)", ErrNotConfigured, cfg.Table, pgErr.Code)
		}
	}
	return fmt.Errorf("postgres: %w", err)
}
