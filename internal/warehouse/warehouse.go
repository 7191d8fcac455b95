// internal/warehouse/warehouse.go
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dulce-e2e/internal/config"
	"dulce-e2e/internal/metrics"
	"dulce-e2e/internal/model"
)

// Store
// ------------------------------------------------------------
// 이벤트가 적재되는 웨어하우스 테이블에 대한 계약.
// 검증기는 point lookup 만, 로더는 batch insert 만 사용한다.
//
// QueryEvent 의 에러 의미 구분이 폴링 루프의 핵심이다:
//   - (row, nil)           : 행 발견
//   - (nil, nil)           : 아직 행 없음 → 폴링 계속
//   - ErrNotConfigured     : 테이블/데이터베이스 미프로비저닝 → 즉시 종료
//   - 그 외 에러           : 일시 장애 → 폴링 계속
type Store interface {
	// QueryEvent 는 event_id 로 행 하나를 조회한다 (0 또는 1건).
	// 1회 조회는 Config.QueryTimeout 으로 제한된다.
	QueryEvent(ctx context.Context, eventID string) (*Row, error)

	// InsertRows 는 이벤트 배치를 테이블에 적재한다.
	InsertRows(ctx context.Context, rows []*model.AgentEvent) error

	Close() error
}

// ErrNotConfigured 는 조회 대상 테이블(또는 데이터베이스) 자체가
// 존재하지 않음을 뜻한다. "아직 행이 없음"과 달리 재시도로 해결되지
// 않는 프로비저닝 문제이므로, 폴링 루프는 이 에러에서 즉시 멈춘다.
var ErrNotConfigured = errors.New("warehouse: target table not provisioned")

// Row 는 검증에 사용하는 4개 컬럼만 담는다.
// 나머지 컬럼(event_type, data)은 검증 로직에서 쓰이지 않는다.
type Row struct {
	EventID   string
	AgentID   string
	SessionID string
	Timestamp time.Time
}

// New 는 Config.Warehouse 값에 따라 store backend 를 선택한다.
func New(ctx context.Context, cfg config.Config, m *metrics.Metrics) (Store, error) {
	switch cfg.Warehouse {
	case "clickhouse":
		return NewClickHouseStore(cfg, m), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg, m)
	default:
		return nil, fmt.Errorf("unknown warehouse backend %q (want clickhouse|postgres)", cfg.Warehouse)
	}
}

// tsLayouts
// ------------------------------------------------------------
// backend 별 timestamp 표현을 흡수하기 위한 후보 포맷.
// ClickHouse JSONEachRow 는 DateTime64 를 "2006-01-02 15:04:05.999"
// 형태(타임존 없음, UTC 가정)로 내보내고,
// 로더가 넣은 원본 JSON 은 RFC 3339 이다.
var tsLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range tsLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("warehouse: unparseable timestamp %q", s)
}
