package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 검증기/로더의 실행 상태를 나타내는 카운터 모음이다.
// Prometheus 엔드포인트가 아니라, 실행 종료 시점에 한 번 덤프해서
// 운영자가 실패 원인을 분석할 때 쓰는 내부 카운터들이다.
type Metrics struct {
	// ======================
	// 채널(publish) 지표
	// ======================

	// PublishAttemptsTotal
	// - 채널로 이벤트 발행을 시도한 횟수.
	// - e2e 검증 1회 실행에서는 보통 1이다 (publish 실패는 재시도하지 않음).
	PublishAttemptsTotal int64

	// PublishErrorsTotal
	// - 발행 실패(전송 거부, ack timeout) 횟수.
	// - 0이 아니면 해당 실행은 fatal로 종료된 것이다.
	PublishErrorsTotal int64

	// ======================
	// 검증(poll) 지표
	// ======================

	// PollAttemptsTotal
	// - 웨어하우스 point lookup 을 시도한 횟수.
	// - 정상 ingest 라면 1~3, timeout 실패라면 PollTimeout/PollInterval 수준.
	PollAttemptsTotal int64

	// QueryErrorsTotal
	// - "테이블 없음" 이외의 일시적 조회 실패 횟수.
	// - 폴링 루프는 이 에러를 흡수하고 계속 재시도하므로,
	//   값이 크면 웨어하우스 연결 상태를 의심해야 한다.
	QueryErrorsTotal int64

	// ======================
	// 로더 지표
	// ======================

	// RowsLoadedTotal
	// - 웨어하우스에 성공적으로 INSERT 된 행 수 (배치 수 아님).
	RowsLoadedTotal int64

	// RowsRejectedTotal
	// - JSON 파싱에 실패해 reject 파일로 우회된 라인 수.
	// - 0이 아니면 source 데이터 품질을 점검해야 한다.
	RowsRejectedTotal int64

	// BatchesInsertedTotal
	// - INSERT 호출 단위 성공 횟수.
	BatchesInsertedTotal int64

	// InsertErrorsTotal
	// - INSERT 실패 횟수. 로더는 INSERT 실패 시 적재를 중단한다.
	InsertErrorsTotal int64

	// ======================
	// S3 source 지표
	// ======================

	// S3GetErrorsTotal
	// - s3:// source GetObject 호출 실패 "시도" 횟수.
	// - 재시도가 있으므로 한 번의 실행에서 여러 번 증가할 수 있다.
	S3GetErrorsTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(256)

	fmt.Fprintf(&sb, "publish_attempts_total=%d\n", atomic.LoadInt64(&m.PublishAttemptsTotal))
	fmt.Fprintf(&sb, "publish_errors_total=%d\n", atomic.LoadInt64(&m.PublishErrorsTotal))

	fmt.Fprintf(&sb, "poll_attempts_total=%d\n", atomic.LoadInt64(&m.PollAttemptsTotal))
	fmt.Fprintf(&sb, "query_errors_total=%d\n", atomic.LoadInt64(&m.QueryErrorsTotal))

	fmt.Fprintf(&sb, "rows_loaded_total=%d\n", atomic.LoadInt64(&m.RowsLoadedTotal))
	fmt.Fprintf(&sb, "rows_rejected_total=%d\n", atomic.LoadInt64(&m.RowsRejectedTotal))
	fmt.Fprintf(&sb, "batches_inserted_total=%d\n", atomic.LoadInt64(&m.BatchesInsertedTotal))
	fmt.Fprintf(&sb, "insert_errors_total=%d\n", atomic.LoadInt64(&m.InsertErrorsTotal))

	fmt.Fprintf(&sb, "s3_get_errors_total=%d\n", atomic.LoadInt64(&m.S3GetErrorsTotal))

	return sb.String()
}
