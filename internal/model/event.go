// internal/model/event.go
package model

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// AgentEvent
// ------------------------------------------------------------
// agent 파이프라인을 흐르는 단일 이벤트 구조체.
// e2e 검증기는 이 구조체 하나를 생성해 채널로 발행한 뒤,
// 웨어하우스에서 같은 event_id 의 행을 되읽어 비교한다.
// 로더 역시 NDJSON 한 줄을 이 구조체로 해석해 적재한다.
//
// EventID 가 유일한 상관관계 키이며, AgentID/SessionID 는
// 동등성 비교에만 사용된다. Data 는 검증 로직에서 쓰이지 않고
// 그대로 왕복(round-trip)만 한다.
type AgentEvent struct {
	EventID   string    `json:"event_id"`   // 실행마다 새로 생성되는 UUID (상관관계 키)
	AgentID   string    `json:"agent_id"`   // test_agent_<uuid>
	SessionID string    `json:"session_id"` // test_session_<uuid>
	Timestamp time.Time `json:"timestamp"`  // 발행 시각 (UTC, sub-second 정밀도)
	EventType string    `json:"event_type"` // 고정값 "e2e_test_event"
	Data      EventData `json:"data"`       // 부가 정보 (검증 미사용)
}

// EventData
// ------------------------------------------------------------
// 이벤트에 실려 왕복하는 메타데이터.
type EventData struct {
	TestRunID string `json:"test_run_id"` // EventID 와 동일한 값
	Source    string `json:"source"`      // 이벤트를 만든 도구 이름
}

// Generate 는 검증 1회에 사용할 합성 이벤트를 생성한다.
// 입력이 없고 실패 경로도 없다. event_id 는 UUID 기반이므로
// 반복 실행 간 충돌 확률은 사실상 0이다.
func Generate(source string) *AgentEvent {
	eventID := uuid.NewString()
	return &AgentEvent{
		EventID:   eventID,
		AgentID:   "test_agent_" + uuid.NewString(),
		SessionID: "test_session_" + uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: "e2e_test_event",
		Data: EventData{
			TestRunID: eventID,
			Source:    source,
		},
	}
}

// Marshal 은 채널 발행용 JSON 바이트를 만든다.
// time.Time 은 RFC 3339 (nanosecond까지) 로 직렬화된다.
func (e *AgentEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
