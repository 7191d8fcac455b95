package model

import (
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Fields(t *testing.T) {
	ev := Generate("dulce-e2e")

	require.NotEmpty(t, ev.EventID)
	require.True(t, strings.HasPrefix(ev.AgentID, "test_agent_"))
	require.True(t, strings.HasPrefix(ev.SessionID, "test_session_"))
	require.Equal(t, "e2e_test_event", ev.EventType)
	require.Equal(t, ev.EventID, ev.Data.TestRunID)
	require.Equal(t, "dulce-e2e", ev.Data.Source)

	// timestamp 는 UTC, 현재 시각 부근
	require.Equal(t, time.UTC, ev.Timestamp.Location())
	require.WithinDuration(t, time.Now().UTC(), ev.Timestamp, 5*time.Second)
}

func TestGenerate_UniqueEventIDs(t *testing.T) {
	seen := make(map[string]struct{}, 200)
	for i := 0; i < 200; i++ {
		ev := Generate("test")
		_, dup := seen[ev.EventID]
		require.False(t, dup, "duplicate event_id %s", ev.EventID)
		seen[ev.EventID] = struct{}{}
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	ev := Generate("test")

	payload, err := ev.Marshal()
	require.NoError(t, err)
	require.Contains(t, string(payload), `"event_id":"`+ev.EventID+`"`)

	var back AgentEvent
	require.NoError(t, json.Unmarshal(payload, &back))

	require.Equal(t, ev.EventID, back.EventID)
	require.Equal(t, ev.AgentID, back.AgentID)
	require.Equal(t, ev.SessionID, back.SessionID)
	// RFC 3339 직렬화로 sub-second 정밀도가 유지되어야 한다
	require.True(t, ev.Timestamp.Equal(back.Timestamp))
}
