package session

import (
	"encoding/json"
	"time"

	"agent-relay/internal/stream"
)

// Unified event names. Session-scoped events share the "session." prefix
// so routers can match them with a single "session.*" pattern.
const (
	EventStreamEvent        = "session.stream_event"
	EventTurnStop           = "session.turn_stop"
	EventRequestToolResults = "session.request_tool_results"
	EventCompactionStart    = "session.compaction_start"
	EventCompactionEnd      = "session.compaction_end"
	EventProcessEnded       = "session.process_ended"
	EventProcessDied        = "session.process_died"
	EventStale              = "session.stale"
	EventUnknownMessage     = "session.unknown_message"
)

// Event is one unified runtime event. Sessions emit events without a
// session id; the manager tags them before re-emitting.
type Event struct {
	Name      string    `json:"event"`
	SessionID string    `json:"sessionId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(name string, payload any) Event {
	return Event{Name: name, Payload: payload, Timestamp: time.Now().UTC()}
}

// StreamEventPayload carries one raw inner stream event, exactly as
// parsed (or synthesized) from the agent process.
type StreamEventPayload struct {
	Event json.RawMessage `json:"event"`
}

// TurnStopPayload terminates one turn.
type TurnStopPayload struct {
	StopReason   string          `json:"stopReason"`
	IsError      bool            `json:"isError"`
	DurationMS   int64           `json:"durationMs,omitempty"`
	TotalCostUSD float64         `json:"totalCostUsd,omitempty"`
	Usage        json.RawMessage `json:"usage,omitempty"`
}

// ToolResultsPayload carries tool_result blocks forwarded from the agent.
type ToolResultsPayload struct {
	Results []stream.ToolResult `json:"results"`
}

// CompactionEndPayload reports a finished context compaction.
type CompactionEndPayload struct {
	Trigger   string `json:"trigger"`
	PreTokens int    `json:"preTokens"`
}

// ProcessExitPayload reports a subprocess exit (ended or died).
type ProcessExitPayload struct {
	ExitCode int `json:"exitCode"`
}

// StalePayload reports how long a session has been without activity.
type StalePayload struct {
	IdleMinutes int `json:"idleMinutes"`
}

// UnknownMessagePayload carries an unrecognized protocol line for
// diagnostics rather than dropping it silently.
type UnknownMessagePayload struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"raw"`
}
