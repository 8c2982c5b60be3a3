// Package stream defines the line-delimited JSON protocol spoken with an
// agent CLI subprocess over stdio, and helpers to parse inbound lines and
// build outbound ones. It does not interpret message semantics beyond the
// type discriminator; that is the session's job.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Inbound line types.
const (
	TypeStreamEvent     = "stream_event"
	TypeAssistant       = "assistant"
	TypeUser            = "user"
	TypeResult          = "result"
	TypeControlResponse = "control_response"
	TypeSystem          = "system"
	TypeKeepAlive       = "keep_alive"
)

// Outbound control request subtypes.
const (
	SubtypeInterrupt         = "interrupt"
	SubtypeSetThinkingTokens = "set_max_thinking_tokens"
	SubtypeSetPermissionMode = "set_permission_mode"
)

// Line is one parsed inbound line from the agent process. Fields are
// populated per type; unused fields stay zero. Raw always holds the
// original line.
type Line struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype,omitempty"`
	Status  string          `json:"status,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`

	// result fields.
	StopReason   string          `json:"stop_reason,omitempty"`
	Result       string          `json:"result,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	DurationMS   int64           `json:"duration_ms,omitempty"`
	TotalCostUSD float64         `json:"total_cost_usd,omitempty"`
	Usage        json.RawMessage `json:"usage,omitempty"`

	// system / compact_boundary fields.
	CompactMetadata *CompactMetadata `json:"compact_metadata,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// CompactMetadata describes a context compaction boundary.
type CompactMetadata struct {
	Trigger   string `json:"trigger"`
	PreTokens int    `json:"pre_tokens"`
}

// ParseLine parses one inbound line. An empty or missing type field is an
// error; the caller decides whether to drop or surface it.
func ParseLine(data []byte) (*Line, error) {
	var ln Line
	if err := json.Unmarshal(data, &ln); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if ln.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}
	ln.Raw = json.RawMessage(append([]byte(nil), data...))
	return &ln, nil
}

// InnerEvent is the event wrapped inside a stream_event line. Only the
// fields the tracker and synthetic-abort path need are modeled; Raw
// carries everything for forwarding.
type InnerEvent struct {
	Type  string          `json:"type"`
	Index int             `json:"index"`
	Delta json.RawMessage `json:"delta,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Inner event types the tracker cares about.
const (
	EventMessageStart      = "message_start"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventContentBlockStart = "content_block_start"
	EventContentBlockStop  = "content_block_stop"
)

// ParseInnerEvent unwraps the event field of a stream_event line.
func ParseInnerEvent(data json.RawMessage) (*InnerEvent, error) {
	var ev InnerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("invalid inner event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("inner event missing 'type' field")
	}
	ev.Raw = data
	return &ev, nil
}

// ContentBlock is one piece of user message content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent wraps plain text in a single-block content slice.
func TextContent(text string) []ContentBlock {
	return []ContentBlock{{Type: "text", Text: text}}
}

// UserMessage is the outbound prompt format in stream-json input mode.
type UserMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string         `json:"role"`
		Content []ContentBlock `json:"content"`
	} `json:"message"`
}

// NewUserMessage builds an outbound user message from content blocks.
func NewUserMessage(content []ContentBlock) UserMessage {
	var m UserMessage
	m.Type = TypeUser
	m.Message.Role = "user"
	m.Message.Content = content
	return m
}

// ControlRequest is a one-way control message to the agent process.
// The process may answer with a control_response carrying the same
// request id, but senders never wait for it.
type ControlRequest struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id"`
	Request   ControlBody `json:"request"`
}

// ControlBody is the subtype-discriminated body of a control request.
type ControlBody struct {
	Subtype           string `json:"subtype"`
	MaxThinkingTokens *int   `json:"max_thinking_tokens,omitempty"`
	Mode              string `json:"mode,omitempty"`
}

// NewControlRequest builds a control request with a fresh request id.
func NewControlRequest(body ControlBody) ControlRequest {
	return ControlRequest{
		Type:      "control_request",
		RequestID: uuid.New().String(),
		Request:   body,
	}
}

// NewInterrupt builds an interrupt control request.
func NewInterrupt() ControlRequest {
	return NewControlRequest(ControlBody{Subtype: SubtypeInterrupt})
}

// ToolResult is one tool_result block extracted from an inbound user message.
type ToolResult struct {
	ToolUseID string          `json:"toolUseId"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"isError"`
}

// ExtractToolResults pulls tool_result blocks out of a user message
// envelope. Returns nil when the message carries none.
func ExtractToolResults(message json.RawMessage) []ToolResult {
	var env struct {
		Content []struct {
			Type      string          `json:"type"`
			ToolUseID string          `json:"tool_use_id"`
			Content   json.RawMessage `json:"content"`
			IsError   bool            `json:"is_error"`
		} `json:"content"`
	}
	if err := json.Unmarshal(message, &env); err != nil {
		return nil
	}
	var results []ToolResult
	for _, b := range env.Content {
		if b.Type != "tool_result" {
			continue
		}
		results = append(results, ToolResult{
			ToolUseID: b.ToolUseID,
			Content:   b.Content,
			IsError:   b.IsError,
		})
	}
	return results
}
