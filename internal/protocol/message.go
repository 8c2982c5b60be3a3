package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages. ID correlates a
// request with its direct reply; server pushes leave it empty.
type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType, id string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		ID:        id,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeEvent  = "event"
	TypeAck    = "ack"
	TypeResult = "result"
	TypeError  = "error"
)

// Client → Server message types.
const (
	TypeSubscribe        = "subscribe"
	TypeUnsubscribe      = "unsubscribe"
	TypeSessionCreate    = "session.create"
	TypeSessionResume    = "session.resume"
	TypeSessionPrompt    = "session.prompt"
	TypeSessionInterrupt = "session.interrupt"
	TypeSessionClose     = "session.close"
	TypeSessionList      = "session.list"
	TypeSessionHistory   = "session.history"
)

// Error codes.
const (
	ErrSessionNotFound  = "SESSION_NOT_FOUND"
	ErrSessionNotActive = "SESSION_NOT_ACTIVE"
	ErrInvalidMessage   = "INVALID_MESSAGE"
	ErrMaxSessions      = "MAX_SESSIONS"
	ErrSpawnFailed      = "SPAWN_FAILED"
)

// Server → Client payloads.

// EventPush is the payload of a pushed event message.
type EventPush struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// AckPayload acknowledges a (un)subscribe, naming the patterns accepted.
type AckPayload struct {
	Events []string `json:"events"`
}

// SessionIDResult replies to create/resume with the session id.
type SessionIDResult struct {
	SessionID string `json:"sessionId"`
}

// InterruptResult replies to session.interrupt.
type InterruptResult struct {
	Interrupted bool `json:"interrupted"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client → Server payloads.

type SubscribePayload struct {
	Events    []string `json:"events"`
	Exclusive bool     `json:"exclusive,omitempty"`
}

type UnsubscribePayload struct {
	Events []string `json:"events"`
}

type SessionCreatePayload struct {
	CWD                string `json:"cwd"`
	Model              string `json:"model,omitempty"`
	SystemPrompt       string `json:"systemPrompt,omitempty"`
	SystemPromptAppend bool   `json:"systemPromptAppend,omitempty"`
	ThinkingBudget     int    `json:"thinkingBudget,omitempty"`
	Effort             string `json:"effort,omitempty"`
}

type SessionResumePayload struct {
	SessionID      string `json:"sessionId"`
	CWD            string `json:"cwd"`
	Model          string `json:"model,omitempty"`
	ThinkingBudget int    `json:"thinkingBudget,omitempty"`
	Effort         string `json:"effort,omitempty"`
}

// SessionPromptPayload carries prompt content as either a JSON string or
// an array of content blocks. An optional cwd redirects the working
// directory of a respawn triggered by this prompt.
type SessionPromptPayload struct {
	SessionID string          `json:"sessionId"`
	Content   json.RawMessage `json:"content"`
	CWD       string          `json:"cwd,omitempty"`
}

type SessionIDPayload struct {
	SessionID string `json:"sessionId"`
}
