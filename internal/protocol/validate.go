package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeSubscribe:        true,
	TypeUnsubscribe:      true,
	TypeSessionCreate:    true,
	TypeSessionResume:    true,
	TypeSessionPrompt:    true,
	TypeSessionInterrupt: true,
	TypeSessionClose:     true,
	TypeSessionList:      true,
	TypeSessionHistory:   true,
}

// typesWithoutPayload are client types that need no payload at all.
var typesWithoutPayload = map[string]bool{
	TypeSessionList: true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil && !typesWithoutPayload[msg.Type] {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	// Validate required payload fields per type.
	switch msg.Type {
	case TypeSubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if len(p.Events) == 0 {
			return nil, fmt.Errorf("missing required field 'events' in %s payload", msg.Type)
		}

	case TypeUnsubscribe:
		var p UnsubscribePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if len(p.Events) == 0 {
			return nil, fmt.Errorf("missing required field 'events' in %s payload", msg.Type)
		}

	case TypeSessionCreate:
		var p SessionCreatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.CWD == "" {
			return nil, fmt.Errorf("missing required field 'cwd' in %s payload", msg.Type)
		}

	case TypeSessionResume:
		var p SessionResumePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}
		if p.CWD == "" {
			return nil, fmt.Errorf("missing required field 'cwd' in %s payload", msg.Type)
		}

	case TypeSessionPrompt:
		var p SessionPromptPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}
		if len(p.Content) == 0 {
			return nil, fmt.Errorf("missing required field 'content' in %s payload", msg.Type)
		}

	case TypeSessionInterrupt, TypeSessionClose, TypeSessionHistory:
		var p SessionIDPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}
	}

	return &msg, nil
}

// NewErrorMessage creates an error reply ready to send to the client.
func NewErrorMessage(id, code, message string) (*Message, error) {
	return NewMessage(TypeError, id, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
