package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"agent-relay/internal/protocol"
	"agent-relay/internal/session"
	"agent-relay/internal/stream"
)

// handleMessage validates and dispatches one client message. Replies
// always go to the issuing connection only.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.replyError(c, "", protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeSubscribe:
		s.handleSubscribe(c, msg)
	case protocol.TypeUnsubscribe:
		s.handleUnsubscribe(c, msg)
	case protocol.TypeSessionCreate:
		s.handleSessionCreate(c, msg)
	case protocol.TypeSessionResume:
		s.handleSessionResume(c, msg)
	case protocol.TypeSessionPrompt:
		s.handleSessionPrompt(c, msg)
	case protocol.TypeSessionInterrupt:
		s.handleSessionInterrupt(c, msg)
	case protocol.TypeSessionClose:
		s.handleSessionClose(c, msg)
	case protocol.TypeSessionList:
		s.handleSessionList(c, msg)
	case protocol.TypeSessionHistory:
		s.handleSessionHistory(c, msg)
	}
}

func (s *Server) handleSubscribe(c *client, msg *protocol.Message) {
	var p protocol.SubscribePayload
	json.Unmarshal(msg.Payload, &p)

	s.subscribe(c, p.Events, p.Exclusive)
	s.reply(c, protocol.TypeAck, msg.ID, protocol.AckPayload{Events: p.Events})
}

func (s *Server) handleUnsubscribe(c *client, msg *protocol.Message) {
	var p protocol.UnsubscribePayload
	json.Unmarshal(msg.Payload, &p)

	s.unsubscribe(c, p.Events)
	s.reply(c, protocol.TypeAck, msg.ID, protocol.AckPayload{Events: p.Events})
}

func (s *Server) handleSessionCreate(c *client, msg *protocol.Message) {
	var p protocol.SessionCreatePayload
	json.Unmarshal(msg.Payload, &p)

	id, err := s.manager.Create(session.CreateParams{
		CWD:                p.CWD,
		Model:              p.Model,
		SystemPrompt:       p.SystemPrompt,
		SystemPromptAppend: p.SystemPromptAppend,
		ThinkingBudget:     p.ThinkingBudget,
		Effort:             p.Effort,
	})
	if err != nil {
		s.replyError(c, msg.ID, createErrorCode(err), err.Error())
		return
	}

	s.watchWorkspace(id, p.CWD)
	s.reply(c, protocol.TypeResult, msg.ID, protocol.SessionIDResult{SessionID: id})
}

func (s *Server) handleSessionResume(c *client, msg *protocol.Message) {
	var p protocol.SessionResumePayload
	json.Unmarshal(msg.Payload, &p)

	id, err := s.manager.Resume(p.SessionID, session.CreateParams{
		CWD:            p.CWD,
		Model:          p.Model,
		ThinkingBudget: p.ThinkingBudget,
		Effort:         p.Effort,
	})
	if err != nil {
		s.replyError(c, msg.ID, createErrorCode(err), err.Error())
		return
	}

	s.watchWorkspace(id, p.CWD)
	s.reply(c, protocol.TypeResult, msg.ID, protocol.SessionIDResult{SessionID: id})
}

func (s *Server) handleSessionPrompt(c *client, msg *protocol.Message) {
	var p protocol.SessionPromptPayload
	json.Unmarshal(msg.Payload, &p)

	content, err := decodePromptContent(p.Content)
	if err != nil {
		s.replyError(c, msg.ID, protocol.ErrInvalidMessage, err.Error())
		return
	}

	if err := s.manager.Prompt(p.SessionID, content, p.CWD); err != nil {
		s.replyError(c, msg.ID, operationErrorCode(err), err.Error())
		return
	}
	s.reply(c, protocol.TypeResult, msg.ID, protocol.SessionIDResult{SessionID: p.SessionID})
}

func (s *Server) handleSessionInterrupt(c *client, msg *protocol.Message) {
	var p protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &p)

	ok := s.manager.Interrupt(p.SessionID)
	s.reply(c, protocol.TypeResult, msg.ID, protocol.InterruptResult{Interrupted: ok})
}

func (s *Server) handleSessionClose(c *client, msg *protocol.Message) {
	var p protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &p)

	if err := s.manager.Close(p.SessionID); err != nil {
		s.replyError(c, msg.ID, operationErrorCode(err), err.Error())
		return
	}
	s.unwatchWorkspace(p.SessionID)
	s.reply(c, protocol.TypeResult, msg.ID, protocol.SessionIDResult{SessionID: p.SessionID})
}

func (s *Server) handleSessionList(c *client, msg *protocol.Message) {
	s.reply(c, protocol.TypeResult, msg.ID, s.manager.List())
}

func (s *Server) handleSessionHistory(c *client, msg *protocol.Message) {
	var p protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &p)

	events, err := s.manager.History(p.SessionID)
	if err != nil {
		s.replyError(c, msg.ID, operationErrorCode(err), err.Error())
		return
	}
	s.reply(c, protocol.TypeResult, msg.ID, events)
}

func (s *Server) watchWorkspace(sessionID, cwd string) {
	if s.fileWatch == nil {
		return
	}
	if err := s.fileWatch.Watch(sessionID, cwd); err != nil {
		log.Printf("session %s: start workspace watch: %v", sessionID, err)
	}
}

func (s *Server) unwatchWorkspace(sessionID string) {
	if s.fileWatch != nil {
		s.fileWatch.Unwatch(sessionID)
	}
}

// decodePromptContent accepts either a JSON string or an array of
// content blocks.
func decodePromptContent(raw json.RawMessage) ([]stream.ContentBlock, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return stream.TextContent(text), nil
	}
	var blocks []stream.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("content must be a string or an array of blocks")
	}
	return blocks, nil
}

func operationErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return protocol.ErrSessionNotFound
	case errors.Is(err, session.ErrNotActive):
		return protocol.ErrSessionNotActive
	default:
		return protocol.ErrSpawnFailed
	}
}

func createErrorCode(err error) string {
	if strings.Contains(err.Error(), "maximum session limit") {
		return protocol.ErrMaxSessions
	}
	return protocol.ErrSpawnFailed
}
