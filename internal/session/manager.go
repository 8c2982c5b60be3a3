package session

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-relay/internal/stream"
)

const (
	defaultRingBufCapacity = 1000
	defaultManagerBufCap   = 1024
)

// ManagerConfig holds manager-wide defaults applied to every session.
type ManagerConfig struct {
	MaxSessions     int
	AgentBin        string
	MonitorInterval time.Duration
	StaleAfter      time.Duration
}

// Manager is the registry of sessions keyed by session id. It re-emits
// every session's events tagged with that session's identifier on a
// single channel, so one downstream router can distribute events from
// many concurrent sessions without per-session wiring.
type Manager struct {
	cfg ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*Session
	history  map[string]*RingBuffer

	events chan Event
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		history:  make(map[string]*RingBuffer),
		events:   make(chan Event, defaultManagerBufCap),
	}
}

// Events returns the tagged event stream across all sessions.
func (m *Manager) Events() <-chan Event { return m.events }

// CreateParams are the caller-supplied parameters for Create and Resume.
type CreateParams struct {
	CWD                string
	Model              string
	SystemPrompt       string
	SystemPromptAppend bool
	ThinkingBudget     int
	Effort             string
}

// Create registers and starts a new session, returning its id.
func (m *Manager) Create(p CreateParams) (string, error) {
	if err := validateCWD(p.CWD); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 {
		active := 0
		for _, s := range m.sessions {
			if !s.Closed() {
				active++
			}
		}
		if active >= m.cfg.MaxSessions {
			return "", fmt.Errorf("maximum session limit reached (%d)", m.cfg.MaxSessions)
		}
	}

	id := uuid.New().String()
	s := NewSession(m.sessionConfig(id, p), true)
	if err := s.Start(); err != nil {
		return "", err
	}

	m.registerLocked(s)
	return id, nil
}

// Resume returns the existing session unchanged if the id is still
// active; otherwise it reconstructs one with the same id so the agent
// process is told to resume rather than start fresh.
func (m *Manager) Resume(id string, p CreateParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[id]; ok && !existing.Closed() {
		return id, nil
	}

	if err := validateCWD(p.CWD); err != nil {
		return "", err
	}

	s := NewSession(m.sessionConfig(id, p), false)
	if err := s.Start(); err != nil {
		return "", err
	}

	m.registerLocked(s)
	return id, nil
}

// Prompt forwards content to a session's agent process. An optional cwd
// redirects the session's working directory for a lazy respawn.
func (m *Manager) Prompt(id string, content []stream.ContentBlock, cwd string) error {
	s, ok := m.get(id)
	if !ok {
		return ErrNotFound
	}
	if cwd != "" {
		if err := validateCWD(cwd); err != nil {
			return err
		}
	}
	return s.Prompt(content, cwd)
}

// Interrupt interrupts a session. Returns false if the id is unknown,
// true otherwise; it never fails.
func (m *Manager) Interrupt(id string) bool {
	s, ok := m.get(id)
	if !ok {
		return false
	}
	s.Interrupt()
	return true
}

// SetThinkingBudget forwards a thinking-budget control request.
func (m *Manager) SetThinkingBudget(id string, tokens int) error {
	s, ok := m.get(id)
	if !ok {
		return ErrNotFound
	}
	return s.SetThinkingBudget(tokens)
}

// SetPermissionMode forwards a permission-mode control request.
func (m *Manager) SetPermissionMode(id string, mode string) error {
	s, ok := m.get(id)
	if !ok {
		return ErrNotFound
	}
	return s.SetPermissionMode(mode)
}

// Close closes a session. The session stays registered so List still
// reports it.
func (m *Manager) Close(id string) error {
	s, ok := m.get(id)
	if !ok {
		return ErrNotFound
	}
	s.Close()
	return nil
}

// Get returns a session summary by id.
func (m *Manager) Get(id string) (Summary, error) {
	s, ok := m.get(id)
	if !ok {
		return Summary{}, ErrNotFound
	}
	return s.Summarize(), nil
}

// CWD returns the working directory of a session.
func (m *Manager) CWD(id string) (string, error) {
	s, ok := m.get(id)
	if !ok {
		return "", ErrNotFound
	}
	return s.cfg.CWD, nil
}

// List returns summaries for all registered sessions.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, s.Summarize())
	}
	return result
}

// History returns the buffered recent events for a session, oldest first.
func (m *Manager) History(id string) ([]Event, error) {
	m.mu.RLock()
	rb, ok := m.history[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return rb.ReadAll(), nil
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (m *Manager) get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// registerLocked installs a session and starts its event forwarder.
// Caller holds m.mu.
func (m *Manager) registerLocked(s *Session) {
	m.sessions[s.ID()] = s
	rb, ok := m.history[s.ID()]
	if !ok {
		rb = NewRingBuffer(defaultRingBufCapacity)
		m.history[s.ID()] = rb
	}
	go m.forward(s, rb)
}

// forward tags a session's events with its id and re-emits them. Exits
// when the session's event channel closes.
func (m *Manager) forward(s *Session, rb *RingBuffer) {
	for ev := range s.Events() {
		ev.SessionID = s.ID()
		rb.Write(ev)
		select {
		case m.events <- ev:
		default:
			log.Printf("session %s: manager buffer full, dropping %s", s.ID(), ev.Name)
		}
	}
}

func (m *Manager) sessionConfig(id string, p CreateParams) Config {
	return Config{
		ID:                 id,
		CWD:                p.CWD,
		Model:              p.Model,
		SystemPrompt:       p.SystemPrompt,
		SystemPromptAppend: p.SystemPromptAppend,
		ThinkingBudget:     p.ThinkingBudget,
		Effort:             p.Effort,
		AgentBin:           m.cfg.AgentBin,
		MonitorInterval:    m.cfg.MonitorInterval,
		StaleAfter:         m.cfg.StaleAfter,
	}
}

func validateCWD(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("working directory does not exist: %s", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", dir)
	}
	return nil
}
