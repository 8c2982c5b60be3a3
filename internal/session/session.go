package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"agent-relay/internal/stream"
)

const (
	defaultEventBufCap     = 256
	defaultGracefulTimeout = 5 * time.Second
	defaultMonitorInterval = 10 * time.Second
	defaultStaleAfter      = 5 * time.Minute
	defaultAgentBin        = "claude"
)

// Operational errors surfaced to callers. Never thrown into the event
// stream.
var (
	ErrNotFound       = errors.New("session not found")
	ErrNotActive      = errors.New("session not active")
	ErrAlreadyStarted = errors.New("session already started")
)

// Config holds the parameters of one session.
type Config struct {
	ID                 string
	CWD                string
	Model              string
	SystemPrompt       string // applied only on the very first turn
	SystemPromptAppend bool   // append to instead of replacing the default
	ThinkingBudget     int    // max thinking tokens, 0 = agent default
	Effort             string

	AgentBin        string
	MonitorInterval time.Duration
	StaleAfter      time.Duration
}

func (c *Config) applyDefaults() {
	if c.AgentBin == "" {
		c.AgentBin = defaultAgentBin
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = defaultMonitorInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
}

// procHandle is one subprocess instance. exitCode is valid once done is
// closed.
type procHandle struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
}

// Session is one logical, resumable conversation bound to at most one
// live agent process at a time. All mutable state is guarded by mu and
// touched only by the session's own read loop and public methods.
type Session struct {
	cfg Config

	mu           sync.Mutex
	started      bool
	closed       bool
	firstPrompt  bool
	proc         *procHandle
	lastExitCode int
	createdAt    time.Time
	lastActivity time.Time

	bridge  *Bridge
	tracker *Tracker

	events   chan Event
	closedCh chan struct{}
}

// NewSession creates a session in the unstarted state. firstPrompt
// controls whether the first spawn starts a fresh conversation or resumes
// the id through the agent's own resume mechanism.
func NewSession(cfg Config, firstPrompt bool) *Session {
	cfg.applyDefaults()
	now := time.Now().UTC()
	return &Session{
		cfg:          cfg,
		firstPrompt:  firstPrompt,
		createdAt:    now,
		lastActivity: now,
		bridge:       NewBridge(cfg.ID),
		tracker:      NewTracker(),
		events:       make(chan Event, defaultEventBufCap),
		closedCh:     make(chan struct{}),
	}
}

// ID returns the stable session identifier.
func (s *Session) ID() string { return s.cfg.ID }

// Events returns the session's unified event stream. The channel is
// closed when the session closes.
func (s *Session) Events() <-chan Event { return s.events }

// Start transitions unstarted → started. Fails if already started.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotActive
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	return nil
}

// Prompt writes a user message to the agent process, spawning one first
// if none is running. A non-empty cwd moves the session's working
// directory before a spawn; it has no effect while a process is running.
// Prompt never blocks on subprocess readiness: the bridge queues lines
// until stdin is attached.
func (s *Session) Prompt(content []stream.ContentBlock, cwd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.closed {
		return ErrNotActive
	}
	if s.proc == nil {
		if cwd != "" {
			s.cfg.CWD = cwd
		}
		if err := s.spawnLocked(); err != nil {
			return err
		}
	}
	s.lastActivity = time.Now().UTC()
	return s.bridge.WriteLine(stream.NewUserMessage(content))
}

// Interrupt sends a fire-and-forget interrupt to the agent process and
// immediately emits synthetic termination events for anything still open,
// so observers get bounded-latency feedback even if the process hangs. A
// late real terminal event is a harmless duplicate for consumers.
func (s *Session) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.proc != nil {
		if err := s.bridge.WriteLine(stream.NewInterrupt()); err != nil {
			log.Printf("session %s: write interrupt: %v", s.cfg.ID, err)
		}
	}

	synthetic := s.tracker.SynthesizeAbort()
	for _, raw := range synthetic {
		s.emitLocked(newEvent(EventStreamEvent, StreamEventPayload{Event: raw}))
	}
	if len(synthetic) > 0 {
		s.emitLocked(newEvent(EventTurnStop, TurnStopPayload{StopReason: "abort"}))
	}
}

// SetThinkingBudget sends a one-way set_max_thinking_tokens control
// request. The call never waits for acknowledgement.
func (s *Session) SetThinkingBudget(tokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotActive
	}
	return s.bridge.WriteLine(stream.NewControlRequest(stream.ControlBody{
		Subtype:           stream.SubtypeSetThinkingTokens,
		MaxThinkingTokens: &tokens,
	}))
}

// SetPermissionMode sends a one-way set_permission_mode control request.
func (s *Session) SetPermissionMode(mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotActive
	}
	return s.bridge.WriteLine(stream.NewControlRequest(stream.ControlBody{
		Subtype: stream.SubtypeSetPermissionMode,
		Mode:    mode,
	}))
}

// Close terminates the subprocess, cancels monitoring, and transitions to
// closed. Idempotent. It does not wait for the subprocess to exit; a
// force kill follows after a grace period.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	proc := s.proc
	close(s.closedCh)
	close(s.events)
	s.mu.Unlock()

	if proc != nil && proc.cmd.Process != nil {
		proc.cmd.Process.Signal(os.Interrupt)
		go func() {
			select {
			case <-proc.done:
			case <-time.After(defaultGracefulTimeout):
				proc.cmd.Process.Kill()
			}
		}()
	}
	s.bridge.Detach()
}

// spawnLocked starts the agent process and wires the bridge, read loop,
// exit watcher, and health monitor to it. Caller holds s.mu.
func (s *Session) spawnLocked() error {
	binaryPath, err := exec.LookPath(s.cfg.AgentBin)
	if err != nil {
		return fmt.Errorf("agent binary not found in PATH: %s", s.cfg.AgentBin)
	}

	cmd := exec.Command(binaryPath, s.spawnArgs()...)
	cmd.Dir = s.cfg.CWD

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start agent process: %w", err)
	}

	p := &procHandle{cmd: cmd, done: make(chan struct{})}
	s.proc = p
	s.firstPrompt = false
	s.lastExitCode = 0
	s.bridge.Attach(stdin)

	readDone := make(chan struct{})
	stderrDone := make(chan struct{})
	go func() {
		s.bridge.ReadLoop(stdout, s.handleLine)
		close(readDone)
	}()
	go func() {
		s.drainStderr(stderr)
		close(stderrDone)
	}()
	go s.waitForExit(p, readDone, stderrDone)
	go s.monitor(p)

	if s.cfg.ThinkingBudget > 0 {
		budget := s.cfg.ThinkingBudget
		if err := s.bridge.WriteLine(stream.NewControlRequest(stream.ControlBody{
			Subtype:           stream.SubtypeSetThinkingTokens,
			MaxThinkingTokens: &budget,
		})); err != nil {
			log.Printf("session %s: write thinking budget: %v", s.cfg.ID, err)
		}
	}

	return nil
}

// spawnArgs builds the agent CLI arguments for this spawn. The first
// spawn pins the session id; later spawns resume it.
func (s *Session) spawnArgs() []string {
	args := []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--include-partial-messages",
		"--verbose",
	}
	if s.cfg.Model != "" {
		args = append(args, "--model", s.cfg.Model)
	}
	if s.cfg.Effort != "" {
		args = append(args, "--effort", s.cfg.Effort)
	}
	if s.firstPrompt {
		args = append(args, "--session-id", s.cfg.ID)
		if s.cfg.SystemPrompt != "" {
			flag := "--system-prompt"
			if s.cfg.SystemPromptAppend {
				flag = "--append-system-prompt"
			}
			args = append(args, flag, s.cfg.SystemPrompt)
		}
	} else {
		args = append(args, "--resume", s.cfg.ID)
	}
	return args
}

// handleLine dispatches one parsed protocol line. Runs on the bridge read
// loop, one line at a time.
func (s *Session) handleLine(ln *stream.Line) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = time.Now().UTC()

	switch ln.Type {
	case stream.TypeStreamEvent:
		ev, err := stream.ParseInnerEvent(ln.Event)
		if err != nil {
			log.Printf("session %s: drop stream_event: %v", s.cfg.ID, err)
			return
		}
		// A stream event arriving after a synthetic abort cleared the
		// tracker re-opens nothing already closed for observers; they
		// treat the late terminal events as duplicates.
		s.tracker.Observe(ev)
		s.emitLocked(newEvent(EventStreamEvent, StreamEventPayload{Event: ev.Raw}))

	case stream.TypeAssistant:
		// Incremental stream events already covered the content; a
		// second event here would double-render downstream.
		log.Printf("session %s: assistant message (%d bytes)", s.cfg.ID, len(ln.Raw))

	case stream.TypeUser:
		if results := stream.ExtractToolResults(ln.Message); len(results) > 0 {
			s.emitLocked(newEvent(EventRequestToolResults, ToolResultsPayload{Results: results}))
		}

	case stream.TypeResult:
		s.emitLocked(newEvent(EventTurnStop, TurnStopPayload{
			StopReason:   ln.StopReason,
			IsError:      ln.IsError,
			DurationMS:   ln.DurationMS,
			TotalCostUSD: ln.TotalCostUSD,
			Usage:        ln.Usage,
		}))

	case stream.TypeSystem:
		s.handleSystemLocked(ln)

	case stream.TypeControlResponse, stream.TypeKeepAlive:
		// Consumed without a public event.

	default:
		s.emitLocked(newEvent(EventUnknownMessage, UnknownMessagePayload{
			Type: ln.Type,
			Raw:  ln.Raw,
		}))
	}
}

func (s *Session) handleSystemLocked(ln *stream.Line) {
	switch {
	case ln.Subtype == "status" && ln.Status == "compacting":
		s.emitLocked(newEvent(EventCompactionStart, nil))
	case ln.Subtype == "compact_boundary":
		var payload CompactionEndPayload
		if ln.CompactMetadata != nil {
			payload.Trigger = ln.CompactMetadata.Trigger
			payload.PreTokens = ln.CompactMetadata.PreTokens
		}
		s.emitLocked(newEvent(EventCompactionEnd, payload))
	default:
		log.Printf("session %s: system message subtype=%s", s.cfg.ID, ln.Subtype)
	}
}

// waitForExit reaps the subprocess and transitions back to idle. The
// session stays usable; the next Prompt respawns. Wait closes the stdio
// pipes, so the drain goroutines must finish reading first or trailing
// lines are lost.
func (s *Session) waitForExit(p *procHandle, readDone, stderrDone <-chan struct{}) {
	<-readDone
	<-stderrDone
	err := p.cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	s.mu.Lock()
	p.exitCode = code
	close(p.done)
	s.lastExitCode = code
	if s.proc == p {
		s.proc = nil
	}
	s.emitLocked(newEvent(EventProcessEnded, ProcessExitPayload{ExitCode: code}))
	s.mu.Unlock()

	s.bridge.Detach()
}

// monitor samples one subprocess instance on a fixed interval: exactly
// one process_died once the process is gone, advisory staleness before
// that. Staleness never closes the session.
func (s *Session) monitor(p *procHandle) {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closedCh:
			return
		case <-ticker.C:
			select {
			case <-p.done:
				s.mu.Lock()
				s.emitLocked(newEvent(EventProcessDied, ProcessExitPayload{ExitCode: p.exitCode}))
				s.mu.Unlock()
				return
			default:
			}

			s.mu.Lock()
			idle := time.Since(s.lastActivity)
			if idle > s.cfg.StaleAfter {
				s.emitLocked(newEvent(EventStale, StalePayload{IdleMinutes: int(idle.Minutes())}))
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scannerBufSize), scannerBufSize)
	for scanner.Scan() {
		log.Printf("session %s: stderr: %s", s.cfg.ID, scanner.Text())
	}
}

// emitLocked queues an event for the consumer, dropping with a log line
// if the buffer is full. Caller holds s.mu; never emits after close.
func (s *Session) emitLocked(ev Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		log.Printf("session %s: event buffer full, dropping %s", s.cfg.ID, ev.Name)
	}
}

// Summary is the session's externally visible state.
type Summary struct {
	ID               string    `json:"id"`
	CWD              string    `json:"cwd"`
	Model            string    `json:"model"`
	IsActive         bool      `json:"isActive"`
	IsProcessRunning bool      `json:"isProcessRunning"`
	CreatedAt        time.Time `json:"createdAt"`
	LastActivity     time.Time `json:"lastActivity"`
	Healthy          bool      `json:"healthy"`
	Stale            bool      `json:"stale"`
}

// Summarize snapshots the session state for listings.
func (s *Session) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:               s.cfg.ID,
		CWD:              s.cfg.CWD,
		Model:            s.cfg.Model,
		IsActive:         s.started && !s.closed,
		IsProcessRunning: s.proc != nil,
		CreatedAt:        s.createdAt,
		LastActivity:     s.lastActivity,
		Healthy:          !s.closed && s.lastExitCode == 0,
		Stale:            time.Since(s.lastActivity) > s.cfg.StaleAfter,
	}
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
