package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"agent-relay/internal/stream"
)

const (
	// scannerBufSize bounds a single protocol line.
	scannerBufSize = 1024 * 1024 // 1 MB

	// maxPendingLines bounds the outbound queue while no peer is
	// attached. When full, the oldest line is dropped.
	maxPendingLines = 256
)

// Bridge owns the stdio protocol framing for one session: it serializes
// outbound lines (queueing FIFO while no peer stdin is attached) and
// drains a peer's stdout line by line. It knows nothing about message
// semantics or subscribers.
type Bridge struct {
	sessionID string

	mu      sync.Mutex
	stdin   io.WriteCloser // nil while no peer is attached
	pending [][]byte
}

// NewBridge creates a bridge with no peer attached.
func NewBridge(sessionID string) *Bridge {
	return &Bridge{sessionID: sessionID}
}

// WriteLine marshals v as one newline-terminated JSON line and writes it
// to the peer stdin, or queues it FIFO if no peer is attached. It never
// blocks on subprocess readiness.
func (b *Bridge) WriteLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal protocol line: %w", err)
	}
	data = append(data, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stdin == nil {
		if len(b.pending) >= maxPendingLines {
			log.Printf("session %s: pending queue full, dropping oldest line", b.sessionID)
			b.pending = b.pending[1:]
		}
		b.pending = append(b.pending, data)
		return nil
	}

	if _, err := b.stdin.Write(data); err != nil {
		return fmt.Errorf("write protocol line: %w", err)
	}
	return nil
}

// Attach connects a peer stdin and flushes queued lines in order.
func (b *Bridge) Attach(w io.WriteCloser) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stdin = w
	for _, line := range b.pending {
		if _, err := w.Write(line); err != nil {
			log.Printf("session %s: flush pending line: %v", b.sessionID, err)
			break
		}
	}
	b.pending = nil
}

// Detach disconnects the peer stdin. Subsequent writes queue again.
func (b *Bridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stdin != nil {
		b.stdin.Close()
		b.stdin = nil
	}
}

// PendingLen reports how many lines are queued for the next peer.
func (b *Bridge) PendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// ReadLoop drains r line by line until EOF, parsing each line and passing
// it to handle. Malformed lines are logged and dropped; the loop never
// fails on them. Each call to handle runs to completion before the next
// line is read, so lines from one peer are never processed concurrently.
func (b *Bridge) ReadLoop(r io.Reader, handle func(*stream.Line)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scannerBufSize), scannerBufSize)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		ln, err := stream.ParseLine(raw)
		if err != nil {
			log.Printf("session %s: drop malformed line: %v", b.sessionID, err)
			continue
		}
		handle(ln)
	}

	if err := scanner.Err(); err != nil {
		log.Printf("session %s: scanner error: %v", b.sessionID, err)
	}
}
