package session

import (
	"encoding/json"
	"sort"

	"agent-relay/internal/stream"
)

// Tracker follows the open-message/open-block state of one agent stream so
// that a well-formed termination sequence can be synthesized when the
// stream is cut off mid-message. It holds no other interpretation of the
// events it observes.
type Tracker struct {
	messageOpen bool
	openBlocks  map[int]bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{openBlocks: make(map[int]bool)}
}

// Observe updates tracker state from one inner stream event.
func (t *Tracker) Observe(ev *stream.InnerEvent) {
	switch ev.Type {
	case stream.EventMessageStart:
		t.messageOpen = true
	case stream.EventContentBlockStart:
		t.openBlocks[ev.Index] = true
	case stream.EventContentBlockStop:
		delete(t.openBlocks, ev.Index)
	case stream.EventMessageStop:
		t.messageOpen = false
		clear(t.openBlocks)
	}
}

// Open reports whether a message is currently open.
func (t *Tracker) Open() bool {
	return t.messageOpen || len(t.openBlocks) > 0
}

// SynthesizeAbort emits the inner events needed to terminate the stream
// cleanly: a content_block_stop for every open block in ascending index
// order, then a message_delta with stop_reason "abort" and a message_stop
// if a message is open. All state is cleared, so an immediate second call
// returns nothing.
func (t *Tracker) SynthesizeAbort() []json.RawMessage {
	var out []json.RawMessage

	indices := make([]int, 0, len(t.openBlocks))
	for i := range t.openBlocks {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		out = append(out, mustMarshal(map[string]any{
			"type":  stream.EventContentBlockStop,
			"index": i,
		}))
	}

	if t.messageOpen {
		out = append(out, mustMarshal(map[string]any{
			"type": stream.EventMessageDelta,
			"delta": map[string]any{
				"stop_reason":   "abort",
				"stop_sequence": nil,
			},
		}))
		out = append(out, mustMarshal(map[string]any{
			"type": stream.EventMessageStop,
		}))
	}

	t.messageOpen = false
	clear(t.openBlocks)
	return out
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Only reachable with unmarshalable values, which the fixed
		// shapes above never contain.
		panic(err)
	}
	return data
}
