package stream

import (
	"encoding/json"
	"testing"
)

func TestParseLine_Result(t *testing.T) {
	line := `{"type":"result","stop_reason":"end_turn","is_error":false,"duration_ms":1234,"total_cost_usd":0.05,"usage":{"input_tokens":10,"output_tokens":20}}`
	ln, err := ParseLine([]byte(line))
	if err != nil {
		t.Fatalf("ParseLine failed: %v", err)
	}
	if ln.Type != TypeResult {
		t.Errorf("expected type result, got %s", ln.Type)
	}
	if ln.StopReason != "end_turn" {
		t.Errorf("expected stop_reason end_turn, got %s", ln.StopReason)
	}
	if ln.DurationMS != 1234 {
		t.Errorf("expected duration 1234, got %d", ln.DurationMS)
	}
	if ln.TotalCostUSD != 0.05 {
		t.Errorf("expected cost 0.05, got %f", ln.TotalCostUSD)
	}
	if len(ln.Usage) == 0 {
		t.Error("expected usage to be captured")
	}
}

func TestParseLine_StreamEvent(t *testing.T) {
	line := `{"type":"stream_event","event":{"type":"content_block_start","index":2}}`
	ln, err := ParseLine([]byte(line))
	if err != nil {
		t.Fatalf("ParseLine failed: %v", err)
	}
	ev, err := ParseInnerEvent(ln.Event)
	if err != nil {
		t.Fatalf("ParseInnerEvent failed: %v", err)
	}
	if ev.Type != EventContentBlockStart {
		t.Errorf("expected content_block_start, got %s", ev.Type)
	}
	if ev.Index != 2 {
		t.Errorf("expected index 2, got %d", ev.Index)
	}
}

func TestParseLine_Invalid(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"not json", "garbage"},
		{"missing type", `{"event":{}}`},
		{"empty type", `{"type":""}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseLine([]byte(tc.line)); err == nil {
				t.Errorf("expected error for %q", tc.line)
			}
		})
	}
}

func TestParseLine_CompactBoundary(t *testing.T) {
	line := `{"type":"system","subtype":"compact_boundary","compact_metadata":{"trigger":"auto","pre_tokens":150000}}`
	ln, err := ParseLine([]byte(line))
	if err != nil {
		t.Fatalf("ParseLine failed: %v", err)
	}
	if ln.CompactMetadata == nil {
		t.Fatal("expected compact metadata")
	}
	if ln.CompactMetadata.Trigger != "auto" {
		t.Errorf("expected trigger auto, got %s", ln.CompactMetadata.Trigger)
	}
	if ln.CompactMetadata.PreTokens != 150000 {
		t.Errorf("expected pre_tokens 150000, got %d", ln.CompactMetadata.PreTokens)
	}
}

func TestNewUserMessage(t *testing.T) {
	m := NewUserMessage(TextContent("hello"))
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	json.Unmarshal(data, &decoded)
	if decoded["type"] != "user" {
		t.Errorf("expected type user, got %v", decoded["type"])
	}
	msg := decoded["message"].(map[string]any)
	if msg["role"] != "user" {
		t.Errorf("expected role user, got %v", msg["role"])
	}
}

func TestNewInterrupt(t *testing.T) {
	req := NewInterrupt()
	if req.Type != "control_request" {
		t.Errorf("expected control_request, got %s", req.Type)
	}
	if req.Request.Subtype != SubtypeInterrupt {
		t.Errorf("expected subtype interrupt, got %s", req.Request.Subtype)
	}
	if req.RequestID == "" {
		t.Error("expected non-empty request id")
	}

	// Request ids must be unique per request.
	if NewInterrupt().RequestID == req.RequestID {
		t.Error("expected distinct request ids")
	}
}

func TestExtractToolResults(t *testing.T) {
	message := json.RawMessage(`{
		"role": "user",
		"content": [
			{"type":"tool_result","tool_use_id":"tu_1","content":"ok","is_error":false},
			{"type":"text","text":"ignored"},
			{"type":"tool_result","tool_use_id":"tu_2","content":[{"type":"text","text":"fail"}],"is_error":true}
		]
	}`)

	results := ExtractToolResults(message)
	if len(results) != 2 {
		t.Fatalf("expected 2 tool results, got %d", len(results))
	}
	if results[0].ToolUseID != "tu_1" || results[0].IsError {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[1].ToolUseID != "tu_2" || !results[1].IsError {
		t.Errorf("unexpected second result: %+v", results[1])
	}
}

func TestExtractToolResults_None(t *testing.T) {
	message := json.RawMessage(`{"role":"user","content":[{"type":"text","text":"hi"}]}`)
	if results := ExtractToolResults(message); results != nil {
		t.Errorf("expected nil, got %v", results)
	}
}
