package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agent-relay/internal/protocol"
	"agent-relay/internal/session"

	"github.com/gorilla/websocket"
)

func newTestServer() (*Server, *session.Manager) {
	sessMgr := session.NewManager(session.ManagerConfig{MaxSessions: 10})
	srv := New(sessMgr, nil, "")
	return srv, sessMgr
}

func TestServer_Handler(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler()
	if handler == nil {
		t.Fatal("expected non-nil handler")
	}
}

func TestServer_ListSessionsEmpty(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler()

	req := httptest.NewRequest("GET", "/sessions", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var sessions []session.Summary
	json.NewDecoder(w.Body).Decode(&sessions)
	if len(sessions) != 0 {
		t.Errorf("expected empty list, got %d sessions", len(sessions))
	}
}

func TestServer_CreateSessionBadBody(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/sessions", strings.NewReader("invalid json"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_CreateSessionMissingCWD(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler()

	body := `{"model":"test"}`
	req := httptest.NewRequest("POST", "/sessions", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_CreateSession(t *testing.T) {
	srv, mgr := newTestServer()
	defer mgr.Shutdown()
	handler := srv.Handler()

	body := `{"cwd":"` + t.TempDir() + `"}`
	req := httptest.NewRequest("POST", "/sessions", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", w.Code)
	}

	var summary session.Summary
	if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if summary.ID == "" {
		t.Error("expected a session id in the response")
	}
	if !summary.IsActive {
		t.Error("expected an active session")
	}
}

func TestServer_GetSessionNotFound(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler()

	req := httptest.NewRequest("GET", "/sessions/nonexistent", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestServer_PromptBadBody(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/sessions/test/prompt", strings.NewReader("bad"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_InterruptNotFound(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/sessions/nonexistent/interrupt", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestServer_DeleteSessionNotFound(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler()

	req := httptest.NewRequest("DELETE", "/sessions/nonexistent", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestServer_WebSocketSubscribeAck(t *testing.T) {
	srv, _ := newTestServer()
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	msg := map[string]interface{}{
		"type":      protocol.TypeSubscribe,
		"id":        "sub-1",
		"payload":   map[string]interface{}{"events": []string{"session.*"}},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)
	ws.WriteMessage(websocket.TextMessage, data)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, respData, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}

	var resp protocol.Message
	json.Unmarshal(respData, &resp)
	if resp.Type != protocol.TypeAck {
		t.Errorf("expected ack, got %s", resp.Type)
	}
	if resp.ID != "sub-1" {
		t.Errorf("expected reply id sub-1, got %s", resp.ID)
	}
}

func TestServer_WebSocketInvalidMessage(t *testing.T) {
	srv, _ := newTestServer()
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	ws.WriteMessage(websocket.TextMessage, []byte("not json"))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, respData, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}

	var resp protocol.Message
	json.Unmarshal(respData, &resp)
	if resp.Type != protocol.TypeError {
		t.Errorf("expected error type, got %s", resp.Type)
	}

	var p protocol.ErrorPayload
	json.Unmarshal(resp.Payload, &p)
	if p.Code != protocol.ErrInvalidMessage {
		t.Errorf("expected code %s, got %s", protocol.ErrInvalidMessage, p.Code)
	}
}

func TestServer_WebSocketSessionList(t *testing.T) {
	srv, mgr := newTestServer()
	defer mgr.Shutdown()
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	msg := map[string]interface{}{
		"type":      protocol.TypeSessionList,
		"id":        "list-1",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)
	ws.WriteMessage(websocket.TextMessage, data)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, respData, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}

	var resp protocol.Message
	json.Unmarshal(respData, &resp)
	if resp.Type != protocol.TypeResult {
		t.Errorf("expected result, got %s", resp.Type)
	}
}

func TestServer_WebSocketInterruptUnknown(t *testing.T) {
	srv, _ := newTestServer()
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	msg := map[string]interface{}{
		"type":      protocol.TypeSessionInterrupt,
		"id":        "int-1",
		"payload":   map[string]interface{}{"sessionId": "nonexistent"},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)
	ws.WriteMessage(websocket.TextMessage, data)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, respData, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}

	var resp protocol.Message
	json.Unmarshal(respData, &resp)
	if resp.Type != protocol.TypeResult {
		t.Fatalf("expected result, got %s", resp.Type)
	}

	var p protocol.InterruptResult
	json.Unmarshal(resp.Payload, &p)
	if p.Interrupted {
		t.Error("expected interrupted=false for unknown session")
	}
}

func TestServer_ErrorBodyIsValidJSON(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler()

	// The directory name ends up inside the error message; a quote in it
	// must not corrupt the JSON body.
	body := `{"cwd":"/no\"such/dir"}`
	req := httptest.NewRequest("POST", "/sessions", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("error body is not valid JSON: %v", err)
	}
	if resp["error"] == "" {
		t.Error("expected a non-empty error field")
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	srv, _ := newTestServer()
	handler := srv.Handler()

	req := httptest.NewRequest("OPTIONS", "/sessions", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS Allow-Origin header")
	}
}

func TestDecodePromptContent(t *testing.T) {
	blocks, err := decodePromptContent(json.RawMessage(`"hello"`))
	if err != nil {
		t.Fatalf("string content failed: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Text != "hello" {
		t.Errorf("unexpected blocks: %+v", blocks)
	}

	blocks, err = decodePromptContent(json.RawMessage(`[{"type":"text","text":"a"},{"type":"text","text":"b"}]`))
	if err != nil {
		t.Fatalf("block content failed: %v", err)
	}
	if len(blocks) != 2 {
		t.Errorf("expected 2 blocks, got %d", len(blocks))
	}

	if _, err := decodePromptContent(json.RawMessage(`42`)); err == nil {
		t.Error("expected error for numeric content")
	}
}
