package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"community-chat/server/internal/config"
	"community-chat/server/internal/handlers"
	"community-chat/server/internal/metrics"
	"community-chat/server/internal/rpc"
	"community-chat/server/internal/storage"
	"community-chat/server/pkg/models"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "chat.db")
	disabled := false
	cfg.RateLimit.Enabled = &disabled
	if mutate != nil {
		mutate(&cfg)
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := rpc.NewDispatcher(handlers.New(store, cfg.ActivityWindow()), log)
	return NewServer(cfg, dispatcher, metrics.New(), log)
}

func doCall(t *testing.T, s *Server, call rpc.Call, token string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("marshal call failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Chat-RPC-Token", token)
	}
	rec := httptest.NewRecorder()
	s.HandleRPC(rec, req)
	return rec
}

func TestRPCMessageRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doCall(t, s, rpc.Call{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     `{"public_key":"05aa","data":"aGVsbG8=","signature":"c2ln"}`,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("insert: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var inserted struct {
		Message models.Message `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &inserted); err != nil {
		t.Fatalf("decode insert reply: %v", err)
	}
	if inserted.Message.ServerID == 0 {
		t.Fatalf("expected assigned server id, got %+v", inserted.Message)
	}

	rec = doCall(t, s, rpc.Call{Method: http.MethodGet, Endpoint: "/messages?limit=10"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var listed struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list reply: %v", err)
	}
	if len(listed.Messages) != 1 || listed.Messages[0].ServerID != inserted.Message.ServerID {
		t.Fatalf("expected the inserted message back, got %+v", listed.Messages)
	}

	rec = doCall(t, s, rpc.Call{
		Method:   http.MethodDelete,
		Endpoint: fmt.Sprintf("/messages/%d", inserted.Message.ServerID),
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("delete should be status-only, got body %q", rec.Body.String())
	}

	rec = doCall(t, s, rpc.Call{Method: http.MethodGet, Endpoint: "/deleted_messages"}, "")
	var markers struct {
		DeletedMessages []models.DeletionMarker `json:"deleted_messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &markers); err != nil {
		t.Fatalf("decode markers reply: %v", err)
	}
	if len(markers.DeletedMessages) != 1 || markers.DeletedMessages[0].ServerID != inserted.Message.ServerID {
		t.Fatalf("expected a deletion marker, got %+v", markers.DeletedMessages)
	}
}

func TestRPCInvalidCallsReturn400(t *testing.T) {
	s := newTestServer(t, nil)

	calls := []rpc.Call{
		{Method: "PUT", Endpoint: "/messages"},
		{Method: http.MethodGet, Endpoint: "/unknown"},
		{Method: http.MethodGet, Endpoint: "%zz"},
		{Method: http.MethodPost, Endpoint: "/messages", Body: "{not json"},
		{Method: http.MethodDelete, Endpoint: "/messages/abc"},
	}
	for _, call := range calls {
		rec := doCall(t, s, call, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("call %+v: expected 400, got %d", call, rec.Code)
		}
	}
}

func TestRPCDeleteUnknownMessageReturns404(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doCall(t, s, rpc.Call{Method: http.MethodDelete, Endpoint: "/messages/9999"}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRPCBannedPosterReturns403(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doCall(t, s, rpc.Call{
		Method:   http.MethodPost,
		Endpoint: "/block_list",
		Body:     `{"public_key":"05aa"}`,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ban: expected 200, got %d", rec.Code)
	}

	rec = doCall(t, s, rpc.Call{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     `{"public_key":"05aa","data":"aGVsbG8=","signature":"c2ln"}`,
	}, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRPCRequiresTokenWhenConfigured(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RPCToken = "secret"
	})

	rec := doCall(t, s, rpc.Call{Method: http.MethodGet, Endpoint: "/member_count"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doCall(t, s, rpc.Call{Method: http.MethodGet, Endpoint: "/member_count"}, "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestRPCRejectsMalformedEnvelopes(t *testing.T) {
	s := newTestServer(t, nil)

	for _, body := range []string{"{not json", `{"method":"GET"} trailing`} {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.HandleRPC(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	rec := httptest.NewRecorder()
	s.HandleRPC(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET /rpc, got %d", rec.Code)
	}
}

func TestRPCRateLimitKicksIn(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		enabled := true
		cfg.RateLimit.Enabled = &enabled
		cfg.RateLimit.RPS = 0.001
		cfg.RateLimit.Burst = 1
	})

	first := doCall(t, s, rpc.Call{Method: http.MethodGet, Endpoint: "/member_count"}, "")
	if first.Code != http.StatusOK {
		t.Fatalf("first call should pass, got %d", first.Code)
	}
	second := doCall(t, s, rpc.Call{Method: http.MethodGet, Endpoint: "/member_count"}, "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %q", body["status"])
	}
}
