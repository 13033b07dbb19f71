package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"community-chat/server/internal/config"
	"community-chat/server/internal/handlers"
	"community-chat/server/internal/metrics"
	"community-chat/server/internal/platform/ratelimiter"
	"community-chat/server/internal/rpc"
	"community-chat/server/internal/storage"
)

const maxCallBodyBytes int64 = 1 << 20 // 1 MiB

// Server is the HTTP transport that delivers calls to the dispatcher.
// The dispatcher never sees net/http; it receives a plain rpc.Call.
type Server struct {
	httpServer *http.Server
	dispatcher *rpc.Dispatcher
	metrics    *metrics.Metrics
	limiter    *ratelimiter.KeyLimiter
	token      string
	log        *slog.Logger
}

func NewServer(cfg config.Config, dispatcher *rpc.Dispatcher, m *metrics.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	var limiter *ratelimiter.KeyLimiter
	if cfg.RateLimit.Enabled == nil || *cfg.RateLimit.Enabled {
		limiter = ratelimiter.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute)
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		dispatcher: dispatcher,
		metrics:    m,
		limiter:    limiter,
		token:      cfg.RPCToken,
		log:        log,
	}
	if s.token == "" {
		log.Warn("rpc token is not set; request auth disabled")
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// HandleRPC is exported for transport contract tests.
func (s *Server) HandleRPC(w http.ResponseWriter, r *http.Request) {
	s.handleRPC(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}
	if !s.limiter.Allow(clientKey(r, s.extractToken(r)), time.Now()) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCallBodyBytes)
	var call rpc.Call
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&call); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	started := time.Now()
	reply, err := s.dispatcher.Dispatch(r.Context(), call)
	if s.metrics != nil {
		s.metrics.ObserveRequest(call.Method, outcomeLabel(err), time.Since(started).Seconds())
	}
	if err != nil {
		status, message := mapDispatchError(err)
		writeError(w, status, message)
		return
	}

	if reply.Payload == nil {
		w.WriteHeader(reply.Status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	_ = json.NewEncoder(w).Encode(reply.Payload)
}

func mapDispatchError(err error) (int, string) {
	switch {
	case errors.Is(err, rpc.ErrInvalidRequest),
		errors.Is(err, handlers.ErrInvalidMessage),
		errors.Is(err, handlers.ErrInvalidPublicKey):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, handlers.ErrBanned):
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, rpc.ErrInvalidRequest),
		errors.Is(err, handlers.ErrInvalidMessage),
		errors.Is(err, handlers.ErrInvalidPublicKey):
		return "invalid"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, handlers.ErrBanned):
		return "forbidden"
	default:
		return "error"
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.token == "" {
		return true
	}
	if s.extractToken(r) != s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) extractToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get("X-Chat-RPC-Token"))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

func clientKey(r *http.Request, token string) string {
	if token != "" {
		return "token:" + token
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil || host == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}
