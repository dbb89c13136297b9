package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/pantheon/logging"
)

// Server is a JSON-RPC 2.0 HTTP server. When a Hub is attached, /ws serves
// the event stream.
type Server struct {
	handler   *Handler
	addr      string
	authToken string // empty means open access
	srv       *http.Server
	ln        net.Listener
	log       *zap.Logger
}

// NewServer creates a Server on addr. If authToken is non-empty, every
// request must carry a matching "Authorization: Bearer <token>" header.
// hub may be nil.
func NewServer(addr string, handler *Handler, hub *Hub, authToken string, log *zap.Logger) *Server {
	s := &Server{handler: handler, addr: addr, authToken: authToken, log: logging.OrNop(log).Named("rpc")}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveHTTP)
	if hub != nil {
		mux.Handle("/ws", s.requireAuth(hub))
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler, for use with httptest.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", zap.Error(err))
		}
	}()
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the HTTP server, waiting up to 5 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// maxBody caps one HTTP request, batch included.
const maxBody = 1 << 20

// maxBatch caps the number of calls in one JSON-RPC batch.
const maxBatch = 100

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "only POST allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		writeJSON(w, errResponse(nil, CodeUnauthorized, "unauthorized"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
			return
		}
		writeJSON(w, s.call(req))
		return
	}

	// A batch: clients polling several matches at once send one of these.
	var reqs []Request
	if err := json.Unmarshal(body, &reqs); err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	switch {
	case len(reqs) == 0:
		writeJSON(w, errResponse(nil, CodeInvalidRequest, "empty batch"))
		return
	case len(reqs) > maxBatch:
		writeJSON(w, errResponse(nil, CodeInvalidRequest, fmt.Sprintf("batch of %d exceeds %d", len(reqs), maxBatch)))
		return
	}
	resps := make([]Response, len(reqs))
	for i, req := range reqs {
		resps[i] = s.call(req)
	}
	writeJSON(w, resps)
}

func (s *Server) call(req Request) Response {
	if req.JSONRPC != "2.0" {
		return errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'")
	}
	start := time.Now()
	resp := s.handler.Dispatch(req)
	if resp.Error != nil && resp.Error.Code == CodeInternalError {
		s.log.Warn("request failed", zap.String("method", req.Method), zap.String("error", resp.Error.Message))
	} else {
		s.log.Debug("request", zap.String("method", req.Method), zap.Duration("took", time.Since(start)))
	}
	return resp
}

func (s *Server) authorized(r *http.Request) bool {
	return s.authToken == "" || r.Header.Get("Authorization") == "Bearer "+s.authToken
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
