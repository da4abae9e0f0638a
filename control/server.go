// Package control exposes the daemon's operations over a local HTTP
// and WebSocket API. This file contains the HTTP server and its
// handlers. Versioned routes allow non-breaking additions.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ikesession/ikesessiond/common"
)

const apiVersion = "v1"

// TokenHeader is the request header carrying the control token, as an
// alternative to a bearer Authorization header.
const TokenHeader = "X-IKE-Session-Token"

// ServerOptions configures the HTTP server. Timeouts default to values
// suitable for a local control plane; the write timeout must exceed
// the connect timeout, since POST /v1/connect blocks until the attempt
// resolves.
type ServerOptions struct {
	Addr              string
	Token             string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the HTTP and WebSocket API for the daemon.
type Server struct {
	service     *Service
	hub         *Hub
	http        *http.Server
	opts        ServerOptions
	unsubscribe func()
}

// NewServer constructs the API server. It does not listen until Start
// is called, but phase events start flowing to the hub immediately.
func NewServer(service *Service, opts ServerOptions) *Server {
	if opts.Addr == "" {
		opts.Addr = common.DefaultListenAddr
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 2 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = common.ConnectTimeout * 2
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = common.ShutdownTimeout
	}

	s := &Server{
		service: service,
		hub:     NewHub(),
		opts:    opts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/"+apiVersion+"/healthz", s.handleHealthz)
	mux.HandleFunc("/"+apiVersion+"/status", s.handleStatus)
	mux.HandleFunc("/"+apiVersion+"/connect", s.handleConnect)
	mux.HandleFunc("/"+apiVersion+"/disconnect", s.handleDisconnect)
	mux.HandleFunc("/"+apiVersion+"/force-disconnect", s.handleForceDisconnect)
	mux.HandleFunc("/"+apiVersion+"/permission", s.handlePermission)
	mux.HandleFunc("/"+apiVersion+"/history", s.handleHistory)
	mux.HandleFunc("/"+apiVersion+"/events", s.handleEvents)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.logRequests(mux),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}

	s.unsubscribe = service.Subscribe(s.hub.Publish)
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start binds the listen address and begins serving in a background
// goroutine. Use Stop for graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return common.WrapError(err, "bind control address")
	}
	go func() {
		common.LogInfo("control: listening on %s", s.opts.Addr)
		if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			common.LogError("control: serve: %v", err)
		}
	}()
	return nil
}

// Stop detaches from the event feed, closes WebSocket clients, and
// shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.unsubscribe()
	s.hub.Close()

	ctx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": rfc3339(timeNow()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) || !s.requireAuth(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.service.Status())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) || !s.requireAuth(w, r) {
		return
	}

	var req ConnectRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON: %v", common.ErrInvalidConfig, err))
		return
	}

	state, err := s.service.Connect(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) || !s.requireAuth(w, r) {
		return
	}

	state, err := s.service.Disconnect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleForceDisconnect(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) || !s.requireAuth(w, r) {
		return
	}

	state, err := s.service.ForceDisconnect()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) || !s.requireAuth(w, r) {
		return
	}

	resp, err := s.service.CheckPermission(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) || !s.requireAuth(w, r) {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", common.ErrInvalidConfig))
			return
		}
		limit = parsed
	}

	resp, err := s.service.History(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// requireMethod rejects other verbs with a standard error payload.
func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	writeJSON(w, http.StatusMethodNotAllowed, APIError{
		Error:     "method not allowed",
		Timestamp: rfc3339(timeNow()),
	})
	return false
}

// requireAuth enforces the control token when one is configured. The
// token may arrive as a bearer Authorization header, the token header,
// or a query parameter (for WebSocket clients).
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.authorized(r) {
		return true
	}
	writeError(w, common.ErrUnauthorized)
	return false
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.Token == "" {
		return true
	}
	if r.Header.Get(TokenHeader) == s.opts.Token {
		return true
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if strings.TrimPrefix(auth, "Bearer ") == s.opts.Token {
			return true
		}
	}
	return r.URL.Query().Get("token") == s.opts.Token
}

// logRequests records method, path, status, and duration. Bodies are
// never logged; the connect payload carries the PSK.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := timeNow()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		common.LogDebug("control: %s %s %d %dms", r.Method, r.URL.Path, rec.status, time.Since(start).Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrade reach the underlying connection
// through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), APIError{
		Error:     err.Error(),
		Code:      errorCode(err),
		Timestamp: rfc3339(timeNow()),
	})
}
