package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/xkayo32/pytake-sub013/engine"
	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/flowstore"
	"github.com/xkayo32/pytake-sub013/health"
	"github.com/xkayo32/pytake-sub013/metric"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultAddr            = ":8080"
	DefaultMaxRequestBytes = 64 << 10
	DefaultRequestTimeout  = 30 * time.Second

	// DefaultConflictRetries bounds whole-event retries when a racing
	// writer invalidates the engine's optimistic save.
	DefaultConflictRetries = 3
)

// Executor is the engine surface the gateway drives.
type Executor interface {
	HandleInboundMessage(ctx context.Context, tenantID, contact, flowID, text string) (engine.Result, error)
	TriggerFlow(ctx context.Context, tenantID, contact, flowID string) (engine.Result, error)
}

// FlowAdmin is the flow management surface, satisfied by flowstore.Store.
type FlowAdmin interface {
	Create(ctx context.Context, flow *flowstore.Flow) error
	Get(ctx context.Context, id string) (*flowstore.Flow, error)
	Update(ctx context.Context, flow *flowstore.Flow) error
	List(ctx context.Context) ([]*flowstore.Flow, error)
}

// Options configures a Server.
type Options struct {
	Engine Executor

	// Flows enables the /v1/flows administration routes when set.
	Flows FlowAdmin

	Logger  *slog.Logger
	Metrics *metric.Registry
	Monitor *health.Monitor

	Addr            string
	MaxRequestBytes int64
	RequestTimeout  time.Duration
	ConflictRetries int
}

// Server is the HTTP gateway.
type Server struct {
	engine  Executor
	flows   FlowAdmin
	logger  *slog.Logger
	monitor *health.Monitor

	maxRequestBytes int64
	requestTimeout  time.Duration
	conflictRetries int

	httpServer *http.Server
}

// New constructs a Server. Engine is required.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("engine is required"), "gateway", "New", "construct")
	}

	s := &Server{
		engine:          opts.Engine,
		flows:           opts.Flows,
		logger:          opts.Logger,
		monitor:         opts.Monitor,
		maxRequestBytes: opts.MaxRequestBytes,
		requestTimeout:  opts.RequestTimeout,
		conflictRetries: opts.ConflictRetries,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxRequestBytes <= 0 {
		s.maxRequestBytes = DefaultMaxRequestBytes
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = DefaultRequestTimeout
	}
	if s.conflictRetries <= 0 {
		s.conflictRetries = DefaultConflictRetries
	}

	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/inbound", s.handleInbound)
	mux.HandleFunc("POST /v1/trigger", s.handleTrigger)
	if s.flows != nil {
		mux.HandleFunc("POST /v1/flows", s.handleCreateFlow)
		mux.HandleFunc("PUT /v1/flows/{id}", s.handleUpdateFlow)
		mux.HandleFunc("GET /v1/flows/{id}", s.handleGetFlow)
		mux.HandleFunc("GET /v1/flows", s.handleListFlows)
	}
	if s.monitor != nil {
		mux.Handle("GET /healthz", health.Handler(s.monitor, "pytake"))
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withRequestID(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the routing tree, used by tests and embedding servers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves HTTP until Stop is called. It returns once the listener
// fails or shuts down; run it under the process supervisor.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "gateway", "Start", "serve http")
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "gateway", "Stop", "shutdown http")
	}
	return nil
}

// withRequestID propagates or mints an X-Request-ID for tracing.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = newRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

type inboundRequest struct {
	TenantID string `json:"tenant_id"`
	Contact  string `json:"contact"`
	FlowID   string `json:"flow_id"`
	Text     string `json:"text"`
}

func (r inboundRequest) validate() error {
	switch {
	case r.TenantID == "":
		return fmt.Errorf("tenant_id is required")
	case r.Contact == "":
		return fmt.Errorf("contact is required")
	case r.FlowID == "":
		return fmt.Errorf("flow_id is required")
	}
	return nil
}

type eventResponse struct {
	EventID      string `json:"event_id"`
	Outcome      string `json:"outcome"`
	MessagesSent int    `json:"messages_sent"`
	Error        string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	s.handleEvent(w, r, func(ctx context.Context, req inboundRequest) (engine.Result, error) {
		return s.engine.HandleInboundMessage(ctx, req.TenantID, req.Contact, req.FlowID, req.Text)
	})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.handleEvent(w, r, func(ctx context.Context, req inboundRequest) (engine.Result, error) {
		return s.engine.TriggerFlow(ctx, req.TenantID, req.Contact, req.FlowID)
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request,
	run func(context.Context, inboundRequest) (engine.Result, error)) {

	var req inboundRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	// A version conflict means another writer advanced the record while
	// this event was in flight; replaying the whole event against the
	// fresh record is the documented recovery.
	var result engine.Result
	var err error
	for attempt := 0; attempt < s.conflictRetries; attempt++ {
		result, err = run(ctx, req)
		if err == nil || !stderrors.Is(err, errors.ErrVersionConflict) {
			break
		}
		s.logger.Debug("replaying conflicted event",
			"tenant", req.TenantID, "contact", req.Contact, "attempt", attempt+1)
	}

	s.writeEventResult(w, result, err)
}

// writeEventResult maps the engine's verdict to a status code. A durably
// failed conversation still answers 200: the event was consumed and
// redelivery cannot help.
func (s *Server) writeEventResult(w http.ResponseWriter, result engine.Result, err error) {
	resp := eventResponse{
		EventID:      result.EventID,
		Outcome:      string(result.Outcome),
		MessagesSent: len(result.MessagesSent),
	}
	if err != nil {
		resp.Error = err.Error()
	}

	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, resp)
	case stderrors.Is(err, errors.ErrWindowExpired):
		s.writeJSON(w, http.StatusUnprocessableEntity, resp)
	case stderrors.Is(err, errors.ErrVersionConflict):
		s.writeJSON(w, http.StatusConflict, resp)
	case result.Outcome == engine.OutcomeFailed:
		s.writeJSON(w, http.StatusOK, resp)
	case stderrors.Is(err, errors.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.IsInvalid(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("event handling failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var flow flowstore.Flow
	if !s.decode(w, r, &flow) {
		return
	}
	if err := s.flows.Create(r.Context(), &flow); err != nil {
		s.writeFlowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, &flow)
}

func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	var flow flowstore.Flow
	if !s.decode(w, r, &flow) {
		return
	}
	if id := r.PathValue("id"); flow.ID != id {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("flow id %q does not match path %q", flow.ID, id))
		return
	}
	if err := s.flows.Update(r.Context(), &flow); err != nil {
		s.writeFlowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &flow)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.flows.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flow)
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.flows.List(r.Context())
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flows)
}

func (s *Server) writeFlowError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, errors.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case stderrors.Is(err, errors.ErrAlreadyExists), stderrors.Is(err, errors.ErrVersionConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.IsInvalid(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("flow administration failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxRequestBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if int64(len(body)) > s.maxRequestBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", s.maxRequestBytes))
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, errorResponse{Error: message})
}
