package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkayo32/pytake-sub013/conversation"
	"github.com/xkayo32/pytake-sub013/engine"
	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/flowstore"
	"github.com/xkayo32/pytake-sub013/health"
	"github.com/xkayo32/pytake-sub013/metric"
	"github.com/xkayo32/pytake-sub013/sender"
	"github.com/xkayo32/pytake-sub013/testutil"
)

// stubExecutor answers scripted results, optionally conflicting a few
// times first.
type stubExecutor struct {
	result    engine.Result
	err       error
	conflicts int

	inboundCalls int
	triggerCalls int
	lastText     string
}

func (s *stubExecutor) HandleInboundMessage(_ context.Context, _, _, _, text string) (engine.Result, error) {
	s.inboundCalls++
	s.lastText = text
	if s.conflicts > 0 {
		s.conflicts--
		return engine.Result{}, errors.ErrVersionConflict
	}
	return s.result, s.err
}

func (s *stubExecutor) TriggerFlow(context.Context, string, string, string) (engine.Result, error) {
	s.triggerCalls++
	return s.result, s.err
}

func newTestServer(t *testing.T, exec Executor, mutate func(*Options)) *Server {
	t.Helper()

	opts := Options{Engine: exec}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func validInbound() inboundRequest {
	return inboundRequest{TenantID: "acme", Contact: "+5511999", FlowID: "onboarding", Text: "hi"}
}

func TestInboundHappyPath(t *testing.T) {
	exec := &stubExecutor{result: engine.Result{
		EventID:      "evt-1",
		Outcome:      engine.OutcomeAwaitingInput,
		MessagesSent: []sender.Message{{Text: "What is your name?"}},
	}}
	s := newTestServer(t, exec, nil)

	rec := postJSON(t, s.Handler(), "/v1/inbound", validInbound())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp eventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "evt-1", resp.EventID)
	assert.Equal(t, "awaiting_input", resp.Outcome)
	assert.Equal(t, 1, resp.MessagesSent)
	assert.Equal(t, "hi", exec.lastText)
}

func TestInboundValidation(t *testing.T) {
	s := newTestServer(t, &stubExecutor{}, nil)

	tests := []struct {
		name   string
		mutate func(*inboundRequest)
	}{
		{"missing tenant", func(r *inboundRequest) { r.TenantID = "" }},
		{"missing contact", func(r *inboundRequest) { r.Contact = "" }},
		{"missing flow", func(r *inboundRequest) { r.FlowID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validInbound()
			tt.mutate(&req)
			rec := postJSON(t, s.Handler(), "/v1/inbound", req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestInboundMalformedBody(t *testing.T) {
	s := newTestServer(t, &stubExecutor{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/inbound", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInboundBodyTooLarge(t *testing.T) {
	s := newTestServer(t, &stubExecutor{}, func(o *Options) {
		o.MaxRequestBytes = 16
	})

	rec := postJSON(t, s.Handler(), "/v1/inbound", validInbound())
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestInboundRetriesVersionConflict(t *testing.T) {
	exec := &stubExecutor{
		conflicts: 2,
		result:    engine.Result{EventID: "evt-1", Outcome: engine.OutcomeCompleted},
	}
	s := newTestServer(t, exec, nil)

	rec := postJSON(t, s.Handler(), "/v1/inbound", validInbound())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, exec.inboundCalls)
}

func TestInboundGivesUpAfterConflictBudget(t *testing.T) {
	exec := &stubExecutor{conflicts: 10}
	s := newTestServer(t, exec, func(o *Options) {
		o.ConflictRetries = 3
	})

	rec := postJSON(t, s.Handler(), "/v1/inbound", validInbound())

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 3, exec.inboundCalls)
}

func TestOutcomeStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		result engine.Result
		err    error
		want   int
	}{
		{
			"window expired is unprocessable",
			engine.Result{EventID: "e", Outcome: engine.OutcomeWindowExpired},
			fmt.Errorf("blocked: %w", errors.ErrWindowExpired),
			http.StatusUnprocessableEntity,
		},
		{
			"durable flow failure is consumed",
			engine.Result{EventID: "e", Outcome: engine.OutcomeFailed},
			fmt.Errorf("graph broken: %w", errors.ErrGraph),
			http.StatusOK,
		},
		{
			"unknown flow is not found",
			engine.Result{EventID: "e"},
			errors.WrapInvalid(fmt.Errorf("flow x: %w", errors.ErrNotFound), "flowstore", "Get", "lookup"),
			http.StatusNotFound,
		},
		{
			"invalid request is bad request",
			engine.Result{EventID: "e"},
			errors.WrapInvalid(stderrors.New("already active"), "engine", "TriggerFlow", "start flow"),
			http.StatusBadRequest,
		},
		{
			"transient failure is internal",
			engine.Result{EventID: "e"},
			errors.WrapTransient(stderrors.New("nats down"), "engine", "persist", "save state"),
			http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &stubExecutor{result: tt.result, err: tt.err}, nil)
			rec := postJSON(t, s.Handler(), "/v1/trigger", validInbound())
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

// memoryFlows is a map-backed FlowAdmin for route tests.
type memoryFlows struct {
	flows map[string]*flowstore.Flow
}

func (m *memoryFlows) Create(_ context.Context, flow *flowstore.Flow) error {
	if err := flow.Validate(); err != nil {
		return err
	}
	if _, exists := m.flows[flow.ID]; exists {
		return errors.ErrAlreadyExists
	}
	m.flows[flow.ID] = flow
	return nil
}

func (m *memoryFlows) Get(_ context.Context, id string) (*flowstore.Flow, error) {
	flow, ok := m.flows[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return flow, nil
}

func (m *memoryFlows) Update(_ context.Context, flow *flowstore.Flow) error {
	if _, ok := m.flows[flow.ID]; !ok {
		return errors.ErrNotFound
	}
	m.flows[flow.ID] = flow
	return nil
}

func (m *memoryFlows) List(context.Context) ([]*flowstore.Flow, error) {
	out := make([]*flowstore.Flow, 0, len(m.flows))
	for _, flow := range m.flows {
		out = append(out, flow)
	}
	return out, nil
}

func testFlow(id string) *flowstore.Flow {
	return &flowstore.Flow{
		ID:          id,
		Name:        "Greeting",
		StartNodeID: "hello",
		Nodes: []flowstore.Node{
			{ID: "hello", Kind: flowstore.KindMessage, Config: map[string]any{"text": "Hi"}, Next: "done"},
			{ID: "done", Kind: flowstore.KindEnd},
		},
	}
}

func TestFlowAdministration(t *testing.T) {
	flows := &memoryFlows{flows: make(map[string]*flowstore.Flow)}
	s := newTestServer(t, &stubExecutor{}, func(o *Options) {
		o.Flows = flows
	})
	handler := s.Handler()

	// Create.
	rec := postJSON(t, handler, "/v1/flows", testFlow("greeting"))
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate create conflicts.
	rec = postJSON(t, handler, "/v1/flows", testFlow("greeting"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Invalid graph is rejected.
	broken := testFlow("broken")
	broken.StartNodeID = "missing"
	rec = postJSON(t, handler, "/v1/flows", broken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Get.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/flows/greeting", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var got flowstore.Flow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "greeting", got.ID)

	// Get unknown.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/flows/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Update with mismatched path.
	data, err := json.Marshal(testFlow("greeting"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/v1/flows/other", bytes.NewReader(data))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// List.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/flows", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var list []*flowstore.Flow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestHealthAndMetricsMounts(t *testing.T) {
	monitor := health.NewMonitor()
	monitor.UpdateHealthy("engine", "ok")
	reg := metric.NewRegistry()

	s := newTestServer(t, &stubExecutor{}, func(o *Options) {
		o.Monitor = monitor
		o.Metrics = reg
	})
	handler := s.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestEndToEndThroughRealEngine(t *testing.T) {
	flow := testFlow("greeting")
	eng, err := engine.New(engine.Options{
		Flows:  testutil.StaticFlows{"greeting": flow},
		Store:  conversation.NewMemoryStore(),
		Sender: &testutil.CaptureSender{},
	})
	require.NoError(t, err)

	s := newTestServer(t, eng, nil)
	req := validInbound()
	req.FlowID = "greeting"
	rec := postJSON(t, s.Handler(), "/v1/inbound", req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp eventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(engine.OutcomeCompleted), resp.Outcome)
	assert.Equal(t, 1, resp.MessagesSent)
}

func TestInboundUnknownFlowAnswers404(t *testing.T) {
	store := conversation.NewMemoryStore()
	eng, err := engine.New(engine.Options{
		Flows:  testutil.StaticFlows{},
		Store:  store,
		Sender: &testutil.CaptureSender{},
	})
	require.NoError(t, err)

	s := newTestServer(t, eng, nil)
	req := validInbound()
	req.FlowID = "ghost"
	rec := postJSON(t, s.Handler(), "/v1/inbound", req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// No conversation record is created for a misconfigured webhook.
	key := conversation.Key{TenantID: req.TenantID, Contact: req.Contact, FlowID: "ghost"}
	_, loadErr := store.Load(context.Background(), key)
	assert.Error(t, loadErr)
}
