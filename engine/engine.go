package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xkayo32/pytake-sub013/conversation"
	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/extcall"
	"github.com/xkayo32/pytake-sub013/flowstore"
	"github.com/xkayo32/pytake-sub013/metric"
	"github.com/xkayo32/pytake-sub013/sender"
)

// DefaultIterationCap bounds the node loop per inbound event, the guard
// against runaway cyclic graphs.
const DefaultIterationCap = 100

// DefaultSessionTTL is how long an idle conversation stays resumable
// before the next inbound event starts a fresh one.
const DefaultSessionTTL = 72 * time.Hour

// Outcome summarizes what one inbound event did to the conversation.
type Outcome string

// Execution outcomes.
const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeAwaitingInput Outcome = "awaiting_input"
	OutcomeFailed        Outcome = "failed"
	OutcomeWindowExpired Outcome = "window_expired"
)

// Result is returned to the webhook adapter for every handled event.
type Result struct {
	EventID      string
	Outcome      Outcome
	MessagesSent []sender.Message
	State        *conversation.State
}

// Options configures an Engine.
type Options struct {
	Flows   flowstore.Getter
	Store   conversation.Store
	Sender  sender.Sender
	Invoker extcall.Invoker

	Logger  *slog.Logger
	Metrics *metric.Registry

	// Now is the engine's clock; tests pin it. Defaults to time.Now.
	Now func() time.Time

	WindowDuration time.Duration // default conversation.DefaultWindowDuration
	SessionTTL     time.Duration // default DefaultSessionTTL
	IterationCap   int           // default DefaultIterationCap
}

// Engine advances conversations one inbound event at a time.
type Engine struct {
	flows   flowstore.Getter
	store   conversation.Store
	sender  sender.Sender
	invoker extcall.Invoker

	locks   *keyedMutex
	logger  *slog.Logger
	metrics *engineMetrics
	now     func() time.Time

	windowDuration time.Duration
	sessionTTL     time.Duration
	iterationCap   int
}

// New constructs an Engine. Flows, Store, and Sender are required; the
// Invoker may be nil when no flow uses external_call nodes.
func New(opts Options) (*Engine, error) {
	if opts.Flows == nil || opts.Store == nil || opts.Sender == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("flows, store, and sender are required"), "engine", "New", "construct")
	}

	e := &Engine{
		flows:          opts.Flows,
		store:          opts.Store,
		sender:         opts.Sender,
		invoker:        opts.Invoker,
		locks:          newKeyedMutex(),
		logger:         opts.Logger,
		now:            opts.Now,
		windowDuration: opts.WindowDuration,
		sessionTTL:     opts.SessionTTL,
		iterationCap:   opts.IterationCap,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.windowDuration <= 0 {
		e.windowDuration = conversation.DefaultWindowDuration
	}
	if e.sessionTTL <= 0 {
		e.sessionTTL = DefaultSessionTTL
	}
	if e.iterationCap <= 0 {
		e.iterationCap = DefaultIterationCap
	}

	if opts.Metrics != nil {
		m, err := newEngineMetrics(opts.Metrics)
		if err != nil {
			return nil, err
		}
		e.metrics = m
	}
	return e, nil
}

// HandleInboundMessage processes one inbound event for (tenant, contact,
// flow). Events for the same key are serialized; the store's version check
// catches racing writers from other processes, surfacing
// errors.ErrVersionConflict, which the caller may retry at whole-event
// granularity.
func (e *Engine) HandleInboundMessage(ctx context.Context, tenantID, contact, flowID, text string) (Result, error) {
	key := conversation.Key{TenantID: tenantID, Contact: contact, FlowID: flowID}
	unlock := e.locks.Lock(key.String())
	defer unlock()

	started := time.Now()
	result, err := e.handleInbound(ctx, key, text)
	e.metrics.observeDuration(time.Since(started).Seconds())
	if result.Outcome != "" {
		e.metrics.recordOutcome(result.Outcome)
	}
	return result, err
}

func (e *Engine) handleInbound(ctx context.Context, key conversation.Key, text string) (Result, error) {
	now := e.now()
	eventID := uuid.NewString()
	log := e.logger.With("event_id", eventID, "tenant", key.TenantID, "contact", key.Contact, "flow", key.FlowID)

	state, fresh, err := e.loadOrCreate(ctx, key, now)
	if err != nil {
		return Result{EventID: eventID}, err
	}

	// Any customer message reopens the window, regardless of flow state.
	state.Window.ResetOnInboundUserMessage(now, e.windowDuration)
	state.LastMessageAt = now
	state.SessionExpiresAt = now.Add(e.sessionTTL)
	state.UpdatedAt = now

	// A terminal conversation inside its idle TTL stays terminal: the
	// contact simply stops receiving automated replies. Only the window
	// bookkeeping is persisted.
	if state.Terminal() {
		if err := e.persist(ctx, state, fresh); err != nil {
			return Result{EventID: eventID}, err
		}
		return Result{EventID: eventID, Outcome: terminalOutcome(state), State: state}, nil
	}

	startNode, err := e.entryNode(ctx, state, text)
	if err != nil {
		return e.failAndPersist(ctx, eventID, state, fresh, err, log)
	}

	drafts, loopErr := e.runLoop(ctx, state, startNode)
	if loopErr != nil {
		return e.failAndPersist(ctx, eventID, state, fresh, loopErr, log)
	}

	sent, sendErr := e.dispatch(ctx, eventID, state, drafts)

	if err := e.persist(ctx, state, fresh); err != nil {
		return Result{EventID: eventID, MessagesSent: sent}, err
	}

	result := Result{EventID: eventID, MessagesSent: sent, State: state}
	switch {
	case sendErr != nil && stderrors.Is(sendErr, errors.ErrWindowExpired):
		result.Outcome = OutcomeWindowExpired
		return result, sendErr
	case sendErr != nil:
		result.Outcome = terminalOrAwaiting(state)
		return result, sendErr
	default:
		result.Outcome = terminalOrAwaiting(state)
		log.Info("event handled", "outcome", result.Outcome, "messages", len(sent))
		return result, nil
	}
}

// TriggerFlow starts a flow for a contact without an inbound message, as a
// campaign or operator action would. The messaging window is NOT reopened:
// free-form sends still depend on when the contact last spoke, which is
// what makes business-initiated sends gateable at all.
func (e *Engine) TriggerFlow(ctx context.Context, tenantID, contact, flowID string) (Result, error) {
	key := conversation.Key{TenantID: tenantID, Contact: contact, FlowID: flowID}
	unlock := e.locks.Lock(key.String())
	defer unlock()

	now := e.now()
	eventID := uuid.NewString()
	log := e.logger.With("event_id", eventID, "tenant", tenantID, "contact", contact, "flow", flowID)

	existing, err := e.store.Load(ctx, key)
	fresh := false
	var state *conversation.State
	switch {
	case err != nil && stderrors.Is(err, errors.ErrNotFound):
		fresh = true
	case err != nil:
		return Result{EventID: eventID}, errors.WrapTransient(err, "engine", "TriggerFlow", "load state")
	case existing.Active():
		return Result{EventID: eventID}, errors.WrapInvalid(
			fmt.Errorf("conversation already active at node %s", existing.CurrentNodeID),
			"engine", "TriggerFlow", "start flow")
	default:
		// Terminal record: replace in place, keeping its window history.
		state = existing
	}

	flow, err := e.flows.Get(ctx, flowID)
	if err != nil {
		return Result{EventID: eventID}, err
	}

	preserved := conversation.Window{}
	if state != nil {
		preserved = state.Window
	}
	next := e.freshState(key, now)
	next.Window = preserved
	if state != nil {
		next.Version = state.Version
	}
	state = next

	drafts, loopErr := e.runLoop(ctx, state, flow.StartNodeID)
	if loopErr != nil {
		return e.failAndPersist(ctx, eventID, state, fresh, loopErr, log)
	}

	sent, sendErr := e.dispatch(ctx, eventID, state, drafts)

	if err := e.persist(ctx, state, fresh); err != nil {
		return Result{EventID: eventID, MessagesSent: sent}, err
	}

	result := Result{EventID: eventID, MessagesSent: sent, State: state}
	if sendErr != nil && stderrors.Is(sendErr, errors.ErrWindowExpired) {
		result.Outcome = OutcomeWindowExpired
		return result, sendErr
	}
	result.Outcome = terminalOrAwaiting(state)
	return result, sendErr
}

// loadOrCreate fetches the conversation for key or makes a fresh one. A
// terminal record whose idle TTL has lapsed is replaced rather than
// resumed; its KV version carries over so the replacement is still a CAS.
func (e *Engine) loadOrCreate(ctx context.Context, key conversation.Key, now time.Time) (*conversation.State, bool, error) {
	state, err := e.store.Load(ctx, key)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			return e.freshState(key, now), true, nil
		}
		return nil, false, errors.WrapTransient(err, "engine", "HandleInboundMessage", "load state")
	}

	if state.Terminal() && state.SessionExpired(now) {
		replacement := e.freshState(key, now)
		replacement.Version = state.Version
		return replacement, false, nil
	}
	return state, false, nil
}

func (e *Engine) freshState(key conversation.Key, now time.Time) *conversation.State {
	state := &conversation.State{
		ID:        uuid.NewString(),
		TenantID:  key.TenantID,
		Contact:   key.Contact,
		FlowID:    key.FlowID,
		RunState:  conversation.RunStateRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	state.SetVariable("contact", key.Contact)
	state.SetVariable("tenant_id", key.TenantID)
	return state
}

// entryNode decides where the node loop starts. Resuming an awaiting
// conversation stores the inbound text into the question's variable and
// continues from the question's next edge; anything else starts from the
// flow's start node (fresh) or re-enters the current node (a record left
// in running state by a crash mid-event).
func (e *Engine) entryNode(ctx context.Context, state *conversation.State, text string) (string, error) {
	flow, err := e.flows.Get(ctx, state.CurrentFlowID())
	if err != nil {
		return "", err
	}

	if state.RunState == conversation.RunStateAwaitingInput {
		node := flow.Node(state.CurrentNodeID)
		if node == nil || node.Kind != flowstore.KindQuestion {
			return "", graphErr("awaiting input at non-question node %q", state.CurrentNodeID)
		}
		state.SetVariable(node.ConfigString("variable"), text)
		state.RunState = conversation.RunStateRunning
		return node.Next, nil
	}

	if state.CurrentNodeID != "" {
		return state.CurrentNodeID, nil
	}
	return flow.StartNodeID, nil
}

// runLoop executes node handlers until the flow parks on a question, ends,
// fails, or exceeds the iteration cap. Messages accumulate and are
// dispatched by the caller only after the loop completes, so a failure
// mid-loop never emits a partial sequence.
func (e *Engine) runLoop(ctx context.Context, state *conversation.State, startNodeID string) ([]Draft, error) {
	handlers := e.handlers()
	ex := &execution{state: state}

	flow, err := e.flows.Get(ctx, state.CurrentFlowID())
	if err != nil {
		return nil, err
	}

	var drafts []Draft
	currentID := startNodeID

	for i := 0; i < e.iterationCap; i++ {
		node := flow.Node(currentID)
		if node == nil {
			return nil, graphErr("flow %s: node %q not found", flow.ID, currentID)
		}

		handler, ok := handlers[node.Kind]
		if !ok {
			return nil, graphErr("flow %s: node %s has unhandled kind %q", flow.ID, node.ID, node.Kind)
		}

		state.AppendPath(node.ID)
		e.metrics.recordNode(string(node.Kind))

		result, err := handler(ctx, ex, node)
		if err != nil {
			return nil, err
		}

		for name, value := range result.VariableUpdates {
			state.SetVariable(name, value)
		}
		drafts = append(drafts, result.Messages...)

		switch {
		case result.AwaitingInput:
			state.RunState = conversation.RunStateAwaitingInput
			state.CurrentNodeID = node.ID
			return drafts, nil
		case result.Terminal:
			state.Complete()
			return drafts, nil
		}

		// A jump handler switches the active flow; follow it.
		if state.CurrentFlowID() != flow.ID {
			flow, err = e.flows.Get(ctx, state.CurrentFlowID())
			if err != nil {
				return nil, err
			}
		}
		currentID = result.NextNodeID
	}

	return nil, fmt.Errorf("%w: flow %s exceeded %d iterations", errors.ErrRuntimeLoop, flow.ID, e.iterationCap)
}

// dispatch gates and sends the accumulated drafts in order. A blocked
// free-form send stops the sequence and surfaces ErrWindowExpired; a
// template send extends the window and is recorded for auditing.
func (e *Engine) dispatch(ctx context.Context, eventID string, state *conversation.State, drafts []Draft) ([]sender.Message, error) {
	var sent []sender.Message
	for _, draft := range drafts {
		now := e.now()
		msg := sender.Message{
			EventID:     eventID,
			TenantID:    state.TenantID,
			To:          state.Contact,
			Kind:        draft.Kind,
			Text:        draft.Text,
			TemplateRef: draft.TemplateRef,
			Params:      draft.Params,
			SentAt:      now,
		}

		if draft.Kind == sender.KindTemplate {
			if err := e.sender.SendTemplate(ctx, msg); err != nil {
				return sent, errors.WrapTransient(err, "engine", "dispatch", "send template")
			}
			state.Window.ExtendOnOutboundTemplate(now, e.windowDuration)
			sent = append(sent, msg)
			continue
		}

		// Recomputed from the expiry instant every time: the cached
		// IsOpen flag plays no part in send decisions.
		if !state.Window.CanSendFreeform(now) {
			e.metrics.recordBlockedSend()
			return sent, fmt.Errorf("%w: contact last spoke %s", errors.ErrWindowExpired,
				state.Window.LastUserMessageAt.Format(time.RFC3339))
		}
		if err := e.sender.SendFreeform(ctx, msg); err != nil {
			return sent, errors.WrapTransient(err, "engine", "dispatch", "send freeform")
		}
		sent = append(sent, msg)
	}
	return sent, nil
}

// persist writes the state exactly once per event: Create for records
// never stored, CAS Save otherwise. Version conflicts surface as
// errors.ErrVersionConflict so the caller retries the whole event.
func (e *Engine) persist(ctx context.Context, state *conversation.State, fresh bool) error {
	if fresh {
		if err := e.store.Create(ctx, state); err != nil {
			if stderrors.Is(err, errors.ErrAlreadyExists) {
				// Another process created the record concurrently.
				return errors.ErrVersionConflict
			}
			return errors.WrapTransient(err, "engine", "persist", "create state")
		}
		return nil
	}
	if err := e.store.Save(ctx, state, state.Version); err != nil {
		if stderrors.Is(err, errors.ErrVersionConflict) {
			return errors.ErrVersionConflict
		}
		return errors.WrapTransient(err, "engine", "persist", "save state")
	}
	return nil
}

// failAndPersist marks the conversation failed, persists it, and returns
// the failure. Graph and loop errors are never silently swallowed. Only
// durable flow defects burn the conversation: broken graphs, runaway
// loops, and exhausted external calls. Everything else, transient flow
// store outages and unknown flows from misconfigured webhooks included,
// surfaces unrecorded so the event can be redelivered or rejected without
// leaving a poisoned record behind.
func (e *Engine) failAndPersist(ctx context.Context, eventID string, state *conversation.State,
	fresh bool, cause error, log *slog.Logger) (Result, error) {

	durable := stderrors.Is(cause, errors.ErrGraph) ||
		stderrors.Is(cause, errors.ErrRuntimeLoop) ||
		stderrors.Is(cause, errors.ErrExternalCall)
	if !durable {
		if errors.IsTransient(cause) {
			log.Warn("flow execution interrupted", "error", cause)
		}
		return Result{EventID: eventID}, cause
	}

	state.Fail(cause.Error())
	log.Error("flow execution failed", "error", cause)

	if err := e.persist(ctx, state, fresh); err != nil {
		return Result{EventID: eventID}, err
	}
	return Result{EventID: eventID, Outcome: OutcomeFailed, State: state}, cause
}

func terminalOutcome(state *conversation.State) Outcome {
	if state.RunState == conversation.RunStateCompleted {
		return OutcomeCompleted
	}
	return OutcomeFailed
}

func terminalOrAwaiting(state *conversation.State) Outcome {
	if state.RunState == conversation.RunStateAwaitingInput {
		return OutcomeAwaitingInput
	}
	return terminalOutcome(state)
}
