package engine

import (
	"context"
	"fmt"

	"github.com/xkayo32/pytake-sub013/conversation"
	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/extcall"
	"github.com/xkayo32/pytake-sub013/flowstore"
	"github.com/xkayo32/pytake-sub013/sender"
)

// Draft is one outbound message produced by a node, not yet gated or
// dispatched.
type Draft struct {
	Kind        sender.Kind
	Text        string
	TemplateRef string
	Params      map[string]string
}

// NodeResult is the effect of executing one node. It is ephemeral; the
// executor folds it into the conversation state.
type NodeResult struct {
	Messages        []Draft
	VariableUpdates map[string]string
	NextNodeID      string
	AwaitingInput   bool
	Terminal        bool
}

// handlerFunc executes one node against the current state. Handlers are
// pure given (node, state, input): retry and backoff decisions live in the
// external-call capability and the executor, never here.
type handlerFunc func(ctx context.Context, ex *execution, node *flowstore.Node) (NodeResult, error)

func (e *Engine) handlers() map[flowstore.NodeKind]handlerFunc {
	return map[flowstore.NodeKind]handlerFunc{
		flowstore.KindMessage:      e.handleMessage,
		flowstore.KindQuestion:     e.handleQuestion,
		flowstore.KindCondition:    e.handleCondition,
		flowstore.KindAssignment:   e.handleAssignment,
		flowstore.KindExternalCall: e.handleExternalCall,
		flowstore.KindJump:         e.handleJump,
		flowstore.KindEnd:          e.handleEnd,
	}
}

// execution carries per-event context through the node loop.
type execution struct {
	state *conversation.State
}

func graphErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errors.ErrGraph, fmt.Sprintf(format, args...))
}

func draftFromNode(node *flowstore.Node, vars map[string]string) Draft {
	if ref := node.ConfigString("template_ref"); ref != "" {
		return Draft{
			Kind:        sender.KindTemplate,
			TemplateRef: ref,
			Params:      ResolveMap(configParams(node), vars),
		}
	}
	return Draft{
		Kind: sender.KindFreeform,
		Text: Resolve(node.ConfigString("text"), vars),
	}
}

func configParams(node *flowstore.Node) map[string]string {
	raw, ok := node.Config["params"].(map[string]any)
	if !ok {
		return nil
	}
	params := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			params[k] = s
		}
	}
	return params
}

// handleMessage emits the node's text (or template) and continues.
func (e *Engine) handleMessage(_ context.Context, ex *execution, node *flowstore.Node) (NodeResult, error) {
	return NodeResult{
		Messages:   []Draft{draftFromNode(node, ex.state.Variables)},
		NextNodeID: node.Next,
	}, nil
}

// handleQuestion emits the prompt and parks the conversation. The inbound
// text that eventually answers it is consumed by the executor when the
// next event arrives, not here.
func (e *Engine) handleQuestion(_ context.Context, ex *execution, node *flowstore.Node) (NodeResult, error) {
	return NodeResult{
		Messages:      []Draft{draftFromNode(node, ex.state.Variables)},
		AwaitingInput: true,
	}, nil
}

// handleCondition evaluates branch rules in order; first match wins,
// otherwise the default edge, otherwise the graph is broken.
func (e *Engine) handleCondition(_ context.Context, ex *execution, node *flowstore.Node) (NodeResult, error) {
	for _, branch := range node.Branches {
		expr, err := flowstore.ParseExpression(branch.Expression)
		if err != nil {
			return NodeResult{}, graphErr("condition node %s: %v", node.ID, err)
		}
		if expr.Evaluate(ex.state.Variables) {
			return NodeResult{NextNodeID: branch.Next}, nil
		}
	}
	if node.Next == "" {
		return NodeResult{}, graphErr("condition node %s: no branch matched and no default branch", node.ID)
	}
	return NodeResult{NextNodeID: node.Next}, nil
}

// handleAssignment sets variables from literals or resolved templates.
func (e *Engine) handleAssignment(_ context.Context, ex *execution, node *flowstore.Node) (NodeResult, error) {
	raw, ok := node.Config["assignments"].(map[string]any)
	if !ok || len(raw) == 0 {
		return NodeResult{}, graphErr("assignment node %s has no assignments", node.ID)
	}

	updates := make(map[string]string, len(raw))
	for name, v := range raw {
		value, ok := v.(string)
		if !ok {
			value = fmt.Sprintf("%v", v)
		}
		updates[name] = Resolve(value, ex.state.Variables)
	}
	return NodeResult{VariableUpdates: updates, NextNodeID: node.Next}, nil
}

// handleExternalCall resolves the declared call against the variable map,
// invokes it (the capability applies the node's retry policy), and folds
// the extracted response fields into the variables.
func (e *Engine) handleExternalCall(ctx context.Context, ex *execution, node *flowstore.Node) (NodeResult, error) {
	if e.invoker == nil {
		return NodeResult{}, fmt.Errorf("%w: node %s: no external call capability configured",
			errors.ErrExternalCall, node.ID)
	}

	call, err := extcall.FromConfig(node.Config)
	if err != nil {
		return NodeResult{}, graphErr("external_call node %s: %v", node.ID, err)
	}

	vars := ex.state.Variables
	call.URL = Resolve(call.URL, vars)
	call.Body = Resolve(call.Body, vars)
	call.Headers = ResolveMap(call.Headers, vars)

	results, err := e.invoker.Invoke(ctx, call)
	if err != nil {
		return NodeResult{}, fmt.Errorf("%w: node %s: %v", errors.ErrExternalCall, node.ID, err)
	}
	return NodeResult{VariableUpdates: results, NextNodeID: node.Next}, nil
}

// handleJump switches execution to another flow's start node, carrying the
// variable map forward unchanged. A jump to a flow that does not exist is a
// graph defect; a flow store that cannot answer right now is not, and that
// error passes through untouched so the event stays retryable.
func (e *Engine) handleJump(ctx context.Context, ex *execution, node *flowstore.Node) (NodeResult, error) {
	targetID := node.ConfigString("flow_id")
	target, err := e.flows.Get(ctx, targetID)
	if err != nil {
		if errors.IsTransient(err) {
			return NodeResult{}, err
		}
		return NodeResult{}, graphErr("jump node %s: flow %q: %v", node.ID, targetID, err)
	}

	ex.state.ActiveFlowID = target.ID
	return NodeResult{NextNodeID: target.StartNodeID}, nil
}

// handleEnd terminates the flow with an optional final message.
func (e *Engine) handleEnd(_ context.Context, ex *execution, node *flowstore.Node) (NodeResult, error) {
	result := NodeResult{Terminal: true}
	if node.ConfigString("text") != "" || node.ConfigString("template_ref") != "" {
		result.Messages = []Draft{draftFromNode(node, ex.state.Variables)}
	}
	return result, nil
}
