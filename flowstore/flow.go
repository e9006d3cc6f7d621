package flowstore

import (
	"fmt"
	"regexp"
	"time"

	"github.com/xkayo32/pytake-sub013/errors"
)

// NodeKind identifies what a node does when the engine reaches it.
type NodeKind string

// Node kinds understood by the engine.
const (
	KindMessage      NodeKind = "message"
	KindQuestion     NodeKind = "question"
	KindCondition    NodeKind = "condition"
	KindAssignment   NodeKind = "assignment"
	KindExternalCall NodeKind = "external_call"
	KindJump         NodeKind = "jump"
	KindEnd          NodeKind = "end"
)

var validKinds = map[NodeKind]bool{
	KindMessage:      true,
	KindQuestion:     true,
	KindCondition:    true,
	KindAssignment:   true,
	KindExternalCall: true,
	KindJump:         true,
	KindEnd:          true,
}

// idPattern restricts ids to characters legal in NATS KV keys.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Flow is a published conversation graph. Read-only to the engine once
// published.
type Flow struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Version for optimistic concurrency control on re-publish.
	Version int64 `json:"version" yaml:"version,omitempty"`

	StartNodeID string `json:"start_node_id" yaml:"start_node_id"`
	Nodes       []Node `json:"nodes" yaml:"nodes"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
	CreatedBy string    `json:"created_by,omitempty" yaml:"created_by,omitempty"`
}

// Node is one step in a flow.
type Node struct {
	ID   string   `json:"id" yaml:"id"`
	Kind NodeKind `json:"kind" yaml:"kind"`

	// Config carries kind-specific settings: "text" for message and
	// question nodes, "variable" for question nodes, "assignments" for
	// assignment nodes, the call description for external_call nodes,
	// "flow_id" for jump nodes.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Next is the default next node. For condition nodes it is the
	// default branch taken when no rule matches; it may be empty, in
	// which case an unmatched condition fails the conversation.
	Next string `json:"next,omitempty" yaml:"next,omitempty"`

	// Branches are evaluated in order by condition nodes; first match
	// wins. Only condition nodes may carry branches.
	Branches []Branch `json:"branches,omitempty" yaml:"branches,omitempty"`
}

// Branch is a conditional edge out of a condition node.
type Branch struct {
	// Expression has the form "<variable> <op> <literal>", e.g.
	// "age >= 18" or "plan in free,trial".
	Expression string `json:"expression" yaml:"expression"`
	Next       string `json:"next" yaml:"next"`
}

// Node returns the node with the given id, or nil.
func (f *Flow) Node(id string) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// Terminal reports whether the node ends the flow.
func (n *Node) Terminal() bool {
	return n.Kind == KindEnd
}

// ConfigString returns a string config value, or "" when absent.
func (n *Node) ConfigString(key string) string {
	if n.Config == nil {
		return ""
	}
	s, _ := n.Config[key].(string)
	return s
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf(format, args...), "flowstore", "Validate", "flow validation")
}

// Validate checks the structural invariants the engine relies on: legal
// ids, a single resolvable start node, unique node ids, known kinds, and a
// resolvable next for every non-terminal edge.
func (f *Flow) Validate() error {
	if f.ID == "" {
		return invalid("flow ID cannot be empty")
	}
	if !idPattern.MatchString(f.ID) {
		return invalid("flow ID %q contains characters outside [A-Za-z0-9_-]", f.ID)
	}
	if f.Name == "" {
		return invalid("flow name cannot be empty")
	}
	if len(f.Nodes) == 0 {
		return invalid("flow %s has no nodes", f.ID)
	}
	if f.StartNodeID == "" {
		return invalid("flow %s has no start node", f.ID)
	}

	nodeIDs := make(map[string]bool, len(f.Nodes))
	for i := range f.Nodes {
		node := &f.Nodes[i]
		if node.ID == "" {
			return invalid("node at index %d has empty ID", i)
		}
		if nodeIDs[node.ID] {
			return invalid("duplicate node ID: %s", node.ID)
		}
		nodeIDs[node.ID] = true

		if !validKinds[node.Kind] {
			return invalid("node %s has unknown kind %q", node.ID, node.Kind)
		}
	}

	if !nodeIDs[f.StartNodeID] {
		return invalid("start node %s does not exist", f.StartNodeID)
	}

	for i := range f.Nodes {
		if err := f.validateNodeEdges(&f.Nodes[i], nodeIDs); err != nil {
			return err
		}
	}
	return nil
}

func (f *Flow) validateNodeEdges(node *Node, nodeIDs map[string]bool) error {
	if node.Kind != KindCondition && len(node.Branches) > 0 {
		return invalid("node %s: only condition nodes may have branches", node.ID)
	}

	switch node.Kind {
	case KindEnd:
		if node.Next != "" {
			return invalid("end node %s cannot have a next node", node.ID)
		}
	case KindJump:
		if node.ConfigString("flow_id") == "" {
			return invalid("jump node %s missing target flow_id", node.ID)
		}
	case KindCondition:
		if len(node.Branches) == 0 {
			return invalid("condition node %s has no branches", node.ID)
		}
		for _, b := range node.Branches {
			if _, err := ParseExpression(b.Expression); err != nil {
				return invalid("condition node %s: %v", node.ID, err)
			}
			if !nodeIDs[b.Next] {
				return invalid("condition node %s branch references unknown node %q", node.ID, b.Next)
			}
		}
		// Default branch is optional; when present it must resolve.
		if node.Next != "" && !nodeIDs[node.Next] {
			return invalid("condition node %s default references unknown node %q", node.ID, node.Next)
		}
	default:
		// message, question, assignment, external_call: must continue
		// somewhere.
		if node.Next == "" {
			return invalid("node %s (%s) has no next node", node.ID, node.Kind)
		}
		if !nodeIDs[node.Next] {
			return invalid("node %s references unknown node %q", node.ID, node.Next)
		}
	}

	if node.Kind == KindQuestion && node.ConfigString("variable") == "" {
		return invalid("question node %s missing target variable", node.ID)
	}
	return nil
}
