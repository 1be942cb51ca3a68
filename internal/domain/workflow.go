// Package domain holds the core types of the workflow execution engine:
// versioned workflow/node definitions, processors and their bindings,
// and the runtime instances the engine, dependency manager and task
// services operate on. It has no dependency on storage or transport.
package domain

import "time"

// NodeType is the kind of a node within a workflow version.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeProcessor NodeType = "processor"
	NodeTypeEnd       NodeType = "end"
)

// EdgeType is the kind of connection between two nodes.
type EdgeType string

const (
	EdgeTypeNormal      EdgeType = "normal"
	EdgeTypeConditional EdgeType = "conditional"
	EdgeTypeParallel    EdgeType = "parallel"
)

// ProcessorKind is who or what performs a processor node's work.
type ProcessorKind string

const (
	ProcessorKindHuman     ProcessorKind = "human"
	ProcessorKindAgent     ProcessorKind = "agent"
	ProcessorKindMix       ProcessorKind = "mix"
	ProcessorKindSimulator ProcessorKind = "simulator"
)

// Workflow is one immutable version of a workflow definition.
//
// WorkflowBaseID is stable across versions; WorkflowID identifies this
// specific immutable version. At most one version per base has
// IsCurrentVersion set (enforced by the repository, invariant 1 §8).
type Workflow struct {
	WorkflowID        string
	WorkflowBaseID    string
	Version           int
	Name              string
	Description       string
	CreatorID         string
	ParentVersionID   string
	ChangeNote        string
	IsCurrentVersion  bool
	IsDeleted         bool
	Variables         map[string]interface{}
	Metadata          map[string]interface{}
	CreatedAt         time.Time
	UpdatedAt         time.Time

	Nodes []*Node
	Edges []*Edge
}

// Node is a step definition within one workflow version.
type Node struct {
	NodeID     string
	NodeBaseID string
	WorkflowID string
	Name       string
	Type       NodeType
	Description string
	LayoutHint  map[string]interface{} // opaque 2-D position hint
	Config      map[string]interface{}
	Metadata    map[string]interface{}
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Bindings []*ProcessorBinding
}

// Edge is a directed, typed connection between two nodes of the same
// workflow version. Condition is opaque metadata the engine interprets
// only for EdgeTypeConditional (an expr-lang boolean expression).
type Edge struct {
	EdgeID     string
	WorkflowID string
	FromNodeID string
	ToNodeID   string
	Type       EdgeType
	Condition  string
	CreatedAt  time.Time
}

// Processor is an entity capable of doing a processor node's work.
// Invariants by Kind (validated at creation, not re-checked at runtime):
// human ⇒ UserID set, AgentID empty; agent/simulator ⇒ AgentID set,
// UserID empty; mix ⇒ both set.
type Processor struct {
	ProcessorID string
	Kind        ProcessorKind
	UserID      string
	AgentID     string
	Name        string
	Metadata    map[string]interface{}
	CreatedAt   time.Time
}

// Validate checks the kind/identity invariant described in spec §3.
func (p *Processor) Validate() error {
	switch p.Kind {
	case ProcessorKindHuman:
		if p.UserID == "" || p.AgentID != "" {
			return NewValidationError("human processor requires user_id and no agent_id")
		}
	case ProcessorKindAgent, ProcessorKindSimulator:
		if p.AgentID == "" || p.UserID != "" {
			return NewValidationError("agent/simulator processor requires agent_id and no user_id")
		}
	case ProcessorKindMix:
		if p.UserID == "" || p.AgentID == "" {
			return NewValidationError("mix processor requires both user_id and agent_id")
		}
	default:
		return NewValidationError("unknown processor kind: " + string(p.Kind))
	}
	return nil
}

// ProcessorBinding associates a node (definition) with a processor,
// many-to-many within one workflow version.
type ProcessorBinding struct {
	BindingID   string
	NodeID      string
	ProcessorID string
	Processor   *Processor
	CreatedAt   time.Time
}
