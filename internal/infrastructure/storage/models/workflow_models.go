package models

import (
	"time"

	"github.com/uptrace/bun"
)

// WorkflowModel is the bun row for one immutable workflow version (§4.1).
type WorkflowModel struct {
	bun.BaseModel `bun:"table:workflows,alias:w"`

	WorkflowID       string    `bun:"workflow_id,pk,type:uuid"`
	WorkflowBaseID   string    `bun:"workflow_base_id,type:uuid,notnull"`
	Version          int       `bun:"version,notnull"`
	Name             string    `bun:"name,notnull"`
	Description      string    `bun:"description"`
	CreatorID        string    `bun:"creator_id,notnull"`
	ParentVersionID  string    `bun:"parent_version_id,type:uuid"`
	ChangeNote       string    `bun:"change_note"`
	IsCurrentVersion bool      `bun:"is_current_version,notnull"`
	IsDeleted        bool      `bun:"is_deleted,notnull,default:false"`
	Variables        JSONBMap  `bun:"variables,type:jsonb"`
	Metadata         JSONBMap  `bun:"metadata,type:jsonb"`
	CreatedAt        time.Time `bun:"created_at,notnull"`
	UpdatedAt        time.Time `bun:"updated_at,notnull"`
}

// NodeModel is the bun row for one node definition within a workflow version.
type NodeModel struct {
	bun.BaseModel `bun:"table:nodes,alias:n"`

	NodeID      string    `bun:"node_id,pk,type:uuid"`
	NodeBaseID  string    `bun:"node_base_id,type:uuid,notnull"`
	WorkflowID  string    `bun:"workflow_id,type:uuid,notnull"`
	Name        string    `bun:"name,notnull"`
	Type        string    `bun:"type,notnull"`
	Description string    `bun:"description"`
	LayoutHint  JSONBMap  `bun:"layout_hint,type:jsonb"`
	Config      JSONBMap  `bun:"config,type:jsonb"`
	Metadata    JSONBMap  `bun:"metadata,type:jsonb"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

// EdgeModel is the bun row for one directed edge within a workflow version.
type EdgeModel struct {
	bun.BaseModel `bun:"table:edges,alias:e"`

	EdgeID     string    `bun:"edge_id,pk,type:uuid"`
	WorkflowID string    `bun:"workflow_id,type:uuid,notnull"`
	FromNodeID string    `bun:"from_node_id,type:uuid,notnull"`
	ToNodeID   string    `bun:"to_node_id,type:uuid,notnull"`
	Type       string    `bun:"type,notnull"`
	Condition  string    `bun:"condition"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

// ProcessorModel is the bun row for an entity capable of doing a
// processor node's work (§3).
type ProcessorModel struct {
	bun.BaseModel `bun:"table:processors,alias:p"`

	ProcessorID string    `bun:"processor_id,pk,type:uuid"`
	Kind        string    `bun:"kind,notnull"`
	UserID      string    `bun:"user_id,type:uuid"`
	AgentID     string    `bun:"agent_id,type:uuid"`
	Name        string    `bun:"name,notnull"`
	Metadata    JSONBMap  `bun:"metadata,type:jsonb"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
}

// ProcessorBindingModel is the bun row for a (node, processor) binding.
type ProcessorBindingModel struct {
	bun.BaseModel `bun:"table:processor_bindings,alias:pb"`

	BindingID   string    `bun:"binding_id,pk,type:uuid"`
	NodeID      string    `bun:"node_id,type:uuid,notnull"`
	ProcessorID string    `bun:"processor_id,type:uuid,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
}

// WorkflowInstanceModel is the bun row for one workflow execution (§3).
type WorkflowInstanceModel struct {
	bun.BaseModel `bun:"table:workflow_instances,alias:wi"`

	InstanceID    string     `bun:"instance_id,pk,type:uuid"`
	WorkflowID    string     `bun:"workflow_id,type:uuid,notnull"`
	ExecutorID    string     `bun:"executor_id,notnull"`
	TriggerUserID string     `bun:"trigger_user_id"`
	InstanceName  string     `bun:"instance_name"`
	Status        string     `bun:"status,notnull"`
	Input         JSONBMap   `bun:"input,type:jsonb"`
	Output        JSONBMap   `bun:"output,type:jsonb"`
	IsDeleted     bool       `bun:"is_deleted,notnull,default:false"`
	StartedAt     time.Time  `bun:"started_at,notnull"`
	CompletedAt   *time.Time `bun:"completed_at"`
	CreatedAt     time.Time  `bun:"created_at,notnull"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull"`
}

// NodeInstanceModel is the bun row for one (workflow_instance, node) runtime row.
type NodeInstanceModel struct {
	bun.BaseModel `bun:"table:node_instances,alias:ni"`

	NodeInstanceID string     `bun:"node_instance_id,pk,type:uuid"`
	InstanceID     string     `bun:"instance_id,type:uuid,notnull"`
	NodeID         string     `bun:"node_id,type:uuid,notnull"`
	Status         string     `bun:"status,notnull"`
	Input          JSONBMap   `bun:"input,type:jsonb"`
	Output         JSONBMap   `bun:"output,type:jsonb"`
	FailureReason  string     `bun:"failure_reason"`
	StartedAt      *time.Time `bun:"started_at"`
	CompletedAt    *time.Time `bun:"completed_at"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
}

// TaskInstanceModel is the bun row for one unit of work dispatched to a
// processor binding (§3, §4.5, §4.6).
type TaskInstanceModel struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	TaskID            string        `bun:"task_id,pk,type:uuid"`
	NodeInstanceID    string        `bun:"node_instance_id,type:uuid,notnull"`
	ProcessorID       string        `bun:"processor_id,type:uuid,notnull"`
	ProcessorKind     string        `bun:"processor_kind,notnull"`
	AssignedUserID    string        `bun:"assigned_user_id"`
	AssignedAgentID   string        `bun:"assigned_agent_id"`
	Title             string        `bun:"title"`
	TaskDescription   string        `bun:"task_description"`
	Instructions      string        `bun:"instructions"`
	Priority          string        `bun:"priority,notnull,default:'normal'"`
	EstimatedDuration time.Duration `bun:"estimated_duration"`
	Status            string        `bun:"status,notnull"`
	Context           JSONBMap      `bun:"context,type:jsonb"`
	ResultData        JSONBMap      `bun:"result_data,type:jsonb"`
	ResultSummary     string        `bun:"result_summary"`
	FailureReason     string        `bun:"failure_reason"`

	CreatedAt   time.Time  `bun:"created_at,notnull"`
	AssignedAt  *time.Time `bun:"assigned_at"`
	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}

// SubdivisionModel is the bun row for a task-to-sub-workflow association (§4.8).
type SubdivisionModel struct {
	bun.BaseModel `bun:"table:subdivisions,alias:sd"`

	SubdivisionID       string    `bun:"subdivision_id,pk,type:uuid"`
	OriginalTaskID      string    `bun:"original_task_id,type:uuid,notnull"`
	SubWorkflowBaseID   string    `bun:"sub_workflow_base_id,type:uuid,notnull"`
	SubInstanceID       string    `bun:"sub_instance_id,type:uuid"`
	ParentSubdivisionID string    `bun:"parent_subdivision_id,type:uuid"`
	Name                string    `bun:"name"`
	IsSelected          bool      `bun:"is_selected,notnull,default:false"`
	IsDeleted           bool      `bun:"is_deleted,notnull,default:false"`
	CreatedAt           time.Time `bun:"created_at,notnull"`
	UpdatedAt           time.Time `bun:"updated_at,notnull"`
}

// AdoptionModel is the bun row recording one Adopt-subdivision splice (§4.8).
type AdoptionModel struct {
	bun.BaseModel `bun:"table:adoptions,alias:ad"`

	AdoptionID       string      `bun:"adoption_id,pk,type:uuid"`
	SubdivisionID    string      `bun:"subdivision_id,type:uuid,notnull"`
	ParentWorkflowID string      `bun:"parent_workflow_id,type:uuid,notnull"`
	TargetNodeID     string      `bun:"target_node_id,type:uuid,notnull"`
	Name             string      `bun:"name"`
	AddedNodeIDs     StringArray `bun:"added_node_ids,type:text[]"`
	CreatedAt        time.Time   `bun:"created_at,notnull"`
}

// SimulatorSessionModel is the bun row for one weak/strong consult session (§4.6).
type SimulatorSessionModel struct {
	bun.BaseModel `bun:"table:simulator_sessions,alias:ss"`

	SessionID     string    `bun:"session_id,pk,type:uuid"`
	TaskID        string    `bun:"task_id,type:uuid,notnull"`
	WeakModel     string    `bun:"weak_model,notnull"`
	StrongModel   string    `bun:"strong_model,notnull"`
	MaxRounds     int       `bun:"max_rounds,notnull"`
	CurrentRound  int       `bun:"current_round,notnull,default:0"`
	Status        string    `bun:"status,notnull"`
	FinalDecision string    `bun:"final_decision"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

// SimulatorMessageModel is the bun row for one message in a consult session's log.
type SimulatorMessageModel struct {
	bun.BaseModel `bun:"table:simulator_messages,alias:sm"`

	MessageID string    `bun:"message_id,pk,type:uuid"`
	SessionID string    `bun:"session_id,type:uuid,notnull"`
	Round     int       `bun:"round,notnull"`
	Speaker   string    `bun:"speaker,notnull"`
	Content   string    `bun:"content"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// SimulatorExecutionResultModel is the bun row for a consult session's
// terminal result (§4.6).
type SimulatorExecutionResultModel struct {
	bun.BaseModel `bun:"table:simulator_execution_results,alias:sr"`

	ResultID          string    `bun:"result_id,pk,type:uuid"`
	SessionID         string    `bun:"session_id,type:uuid,notnull"`
	ExecutionType     string    `bun:"execution_type,notnull"`
	ResultData        JSONBMap  `bun:"result_data,type:jsonb"`
	Confidence        float64   `bun:"confidence"`
	TotalRounds       int       `bun:"total_rounds"`
	DecisionReasoning string    `bun:"decision_reasoning"`
	CreatedAt         time.Time `bun:"created_at,notnull"`
}
