package domain

import "time"

// InstanceStatus is the lifecycle status of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusPaused    InstanceStatus = "paused"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusCancelled:
		return true
	default:
		return false
	}
}

// NodeInstanceStatus is the lifecycle status of one node instance.
type NodeInstanceStatus string

const (
	NodeInstanceStatusPending   NodeInstanceStatus = "pending"
	NodeInstanceStatusWaiting   NodeInstanceStatus = "waiting"
	NodeInstanceStatusRunning   NodeInstanceStatus = "running"
	NodeInstanceStatusCompleted NodeInstanceStatus = "completed"
	NodeInstanceStatusFailed    NodeInstanceStatus = "failed"
	NodeInstanceStatusCancelled NodeInstanceStatus = "cancelled"
)

func (s NodeInstanceStatus) IsTerminal() bool {
	switch s {
	case NodeInstanceStatusCompleted, NodeInstanceStatusFailed, NodeInstanceStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle status of a task instance (§4.5).
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusAssigned    TaskStatus = "assigned"
	TaskStatusWaiting     TaskStatus = "waiting"
	TaskStatusInProgress  TaskStatus = "in_progress"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// legalTaskTransitions encodes the human task state machine of §4.5:
// pending → assigned → in_progress → {completed, failed, cancelled},
// plus the sole legal reverse edge in_progress → assigned (pause).
var legalTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusPending:    {TaskStatusAssigned: true, TaskStatusCancelled: true},
	TaskStatusAssigned:   {TaskStatusInProgress: true, TaskStatusCancelled: true, TaskStatusFailed: true},
	TaskStatusInProgress: {TaskStatusCompleted: true, TaskStatusFailed: true, TaskStatusCancelled: true, TaskStatusAssigned: true},
}

// CanTransitionTask reports whether from→to is a legal task state transition.
func CanTransitionTask(from, to TaskStatus) bool {
	if from.IsTerminal() {
		return false
	}
	edges, ok := legalTaskTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// TaskPriority enriches a task for list display (SPEC_FULL §C.1).
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityNormal TaskPriority = "normal"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// WorkflowInstance is one execution of a workflow version (§3).
type WorkflowInstance struct {
	InstanceID    string
	WorkflowID    string // specific version executed
	ExecutorID    string
	TriggerUserID string
	InstanceName  string
	Status        InstanceStatus
	Input         map[string]interface{}
	Output        map[string]interface{}
	IsDeleted     bool
	StartedAt     time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NodeInstance is one (workflow_instance, node_id) runtime row (§3).
type NodeInstance struct {
	NodeInstanceID string
	InstanceID     string
	NodeID         string
	Status         NodeInstanceStatus
	Input          map[string]interface{}
	Output         map[string]interface{}
	FailureReason  string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProcessorBindingRef is the kind+id snapshot SPEC_FULL §C.2 asks a
// task's context blob to carry, so a mix processor's human leg can see
// which agent binding exists alongside it.
type ProcessorBindingRef struct {
	Kind    ProcessorKind
	UserID  string
	AgentID string
}

// TaskContext is the bundle handed to a processor at dispatch time and
// returned by Get-task-details (§4.3 "task context retrieval").
type TaskContext struct {
	WorkflowInstanceID string
	WorkflowName       string
	NodeID             string
	NodeName           string
	NodeDescription    string
	UpstreamOutputs    []UpstreamOutput
	GlobalData         map[string]interface{}
	ExecutionPath      []string
	ProcessorBinding   ProcessorBindingRef
	GeneratedAt        time.Time
}

// UpstreamOutput is one upstream node's completed output, annotated
// with its resolved name for display (§4.3 task context retrieval).
type UpstreamOutput struct {
	NodeID   string
	NodeName string
	Output   map[string]interface{}
}

// TaskInstance is one unit of work dispatched to a processor binding
// for a node instance (§3, §4.5, §4.6).
type TaskInstance struct {
	TaskID          string
	NodeInstanceID  string
	ProcessorID     string
	ProcessorKind   ProcessorKind
	AssignedUserID  string
	AssignedAgentID string
	Title           string
	TaskDescription string
	Instructions    string
	Priority        TaskPriority
	EstimatedDuration time.Duration
	Status          TaskStatus
	Context         *TaskContext
	ResultData      map[string]interface{}
	ResultSummary   string
	FailureReason   string

	CreatedAt   time.Time
	AssignedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// EstimatedDeadline computes an advisory deadline on demand:
// created_at + estimated_duration. List-user-tasks does not call it or
// add its value to the rows it returns. Returns
// the zero time if EstimatedDuration is unset — callers treat that as
// "no deadline", never as an error (§4.5 time-calculation-failure
// degrades to null, not fatal).
func (t *TaskInstance) EstimatedDeadline() time.Time {
	if t.EstimatedDuration <= 0 {
		return time.Time{}
	}
	return t.CreatedAt.Add(t.EstimatedDuration)
}

// ActualDuration computes Submit's actual_duration (§4.5); zero if the
// task never started.
func (t *TaskInstance) ActualDuration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}
