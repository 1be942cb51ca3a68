package rest

// Request bodies for the three API groups of spec §6.

type executeWorkflowRequest struct {
	WorkflowBaseID string                 `json:"workflow_base_id" binding:"required"`
	InstanceName   string                 `json:"instance_name"`
	InputData      map[string]interface{} `json:"input_data"`
	ContextData    map[string]interface{} `json:"context_data"`
}

type cancelInstanceRequest struct {
	Reason string `json:"reason"`
}

type submitTaskRequest struct {
	ResultData    map[string]interface{} `json:"result_data"`
	ResultSummary string                  `json:"result_summary"`
}

type taskReasonRequest struct {
	Reason string `json:"reason"`
}

type requestHelpRequest struct {
	Message string `json:"message" binding:"required"`
}

type subdivideTaskRequest struct {
	SubdivisionName     string                 `json:"subdivision_name" binding:"required"`
	SubWorkflowData      subWorkflowDataRequest `json:"sub_workflow_data" binding:"required"`
	ExecuteImmediately   bool                   `json:"execute_immediately"`
	ParentSubdivisionID  string                 `json:"parent_subdivision_id"`
	ContextToPass        map[string]interface{} `json:"context_to_pass"`
}

type subWorkflowDataRequest struct {
	Name        string                   `json:"name" binding:"required"`
	Description string                   `json:"description"`
	Variables   map[string]interface{}   `json:"variables"`
	Nodes       []nodeDataRequest        `json:"nodes" binding:"required,min=1"`
	Edges       []edgeDataRequest        `json:"edges"`
}

// nodeDataRequest's Key is a caller-chosen local reference (not a
// node_id — those are assigned on persist) that edgeDataRequest uses
// to wire from/to within the same request, since the real node ids
// don't exist until the sub-workflow is created.
type nodeDataRequest struct {
	Key         string                 `json:"key" binding:"required"`
	Name        string                 `json:"name" binding:"required"`
	Type        string                 `json:"type" binding:"required"`
	Description string                 `json:"description"`
	Config      map[string]interface{} `json:"config"`
}

type edgeDataRequest struct {
	FromNodeKey string `json:"from_node_key" binding:"required"`
	ToNodeKey   string `json:"to_node_key" binding:"required"`
	Type        string `json:"type"`
	Condition   string `json:"condition"`
}

type adoptSubdivisionRequest struct {
	SubdivisionID string `json:"subdivision_id" binding:"required"`
	TargetNodeID  string `json:"target_node_id" binding:"required"`
	AdoptionName  string `json:"adoption_name"`
}
