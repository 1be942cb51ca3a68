package domain

import "time"

// Subdivision associates an original task with a fresh sub-workflow
// (§3, §4.8). It may form a tree via ParentSubdivisionID.
type Subdivision struct {
	SubdivisionID      string
	OriginalTaskID     string
	SubWorkflowBaseID  string
	SubInstanceID      string // set once execute_immediately has started it
	ParentSubdivisionID string
	Name               string
	IsSelected         bool
	IsDeleted          bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Adoption records replacing a node in a parent workflow version with
// the graph of a selected subdivision (§4.8 Adopt-subdivision).
type Adoption struct {
	AdoptionID        string
	SubdivisionID     string
	ParentWorkflowID  string // the newly created parent version
	TargetNodeID      string // node_id replaced, in the prior version
	Name              string
	AddedNodeIDs      []string
	CreatedAt         time.Time
}

// HierarchyNode is one entry of the flattened subdivision tree returned
// by Get-hierarchy, alongside the depth-map SPEC_FULL §C.3 adds.
type HierarchyNode struct {
	Subdivision *Subdivision
	Depth       int
}

// SubdivisionHierarchy is Get-hierarchy's full response shape: a flat
// list (for simple iteration) plus a subdivision_id→depth map matching
// the original implementation's response shape (SPEC_FULL §C.3).
type SubdivisionHierarchy struct {
	Nodes []HierarchyNode
	Depth map[string]int
}

// CascadeDeleteReport is the structured per-table count report §4.1's
// cascade-delete operation returns (SPEC_FULL §C.5).
type CascadeDeleteReport struct {
	WorkflowInstances int
	NodeInstances     int
	Tasks             int
	Subdivisions      int
}
