package subdivision

import (
	"github.com/google/uuid"

	"github.com/smilemakc/workflow-core/internal/domain"
)

// spliceGraph implements §4.8 Adopt-subdivision's node-graph surgery:
// the target node (identified by its stable NodeBaseID, since NodeID
// changes every version) is removed from next, and the sub-workflow's
// node graph is spliced in its place — incoming edges of the target
// reattach to the sub-workflow's START node's successors, outgoing
// edges reattach to its END node's predecessors. Returns the ids of
// every node added.
func spliceGraph(next *domain.Workflow, targetNodeBaseID string, sub *domain.Workflow) ([]string, error) {
	target := findNodeByBaseID(next.Nodes, targetNodeBaseID)
	if target == nil {
		return nil, domain.NewNotFoundError("target node not found in parent workflow: " + targetNodeBaseID)
	}

	subStart := findNodeByType(sub.Nodes, domain.NodeTypeStart)
	subEnd := findNodeByType(sub.Nodes, domain.NodeTypeEnd)
	if subStart == nil || subEnd == nil {
		return nil, domain.NewValidationError("sub-workflow must have a start and an end node")
	}

	startSuccessors := successorIDs(sub.Edges, subStart.NodeID)
	endPredecessors := predecessorIDs(sub.Edges, subEnd.NodeID)

	idMap := make(map[string]string, len(sub.Nodes))
	var addedNodeIDs []string
	var newNodes []*domain.Node
	for _, n := range sub.Nodes {
		if n.NodeID == subStart.NodeID || n.NodeID == subEnd.NodeID {
			continue
		}
		newID := uuid.NewString()
		idMap[n.NodeID] = newID
		addedNodeIDs = append(addedNodeIDs, newID)
		cp := *n
		cp.NodeID = newID
		cp.NodeBaseID = uuid.NewString()
		cp.WorkflowID = next.WorkflowID
		newNodes = append(newNodes, &cp)
	}
	next.Nodes = append(next.Nodes, newNodes...)

	var newEdges []*domain.Edge
	for _, e := range sub.Edges {
		if e.FromNodeID == subStart.NodeID || e.ToNodeID == subEnd.NodeID {
			continue // boundary edges are replaced by the splice below
		}
		from, okFrom := idMap[e.FromNodeID]
		to, okTo := idMap[e.ToNodeID]
		if !okFrom || !okTo {
			continue
		}
		cp := *e
		cp.EdgeID = uuid.NewString()
		cp.WorkflowID = next.WorkflowID
		cp.FromNodeID = from
		cp.ToNodeID = to
		newEdges = append(newEdges, &cp)
	}

	incoming, outgoing, remaining := splitEdgesByTarget(next.Edges, target.NodeID)
	for _, e := range incoming {
		for _, successor := range startSuccessors {
			to, ok := idMap[successor]
			if !ok {
				continue
			}
			newEdges = append(newEdges, &domain.Edge{
				EdgeID:     uuid.NewString(),
				WorkflowID: next.WorkflowID,
				FromNodeID: e.FromNodeID,
				ToNodeID:   to,
				Type:       e.Type,
				Condition:  e.Condition,
			})
		}
	}
	for _, e := range outgoing {
		for _, predecessor := range endPredecessors {
			from, ok := idMap[predecessor]
			if !ok {
				continue
			}
			newEdges = append(newEdges, &domain.Edge{
				EdgeID:     uuid.NewString(),
				WorkflowID: next.WorkflowID,
				FromNodeID: from,
				ToNodeID:   e.ToNodeID,
				Type:       e.Type,
				Condition:  e.Condition,
			})
		}
	}

	next.Edges = append(remaining, newEdges...)
	next.Nodes = removeNode(next.Nodes, target.NodeID)

	return addedNodeIDs, nil
}

func findNodeByBaseID(nodes []*domain.Node, baseID string) *domain.Node {
	for _, n := range nodes {
		if n.NodeBaseID == baseID {
			return n
		}
	}
	return nil
}

func findNodeByType(nodes []*domain.Node, t domain.NodeType) *domain.Node {
	for _, n := range nodes {
		if n.Type == t {
			return n
		}
	}
	return nil
}

func successorIDs(edges []*domain.Edge, fromNodeID string) []string {
	var out []string
	for _, e := range edges {
		if e.FromNodeID == fromNodeID {
			out = append(out, e.ToNodeID)
		}
	}
	return out
}

func predecessorIDs(edges []*domain.Edge, toNodeID string) []string {
	var out []string
	for _, e := range edges {
		if e.ToNodeID == toNodeID {
			out = append(out, e.FromNodeID)
		}
	}
	return out
}

// splitEdgesByTarget partitions edges into those incoming to
// targetNodeID, those outgoing from it, and everything else.
func splitEdgesByTarget(edges []*domain.Edge, targetNodeID string) (incoming, outgoing, remaining []*domain.Edge) {
	for _, e := range edges {
		switch {
		case e.ToNodeID == targetNodeID:
			incoming = append(incoming, e)
		case e.FromNodeID == targetNodeID:
			outgoing = append(outgoing, e)
		default:
			remaining = append(remaining, e)
		}
	}
	return
}

func removeNode(nodes []*domain.Node, nodeID string) []*domain.Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n.NodeID != nodeID {
			out = append(out, n)
		}
	}
	return out
}
