// Package dependency implements the per-workflow-instance dependency
// scheduler (spec §4.2): it tracks which nodes are upstream of which,
// observes upstream completions, and decides when a node instance
// becomes ready to dispatch. It does not interpret edge conditions —
// that is the execution engine's job at dispatch time (SPEC_FULL §B) —
// the dependency manager only counts completions.
package dependency

import "sync"

// Dependency is one node instance's registered dependency entry
// (spec §4.2's node_dependencies[node_instance_id]).
type Dependency struct {
	NodeInstanceID    string
	NodeID            string
	WorkflowInstanceID string
	UpstreamNodes     []string
	CompletedUpstream map[string]struct{}
	ReadyToExecute    bool
	DependencyCount   int // precomputed len(UpstreamNodes), SPEC_FULL §C.4
}

// Manager tracks node_dependencies and pending_triggers across all
// active workflow instances. All mutating methods assume the caller
// already holds the relevant workflow instance's lock (owned by
// internal/application/workflowctx, per §4.3) — the manager itself adds
// only a thin mutex so Ready? can be called without that lock for
// diagnostics.
type Manager struct {
	mu sync.RWMutex

	// dependencies[workflowInstanceID][nodeInstanceID] = *Dependency
	dependencies map[string]map[string]*Dependency
	// pendingTriggers[workflowInstanceID] = set of ready node_instance_ids
	pendingTriggers map[string]map[string]struct{}
}

// NewManager constructs an empty dependency manager.
func NewManager() *Manager {
	return &Manager{
		dependencies:    make(map[string]map[string]*Dependency),
		pendingTriggers: make(map[string]map[string]struct{}),
	}
}

// Register initialises a node instance's dependency entry. If
// upstreamNodes is empty the node is a START node and is marked ready
// immediately, per §4.2.
func (m *Manager) Register(workflowInstanceID, nodeInstanceID, nodeID string, upstreamNodes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dependencies[workflowInstanceID]; !ok {
		m.dependencies[workflowInstanceID] = make(map[string]*Dependency)
	}
	if _, ok := m.pendingTriggers[workflowInstanceID]; !ok {
		m.pendingTriggers[workflowInstanceID] = make(map[string]struct{})
	}

	dep := &Dependency{
		NodeInstanceID:     nodeInstanceID,
		NodeID:             nodeID,
		WorkflowInstanceID: workflowInstanceID,
		UpstreamNodes:      upstreamNodes,
		CompletedUpstream:  make(map[string]struct{}),
		DependencyCount:    len(upstreamNodes),
	}
	if len(upstreamNodes) == 0 {
		dep.ReadyToExecute = true
		m.pendingTriggers[workflowInstanceID][nodeInstanceID] = struct{}{}
	}
	m.dependencies[workflowInstanceID][nodeInstanceID] = dep
}

// MarkCompleted notifies the manager that completedNodeID finished.
// Every registered dependency whose UpstreamNodes contains
// completedNodeID gets it added to CompletedUpstream; once
// |CompletedUpstream| == |UpstreamNodes| the entry is marked ready and
// its node instance is enqueued into pending_triggers. Returns the
// node_instance_ids that newly became ready (for callers that want to
// dispatch without a separate Drain-ready round-trip).
func (m *Manager) MarkCompleted(workflowInstanceID, completedNodeID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	deps, ok := m.dependencies[workflowInstanceID]
	if !ok {
		return nil
	}

	var newlyReady []string
	for _, dep := range deps {
		if dep.ReadyToExecute {
			continue
		}
		isUpstream := false
		for _, u := range dep.UpstreamNodes {
			if u == completedNodeID {
				isUpstream = true
				break
			}
		}
		if !isUpstream {
			continue
		}
		dep.CompletedUpstream[completedNodeID] = struct{}{}
		if len(dep.CompletedUpstream) == len(dep.UpstreamNodes) {
			dep.ReadyToExecute = true
			if _, ok := m.pendingTriggers[workflowInstanceID]; !ok {
				m.pendingTriggers[workflowInstanceID] = make(map[string]struct{})
			}
			m.pendingTriggers[workflowInstanceID][dep.NodeInstanceID] = struct{}{}
			newlyReady = append(newlyReady, dep.NodeInstanceID)
		}
	}
	return newlyReady
}

// DrainReady returns and clears the pending-triggers set for a
// workflow instance, atomically.
func (m *Manager) DrainReady(workflowInstanceID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.pendingTriggers[workflowInstanceID]
	if !ok || len(set) == 0 {
		return nil
	}
	ready := make([]string, 0, len(set))
	for id := range set {
		ready = append(ready, id)
	}
	m.pendingTriggers[workflowInstanceID] = make(map[string]struct{})
	return ready
}

// Ready reports the ReadyToExecute flag for one node instance.
func (m *Manager) Ready(workflowInstanceID, nodeInstanceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deps, ok := m.dependencies[workflowInstanceID]
	if !ok {
		return false
	}
	dep, ok := deps[nodeInstanceID]
	if !ok {
		return false
	}
	return dep.ReadyToExecute
}

// Get returns a copy-free snapshot of a single dependency entry, or
// nil if not registered (used by upstream-context retrieval to resolve
// how many upstream nodes a node instance has, §4.3).
func (m *Manager) Get(workflowInstanceID, nodeInstanceID string) *Dependency {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deps, ok := m.dependencies[workflowInstanceID]
	if !ok {
		return nil
	}
	return deps[nodeInstanceID]
}

// RegisteredCount returns the number of registered node dependencies
// for a workflow instance (used by the context manager's in-memory
// completion count, §4.3 Check-workflow-completion).
func (m *Manager) RegisteredCount(workflowInstanceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dependencies[workflowInstanceID])
}

// Cleanup removes every entry for a workflow instance (§4.3 cleanup
// policy, invariant 7 §8: "no entry in node_dependencies... references w").
func (m *Manager) Cleanup(workflowInstanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dependencies, workflowInstanceID)
	delete(m.pendingTriggers, workflowInstanceID)
}
