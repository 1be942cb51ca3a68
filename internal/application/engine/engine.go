// Package engine implements the execution engine (spec §4.4): it
// creates workflow instances, materializes node instances, dispatches
// tasks when the dependency manager reports nodes ready, and finalizes
// instances. The engine never executes task logic itself — it routes
// tasks to whichever TaskDispatcher is registered for a processor kind.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/workflow-core/internal/application/dependency"
	"github.com/smilemakc/workflow-core/internal/application/observer"
	"github.com/smilemakc/workflow-core/internal/application/template"
	"github.com/smilemakc/workflow-core/internal/application/workflowctx"
	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/internal/infrastructure/logger"
)

// TaskDispatcher is the narrow interface a task service implements so
// the engine can hand it a freshly created task instance without
// importing the task service package (spec §9: "no two-way imports").
type TaskDispatcher interface {
	// Dispatch begins work on task. For human tasks this typically
	// just determines the assignee and flips status to assigned; for
	// agent/simulator tasks it kicks off the model call, usually in a
	// background goroutine, and reports completion back through the
	// engine's NodeCompletionCheck when done.
	Dispatch(ctx context.Context, task *domain.TaskInstance) error

	// Cancel notifies the dispatcher that task was cancelled so any
	// in-flight work can stop reporting a result (cancellation is
	// cooperative — in-flight LM calls are not killed, §5).
	Cancel(ctx context.Context, task *domain.TaskInstance) error
}

// Engine drives workflow instances from creation to terminal status.
type Engine struct {
	log            *logger.Logger
	workflowRepo   domain.WorkflowRepository
	instanceRepo   domain.InstanceRepository
	deps           *dependency.Manager
	ctxMgr         *workflowctx.Manager
	obs            *observer.ObserverManager
	conditionCache *ConditionCache

	dispatchers map[domain.ProcessorKind]TaskDispatcher

	// cacheMu guards definitions and instanceInputs: dispatch can run
	// concurrently across node-ready callbacks for the same or
	// different instances, and the background cleanup sweep touches
	// both maps from its own goroutine.
	cacheMu sync.RWMutex
	// definitions caches the workflow version behind each running
	// instance so dispatch doesn't re-fetch it on every ready event.
	definitions map[string]*domain.Workflow
	// instanceInputs caches each instance's trigger input, used as the
	// template engine's execution-variable scope (SPEC_FULL §B).
	instanceInputs map[string]map[string]interface{}
}

// New constructs an Engine and wires itself as the dependency manager's
// ready callback via ctxMgr, per spec §9's narrow-callback pattern.
func New(
	log *logger.Logger,
	workflowRepo domain.WorkflowRepository,
	instanceRepo domain.InstanceRepository,
	deps *dependency.Manager,
	obs *observer.ObserverManager,
) *Engine {
	e := &Engine{
		log:            log,
		workflowRepo:   workflowRepo,
		instanceRepo:   instanceRepo,
		deps:           deps,
		obs:            obs,
		conditionCache: NewConditionCache(256),
		dispatchers:    make(map[domain.ProcessorKind]TaskDispatcher),
		definitions:    make(map[string]*domain.Workflow),
		instanceInputs: make(map[string]map[string]interface{}),
	}
	e.ctxMgr = workflowctx.New(log, deps, instanceRepo, obs, e.onReady)
	return e
}

func (e *Engine) setInstanceCache(instanceID string, wf *domain.Workflow, input map[string]interface{}) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.definitions[instanceID] = wf
	e.instanceInputs[instanceID] = input
}

func (e *Engine) getDefinition(instanceID string) *domain.Workflow {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	return e.definitions[instanceID]
}

func (e *Engine) getInstanceInput(instanceID string) map[string]interface{} {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	return e.instanceInputs[instanceID]
}

func (e *Engine) dropInstanceCache(instanceID string) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	delete(e.definitions, instanceID)
	delete(e.instanceInputs, instanceID)
}

// ContextManager exposes the workflow context manager so task services
// can retrieve task context bundles (§4.3) without the engine having to
// proxy every read.
func (e *Engine) ContextManager() *workflowctx.Manager { return e.ctxMgr }

// RegisterDispatcher wires a task service into the engine for a given
// processor kind (called once per kind during process wiring).
func (e *Engine) RegisterDispatcher(kind domain.ProcessorKind, d TaskDispatcher) {
	e.dispatchers[kind] = d
}

// StartInstance implements §4.4 Start-instance.
func (e *Engine) StartInstance(ctx context.Context, workflowBaseID string, input map[string]interface{}, executorID, triggerUserID, instanceName string) (*domain.WorkflowInstance, error) {
	wf, err := e.workflowRepo.GetCurrentVersion(ctx, workflowBaseID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, domain.NewNotFoundError("no current version for workflow_base_id " + workflowBaseID)
	}

	now := time.Now()
	inst := &domain.WorkflowInstance{
		InstanceID:    uuid.NewString(),
		WorkflowID:    wf.WorkflowID,
		ExecutorID:    executorID,
		TriggerUserID: triggerUserID,
		InstanceName:  instanceName,
		Status:        domain.InstanceStatusPending,
		Input:         input,
		Output:        map[string]interface{}{},
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	inst, err = e.instanceRepo.CreateWorkflowInstance(ctx, inst)
	if err != nil {
		return nil, err
	}

	nodeInstanceIDByNodeID := make(map[string]string, len(wf.Nodes))
	for _, node := range wf.Nodes {
		ni := &domain.NodeInstance{
			NodeInstanceID: uuid.NewString(),
			InstanceID:     inst.InstanceID,
			NodeID:         node.NodeID,
			Status:         domain.NodeInstanceStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if _, err := e.instanceRepo.CreateNodeInstance(ctx, ni); err != nil {
			return nil, err
		}
		nodeInstanceIDByNodeID[node.NodeID] = ni.NodeInstanceID
	}

	upstream := make(map[string][]string, len(wf.Nodes))
	for _, edge := range wf.Edges {
		upstream[edge.ToNodeID] = append(upstream[edge.ToNodeID], edge.FromNodeID)
	}

	e.setInstanceCache(inst.InstanceID, wf, input)
	e.ctxMgr.Initialize(inst.InstanceID, len(wf.Nodes))

	for _, node := range wf.Nodes {
		e.deps.Register(inst.InstanceID, nodeInstanceIDByNodeID[node.NodeID], node.NodeID, upstream[node.NodeID])
	}

	inst.Status = domain.InstanceStatusRunning
	inst.UpdatedAt = time.Now()
	if err := e.instanceRepo.UpdateWorkflowInstance(ctx, inst); err != nil {
		return nil, err
	}

	if e.obs != nil {
		e.obs.Notify(ctx, observer.Event{
			Type:        observer.EventTypeExecutionStarted,
			ExecutionID: inst.InstanceID,
			WorkflowID:  wf.WorkflowID,
			Timestamp:   time.Now(),
			Status:      string(domain.InstanceStatusRunning),
			Input:       input,
		})
	}

	ready := e.deps.DrainReady(inst.InstanceID)
	e.dispatchReady(ctx, inst.InstanceID, ready)

	return inst, nil
}

// onReady is registered with the context manager as the ReadyCallback;
// it is invoked outside any instance lock (§4.3), so dispatch here may
// itself acquire locks without risk of re-entrant deadlock.
func (e *Engine) onReady(workflowInstanceID string, nodeInstanceIDs []string) {
	e.dispatchReady(context.Background(), workflowInstanceID, nodeInstanceIDs)
}

func (e *Engine) dispatchReady(ctx context.Context, workflowInstanceID string, nodeInstanceIDs []string) {
	for _, nodeInstanceID := range nodeInstanceIDs {
		if err := e.dispatchNode(ctx, workflowInstanceID, nodeInstanceID); err != nil {
			e.log.Error("dispatch-node failed", "workflow_instance_id", workflowInstanceID, "node_instance_id", nodeInstanceID, "error", err)
		}
	}
}

// dispatchNode implements §4.4 Dispatch-node and the end-node special
// case, plus the conditional-edge evaluation enrichment (SPEC_FULL §B).
func (e *Engine) dispatchNode(ctx context.Context, workflowInstanceID, nodeInstanceID string) error {
	wf := e.getDefinition(workflowInstanceID)
	if wf == nil {
		return domain.NewInternalConsistencyError("no cached definition for workflow instance " + workflowInstanceID)
	}

	ni, err := e.instanceRepo.GetNodeInstance(ctx, nodeInstanceID)
	if err != nil {
		return err
	}
	node := findNode(wf.Nodes, ni.NodeID)
	if node == nil {
		return domain.NewInternalConsistencyError("dangling node_id " + ni.NodeID)
	}

	if skip, reason := e.shouldSkipOnCondition(workflowInstanceID, wf, node); skip {
		e.log.Info("node skipped by unmet edge condition", "workflow_instance_id", workflowInstanceID, "node_id", node.NodeID, "reason", reason)
		return e.completeNode(ctx, workflowInstanceID, ni, node, map[string]interface{}{"skipped": true, "reason": reason})
	}

	e.ctxMgr.MarkExecuting(workflowInstanceID, node.NodeID)
	ni.Status = domain.NodeInstanceStatusRunning
	now := time.Now()
	ni.StartedAt = &now
	ni.UpdatedAt = now
	if err := e.instanceRepo.UpdateNodeInstance(ctx, ni); err != nil {
		return err
	}

	if node.Type == domain.NodeTypeEnd {
		err := e.completeEndNode(ctx, workflowInstanceID, ni, node, wf)
		e.scheduleDefinitionCleanup(workflowInstanceID)
		return err
	}

	if len(node.Bindings) == 0 {
		// Boundary behaviour (§8): zero processor bindings -> the node
		// completes immediately with empty output.
		return e.completeNode(ctx, workflowInstanceID, ni, node, map[string]interface{}{})
	}

	for _, binding := range node.Bindings {
		if err := e.createAndDispatchTask(ctx, workflowInstanceID, ni, node, binding); err != nil {
			e.log.Error("task dispatch failed", "workflow_instance_id", workflowInstanceID, "node_id", node.NodeID, "binding_id", binding.BindingID, "error", err)
		}
	}
	return nil
}

func (e *Engine) createAndDispatchTask(ctx context.Context, workflowInstanceID string, ni *domain.NodeInstance, node *domain.Node, binding *domain.ProcessorBinding) error {
	proc := binding.Processor
	if proc == nil {
		return domain.NewInternalConsistencyError("binding without processor: " + binding.BindingID)
	}

	taskCtx := e.buildTaskContext(workflowInstanceID, node, proc)

	title := fmt.Sprintf("%s / %s", node.Name, proc.Name)
	instructions := node.Description
	if resolvedConfig, err := e.resolveNodeConfig(workflowInstanceID, node, taskCtx); err != nil {
		e.log.Warn("node config template resolution failed, using raw description", "node_id", node.NodeID, "error", err)
	} else {
		if v, ok := resolvedConfig["title"].(string); ok && v != "" {
			title = v
		}
		if v, ok := resolvedConfig["instructions"].(string); ok && v != "" {
			instructions = v
		}
	}

	now := time.Now()
	task := &domain.TaskInstance{
		TaskID:          uuid.NewString(),
		NodeInstanceID:  ni.NodeInstanceID,
		ProcessorID:     proc.ProcessorID,
		ProcessorKind:   proc.Kind,
		AssignedUserID:  proc.UserID,
		AssignedAgentID: proc.AgentID,
		Title:           title,
		TaskDescription: node.Description,
		Instructions:    instructions,
		Priority:        domain.TaskPriorityNormal,
		Status:          domain.TaskStatusPending,
		Context:         taskCtx,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	task, err := e.instanceRepo.CreateTask(ctx, task)
	if err != nil {
		return err
	}

	dispatcher, ok := e.dispatchers[proc.Kind]
	if !ok {
		return domain.NewInternalConsistencyError("no task dispatcher registered for kind " + string(proc.Kind))
	}
	return dispatcher.Dispatch(ctx, task)
}

// resolveNodeConfig runs a node's config map through the template
// engine so authors can reference {{env.*}} workflow/execution
// variables and {{input.*}} upstream fields directly in node config
// (SPEC_FULL §B). A node with no templated strings is returned as-is.
func (e *Engine) resolveNodeConfig(workflowInstanceID string, node *domain.Node, taskCtx *domain.TaskContext) (map[string]interface{}, error) {
	if len(node.Config) == 0 {
		return node.Config, nil
	}

	wf := e.getDefinition(workflowInstanceID)
	instanceInput := e.getInstanceInput(workflowInstanceID)
	inputVars := make(map[string]interface{}, len(taskCtx.UpstreamOutputs))
	for _, up := range taskCtx.UpstreamOutputs {
		for k, v := range up.Output {
			inputVars[k] = v
		}
	}

	executionVars := make(map[string]interface{}, len(instanceInput)+len(taskCtx.GlobalData))
	for k, v := range instanceInput {
		executionVars[k] = v
	}
	for k, v := range taskCtx.GlobalData {
		executionVars[k] = v
	}

	varCtx := &template.VariableContext{
		WorkflowVars:  wf.Variables,
		ExecutionVars: executionVars,
		InputVars:     inputVars,
	}
	eng := template.NewEngineWithDefaults(varCtx)
	return eng.ResolveConfig(node.Config)
}

func (e *Engine) buildTaskContext(workflowInstanceID string, node *domain.Node, proc *domain.Processor) *domain.TaskContext {
	wf := e.getDefinition(workflowInstanceID)
	var upstreamIDs []string
	for _, edge := range wf.Edges {
		if edge.ToNodeID == node.NodeID {
			upstreamIDs = append(upstreamIDs, edge.FromNodeID)
		}
	}

	upstream := e.ctxMgr.GetUpstreamContext(workflowInstanceID, upstreamIDs)

	outputs := make([]domain.UpstreamOutput, 0, len(upstreamIDs))
	for _, id := range upstreamIDs {
		outputs = append(outputs, domain.UpstreamOutput{
			NodeID:   id,
			NodeName: nodeName(wf.Nodes, id),
			Output:   upstream.ImmediateUpstreamResults[id],
		})
	}

	return &domain.TaskContext{
		WorkflowInstanceID: workflowInstanceID,
		WorkflowName:       wf.Name,
		NodeID:             node.NodeID,
		NodeName:           node.Name,
		NodeDescription:    node.Description,
		UpstreamOutputs:    outputs,
		GlobalData:         upstream.GlobalData,
		ExecutionPath:      upstream.ExecutionPath,
		ProcessorBinding: domain.ProcessorBindingRef{
			Kind:    proc.Kind,
			UserID:  proc.UserID,
			AgentID: proc.AgentID,
		},
		GeneratedAt: time.Now(),
	}
}

// completeEndNode implements §4.4 "End-node handling": it skips task
// creation and marks the node complete with a summary as output: each
// node's status (node_statuses) and the workflow's node count
// (total_nodes). Per-task results and the run's duration are not part
// of that summary.
func (e *Engine) completeEndNode(ctx context.Context, workflowInstanceID string, ni *domain.NodeInstance, node *domain.Node, wf *domain.Workflow) error {
	allNodeInstances, err := e.instanceRepo.ListNodeInstances(ctx, workflowInstanceID)
	if err != nil {
		return err
	}
	statuses := make(map[string]string, len(allNodeInstances))
	for _, other := range allNodeInstances {
		statuses[other.NodeID] = string(other.Status)
	}
	summary := map[string]interface{}{
		"node_statuses": statuses,
		"total_nodes":   len(wf.Nodes),
	}
	return e.completeNode(ctx, workflowInstanceID, ni, node, summary)
}

func (e *Engine) completeNode(ctx context.Context, workflowInstanceID string, ni *domain.NodeInstance, node *domain.Node, output map[string]interface{}) error {
	now := time.Now()
	ni.Status = domain.NodeInstanceStatusCompleted
	ni.Output = output
	ni.CompletedAt = &now
	ni.UpdatedAt = now
	if err := e.instanceRepo.UpdateNodeInstance(ctx, ni); err != nil {
		return err
	}
	e.ctxMgr.MarkCompleted(ctx, workflowInstanceID, node.NodeID, ni.NodeInstanceID, output)
	return nil
}

// shouldSkipOnCondition evaluates any conditional incoming edges of
// node against their single upstream's output (SPEC_FULL §B). A node
// with multiple incoming conditional edges is skipped only if every
// conditional edge into it evaluates false; a normal or parallel edge
// never blocks dispatch.
func (e *Engine) shouldSkipOnCondition(workflowInstanceID string, wf *domain.Workflow, node *domain.Node) (bool, string) {
	var conditionalEdges []*domain.Edge
	for _, edge := range wf.Edges {
		if edge.ToNodeID == node.NodeID && edge.Type == domain.EdgeTypeConditional {
			conditionalEdges = append(conditionalEdges, edge)
		}
	}
	if len(conditionalEdges) == 0 {
		return false, ""
	}

	for _, edge := range conditionalEdges {
		upstream := e.ctxMgr.GetUpstreamContext(workflowInstanceID, []string{edge.FromNodeID})
		output := upstream.ImmediateUpstreamResults[edge.FromNodeID]

		program, err := e.conditionCache.CompileAndCache(edge.Condition, map[string]interface{}{"output": output})
		if err != nil {
			e.log.Warn("condition compile failed, treating as satisfied", "edge_id", edge.EdgeID, "error", err)
			continue
		}
		result, err := runCachedProgram(program, map[string]interface{}{"output": output})
		if err != nil {
			e.log.Warn("condition evaluation failed, treating as satisfied", "edge_id", edge.EdgeID, "error", err)
			continue
		}
		if result {
			return false, ""
		}
	}
	return true, "no conditional edge into node evaluated true"
}

// Cancel implements §4.4 Cancellation: transitions the instance to
// cancelled, cascade-cancels every non-terminal node and task instance,
// and cleans the context.
func (e *Engine) Cancel(ctx context.Context, workflowInstanceID, reason string) (int, error) {
	inst, err := e.instanceRepo.GetWorkflowInstance(ctx, workflowInstanceID)
	if err != nil {
		return 0, err
	}
	if inst.Status.IsTerminal() {
		return 0, nil
	}

	nodeInstances, err := e.instanceRepo.ListNodeInstances(ctx, workflowInstanceID)
	if err != nil {
		return 0, err
	}

	cancelledTasks := 0
	now := time.Now()
	for _, ni := range nodeInstances {
		if ni.Status.IsTerminal() {
			continue
		}
		tasks, err := e.instanceRepo.ListTasksByNodeInstance(ctx, ni.NodeInstanceID)
		if err != nil {
			e.log.Error("failed to list tasks during cancel", "node_instance_id", ni.NodeInstanceID, "error", err)
			continue
		}
		for _, task := range tasks {
			if task.Status.IsTerminal() {
				continue
			}
			task.Status = domain.TaskStatusCancelled
			task.FailureReason = reason
			task.UpdatedAt = now
			if err := e.instanceRepo.UpdateTask(ctx, task); err != nil {
				e.log.Error("failed to cancel task", "task_id", task.TaskID, "error", err)
				continue
			}
			if dispatcher, ok := e.dispatchers[task.ProcessorKind]; ok {
				_ = dispatcher.Cancel(ctx, task)
			}
			cancelledTasks++
		}

		ni.Status = domain.NodeInstanceStatusCancelled
		ni.FailureReason = reason
		ni.UpdatedAt = now
		if err := e.instanceRepo.UpdateNodeInstance(ctx, ni); err != nil {
			e.log.Error("failed to cancel node instance", "node_instance_id", ni.NodeInstanceID, "error", err)
		}
	}

	inst.Status = domain.InstanceStatusCancelled
	inst.CompletedAt = &now
	inst.UpdatedAt = now
	if err := e.instanceRepo.UpdateWorkflowInstance(ctx, inst); err != nil {
		return cancelledTasks, err
	}

	e.ctxMgr.Cleanup(workflowInstanceID)
	e.dropInstanceCache(workflowInstanceID)

	return cancelledTasks, nil
}

// NodeCompletionCheck implements §4.7: invoked by a task service after
// a task completes. It loads the task's node instance, checks whether
// every sibling task is terminal, and if so aggregates node status and
// tells the context manager, which drives downstream propagation.
func (e *Engine) NodeCompletionCheck(ctx context.Context, taskID string) error {
	task, err := e.instanceRepo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	ni, err := e.instanceRepo.GetNodeInstance(ctx, task.NodeInstanceID)
	if err != nil {
		return err
	}
	if ni.Status.IsTerminal() {
		return nil
	}

	siblings, err := e.instanceRepo.ListTasksByNodeInstance(ctx, ni.NodeInstanceID)
	if err != nil {
		return err
	}
	for _, sibling := range siblings {
		if !sibling.Status.IsTerminal() {
			return nil // still waiting on at least one task
		}
	}

	anyFailed := false
	aggregated := make(map[string]interface{}, len(siblings))
	for _, sibling := range siblings {
		if sibling.Status == domain.TaskStatusFailed {
			anyFailed = true
		}
		aggregated[sibling.ProcessorID] = sibling.ResultData
	}

	now := time.Now()
	ni.UpdatedAt = now
	ni.CompletedAt = &now
	if anyFailed {
		ni.Status = domain.NodeInstanceStatusFailed
		ni.FailureReason = "one or more tasks failed"
		if err := e.instanceRepo.UpdateNodeInstance(ctx, ni); err != nil {
			return err
		}
		e.ctxMgr.MarkFailed(ctx, ni.InstanceID, ni.NodeID, ni.FailureReason)
		return nil
	}

	ni.Status = domain.NodeInstanceStatusCompleted
	ni.Output = aggregated
	if err := e.instanceRepo.UpdateNodeInstance(ctx, ni); err != nil {
		return err
	}
	e.ctxMgr.MarkCompleted(ctx, ni.InstanceID, ni.NodeID, ni.NodeInstanceID, aggregated)
	return nil
}

// scheduleDefinitionCleanup mirrors the context manager's own cleanup
// policy for the engine's instance-scoped caches: once the workflow
// context disappears (immediate on completion, delayed on failure) the
// engine no longer needs the cached definition or trigger input.
func (e *Engine) scheduleDefinitionCleanup(workflowInstanceID string) {
	go func() {
		for i := 0; i < 5; i++ {
			time.Sleep(2 * time.Second)
			if !e.ctxMgr.HasContext(workflowInstanceID) {
				e.dropInstanceCache(workflowInstanceID)
				return
			}
		}
	}()
}

func findNode(nodes []*domain.Node, nodeID string) *domain.Node {
	for _, n := range nodes {
		if n.NodeID == nodeID {
			return n
		}
	}
	return nil
}

func nodeName(nodes []*domain.Node, nodeID string) string {
	if n := findNode(nodes, nodeID); n != nil {
		return n.Name
	}
	return ""
}
