// Package reaper implements the background janitor that backstops the
// context manager's timer-based delayed cleanup (§4.3): if a process
// restarts while an instance is RUNNING, its in-memory WorkflowContext
// is gone and scheduleDelayedCleanup never fires for it, so the row
// would sit RUNNING forever. The reaper periodically finds exactly
// that situation and force-fails the orphaned instance.
package reaper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/smilemakc/workflow-core/internal/application/workflowctx"
	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/internal/infrastructure/logger"
)

// ContextTracker is the narrow slice of workflowctx.Manager the reaper
// needs, following the package's own narrow-interface convention so it
// doesn't need the rest of the manager's surface.
type ContextTracker interface {
	HasContext(workflowInstanceID string) bool
}

var _ ContextTracker = (*workflowctx.Manager)(nil)

// Reaper wraps a robfig/cron schedule that sweeps for orphaned RUNNING
// instances, adapted from the teacher's CronScheduler shape but driven
// by a fixed internal job instead of user-defined trigger rows.
type Reaper struct {
	log          *logger.Logger
	instanceRepo domain.InstanceRepository
	ctxMgr       ContextTracker
	cron         *cron.Cron
}

// New constructs a Reaper. schedule is a standard cron expression
// (config.ReaperConfig.Schedule, default "@every 1m").
func New(log *logger.Logger, instanceRepo domain.InstanceRepository, ctxMgr ContextTracker, schedule string) (*Reaper, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	r := &Reaper{
		log:          log,
		instanceRepo: instanceRepo,
		ctxMgr:       ctxMgr,
		cron:         c,
	}
	if _, err := c.AddFunc(schedule, r.sweepOnce); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the periodic sweep. Non-blocking; robfig/cron runs its
// own goroutine.
func (r *Reaper) Start() {
	r.cron.Start()
}

// Stop waits for any in-flight sweep to finish before returning.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Reaper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := r.Sweep(ctx)
	if err != nil {
		r.log.Error("reaper sweep failed", "error", err)
		return
	}
	if n > 0 {
		r.log.Warn("reaper force-failed orphaned instances", "count", n)
	}
}

// Sweep runs one pass and returns how many instances it force-failed.
// Exported so callers (and tests) can trigger a deterministic pass
// instead of waiting on the cron schedule.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	running, err := r.instanceRepo.ListRunningInstances(ctx)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, inst := range running {
		if r.ctxMgr.HasContext(inst.InstanceID) {
			continue
		}
		now := time.Now()
		inst.Status = domain.InstanceStatusFailed
		inst.CompletedAt = &now
		if err := r.instanceRepo.UpdateWorkflowInstance(ctx, inst); err != nil {
			r.log.Error("reaper failed to update orphaned instance", "instance_id", inst.InstanceID, "error", err)
			continue
		}
		r.log.Warn("reaper force-failed orphaned instance", "instance_id", inst.InstanceID)
		reaped++
	}
	return reaped, nil
}
