package container

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// reconcileTimeout bounds one reconcile pass.
const reconcileTimeout = time.Minute

// Reconciler periodically runs Lifecycle.Reconcile on a cron schedule.
// Passes never overlap: a tick that fires while the previous pass is still
// running is skipped.
type Reconciler struct {
	c  *cron.Cron
	lc *Lifecycle
}

// NewReconciler creates a Reconciler for schedule, which accepts standard
// cron expressions and descriptors such as "@every 30s".
func NewReconciler(lc *Lifecycle, schedule string) (*Reconciler, error) {
	r := &Reconciler{
		c:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		lc: lc,
	}
	if _, err := r.c.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins the cron runner and blocks until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	r.c.Start()
	r.lc.log.Info("reconciler started")
	<-ctx.Done()
	<-r.c.Stop().Done()
	r.lc.log.Info("reconciler stopped")
}

func (r *Reconciler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()
	r.lc.Reconcile(ctx)
}
