package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/log"
	"github.com/agentrun/agentrun/pkg/metrics"
)

const (
	// sweepInterval is how often the pools are reconciled.
	sweepInterval = 30 * time.Second

	// sweepBudget bounds one cycle; refilling a pool can mean pulling
	// images, so it is far longer than the interval.
	sweepBudget = 5 * time.Minute
)

// Pools is the slice of the manager the reconciler drives.
type Pools interface {
	ReconcilePools(ctx context.Context) error
}

// Reconciler periodically sweeps the warm pools so dead entries are
// evicted and default pools recover their target level between
// adoptions.
type Reconciler struct {
	pools    Pools
	interval time.Duration
	cancel   context.CancelFunc
	doneCh   chan struct{}
	logger   zerolog.Logger
}

// NewReconciler creates a reconciler over pools.
func NewReconciler(pools Pools) *Reconciler {
	return &Reconciler{
		pools:    pools,
		interval: sweepInterval,
		doneCh:   make(chan struct{}),
		logger:   log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.doneCh
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sweep performs one reconciliation cycle.
func (r *Reconciler) sweep(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	ctx, cancel := context.WithTimeout(ctx, sweepBudget)
	defer cancel()

	if err := r.pools.ReconcilePools(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Pool sweep failed")
	}
}
