package metrics

import (
	"context"
	"time"
)

// Stats is a point-in-time snapshot of manager state for gauge metrics.
type Stats struct {
	ActiveByType      map[string]int
	PoolByType        map[string]int
	PortsClaimed      int
	Deployments       int
	TrainingInstances int
}

// StatsProvider supplies snapshots for the collector. The manager
// implements it; taking an interface here keeps this package below the
// manager in the import graph.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}

// Collector periodically polls a StatsProvider and updates gauges.
type Collector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector polling provider every 15 seconds.
func NewCollector(provider StatsProvider) *Collector {
	return &Collector{
		provider: provider,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := c.provider.Stats(ctx)
	if err != nil {
		return
	}

	for sandboxType, count := range stats.ActiveByType {
		SandboxesActive.WithLabelValues(sandboxType).Set(float64(count))
	}
	for sandboxType, count := range stats.PoolByType {
		PoolLevel.WithLabelValues(sandboxType).Set(float64(count))
	}
	PortsClaimed.Set(float64(stats.PortsClaimed))
	DeploymentsTotal.Set(float64(stats.Deployments))
	TrainingInstancesActive.Set(float64(stats.TrainingInstances))
}
