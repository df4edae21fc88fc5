package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeProvider struct {
	stats Stats
	err   error
}

func (p *fakeProvider) Stats(_ context.Context) (Stats, error) {
	return p.stats, p.err
}

func TestCollectorCollect(t *testing.T) {
	provider := &fakeProvider{stats: Stats{
		ActiveByType:      map[string]int{"base": 2, "browser": 1},
		PoolByType:        map[string]int{"base": 1},
		PortsClaimed:      5,
		Deployments:       3,
		TrainingInstances: 2,
	}}

	c := NewCollector(provider)
	c.collect()

	if got := testutil.ToFloat64(PortsClaimed); got != 5 {
		t.Errorf("expected ports_claimed 5, got %v", got)
	}
	if got := testutil.ToFloat64(DeploymentsTotal); got != 3 {
		t.Errorf("expected deployments 3, got %v", got)
	}
	if got := testutil.ToFloat64(TrainingInstancesActive); got != 2 {
		t.Errorf("expected training instances 2, got %v", got)
	}
	if got := testutil.ToFloat64(SandboxesActive.WithLabelValues("base")); got != 2 {
		t.Errorf("expected 2 active base sandboxes, got %v", got)
	}
	if got := testutil.ToFloat64(PoolLevel.WithLabelValues("base")); got != 1 {
		t.Errorf("expected pool level 1, got %v", got)
	}
}

func TestCollectorProviderError(t *testing.T) {
	PortsClaimed.Set(7)

	c := NewCollector(&fakeProvider{err: errors.New("manager down")})
	c.collect()

	// Gauges keep their last good values when the provider fails.
	if got := testutil.ToFloat64(PortsClaimed); got != 7 {
		t.Errorf("expected ports_claimed unchanged at 7, got %v", got)
	}
}
