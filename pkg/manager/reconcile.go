package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentrun/agentrun/pkg/driver"
	"github.com/agentrun/agentrun/pkg/events"
	"github.com/agentrun/agentrun/pkg/types"
)

// ReconcilePools sweeps every warm pool and tops the default-type pools
// back up. Entries whose backend object is no longer running are torn
// down; the rest go back in line. Safe to run alongside Connect and
// Release: a pool pop is atomic, so an entry adopted mid-sweep simply
// is not seen, and entries pushed mid-sweep wait for the next cycle.
func (m *Manager) ReconcilePools(ctx context.Context) error {
	if m.closing.Load() {
		return nil
	}

	var errs []error
	for _, sandboxType := range m.resolver.Types() {
		evicted, err := m.sweepPool(ctx, sandboxType)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to sweep pool %s: %w", sandboxType, err))
			continue
		}
		if evicted > 0 {
			m.logger.Info().
				Str("sandbox_type", sandboxType).
				Int("evicted", evicted).
				Msg("Evicted dead pool entries")
		}
	}

	// Only the configured default types are promised a warm pool;
	// other pools fill through Release and drain through adoption.
	for _, sandboxType := range m.cfg.Sandbox.DefaultTypes {
		if m.closing.Load() {
			break
		}
		if err := m.fillPool(ctx, sandboxType); err != nil {
			errs = append(errs, fmt.Errorf("failed to refill pool %s: %w", sandboxType, err))
		}
	}
	return errors.Join(errs...)
}

// sweepPool drains one pool up to its level at sweep start, keeps
// entries whose backend object still runs and tears down the rest.
// Returns the number evicted.
func (m *Manager) sweepPool(ctx context.Context, sandboxType string) (int, error) {
	pool := m.store.Queue(poolPrefix + sandboxType)

	level, err := pool.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read pool level: %w", err)
	}

	evicted := 0
	for i := 0; i < level; i++ {
		raw, ok, err := pool.Pop(ctx)
		if err != nil {
			return evicted, fmt.Errorf("failed to pop pool: %w", err)
		}
		if !ok {
			// Adopters got there first.
			break
		}

		var container types.Container
		if err := json.Unmarshal([]byte(raw), &container); err != nil {
			m.logger.Warn().Err(err).Str("sandbox_type", sandboxType).Msg("Dropping corrupt pool record")
			evicted++
			continue
		}

		state, _, err := m.driver.Status(ctx, container.ContainerID)
		if err != nil {
			// Backend trouble is not evidence the sandbox died; keep the
			// entry and let the next cycle decide.
			m.logger.Warn().Err(err).Str("session_id", container.SessionID).Msg("Pool entry status check failed")
			if err := m.enqueue(ctx, pool, &container); err != nil {
				return evicted, err
			}
			continue
		}
		if state == types.ContainerStateRunning {
			if err := m.enqueue(ctx, pool, &container); err != nil {
				return evicted, err
			}
			continue
		}

		// Pool entries hold no session data, so nothing is archived.
		if err := m.teardown(ctx, &container, false, true); err != nil && !errors.Is(err, driver.ErrNotFound) {
			m.logger.Warn().Err(err).Str("session_id", container.SessionID).Msg("Dead pool entry teardown failed")
		}
		evicted++
		m.publish(&events.Event{
			Type:      events.EventSandboxRemoved,
			SessionID: container.SessionID,
			Message:   "evicted dead pool entry",
			Metadata:  map[string]string{typeMetaKey: sandboxType, "state": string(state)},
		})
	}
	return evicted, nil
}
