package ports

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/collections"
	"github.com/agentrun/agentrun/pkg/log"
)

var (
	// ErrNoFreePorts is returned when a single claim scanned the whole
	// range without winning a usable port.
	ErrNoFreePorts = errors.New("no free ports in range")

	// ErrNotEnoughPorts is returned when a multi-port claim could not
	// satisfy the full request. No ports stay claimed in that case.
	ErrNotEnoughPorts = errors.New("not enough free ports in range")
)

// Arbiter hands out host ports from a half-open [start, end) range. Claims
// are recorded in a shared set so concurrent workers never double-assign,
// and every claim is verified with a real bind before it is returned.
type Arbiter struct {
	start   int
	end     int
	claimed collections.Set
	probe   func(port int) bool
	logger  zerolog.Logger
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithProbe replaces the bind probe. Tests use this to simulate occupied
// ports without opening sockets.
func WithProbe(probe func(port int) bool) Option {
	return func(a *Arbiter) { a.probe = probe }
}

// NewArbiter returns an Arbiter over [start, end) recording claims in set.
func NewArbiter(start, end int, set collections.Set, opts ...Option) *Arbiter {
	a := &Arbiter{
		start:   start,
		end:     end,
		claimed: set,
		probe:   bindProbe,
		logger:  log.WithComponent("ports"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ClaimOne claims a single free port. The scan starts at a random offset
// so concurrent claimants spread across the range instead of stampeding
// the low end.
func (a *Arbiter) ClaimOne(ctx context.Context) (int, error) {
	size := a.end - a.start
	if size <= 0 {
		return 0, ErrNoFreePorts
	}

	offset := rand.Intn(size)
	for i := 0; i < size; i++ {
		port := a.start + (offset+i)%size

		added, err := a.claimed.Add(ctx, strconv.Itoa(port))
		if err != nil {
			return 0, fmt.Errorf("failed to claim port %d: %w", port, err)
		}
		if !added {
			continue
		}

		// The set says ours, but something outside the manager may hold
		// the port. Verify with a bind and give the claim back if so.
		if !a.probe(port) {
			a.logger.Debug().Int("port", port).Msg("Claimed port failed bind probe, releasing")
			if err := a.claimed.Remove(ctx, strconv.Itoa(port)); err != nil {
				return 0, fmt.Errorf("failed to release unusable port %d: %w", port, err)
			}
			continue
		}

		return port, nil
	}

	return 0, ErrNoFreePorts
}

// Claim claims n ports atomically with respect to the result: either all
// n are claimed and returned, or none remain claimed and the error is
// ErrNotEnoughPorts.
func (a *Arbiter) Claim(ctx context.Context, n int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}

	claimed := make([]int, 0, n)
	for len(claimed) < n {
		port, err := a.ClaimOne(ctx)
		if err != nil {
			if relErr := a.Release(ctx, claimed...); relErr != nil {
				a.logger.Error().Err(relErr).Msg("Failed to roll back partial port claim")
			}
			if errors.Is(err, ErrNoFreePorts) {
				return nil, ErrNotEnoughPorts
			}
			return nil, err
		}
		claimed = append(claimed, port)
	}
	return claimed, nil
}

// Release returns ports to the free pool. Releasing a port that was never
// claimed is not an error.
func (a *Arbiter) Release(ctx context.Context, ports ...int) error {
	for _, port := range ports {
		if err := a.claimed.Remove(ctx, strconv.Itoa(port)); err != nil {
			return fmt.Errorf("failed to release port %d: %w", port, err)
		}
	}
	return nil
}

// Claimed reports whether port is currently claimed.
func (a *Arbiter) Claimed(ctx context.Context, port int) (bool, error) {
	return a.claimed.Contains(ctx, strconv.Itoa(port))
}

// ClaimedCount returns the number of currently claimed ports.
func (a *Arbiter) ClaimedCount(ctx context.Context) (int, error) {
	return a.claimed.Len(ctx)
}

// bindProbe reports whether the port can actually be bound on all
// interfaces right now.
func bindProbe(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
