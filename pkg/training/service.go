package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/events"
	"github.com/agentrun/agentrun/pkg/log"
	"github.com/agentrun/agentrun/pkg/metrics"
)

// ErrInstanceNotFound is returned for instance IDs with no live actor:
// never created, already released, or reaped.
var ErrInstanceNotFound = errors.New("training instance not found")

type instance struct {
	id         string
	envType    string
	taskID     string
	actor      *actor
	lastAccess time.Time
}

// Service owns the live training instances: at most one actor per
// instance ID, last access tracked on every use, idle instances reaped
// on a timer. Handlers hold the service by reference; there is no
// package-level instance state.
type Service struct {
	mu        sync.RWMutex
	instances map[string]*instance

	cleanupInterval time.Duration
	maxIdle         time.Duration

	broker *events.Broker
	logger zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService builds the training service. A zero cleanupInterval
// disables the reaper; broker may be nil.
func NewService(cleanupInterval, maxIdle time.Duration, broker *events.Broker) *Service {
	return &Service{
		instances:       make(map[string]*instance),
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
		broker:          broker,
		logger:          log.WithComponent("training"),
	}
}

// Init starts the idle reaper.
func (s *Service) Init() {
	s.stopCh = make(chan struct{})
	if s.cleanupInterval > 0 {
		s.wg.Add(1)
		go s.reapLoop()
	}
	s.logger.Info().
		Dur("cleanup_interval", s.cleanupInterval).
		Dur("max_idle", s.maxIdle).
		Strs("environments", Available()).
		Msg("Training service initialized")
}

// Shutdown stops the reaper and releases every live instance.
func (s *Service) Shutdown(ctx context.Context) {
	s.stopOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
		}
	})
	s.wg.Wait()

	s.mu.Lock()
	victims := make([]*instance, 0, len(s.instances))
	for id, inst := range s.instances {
		victims = append(victims, inst)
		delete(s.instances, id)
	}
	s.mu.Unlock()

	for _, inst := range victims {
		if err := inst.actor.stop(); err != nil {
			s.logger.Warn().Err(err).Str("instance_id", inst.id).Msg("Environment close failed during shutdown")
		}
	}
	if len(victims) > 0 {
		s.logger.Info().Int("count", len(victims)).Msg("Released all training instances")
	}
}

// Create instantiates an environment, starts its actor, and returns
// the new instance ID with the initial state.
func (s *Service) Create(ctx context.Context, envType, taskID string, params map[string]any) (string, any, error) {
	factory, err := lookupFactory(envType)
	if err != nil {
		return "", nil, err
	}

	instanceID := uuid.New().String()
	env, err := factory.New(taskID, instanceID, params)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create %s environment: %w", envType, err)
	}

	inst := &instance{
		id:         instanceID,
		envType:    envType,
		taskID:     taskID,
		actor:      startActor(env),
		lastAccess: time.Now(),
	}

	initState, err := inst.actor.call(ctx, func(e Environment) (any, error) {
		return e.InitState(params)
	})
	if err != nil {
		inst.actor.stop()
		return "", nil, err
	}

	s.mu.Lock()
	s.instances[instanceID] = inst
	s.mu.Unlock()

	s.publish(events.EventTrainingCreated, inst)
	s.logger.Info().
		Str("instance_id", instanceID).
		Str("env_type", envType).
		Str("task_id", taskID).
		Msg("Training instance created")
	return instanceID, initState, nil
}

// Step applies one action to a live instance.
func (s *Service) Step(ctx context.Context, instanceID string, action, params map[string]any) (any, error) {
	inst, err := s.touch(instanceID)
	if err != nil {
		return nil, err
	}
	result, err := inst.actor.call(ctx, func(e Environment) (any, error) {
		return e.Step(action, params)
	})
	if err != nil {
		return nil, err
	}
	metrics.TrainingStepsTotal.WithLabelValues(inst.envType).Inc()
	return result, nil
}

// Evaluate scores a live instance from the conversation so far.
func (s *Service) Evaluate(ctx context.Context, instanceID string, messages []map[string]any, params map[string]any) (any, error) {
	inst, err := s.touch(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.actor.call(ctx, func(e Environment) (any, error) {
		return e.Evaluate(messages, params)
	})
}

// Info returns environment metadata for a live instance.
func (s *Service) Info(ctx context.Context, instanceID string, messages []map[string]any, params map[string]any) (any, error) {
	inst, err := s.touch(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.actor.call(ctx, func(e Environment) (any, error) {
		return e.Info(messages, params)
	})
}

// Release closes a live instance and tears down its actor. Close
// errors surface to the caller; the instance is gone either way.
func (s *Service) Release(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	inst, ok := s.instances[instanceID]
	if ok {
		delete(s.instances, instanceID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}

	err := inst.actor.stop()
	s.publish(events.EventTrainingReleased, inst)
	s.logger.Info().Str("instance_id", instanceID).Str("env_type", inst.envType).Msg("Training instance released")
	return err
}

// Profile answers a dataset query for an environment type without
// creating an instance.
func (s *Service) Profile(envType, split string, params map[string]any) ([]string, error) {
	factory, err := lookupFactory(envType)
	if err != nil {
		return nil, err
	}
	return factory.QueryList(split, params)
}

// Count returns the number of live instances.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// touch looks up a live instance and refreshes its last access time.
func (s *Service) touch(instanceID string) (*instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	inst.lastAccess = time.Now()
	return inst, nil
}

func (s *Service) reapLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reapIdle()
		case <-s.stopCh:
			return
		}
	}
}

// reapIdle releases every instance idle beyond the max idle time.
// Close errors are logged and ignored; the reaper never stops.
func (s *Service) reapIdle() {
	cutoff := time.Now().Add(-s.maxIdle)

	s.mu.Lock()
	var victims []*instance
	for id, inst := range s.instances {
		if inst.lastAccess.Before(cutoff) {
			victims = append(victims, inst)
			delete(s.instances, id)
		}
	}
	s.mu.Unlock()

	for _, inst := range victims {
		if err := inst.actor.stop(); err != nil {
			s.logger.Warn().Err(err).Str("instance_id", inst.id).Msg("Environment close failed during reap")
		}
		metrics.TrainingReapedTotal.Inc()
		s.publish(events.EventTrainingReaped, inst)
		s.logger.Info().
			Str("instance_id", inst.id).
			Str("env_type", inst.envType).
			Time("last_access", inst.lastAccess).
			Msg("Reaped idle training instance")
	}
}

func (s *Service) publish(eventType events.EventType, inst *instance) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:      eventType,
		SessionID: inst.id,
		Message:   fmt.Sprintf("%s %s", eventType, inst.id),
		Metadata:  map[string]string{"env_type": inst.envType, "task_id": inst.taskID},
	})
}
