// Package echoenv is a minimal training environment used for smoke
// tests and as a template for real environments. It echoes actions
// back as observations and scores episodes by whether any assistant
// message arrived.
package echoenv

import (
	"fmt"

	"github.com/agentrun/agentrun/pkg/training"
)

func init() {
	training.Register("echo", factory{})
}

type factory struct{}

func (factory) New(taskID, instanceID string, params map[string]any) (training.Environment, error) {
	return &env{taskID: taskID, instanceID: instanceID}, nil
}

// QueryList returns the fixed task IDs for a split. An empty split
// means train.
func (factory) QueryList(split string, params map[string]any) ([]string, error) {
	switch split {
	case "", "train":
		return []string{"echo-train-0", "echo-train-1", "echo-train-2"}, nil
	case "test":
		return []string{"echo-test-0", "echo-test-1"}, nil
	default:
		return nil, fmt.Errorf("unknown split %q", split)
	}
}

type env struct {
	taskID     string
	instanceID string
	steps      int
}

func (e *env) InitState(params map[string]any) (any, error) {
	return map[string]any{
		"task_id":     e.taskID,
		"observation": "echo environment ready",
	}, nil
}

// Step echoes the action content back and counts the step. The actor
// serializes calls, so the counter needs no lock.
func (e *env) Step(action, params map[string]any) (any, error) {
	e.steps++
	content, _ := action["content"].(string)
	return map[string]any{
		"observation": content,
		"step":        e.steps,
		"done":        false,
	}, nil
}

// Evaluate returns 1.0 once any assistant message has been sent,
// else 0.0.
func (e *env) Evaluate(messages []map[string]any, params map[string]any) (any, error) {
	for _, msg := range messages {
		if role, _ := msg["role"].(string); role == "assistant" {
			return 1.0, nil
		}
	}
	return 0.0, nil
}

func (e *env) Info(messages []map[string]any, params map[string]any) (any, error) {
	return map[string]any{
		"env_type":    "echo",
		"task_id":     e.taskID,
		"instance_id": e.instanceID,
		"steps":       e.steps,
	}, nil
}

func (e *env) Close() error {
	return nil
}
