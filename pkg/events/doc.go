/*
Package events provides an in-memory event broker for agentrun's pub/sub
messaging.

The events package implements a lightweight event bus for broadcasting
lifecycle events to interested subscribers. It supports asynchronous event
delivery with per-subscriber buffering, enabling loose coupling between
components for state changes, notifications, and monitoring.

# Architecture

The event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Sandbox Events:                            │          │
	│  │    - sandbox.created                        │          │
	│  │    - sandbox.ready                          │          │
	│  │    - sandbox.connected                      │          │
	│  │    - sandbox.released                       │          │
	│  │    - sandbox.removed                        │          │
	│  │    - sandbox.failed                         │          │
	│  │                                              │          │
	│  │  Pool Events:                               │          │
	│  │    - pool.refilled                          │          │
	│  │                                              │          │
	│  │  Deployment Events:                         │          │
	│  │    - deployment.saved                       │          │
	│  │    - deployment.pruned                      │          │
	│  │                                              │          │
	│  │  Training Events:                           │          │
	│  │    - training.instance.created              │          │
	│  │    - training.instance.released             │          │
	│  │    - training.instance.reaped               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  Metrics: Count events for dashboards       │          │
	│  │  Logs: Audit trail of lifecycle changes     │          │
	│  │  Webhooks: Send notifications (future)      │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - ID: Unique event identifier (filled in when empty)
  - Type: Event type (sandbox.created, pool.refilled, etc.)
  - SessionID: Sandbox session the event concerns, when any
  - Timestamp: When event occurred (filled in when zero)
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Missing ID and timestamp filled in
 3. Event added to main event channel
 4. Broadcast loop receives event
 5. Event sent to all subscriber channels
 6. Full subscriber buffers skip (no blocking)

Subscribe Flow:
 1. Subscriber calls broker.Subscribe()
 2. New buffered channel created and registered
 3. Subscriber receives events via channel
 4. Subscriber processes events in own goroutine

Unsubscribe Flow:
 1. Subscriber calls broker.Unsubscribe(channel)
 2. Channel removed from subscriber map
 3. Channel closed

# Usage

Creating and starting a broker:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Publishing events:

	broker.Publish(&events.Event{
		Type:      events.EventSandboxConnected,
		SessionID: container.SessionID,
		Message:   "sandbox connected",
		Metadata:  map[string]string{"sandbox_type": "browser"},
	})

Subscribing:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			log.Info(string(event.Type) + ": " + event.Message)
		}
	}()

# Design Patterns

Fire-and-Forget Pattern:
  - Publish never blocks the caller
  - Slow subscribers drop events, they do not stall the manager
  - Lifecycle correctness never depends on event delivery

Broadcast Pattern:
  - Every subscriber sees every event
  - Filtering happens in the subscriber

# Performance Characteristics

Delivery:
  - Publish: one buffered channel send
  - Broadcast: O(subscribers) non-blocking sends
  - Dropped events: only when a subscriber buffer is full

Capacity:
  - Main channel buffers 100 events
  - Each subscriber buffers 50 events

# Troubleshooting

Missing Events:
  - Symptom: subscriber sees gaps
  - Cause: subscriber buffer overflow (slow consumer)
  - Solution: drain faster, or treat events as hints and
    re-read authoritative state

Publish After Stop:
  - Symptom: events published during shutdown vanish
  - Cause: stop channel closes the publish path
  - Note: intentional; shutdown does not wait for delivery

# Integration Points

This package integrates with:

  - pkg/manager: Publishes sandbox and pool lifecycle events
  - pkg/deployments: Publishes save and prune events
  - pkg/training: Publishes instance lifecycle events
  - pkg/metrics: Can subscribe to count events

# See Also

  - Go channel semantics: https://go.dev/ref/spec#Channel_types
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
