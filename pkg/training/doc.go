/*
Package training is the environment service for RL/task episodes: a
registry of environment types, one isolated actor per live instance,
and an HTTP surface mirroring the episode lifecycle.

# Architecture

	            ┌──────────────────────────────────┐
	            │              Server              │
	            │  /create /step /evaluate         │
	            │  /get_info /release              │
	            │  /get_env_profile /healthz       │
	            └───────────────┬──────────────────┘
	                            ▼
	            ┌──────────────────────────────────┐
	            │             Service              │
	            │  instances: id → actor           │
	            │  reaper: idle → close + teardown │
	            └───────┬───────────┬──────────────┘
	                    ▼           ▼
	            ┌───────────┐ ┌───────────┐
	            │  actor    │ │  actor    │   one goroutine each;
	            │  mailbox  │ │  mailbox  │   calls serialized per
	            │  env      │ │  env      │   instance, concurrent
	            └───────────┘ └───────────┘   across instances

# Core Components

Registry: environment packages call Register from init, the same
pattern the sandbox drivers use. Importing an environment package is
what makes its type selectable; the registry itself holds no state
beyond the factories.

Service: the singleton owning live instances. At most one actor per
instance ID; every use refreshes the instance's last access time. The
reaper ticks every cleanup interval and releases instances idle beyond
the max idle time, ignoring close errors.

Actor: one goroutine plus a request mailbox per instance. An
environment therefore never sees concurrent calls and needs no locks
of its own. Panics inside an environment are caught on the actor
goroutine and returned as errors carrying the full stack, so a bad
episode surfaces as a 500 on its own call instead of crashing the
service.

# Writing an Environment

Implement Environment and Factory, then register from init:

	package myenv

	func init() {
	    training.Register("myenv", factory{})
	}

	type factory struct{}

	func (factory) New(taskID, instanceID string, params map[string]any) (training.Environment, error) {
	    return &env{taskID: taskID}, nil
	}

	func (factory) QueryList(split string, params map[string]any) ([]string, error) {
	    return loadTaskIDs(split)
	}

QueryList answers /get_env_profile without creating an instance, so it
must not depend on per-episode state.

# HTTP Surface

Every POST endpoint takes the unified request body; each handler reads
the fields it needs:

	{
	  "env_type":    "...",   create, get_env_profile
	  "task_id":     "...",   create
	  "instance_id": "...",   step, evaluate, get_info, release
	  "split":       "...",   get_env_profile
	  "action":      {...},   step
	  "messages":    [...],   evaluate, get_info
	  "params":      {...}    all
	}

Responses are {"success": true, "data": ...}. Validation failures and
unknown instances are 400; environment errors and panics are 500 with
the error text, stack included, in "detail". The service runs in
trusted developer contexts and is deliberately unauthenticated.

An unknown instance ID means exactly that: never created, already
released, or reaped for idleness. Clients that see 400 after long
pauses should recreate the episode.

# Monitoring

  - agentrun_training_instances_active: live instance gauge
  - agentrun_training_steps_total{env}: steps by environment type
  - agentrun_training_reaped_total: idle instances reaped

# See Also

  - pkg/training/echoenv: the minimal reference environment
  - pkg/manager: the sandbox-side sibling of this service
*/
package training
