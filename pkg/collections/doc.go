/*
Package collections provides the shared state primitives agentrun is built
on: named queues, sets, and maps with interchangeable in-process and redis
backends.

Warm pools, the session index, and the claimed-port set are all plain
collections. Keeping them behind small interfaces lets a single-worker
deployment run entirely in memory while a multi-worker deployment points
every process at the same redis server and sees one coherent view. Callers
never know which backend they hold.

# Architecture

A Store hands out named collections backed by one of two engines:

	┌──────────────────── COLLECTIONS ─────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │                Store                        │          │
	│  │  Queue(name) | Set(name) | Map(name)        │          │
	│  │  Same name + kind -> same data              │          │
	│  └─────────┬──────────────────────┬───────────┘          │
	│            │                      │                       │
	│  ┌─────────▼─────────┐  ┌─────────▼──────────┐          │
	│  │  Memory Backend   │  │   Redis Backend    │          │
	│  │  - maps + mutex   │  │  - go-redis client │          │
	│  │  - single worker  │  │  - key prefix      │          │
	│  │  - tests          │  │    "agentrun:"     │          │
	│  └───────────────────┘  └────────────────────┘          │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Consumers                      │          │
	│  │                                              │          │
	│  │  Queue "pool:<type>"  warm sandbox pool     │          │
	│  │  Set   "ports"        claimed host ports    │          │
	│  │  Map   "sandboxes"    session -> container  │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Queue:
  - Strict FIFO of string values
  - Push appends, Pop removes the head
  - Pop on empty returns ok=false, never an error
  - Redis: RPUSH / LPOP on a list

Set:
  - Membership set with test-and-set insertion
  - Add reports whether this call inserted the member
  - Redis: SADD return count makes the test-and-set atomic
  - Memory: mutex held across check and insert

Map:
  - String-keyed map of string values
  - Get returns ok=false for absent keys
  - Keys returns all keys in unspecified order
  - Redis: hash (HSET / HGET / HDEL / HKEYS)

Store:
  - Factory for named collections
  - NewMemoryStore for single-worker and tests
  - NewRedisStore(addr, password, db) pings before returning

# Semantics

Set.Add is the concurrency primitive the port arbiter is built on: two
workers racing to claim the same port see exactly one true. Everything
else in the system that needs "first caller wins" goes through it.

Map stores string values. Callers that need structure (the session index
stores container records) JSON-encode at the edge; pushing serialization
out of this package keeps both backends symmetric.

Every operation takes a context because the redis backend does network
I/O. The memory backend ignores it rather than pretending to block.

# Naming

Redis keys are namespaced under "agentrun:" with the collection kind
folded in:

	agentrun:queue:pool:base
	agentrun:set:ports
	agentrun:map:sandboxes

An operator can inspect state with redis-cli and nothing collides with
other users of the database. A set and a map may share a name without
sharing storage.

# Usage

Creating a store:

	store := collections.NewMemoryStore()
	// or
	store, err := collections.NewRedisStore("localhost:6379", "", 0)
	if err != nil {
		return err
	}
	defer store.Close()

Using collections:

	pool := store.Queue("pool:base")
	if err := pool.Push(ctx, sessionID); err != nil {
		return err
	}

	claimed := store.Set("ports")
	added, err := claimed.Add(ctx, "49153")
	if err != nil {
		return err
	}
	if !added {
		// another worker owns the port
	}

	index := store.Map("sandboxes")
	raw, ok, err := index.Get(ctx, sessionID)

# Design Patterns

Backend Interface Pattern:
  - Small per-kind interfaces, two implementations each
  - Deployment mode chooses the backend once at startup
  - Tests run the same assertions against both

String Value Pattern:
  - Values are strings on both backends
  - JSON encoding happens in the caller
  - No gob/msgpack asymmetry between backends

Named Collection Pattern:
  - Store.Queue("pool:base") everywhere, no shared globals
  - The name is the contract between producers and consumers

# Performance Characteristics

Memory Backend:
  - All operations O(1) except Keys (O(n))
  - Single mutex per collection, uncontended in practice
  - No serialization cost

Redis Backend:
  - One round-trip per operation
  - Sub-millisecond on a local redis
  - Queue and Set operations O(1) server-side

# Integration Points

This package integrates with:

  - pkg/ports: Claimed-port set with test-and-set Add
  - pkg/manager: Warm pool queues and the session index map
  - cmd/agentrun: Chooses the backend from config at startup

# See Also

  - go-redis documentation: https://redis.uptrace.dev
  - Redis data types: https://redis.io/docs/data-types/
  - miniredis (used in tests): https://github.com/alicebob/miniredis
*/
package collections
