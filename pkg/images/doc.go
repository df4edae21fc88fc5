/*
Package images resolves sandbox types to container image references.

Resolution is a pair of table lookups: sandbox type to canonical image,
then canonical image to the backend-specific reference via per-backend
rewrite tables. The canonical name is what the rest of the system reasons
about; the rewrite is a deployment detail. Both tables live in
configuration, not code.

# Architecture

	┌──────────────────── IMAGE RESOLUTION ────────────────────┐
	│                                                            │
	│  sandbox type ("browser")                                  │
	│        │ Types table                                       │
	│        ▼                                                   │
	│  canonical image ("agentrun/sandbox-browser:latest")       │
	│        │ Rewrites[backend] table                           │
	│        ▼                                                   │
	│  concrete reference                                        │
	│    docker:     mirror pull source, retagged to canonical   │
	│    kubernetes: registry.internal/... in the pod spec       │
	│    unmapped:   canonical passes through unchanged          │
	└────────────────────────────────────────────────────────┘

# Core Components

Resolver:
  - Built once from config.ImageConfig at startup
  - ImageFor: type -> canonical, ErrUnknownType when absent
  - Rewrite: backend + canonical -> concrete, pass-through default
  - Resolve: both steps, returning canonical and concrete
  - Types: sorted list of configured types

# Rewrite Semantics

A Kubernetes cluster that can only pull from an internal registry
rewrites every image it mirrors. The docker backend instead treats the
rewrite as a fallback pull source: local image, then canonical registry,
then the rewrite, retagging the result back to the canonical name so
subsequent lookups hit locally. Unmapped images pass through Rewrite
unchanged; an empty table is a valid deployment, not an error.

# Design Patterns

Pass-Through Default Pattern:
  - Absent backend table or absent entry returns the input
  - Deployments rewrite only what their registry mirrors

Canonical Name Pattern:
  - Pools, logs, and labels all use the canonical image
  - Concrete references never leak past the driver

# Integration Points

This package integrates with:

  - pkg/config: Types and Rewrites tables
  - pkg/driver/docker: Pull fallback chain and retag
  - pkg/driver/kubernetes: Pod spec image reference
  - pkg/manager: Validates requested sandbox types

# See Also

  - Image reference format: https://docs.docker.com/engine/reference/commandline/tag/
  - Registry mirrors: https://docs.docker.com/docker-hub/mirror/
*/
package images
