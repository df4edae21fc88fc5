/*
Package box implements the control plane that runs inside every sandbox.

The box package is the in-container half of agentrun: a small HTTP server
that exposes shell execution, a persistent Python kernel, workspace file
operations, git-based change tracking, and a bridge to external MCP tool
servers. The manager starts one box per sandbox and the client package
talks to it over the per-session URL.

# Architecture

The box sits between the facade and the container's filesystem and
processes:

	┌──────────────────── HOST (facade) ─────────────────────────┐
	│                                                             │
	│  pkg/client.Sandbox ── Bearer token + session header        │
	└─────────────────────┬──────────────────────────────────────┘
	                      │ HTTP (port 8000, base path /fastapi)
	                      │
	┌─────────────────────▼──── SANDBOX CONTAINER ───────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────────┐          │
	│  │          Box Server (pkg/box)                 │          │
	│  │  - Bearer token middleware                    │          │
	│  │  - Session header check                       │          │
	│  │  - /healthz readiness gate                    │          │
	│  └──────┬───────┬────────┬──────────┬───────────┘          │
	│         │       │        │          │                       │
	│   ┌─────▼──┐ ┌──▼────┐ ┌─▼──────┐ ┌─▼───────┐             │
	│   │ Shell  │ │Kernel │ │  MCP   │ │Workspace│             │
	│   │ bash -c│ │python3│ │ bridge │ │+ Watcher│             │
	│   └────────┘ └───────┘ └───┬────┘ └─────────┘             │
	│                            │ stdio                         │
	│                   external MCP servers                     │
	└────────────────────────────────────────────────────────────┘

# Core Components

Server:
  - Owns the echo instance and every service singleton
  - New builds services, Init brings them up, Shutdown tears them down
  - Handler exposes the mux for in-process tests

ShellService:
  - Runs commands via bash -c in the workspace
  - Wraps stdout, stderr, and the exit code into the tool envelope

Kernel:
  - One persistent python3 process, started on first cell
  - State carries across cells; a crashed or interrupted kernel is
    killed and restarts cleanly on the next cell

MCPService:
  - Launches external MCP servers and keeps one session per server
  - Dispatches tool calls to the first server exposing the tool
  - Loads a packaged server config at startup

WorkspaceService:
  - File and directory operations confined to the workspace root
  - Symlink-resolves paths before the containment check

Watcher:
  - Git repository over the workspace for checkpoint commits,
    diffs, and per-commit history

# Endpoints

All routes live under the base path (default /fastapi). Everything
except /healthz requires the bearer token and session header.

Tools:
  - POST /tools/run_shell_command: Run a shell command
  - POST /tools/run_ipython_cell: Execute a Python cell

MCP:
  - POST /mcp/add_servers: Register external MCP servers
  - GET  /mcp/list_tools: List tools across all servers
  - POST /mcp/call_tool: Invoke a tool by name

Workspace:
  - GET/POST/DELETE /workspace/files: Read, write, delete a file
  - GET  /workspace/list-directories: Recursive listing with counts
  - POST/DELETE /workspace/directories: Create, remove a directory
  - PUT  /workspace/move: Rename a file or directory
  - POST /workspace/copy: Duplicate a file or directory

Watcher:
  - POST /watcher/commit_changes: Stage and commit everything
  - POST /watcher/generate_diff: Diff commits or the worktree
  - GET  /watcher/git_logs: Every commit with its patch

Health:
  - GET /healthz: 200 once Init finished, 503 before

# Usage

Running the box (normally done by cmd/agentrun box):

	cfg := box.ConfigFromEnv()
	srv := box.New(cfg)
	if err := srv.Init(ctx); err != nil {
		log.Fatal(err)
	}
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// ... wait for signal ...
	srv.Shutdown(shutdownCtx)

Calling a tool from the host goes through pkg/client:

	sandbox := client.New(info, token)
	result := sandbox.CallTool(ctx, "run_shell_command", map[string]any{
		"command": "ls -la",
	})

# Execution Envelope

Shell commands and Python cells share one result shape: three text
items carrying stdout, stderr, and the exit code, in that order.
IsError reflects stderr only; a non-zero exit with a quiet stderr is
not an error, because agents routinely probe with commands that fail
by design (grep with no match, test -f on a missing file).

	{
	  "content": [
	    {"type": "text", "text": "...", "description": "stdout"},
	    {"type": "text", "text": "...", "description": "stderr"},
	    {"type": "text", "text": "0"}
	  ],
	  "isError": false
	}

# Kernel Protocol

Cells travel to the interpreter as base64 lines on stdin; results come
back as one JSON line behind a sentinel prefix. The framing keeps
multi-line code and arbitrary cell output from corrupting the stream:

 1. Execute base64-encodes the cell and writes it as one line
 2. The interpreter execs the cell with stdout/stderr captured
 3. The result line is sentinel + {"stdout": ..., "stderr": ...}
 4. Non-sentinel lines (C extensions writing to fd 1) are skipped

Cells run one at a time. A cancelled context kills the interpreter
rather than leaving it wedged mid-cell; accumulated state is lost and
the next cell starts a fresh interpreter.

# MCP Dispatch

Tool routing follows registration order:

  - add_servers validates each server by listing its tools; the list
    doubles as the dispatch cache
  - A server that fails to come up is closed and reported; servers
    that came up stay registered
  - call_tool picks the first registered server whose cache has the
    name
  - Calls to the same server are serialized; calls to different
    servers interleave

# Workspace Containment

Every client path is resolved before use:

 1. Relative paths are joined to the workspace root
 2. The deepest existing ancestor is symlink-resolved
 3. The result must equal the root or sit under it

A symlink inside the workspace pointing outside it fails the check in
step 3 and returns 403. Targets that do not exist yet (new file
writes) are checked through their existing ancestors.

# Integration Points

This package integrates with:

  - pkg/client: The host-side caller; wire shapes must match
  - pkg/manager: Injects SECRET_TOKEN and the port via container env
  - pkg/types: Tool envelope shared with MCP results
  - pkg/log: Component-tagged structured logging

# Design Patterns

Readiness Gate:
  - /healthz serves 503 until every service finished Init
  - The manager's ready poll therefore waits for the kernel dirs,
    workspace, and packaged MCP servers, not just the TCP socket

Lazy Kernel:
  - The interpreter starts on the first cell, not at boot
  - Sandboxes that never run Python pay nothing for it

First-Match Dispatch:
  - Duplicate tool names across servers resolve to the earliest
    registration, and list_tools hides the shadowed copies

# Troubleshooting

Common issues:

401 from every endpoint:
  - Token mismatch between manager and box
  - SECRET_TOKEN not set in the container environment
  - Client missing the Bearer prefix

400 "session header required":
  - Request skipped the x-agentrun-session-id header
  - Calls made directly with curl instead of pkg/client

Cell hangs then "cell interrupted":
  - Cell blocked on input() or an infinite loop
  - Context deadline killed the interpreter; state was reset

MCP server missing from list_tools:
  - Server failed its handshake at add_servers (check box logs)
  - Tool name shadowed by an earlier server

403 on a path that looks inside the workspace:
  - A path component is a symlink pointing outside the root
  - Path escapes via .. after cleaning

# Monitoring

The box logs to stdout with component tags (shell, kernel, mcp,
workspace, watcher). Tool-call metrics are recorded host-side by
pkg/client and surface on the facade's /metrics endpoint:

  - agentrun_tool_calls_total{tool, status}
  - agentrun_tool_call_duration_seconds{tool}

# See Also

  - pkg/client for the host-side API over these endpoints
  - pkg/manager for sandbox lifecycle and token injection
  - pkg/types for the tool envelope
  - cmd/agentrun box for the entrypoint
*/
package box
