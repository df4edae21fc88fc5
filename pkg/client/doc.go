/*
Package client provides Go clients for the two agentrun HTTP APIs: the
manager facade that hands out sandboxes, and the in-container control
server that every sandbox runs.

The Manager client wraps the facade REST API with typed methods and
unwraps its response envelopes. The Sandbox client talks to a single
sandbox's control server and is the piece agent loops hold on to: it
runs tools, moves workspace files, and registers MCP servers.

# Architecture

	┌──────────────────── APPLICATION CODE ──────────────────────┐
	│                                                            │
	│  import "github.com/agentrun/agentrun/pkg/client"          │
	│                                                            │
	│  mgr := client.NewManager("http://manager:8090", token)    │
	│  container, err := mgr.Connect(ctx, req)                   │
	│  sandbox := client.NewSandbox(container)                   │
	│  result := sandbox.RunShellCommand(ctx, "make test")       │
	│                                                            │
	└──────────────────┬─────────────────────────────────────────┘
	                   │
	┌──────────────────▼──── pkg/client ─────────────────────────┐
	│                                                            │
	│  ┌───────────── Manager ─────────────┐                     │
	│  │  - connect / release / get / list  │──► facade /v1/...  │
	│  │  - {data}/{error} envelope unwrap  │                    │
	│  └───────────────────────────────────┘                     │
	│                                                            │
	│  ┌───────────── Sandbox ─────────────┐                     │
	│  │  - bearer token + session header   │──► control server  │
	│  │  - tool result envelope, never     │    /tools /mcp     │
	│  │    raises on transport failure     │    /workspace      │
	│  └───────────────────────────────────┘                     │
	└────────────────────────────────────────────────────────────┘

# Usage

Acquiring a sandbox through the facade:

	mgr := client.NewManager("http://127.0.0.1:8090", os.Getenv("AGENTRUN_API_TOKEN"))

	container, err := mgr.Connect(ctx, client.ConnectRequest{
		SandboxType: "code",
		SessionID:   "sess-42",
	})
	if err != nil {
		log.Fatal(err)
	}

	sandbox := client.NewSandbox(container)
	if err := sandbox.WaitForReady(ctx, 60*time.Second); err != nil {
		log.Fatal(err)
	}

Every Sandbox request carries the credentials from the container
record:

	Authorization: Bearer <runtime_token>
	x-agentrun-session-id: s<session_id>

# Tool Calls

Tool calls always return a *types.ToolResult. Transport and HTTP
failures fold into the envelope with IsError set; the tool boundary
never raises, so agent frameworks can forward results verbatim:

	result := sandbox.RunShellCommand(ctx, "pytest -x")
	if result.IsError {
		fmt.Println("tool failed:", result.Content[0].Text)
	}

CallTool routes the built-in tool names (run_shell_command,
run_ipython_cell) to their dedicated endpoints and every other name
through /mcp/call_tool:

	result := sandbox.CallTool(ctx, "weather_lookup", map[string]any{
		"city": "Quito",
	})

GenericToolSchemas lists the built-in toolset without a roundtrip, so
frameworks can advertise tools before the first call; ListMCPTools
discovers per-sandbox MCP tools.

# Workspace Operations

File helpers move raw bytes and return ordinary errors, since callers
branch on them:

	err := sandbox.WriteFile(ctx, "src/main.py", code)
	content, err := sandbox.ReadFile(ctx, "results.json")
	listing, err := sandbox.ListDirectory(ctx, "src")
	err = sandbox.Move(ctx, "draft.md", "docs/final.md")

# Readiness

WaitForReady polls GET {url}/healthz once per second until the control
server answers or the budget elapses. On timeout the error wraps
ErrReadyTimeout and includes the last observed status:

	if err := sandbox.WaitForReady(ctx, 90*time.Second); err != nil {
		if errors.Is(err, client.ErrReadyTimeout) {
			// slow boot vs. transport misconfiguration is visible
			// in the embedded last status
		}
	}

# Timeouts

The Sandbox per-call timeout is the container record's Timeout or 60
seconds, whichever is larger. Long-running cells and shell commands
inherit it; pass a tighter context for anything interactive.

# Thread Safety

Both clients are safe for concurrent use. They hold no mutable state
beyond the underlying http.Client, which is safe by design.

# Troubleshooting

Common Issues:

Readiness wait always times out:
  - Error: "sandbox never became ready after 60s"
  - Solution: curl the container URL by hand; connection refused means
    the port mapping is wrong, 404 means the base path is missing

Every tool call returns isError with a 401 message:
  - Error: "sandbox returned 401: ..."
  - Solution: the record's RuntimeToken does not match the container's
    SECRET_TOKEN; reconnect the session for a fresh record

Manager calls fail to decode:
  - Error: "failed to decode response"
  - Solution: the base URL points at something other than the facade;
    GET /health on it and inspect the raw body

Timeout:
  - Error: "context deadline exceeded"
  - Solution: raise the container record's Timeout or pass a wider
    context

# See Also

  - pkg/server for the facade routes the Manager client calls
  - pkg/box for the control server routes the Sandbox client calls
  - pkg/types for the ToolResult envelope and container record
  - cmd/agentrun for CLI usage examples
*/
package client
