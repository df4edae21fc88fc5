package client

// ToolSchema describes one callable tool.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	Server      string         `json:"server,omitempty"`
}

// GenericToolSchemas advertises the built-in toolset every sandbox
// serves, without a roundtrip. MCP tools are discovered per sandbox
// through ListMCPTools.
func GenericToolSchemas() []ToolSchema {
	return []ToolSchema{
		{
			Name:        "run_shell_command",
			Description: "Run a shell command inside the sandbox workspace and return its stdout and stderr.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "Shell command to execute.",
					},
				},
				"required": []string{"command"},
			},
		},
		{
			Name:        "run_ipython_cell",
			Description: "Execute a code cell in the sandbox's persistent IPython kernel. State carries over between cells.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code": map[string]any{
						"type":        "string",
						"description": "Python code to execute.",
					},
				},
				"required": []string{"code"},
			},
		},
		{
			Name:        "commit_changes",
			Description: "Commit all pending workspace changes with the given message.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"commit_message": map[string]any{
						"type":        "string",
						"description": "Commit message.",
					},
				},
				"required": []string{"commit_message"},
			},
		},
		{
			Name:        "generate_diff",
			Description: "Generate a diff between two commits, or of uncommitted changes when no commits are given.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"commit_a": map[string]any{
						"type":        "string",
						"description": "Older commit hash.",
					},
					"commit_b": map[string]any{
						"type":        "string",
						"description": "Newer commit hash.",
					},
				},
			},
		},
	}
}
