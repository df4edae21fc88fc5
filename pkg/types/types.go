package types

// SandboxType selects the image family a sandbox is created from
type SandboxType string

const (
	SandboxTypeBase       SandboxType = "base"
	SandboxTypeFilesystem SandboxType = "filesystem"
	SandboxTypeBrowser    SandboxType = "browser"
	SandboxTypeGUI        SandboxType = "gui"
)

// BuiltinSandboxTypes returns the closed set of types known without configuration.
// Additional types may be introduced through the image table in config.
func BuiltinSandboxTypes() []SandboxType {
	return []SandboxType{SandboxTypeBase, SandboxTypeFilesystem, SandboxTypeBrowser, SandboxTypeGUI}
}

// Backend names a driver implementation in the registry
type Backend string

const (
	BackendDocker     Backend = "docker"
	BackendContainerd Backend = "containerd"
	BackendKubernetes Backend = "kubernetes"
	BackendFC         Backend = "fc"
	BackendStudio     Backend = "studio"
)

// ContainerState is the backend-reported lifecycle state of a sandbox
type ContainerState string

const (
	ContainerStateCreating ContainerState = "creating"
	ContainerStateRunning  ContainerState = "running"
	ContainerStateExited   ContainerState = "exited"
	ContainerStateUnknown  ContainerState = "unknown"
)

// Container identifies one live sandbox and everything a caller needs to reach it.
//
// SessionID is the stable external key; ContainerID is the backend-opaque
// handle. URL includes scheme, host, port and the control-plane base path.
// Ports holds exposed host ports as strings; path-routed backends set Path
// instead of overloading the port entries.
type Container struct {
	SessionID     string         `json:"session_id"`
	ContainerID   string         `json:"container_id"`
	ContainerName string         `json:"container_name"`
	URL           string         `json:"url"`
	Ports         []string       `json:"ports"`
	Path          string         `json:"path,omitempty"`
	MountDir      *string        `json:"mount_dir"`
	StoragePath   *string        `json:"storage_path"`
	RuntimeToken  string         `json:"runtime_token"`
	Version       string         `json:"version"`
	Meta          map[string]any `json:"meta,omitempty"`
	Timeout       int            `json:"timeout"` // seconds; lower bound on client request deadline
}

// DeploymentStatus is the lifecycle state of an external deployment
type DeploymentStatus string

const (
	DeploymentStatusRunning DeploymentStatus = "running"
	DeploymentStatusStopped DeploymentStatus = "stopped"
)

// Deployment is a persistent entity in the deployment state store: a named,
// externally hosted agent endpoint (distinct from an ephemeral sandbox).
type Deployment struct {
	ID          string           `json:"id"`
	Platform    string           `json:"platform"`
	URL         string           `json:"url"`
	AgentSource string           `json:"agent_source"`
	CreatedAt   string           `json:"created_at"` // ISO 8601
	Status      DeploymentStatus `json:"status"`
	Token       string           `json:"token,omitempty"`
	Config      map[string]any   `json:"config,omitempty"`
}

// Valid reports whether the record carries every required field.
// Records failing this check are dropped during corruption recovery.
func (d *Deployment) Valid() bool {
	return d.ID != "" && d.Platform != "" && d.URL != "" && d.AgentSource != "" && d.CreatedAt != ""
}

// ToolContent is one item in a tool-call result envelope
type ToolContent struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Description string `json:"description,omitempty"`
}

// ToolResult is the uniform envelope returned by every in-container tool
// call. Transport failures are converted into this shape rather than raised
// through the tool boundary.
type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError"`
}

// TextResult builds a single-item text result
func TextResult(text string, isError bool) *ToolResult {
	return &ToolResult{
		Content: []ToolContent{{Type: "text", Text: text}},
		IsError: isError,
	}
}

// ErrorResult wraps an error into the tool envelope
func ErrorResult(err error) *ToolResult {
	return TextResult(err.Error(), true)
}
