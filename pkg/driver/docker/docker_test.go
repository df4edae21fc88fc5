package docker

import (
	"testing"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/types"
)

func inspectWithState(state *dockertypes.ContainerState) dockertypes.ContainerJSON {
	return dockertypes.ContainerJSON{
		ContainerJSONBase: &dockertypes.ContainerJSONBase{State: state},
	}
}

func TestStateFromInspect(t *testing.T) {
	tests := []struct {
		name string
		info dockertypes.ContainerJSON
		want types.ContainerState
	}{
		{
			name: "running",
			info: inspectWithState(&dockertypes.ContainerState{Status: "running", Running: true}),
			want: types.ContainerStateRunning,
		},
		{
			name: "created",
			info: inspectWithState(&dockertypes.ContainerState{Status: "created"}),
			want: types.ContainerStateCreating,
		},
		{
			name: "exited cleanly",
			info: inspectWithState(&dockertypes.ContainerState{Status: "exited", ExitCode: 0}),
			want: types.ContainerStateExited,
		},
		{
			name: "killed by stop",
			info: inspectWithState(&dockertypes.ContainerState{Status: "exited", ExitCode: 137}),
			want: types.ContainerStateExited,
		},
		{
			name: "terminated by stop",
			info: inspectWithState(&dockertypes.ContainerState{Status: "exited", ExitCode: 143}),
			want: types.ContainerStateExited,
		},
		{
			name: "dead",
			info: inspectWithState(&dockertypes.ContainerState{Status: "dead", Dead: true}),
			want: types.ContainerStateExited,
		},
		{
			name: "no state",
			info: dockertypes.ContainerJSON{},
			want: types.ContainerStateUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateFromInspect(tt.info))
		})
	}
}

func TestStateFromSummary(t *testing.T) {
	tests := []struct {
		state string
		want  types.ContainerState
	}{
		{"running", types.ContainerStateRunning},
		{"restarting", types.ContainerStateRunning},
		{"paused", types.ContainerStateRunning},
		{"created", types.ContainerStateCreating},
		{"exited", types.ContainerStateExited},
		{"dead", types.ContainerStateExited},
		{"removing", types.ContainerStateExited},
		{"", types.ContainerStateUnknown},
		{"no-such-state", types.ContainerStateUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stateFromSummary(tt.state), "state %q", tt.state)
	}
}

func TestFlattenEnvSorted(t *testing.T) {
	env := map[string]string{
		"SECRET_TOKEN": "abc123",
		"AGENTRUN_ENV": "test",
		"PORT":         "8090",
	}
	got := flattenEnv(env)
	assert.Equal(t, []string{
		"AGENTRUN_ENV=test",
		"PORT=8090",
		"SECRET_TOKEN=abc123",
	}, got)
}

func TestFlattenEnvEmpty(t *testing.T) {
	assert.Empty(t, flattenEnv(nil))
}

func TestPortBindings(t *testing.T) {
	exposed, bindings, err := portBindings([]int{8090, 8080}, []int{49153, 49154})
	require.NoError(t, err)

	require.Len(t, exposed, 2)
	require.Contains(t, exposed, nat.Port("8090/tcp"))
	require.Contains(t, exposed, nat.Port("8080/tcp"))

	require.Len(t, bindings, 2)
	assert.Equal(t, []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "49153"}}, bindings["8090/tcp"])
	assert.Equal(t, []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "49154"}}, bindings["8080/tcp"])
}

func TestPortBindingsLengthMismatch(t *testing.T) {
	_, _, err := portBindings([]int{8090, 8080}, []int{49153})
	require.Error(t, err)
}

func TestHostPortsFromBindings(t *testing.T) {
	bindings := nat.PortMap{
		"8090/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "49154"}},
		"8080/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "49153"}},
		"9000/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "not-a-port"}},
		"9001/tcp": nil,
	}
	assert.Equal(t, []int{49153, 49154}, hostPortsFromBindings(bindings))
}

func TestBuildMountsWorkspace(t *testing.T) {
	dir := "/var/lib/agentrun/mounts/s1"
	mounts := buildMounts(&dir, map[string]string{
		"/opt/models":   "/models",
		"/etc/agentrun": "/config",
	})
	require.Len(t, mounts, 3)

	assert.Equal(t, dir, mounts[0].Source)
	assert.Equal(t, workspaceTarget, mounts[0].Target)
	assert.False(t, mounts[0].ReadOnly)

	// Readonly mounts follow in source order.
	assert.Equal(t, "/etc/agentrun", mounts[1].Source)
	assert.Equal(t, "/config", mounts[1].Target)
	assert.True(t, mounts[1].ReadOnly)
	assert.Equal(t, "/opt/models", mounts[2].Source)
	assert.Equal(t, "/models", mounts[2].Target)
	assert.True(t, mounts[2].ReadOnly)
}

func TestBuildMountsNoWorkspace(t *testing.T) {
	assert.Empty(t, buildMounts(nil, nil))

	empty := ""
	assert.Empty(t, buildMounts(&empty, nil))
}
