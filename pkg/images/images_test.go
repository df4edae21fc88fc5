package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/pkg/config"
)

func testResolver() *Resolver {
	return NewResolver(config.ImageConfig{
		Types: map[string]string{
			"base":    "agentrun/sandbox-base:latest",
			"browser": "agentrun/sandbox-browser:latest",
		},
		Rewrites: map[string]map[string]string{
			"kubernetes": {
				"agentrun/sandbox-base:latest": "registry.internal/agentrun/sandbox-base:latest",
			},
			"docker": {
				"agentrun/sandbox-browser:latest": "mirror.internal/agentrun/sandbox-browser:latest",
			},
		},
	})
}

func TestImageFor(t *testing.T) {
	r := testResolver()

	image, err := r.ImageFor("base", "")
	require.NoError(t, err)
	assert.Equal(t, "agentrun/sandbox-base:latest", image)

	_, err = r.ImageFor("quantum", "")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestImageForVersionOverride(t *testing.T) {
	r := testResolver()

	image, err := r.ImageFor("base", "v2.1.0")
	require.NoError(t, err)
	assert.Equal(t, "agentrun/sandbox-base:v2.1.0", image)
}

func TestSwapTag(t *testing.T) {
	tests := []struct {
		image string
		tag   string
		want  string
	}{
		{"agentrun/sandbox-base:latest", "v2", "agentrun/sandbox-base:v2"},
		{"agentrun/sandbox-base", "v2", "agentrun/sandbox-base:v2"},
		{"registry:5000/agentrun/base:latest", "v2", "registry:5000/agentrun/base:v2"},
		{"registry:5000/agentrun/base", "v2", "registry:5000/agentrun/base:v2"},
		{"agentrun/base@sha256:abcd", "v2", "agentrun/base@sha256:abcd"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, swapTag(tt.image, tt.tag), tt.image)
	}
}

func TestRewrite(t *testing.T) {
	r := testResolver()

	tests := []struct {
		name    string
		backend string
		image   string
		want    string
	}{
		{
			name:    "mapped image",
			backend: "kubernetes",
			image:   "agentrun/sandbox-base:latest",
			want:    "registry.internal/agentrun/sandbox-base:latest",
		},
		{
			name:    "unmapped image passes through",
			backend: "kubernetes",
			image:   "agentrun/sandbox-browser:latest",
			want:    "agentrun/sandbox-browser:latest",
		},
		{
			name:    "backend without table passes through",
			backend: "containerd",
			image:   "agentrun/sandbox-base:latest",
			want:    "agentrun/sandbox-base:latest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Rewrite(tt.backend, tt.image))
		})
	}
}

func TestResolve(t *testing.T) {
	r := testResolver()

	canonical, concrete, err := r.Resolve("docker", "browser", "")
	require.NoError(t, err)
	assert.Equal(t, "agentrun/sandbox-browser:latest", canonical)
	assert.Equal(t, "mirror.internal/agentrun/sandbox-browser:latest", concrete)

	canonical, concrete, err = r.Resolve("docker", "base", "")
	require.NoError(t, err)
	assert.Equal(t, canonical, concrete, "unmapped resolve keeps the canonical reference")

	_, _, err = r.Resolve("docker", "quantum", "")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestTypes(t *testing.T) {
	assert.Equal(t, []string{"base", "browser"}, testResolver().Types())
}
