package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Server.Workers)
	assert.Equal(t, "docker", cfg.Sandbox.Deployment)
	assert.Equal(t, []string{"base"}, cfg.Sandbox.DefaultTypes)
	assert.Equal(t, 1, cfg.Sandbox.PoolSize)
	assert.Equal(t, 60, cfg.Sandbox.Timeout)
	assert.Equal(t, 49152, cfg.Ports.Start)
	assert.Equal(t, 59152, cfg.Ports.End)
	assert.False(t, cfg.Redis.Enabled)
	assert.Contains(t, cfg.Images.Types, "base")
	assert.Contains(t, cfg.Images.Types, "browser")
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentrun.yaml")
	data := `
server:
  port: 9000
  workers: 4
sandbox:
  deployment: kubernetes
  default_types: [base, browser]
  pool_size: 3
ports:
  start: 30000
  end: 31000
redis:
  enabled: true
  addr: redis.internal:6379
images:
  rewrites:
    kubernetes:
      agentrun/sandbox-base:latest: registry.internal/agentrun/sandbox-base:latest
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Server.Workers)
	assert.Equal(t, "kubernetes", cfg.Sandbox.Deployment)
	assert.Equal(t, []string{"base", "browser"}, cfg.Sandbox.DefaultTypes)
	assert.Equal(t, 3, cfg.Sandbox.PoolSize)
	assert.Equal(t, 30000, cfg.Ports.Start)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "registry.internal/agentrun/sandbox-base:latest",
		cfg.Images.Rewrites["kubernetes"]["agentrun/sandbox-base:latest"])

	// Untouched sections keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 60, cfg.Sandbox.Timeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTRUN_PORT", "7777")
	t.Setenv("AGENTRUN_WORKERS", "2")
	t.Setenv("AGENTRUN_DEPLOYMENT", "containerd")
	t.Setenv("AGENTRUN_DEFAULT_SANDBOX_TYPES", "base, gui")
	t.Setenv("AGENTRUN_REDIS_ENABLED", "true")
	t.Setenv("AGENTRUN_BEARER_TOKEN", "s3cret")
	t.Setenv("AGENTRUN_AUTO_CLEANUP", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Server.Workers)
	assert.Equal(t, "containerd", cfg.Sandbox.Deployment)
	assert.Equal(t, []string{"base", "gui"}, cfg.Sandbox.DefaultTypes)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "s3cret", cfg.Server.BearerToken)
	assert.False(t, cfg.Server.AutoCleanup)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))

	t.Setenv("AGENTRUN_PORT", "9001")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestEnvMalformedIgnored(t *testing.T) {
	t.Setenv("AGENTRUN_PORT", "not-a-number")
	t.Setenv("AGENTRUN_AUTO_CLEANUP", "yep")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.True(t, cfg.Server.AutoCleanup)
}

func TestReadonlyMountsEnv(t *testing.T) {
	t.Setenv("AGENTRUN_READONLY_MOUNTS", "/srv/data:/data, /srv/models:/models")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"/srv/data":   "/data",
		"/srv/models": "/models",
	}, cfg.Mounts.ReadonlyMounts)
}

func TestValidate(t *testing.T) {
	backends := []string{"docker", "containerd", "kubernetes"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults pass",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Sandbox.Deployment = "vmware" },
			wantErr: "unknown deployment backend",
		},
		{
			name:    "workers without redis",
			mutate:  func(c *Config) { c.Server.Workers = 4 },
			wantErr: "requires the shared redis store",
		},
		{
			name: "workers with redis",
			mutate: func(c *Config) {
				c.Server.Workers = 4
				c.Redis.Enabled = true
			},
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Server.Workers = 0 },
			wantErr: "workers must be >= 1",
		},
		{
			name:    "inverted port range",
			mutate:  func(c *Config) { c.Ports.Start, c.Ports.End = 59152, 49152 },
			wantErr: "invalid port range",
		},
		{
			name:    "empty port range",
			mutate:  func(c *Config) { c.Ports.End = c.Ports.Start },
			wantErr: "invalid port range",
		},
		{
			name:    "negative pool size",
			mutate:  func(c *Config) { c.Sandbox.PoolSize = -1 },
			wantErr: "pool size",
		},
		{
			name: "default type without image",
			mutate: func(c *Config) {
				c.Sandbox.DefaultTypes = []string{"base", "quantum"}
			},
			wantErr: `no image configured for sandbox type "quantum"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate(backends)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDefaultType(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "base", cfg.DefaultType())

	cfg.Sandbox.DefaultTypes = []string{"browser", "base"}
	assert.Equal(t, "browser", cfg.DefaultType())

	cfg.Sandbox.DefaultTypes = nil
	assert.Equal(t, "base", cfg.DefaultType())
}
