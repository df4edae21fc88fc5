package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const envPrefix = "AGENTRUN_"

// Config is the full manager configuration, merged from defaults, an
// optional YAML file, and AGENTRUN_* environment variables (env wins).
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Ports    PortRange      `yaml:"ports"`
	Redis    RedisConfig    `yaml:"redis"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Mounts   MountConfig    `yaml:"mounts"`
	Images   ImageConfig    `yaml:"images"`
	K8s      K8sConfig      `yaml:"kubernetes"`
	FC       ManagedConfig  `yaml:"fc"`
	Studio   ManagedConfig  `yaml:"studio"`
	State    StateConfig    `yaml:"state"`
	Training TrainingConfig `yaml:"training"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the manager HTTP facade.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Workers     int    `yaml:"workers"`
	BearerToken string `yaml:"bearer_token"`
	AutoCleanup bool   `yaml:"auto_cleanup"`
}

// SandboxConfig selects the backend and pool behavior.
type SandboxConfig struct {
	Deployment   string   `yaml:"deployment"`    // backend name from the driver registry
	DefaultTypes []string `yaml:"default_types"` // types to keep warm pools for
	PoolSize     int      `yaml:"pool_size"`     // target pool size per type
	Timeout      int      `yaml:"timeout"`       // seconds; per-container client deadline floor
}

// PortRange is the half-open [Start, End) host port range the arbiter
// selects from.
type PortRange struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// RedisConfig enables the shared key-value store backing collections and
// the port set in multi-worker mode.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ArchiveConfig enables archive-backed workspace persistence.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // bbolt database file
}

// MountConfig controls mount directory provisioning.
type MountConfig struct {
	BaseDir        string            `yaml:"base_dir"`
	ReadonlyMounts map[string]string `yaml:"readonly_mounts"` // host path -> container path
}

// ImageConfig maps sandbox types to canonical images and canonical images to
// per-backend concrete references.
type ImageConfig struct {
	Types    map[string]string            `yaml:"types"`
	Rewrites map[string]map[string]string `yaml:"rewrites"` // backend -> canonical -> concrete
}

// K8sConfig configures the cluster driver.
type K8sConfig struct {
	Namespace        string            `yaml:"namespace"`
	Kubeconfig       string            `yaml:"kubeconfig"`
	ImagePullPolicy  string            `yaml:"image_pull_policy"`
	NodeSelector     map[string]string `yaml:"node_selector"`
	Tolerations      []Toleration      `yaml:"tolerations"`
	ImagePullSecrets []string          `yaml:"image_pull_secrets"`
}

// Toleration mirrors the pod toleration fields the cluster driver
// passes through.
type Toleration struct {
	Key      string `yaml:"key"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
	Effect   string `yaml:"effect"`
}

// ManagedConfig configures one managed-runtime driver.
type ManagedConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	PollInterval int    `yaml:"poll_interval"` // seconds
	MaxAttempts  int    `yaml:"max_attempts"`
}

// StateConfig locates the deployment state store.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// TrainingConfig configures the training environment service.
type TrainingConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	CleanupInterval int    `yaml:"cleanup_interval"` // seconds
	MaxIdleTime     int    `yaml:"max_idle_time"`    // seconds
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8090,
			Workers:     1,
			AutoCleanup: true,
		},
		Sandbox: SandboxConfig{
			Deployment:   "docker",
			DefaultTypes: []string{"base"},
			PoolSize:     1,
			Timeout:      60,
		},
		Ports: PortRange{Start: 49152, End: 59152},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Archive: ArchiveConfig{
			Path: filepath.Join(os.TempDir(), "agentrun", "archives.db"),
		},
		Mounts: MountConfig{
			BaseDir: filepath.Join(os.TempDir(), "agentrun", "mounts"),
		},
		Images: ImageConfig{
			Types: map[string]string{
				"base":       "agentrun/sandbox-base:latest",
				"filesystem": "agentrun/sandbox-filesystem:latest",
				"browser":    "agentrun/sandbox-browser:latest",
				"gui":        "agentrun/sandbox-gui:latest",
			},
			Rewrites: map[string]map[string]string{},
		},
		K8s: K8sConfig{Namespace: "default"},
		FC: ManagedConfig{
			PollInterval: 3,
			MaxAttempts:  60,
		},
		Studio: ManagedConfig{
			PollInterval: 3,
			MaxAttempts:  60,
		},
		State: StateConfig{
			Dir: filepath.Join(os.TempDir(), "agentrun", "state"),
		},
		Training: TrainingConfig{
			Host:            "0.0.0.0",
			Port:            8091,
			CleanupInterval: 60,
			MaxIdleTime:     600,
		},
		Log: LogConfig{Level: "info", JSON: true},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr(&c.Server.Host, "HOST")
	envInt(&c.Server.Port, "PORT")
	envInt(&c.Server.Workers, "WORKERS")
	envStr(&c.Server.BearerToken, "BEARER_TOKEN")
	envBool(&c.Server.AutoCleanup, "AUTO_CLEANUP")

	envStr(&c.Sandbox.Deployment, "DEPLOYMENT")
	envList(&c.Sandbox.DefaultTypes, "DEFAULT_SANDBOX_TYPES")
	envInt(&c.Sandbox.PoolSize, "POOL_SIZE")
	envInt(&c.Sandbox.Timeout, "SANDBOX_TIMEOUT")

	envInt(&c.Ports.Start, "PORT_RANGE_START")
	envInt(&c.Ports.End, "PORT_RANGE_END")

	envBool(&c.Redis.Enabled, "REDIS_ENABLED")
	envStr(&c.Redis.Addr, "REDIS_ADDR")
	envStr(&c.Redis.Password, "REDIS_PASSWORD")
	envInt(&c.Redis.DB, "REDIS_DB")

	envBool(&c.Archive.Enabled, "ARCHIVE_ENABLED")
	envStr(&c.Archive.Path, "ARCHIVE_PATH")

	envStr(&c.Mounts.BaseDir, "MOUNT_DIR")
	envPathMap(&c.Mounts.ReadonlyMounts, "READONLY_MOUNTS")

	envStr(&c.K8s.Namespace, "K8S_NAMESPACE")
	if v := os.Getenv("KUBECONFIG"); v != "" && c.K8s.Kubeconfig == "" {
		c.K8s.Kubeconfig = v
	}

	envStr(&c.FC.BaseURL, "FC_BASE_URL")
	envStr(&c.FC.APIKey, "FC_API_KEY")
	envStr(&c.Studio.BaseURL, "STUDIO_BASE_URL")
	envStr(&c.Studio.APIKey, "STUDIO_API_KEY")

	envStr(&c.State.Dir, "STATE_DIR")

	envStr(&c.Training.Host, "TRAINING_HOST")
	envInt(&c.Training.Port, "TRAINING_PORT")
	envInt(&c.Training.CleanupInterval, "TRAINING_CLEANUP_INTERVAL")
	envInt(&c.Training.MaxIdleTime, "TRAINING_MAX_IDLE")

	envStr(&c.Log.Level, "LOG_LEVEL")
	envBool(&c.Log.JSON, "LOG_JSON")
}

// Validate checks the configuration against the set of registered backend
// names. Unknown or unavailable backends fail here, not at first use.
func (c *Config) Validate(backends []string) error {
	found := false
	for _, b := range backends {
		if b == c.Sandbox.Deployment {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown deployment backend %q (registered: %s)",
			c.Sandbox.Deployment, strings.Join(backends, ", "))
	}

	if c.Server.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Server.Workers)
	}
	if c.Server.Workers > 1 && !c.Redis.Enabled {
		return fmt.Errorf("workers > 1 requires the shared redis store")
	}

	if c.Ports.Start <= 0 || c.Ports.End <= c.Ports.Start {
		return fmt.Errorf("invalid port range [%d, %d)", c.Ports.Start, c.Ports.End)
	}

	if c.Sandbox.PoolSize < 0 {
		return fmt.Errorf("pool size must be >= 0, got %d", c.Sandbox.PoolSize)
	}

	for _, t := range c.Sandbox.DefaultTypes {
		if _, ok := c.Images.Types[t]; !ok {
			return fmt.Errorf("no image configured for sandbox type %q", t)
		}
	}

	return nil
}

// DefaultType returns the first configured default sandbox type.
func (c *Config) DefaultType() string {
	if len(c.Sandbox.DefaultTypes) > 0 {
		return c.Sandbox.DefaultTypes[0]
	}
	return "base"
}

func envStr(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envList(dst *[]string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

// envPathMap parses "src:dst,src:dst" pairs.
func envPathMap(dst *map[string]string, key string) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.LastIndex(pair, ":")
		if idx <= 0 || idx == len(pair)-1 {
			continue
		}
		out[pair[:idx]] = pair[idx+1:]
	}
	if len(out) > 0 {
		*dst = out
	}
}
