package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentrun/agentrun/pkg/box"
	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/driver"
	"github.com/agentrun/agentrun/pkg/events"
	"github.com/agentrun/agentrun/pkg/log"
	"github.com/agentrun/agentrun/pkg/manager"
	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/reconciler"
	"github.com/agentrun/agentrun/pkg/server"
	"github.com/agentrun/agentrun/pkg/training"

	// Backend drivers register themselves on import.
	_ "github.com/agentrun/agentrun/pkg/driver/containerd"
	_ "github.com/agentrun/agentrun/pkg/driver/docker"
	_ "github.com/agentrun/agentrun/pkg/driver/kubernetes"
	_ "github.com/agentrun/agentrun/pkg/driver/managed"

	// Built-in training environments register themselves on import.
	_ "github.com/agentrun/agentrun/pkg/training/echoenv"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// shutdownTimeout bounds graceful shutdown of any long-running command.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentrun",
	Short: "agentrun - Sandbox lifecycle manager for AI agent workloads",
	Long: `agentrun provisions isolated sandbox containers for AI agent
sessions: warm pools for instant attach, per-session workspaces,
an in-container tool server, and pluggable backends from local
Docker to managed runtimes.

One binary carries every role: the manager control plane, the
in-container control server, and the training environment service.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"agentrun version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Add subcommands
	rootCmd.AddCommand(managerCmd)
	rootCmd.AddCommand(boxCmd)
	rootCmd.AddCommand(envsCmd)
}

// loadConfig reads the configuration named by the --config flag and
// initializes logging from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	return cfg, nil
}

// Manager command
var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Run the sandbox manager and its HTTP facade",
	Long: `Run the sandbox manager: warm pools, session index, port
arbitration and the HTTP facade agent frameworks talk to.

Configuration merges built-in defaults, the optional YAML file given
with --config, and AGENTRUN_* environment variables (env wins).`,
	RunE: runManager,
}

func init() {
	managerCmd.Flags().StringP("config", "c", "", "Path to YAML configuration file")
	managerCmd.Flags().Bool("no-warmup", false, "Skip filling warm pools at startup")
}

func runManager(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(driver.Available()); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}

	fmt.Println("Starting agentrun manager...")
	fmt.Printf("  Backend: %s\n", cfg.Sandbox.Deployment)
	fmt.Printf("  Facade: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Pool target: %d per type %v\n", cfg.Sandbox.PoolSize, cfg.Sandbox.DefaultTypes)
	fmt.Println()

	mgr, err := manager.Build(cfg)
	if err != nil {
		return fmt.Errorf("failed to build manager: %v", err)
	}
	metrics.SetVersion(Version)
	metrics.RegisterComponent("driver", true, cfg.Sandbox.Deployment+" driver ready")
	metrics.RegisterComponent("state", true, "session store open")

	noWarmup, _ := cmd.Flags().GetBool("no-warmup")
	if !noWarmup {
		if err := mgr.WarmUp(context.Background()); err != nil {
			mgr.Close()
			return fmt.Errorf("failed to warm pools: %v", err)
		}
		fmt.Println("✓ Warm pools filled")
	}

	collector := metrics.NewCollector(mgr)
	collector.Start()

	recon := reconciler.NewReconciler(mgr)
	recon.Start()
	fmt.Println("✓ Reconciler started")

	srv := server.New(cfg, mgr, Version)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("facade error: %v", err)
		}
	}()

	fmt.Println()
	fmt.Println("Manager is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal or facade error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	recon.Stop()
	collector.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Facade shutdown error: %v\n", err)
	}
	if cfg.Server.AutoCleanup {
		if err := mgr.Cleanup(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Cleanup error: %v\n", err)
		} else {
			fmt.Println("✓ Sandboxes cleaned up")
		}
	}
	if err := mgr.Close(); err != nil {
		return fmt.Errorf("failed to close manager: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

// Box command
var boxCmd = &cobra.Command{
	Use:   "box",
	Short: "Run the in-container control server",
	Long: `Run the control server inside a sandbox container. Configuration
comes from the environment the manager injected at create time:
SECRET_TOKEN, PORT, AGENTRUN_WORKSPACE, AGENTRUN_BASE_PATH and
AGENTRUN_MCP_CONFIG.`,
	RunE: runBox,
}

func runBox(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{
		Level:      log.Level(os.Getenv("AGENTRUN_LOG_LEVEL")),
		JSONOutput: true,
	})

	srv := box.New(box.ConfigFromEnv())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("control server error: %v", err)
		}
	}()

	// The listener comes up before Init so the manager's readiness
	// probe sees 503 while the services start.
	if err := srv.Init(context.Background()); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(ctx)
		return fmt.Errorf("failed to initialize control server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Envs command
var envsCmd = &cobra.Command{
	Use:   "envs",
	Short: "Run the training environment service",
	Long: `Run the training environment service: registered reinforcement
learning environments behind an HTTP surface, one actor per live
instance, idle instances reaped on a timer.`,
	RunE: runEnvs,
}

func init() {
	envsCmd.Flags().StringP("config", "c", "", "Path to YAML configuration file")
}

func runEnvs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	svc := training.NewService(
		time.Duration(cfg.Training.CleanupInterval)*time.Second,
		time.Duration(cfg.Training.MaxIdleTime)*time.Second,
		broker,
	)
	svc.Init()

	srv := training.NewServer(cfg, svc)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("training service error: %v", err)
		}
	}()

	fmt.Printf("Training service is running on %s:%d. Press Ctrl+C to stop.\n",
		cfg.Training.Host, cfg.Training.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Training shutdown error: %v\n", err)
	}
	svc.Shutdown(ctx)

	fmt.Println("✓ Shutdown complete")
	return nil
}
