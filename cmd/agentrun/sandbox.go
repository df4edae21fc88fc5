package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/agentrun/agentrun/pkg/client"
)

// Sandbox commands (talk to a running manager over its facade)
var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Operate sandboxes through a running manager",
	Long: `Drive the manager facade from the command line: attach sessions
to sandboxes, inspect them, and hand them back.

Examples:
  # Attach a session to a browser sandbox
  agentrun sandbox connect --type browser --session sess-42

  # Return it to the warm pool when done
  agentrun sandbox release sess-42`,
}

func init() {
	sandboxCmd.PersistentFlags().String("manager", "http://localhost:8090", "Manager facade address")
	sandboxCmd.PersistentFlags().String("token", "", "Bearer token for the facade")

	sandboxCmd.AddCommand(sandboxConnectCmd)
	sandboxCmd.AddCommand(sandboxReleaseCmd)
	sandboxCmd.AddCommand(sandboxGetCmd)
	sandboxCmd.AddCommand(sandboxListCmd)
	sandboxCmd.AddCommand(sandboxPoolsCmd)
	sandboxCmd.AddCommand(sandboxHealthCmd)

	sandboxConnectCmd.Flags().String("type", "", "Sandbox type (default from manager config)")
	sandboxConnectCmd.Flags().String("session", "", "Session ID (generated when empty)")
	sandboxConnectCmd.Flags().String("image-version", "", "Pin an image tag, bypassing the warm pool")

	sandboxReleaseCmd.Flags().Bool("destroy", false, "Destroy the sandbox instead of pooling it")

	rootCmd.AddCommand(sandboxCmd)
}

// facadeClient builds the typed facade client from the persistent
// flags.
func facadeClient(cmd *cobra.Command) *client.Manager {
	addr, _ := cmd.Flags().GetString("manager")
	token, _ := cmd.Flags().GetString("token")
	return client.NewManager(addr, token)
}

var sandboxConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Attach a session to a sandbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		sandboxType, _ := cmd.Flags().GetString("type")
		session, _ := cmd.Flags().GetString("session")
		version, _ := cmd.Flags().GetString("image-version")

		container, err := facadeClient(cmd).Connect(context.Background(), client.ConnectRequest{
			SandboxType: sandboxType,
			SessionID:   session,
			Version:     version,
		})
		if err != nil {
			return fmt.Errorf("failed to connect: %v", err)
		}

		fmt.Println("✓ Sandbox ready")
		fmt.Printf("  Session: %s\n", container.SessionID)
		fmt.Printf("  Container: %s\n", container.ContainerName)
		fmt.Printf("  URL: %s\n", container.URL)
		return nil
	},
}

var sandboxReleaseCmd = &cobra.Command{
	Use:   "release SESSION_ID",
	Short: "Hand a session's sandbox back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		destroy, _ := cmd.Flags().GetBool("destroy")

		if err := facadeClient(cmd).Release(context.Background(), args[0], !destroy); err != nil {
			return fmt.Errorf("failed to release: %v", err)
		}
		if destroy {
			fmt.Printf("✓ Sandbox destroyed: %s\n", args[0])
		} else {
			fmt.Printf("✓ Sandbox released: %s\n", args[0])
		}
		return nil
	},
}

var sandboxGetCmd = &cobra.Command{
	Use:   "get SESSION_ID",
	Short: "Show one sandbox record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := facadeClient(cmd).Get(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get sandbox: %v", err)
		}

		data, err := json.MarshalIndent(container, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode record: %v", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sandboxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		containers, err := facadeClient(cmd).List(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list sandboxes: %v", err)
		}
		if len(containers) == 0 {
			fmt.Println("No active sandboxes.")
			return nil
		}

		fmt.Printf("%-38s %-28s %s\n", "SESSION", "CONTAINER", "URL")
		for _, container := range containers {
			fmt.Printf("%-38s %-28s %s\n", container.SessionID, container.ContainerName, container.URL)
		}
		return nil
	},
}

var sandboxPoolsCmd = &cobra.Command{
	Use:   "pools",
	Short: "Show warm pool levels by type",
	RunE: func(cmd *cobra.Command, args []string) error {
		pools, err := facadeClient(cmd).Pools(context.Background())
		if err != nil {
			return fmt.Errorf("failed to read pools: %v", err)
		}

		types := make([]string, 0, len(pools))
		for sandboxType := range pools {
			types = append(types, sandboxType)
		}
		sort.Strings(types)
		for _, sandboxType := range types {
			fmt.Printf("%-12s %d\n", sandboxType, pools[sandboxType])
		}
		return nil
	},
}

var sandboxHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the manager facade",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := facadeClient(cmd).Health(context.Background())
		if err != nil {
			return fmt.Errorf("manager unreachable: %v", err)
		}

		fmt.Printf("Status: %s\n", info.Status)
		fmt.Printf("Version: %s\n", info.Version)
		fmt.Printf("Default type: %s\n", info.DefaultType)
		return nil
	},
}
