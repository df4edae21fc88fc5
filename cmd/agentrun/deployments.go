package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentrun/agentrun/pkg/deployments"
)

// Deployment state commands
var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "Inspect and maintain the deployment state store",
	Long: `Operate on the persistent deployment state: the JSON document
recording externally hosted agent endpoints, written atomically with
daily rotating backups.`,
}

func init() {
	deploymentsCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML configuration file")
	deploymentsCmd.PersistentFlags().String("state-dir", "", "Override the state directory")

	deploymentsCmd.AddCommand(deploymentsListCmd)
	deploymentsCmd.AddCommand(deploymentsGetCmd)
	deploymentsCmd.AddCommand(deploymentsExportCmd)
	deploymentsCmd.AddCommand(deploymentsImportCmd)
	deploymentsCmd.AddCommand(deploymentsPruneCmd)

	deploymentsExportCmd.Flags().StringP("output", "o", "", "Destination file (required)")
	_ = deploymentsExportCmd.MarkFlagRequired("output")

	deploymentsImportCmd.Flags().StringP("file", "f", "", "Exported document to import (required)")
	deploymentsImportCmd.Flags().Bool("merge", false, "Merge imported records over current state instead of replacing it")
	_ = deploymentsImportCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(deploymentsCmd)
}

// openStore builds the deployment store from configuration, honoring
// the --state-dir override.
func openStore(cmd *cobra.Command) (*deployments.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	dir := cfg.State.Dir
	if override, _ := cmd.Flags().GetString("state-dir"); override != "" {
		dir = override
	}
	store, err := deployments.NewStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %v", err)
	}
	return store, nil
}

var deploymentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}

		records, err := store.List()
		if err != nil {
			return fmt.Errorf("failed to list deployments: %v", err)
		}
		if len(records) == 0 {
			fmt.Println("No deployments stored.")
			return nil
		}

		fmt.Printf("%-28s %-12s %-9s %s\n", "ID", "PLATFORM", "STATUS", "URL")
		for _, record := range records {
			fmt.Printf("%-28s %-12s %-9s %s\n", record.ID, record.Platform, record.Status, record.URL)
		}
		return nil
	},
}

var deploymentsGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one deployment as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}

		record, err := store.Get(args[0])
		if err != nil {
			return fmt.Errorf("failed to get deployment: %v", err)
		}
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode deployment: %v", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

var deploymentsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the full state document to a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		if err := store.ExportToFile(output); err != nil {
			return fmt.Errorf("failed to export state: %v", err)
		}

		fmt.Printf("✓ State exported to %s\n", output)
		return nil
	},
}

var deploymentsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a state document from a file",
	Long: `Import deployment records from an exported state document.

With --merge, imported records win by ID and current records without an
imported counterpart are kept; without it, the imported document
replaces the state wholesale. Both paths write atomically with a
backup, and replacing non-empty state with an empty document is
refused.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		merge, _ := cmd.Flags().GetBool("merge")

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		if err := store.ImportFromFile(file, merge); err != nil {
			return fmt.Errorf("failed to import state: %v", err)
		}

		if count, err := store.Count(); err == nil {
			fmt.Printf("✓ Import complete (%d deployments stored)\n", count)
		} else {
			fmt.Println("✓ Import complete")
		}
		return nil
	},
}

var deploymentsPruneCmd = &cobra.Command{
	Use:   "prune-backups",
	Short: "Remove backups older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}

		removed, err := store.PruneBackups()
		if err != nil {
			return fmt.Errorf("failed to prune backups: %v", err)
		}
		fmt.Printf("✓ Removed %d expired backups\n", removed)
		return nil
	},
}
