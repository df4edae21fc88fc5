/*
Package deployments persists the index of externally hosted agent
deployments as a single JSON document with atomic writes and daily
rotating backups.

# Architecture

	┌────────────────────────────────────────────────┐
	│                    Store                       │
	│  Save / Get / List / Delete / UpdateStatus     │
	│  ExportToFile / ImportFromFile / PruneBackups  │
	└───────────────┬────────────────────────────────┘
	                │ atomic write (.tmp + rename)
	                ▼
	  state dir ────────────────────────────────
	    deployments.json
	    deployments.backup.20260824.json
	    deployments.backup.20260823.json   (≤30 kept)

# On-Disk Format

The state file holds a versioned document:

	{
	  "version": "1.0",
	  "deployments": {
	    "<id>": { "id": ..., "platform": ..., "url": ..., ... }
	  }
	}

Records missing required fields are dropped on load, one warning per
record, so a single bad entry cannot poison the rest of the state.
A file that fails to parse at all is treated as empty state; the next
write is a first write and creates no backup.

# Write Path

Every mutation rewrites the whole document:

 1. Refuse an empty map over a non-empty file (ErrEmptyOverwrite).
 2. Skip the write entirely when the encoded bytes are unchanged.
 3. Copy the current file to deployments.backup.<YYYYMMDD>.json.
    Same-day backups overwrite each other, so each calendar day keeps
    at most one snapshot: the day's first pre-change state.
 4. Write a .tmp sibling and rename it over the state file.
 5. Remove backups older than the 30-day retention window.

# Usage

	store, err := deployments.NewStore(cfg.State.Dir)
	if err != nil {
	    return err
	}
	err = store.Save(&types.Deployment{
	    ID:          "my-agent",
	    Platform:    "railway",
	    URL:         "https://my-agent.up.railway.app",
	    AgentSource: "/agents/my-agent",
	    CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	    Status:      types.DeploymentStatusRunning,
	})

# Concurrency

The store assumes a single writer per state directory. The internal
mutex serializes writers within one process; the atomic rename keeps
concurrent readers from ever observing a half-written file. Running
two managers against the same directory is not supported.

# Troubleshooting

Deleting the last record fails with ErrEmptyOverwrite, as does
importing an empty document over non-empty state. Blanking the state
is done by removing deployments.json by hand, never through the API.

To restore from a backup, stop the manager and copy the backup over
deployments.json.

# See Also

  - pkg/types: the Deployment record and its Valid check
  - cmd/agentrun: the deployments CLI subcommands
*/
package deployments
