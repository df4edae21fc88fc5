/*
Package mounts provisions the host-side workspace directory each
sandbox binds at /workspace, and owns its lifecycle across attach,
release, and re-attach.

# Architecture

	Connect                              Release
	   |                                    |
	   v                                    v
	Prepare(sessionID)                Release(sessionID, dir, keep)
	   |                                    |
	   |  local:   mkdir base/<id>/workspace|  local:   keep ? noop : rm -r
	   |  archive: mkdir + restore snapshot |  archive: keep ? save : drop
	   v                                    v
	(mountDir, storagePath)           directory gone (archive mode)

Two provisioners implement the same interface. LocalProvisioner keeps
workspaces as plain directories; a kept workspace simply stays at its
deterministic path until the session returns. ArchiveProvisioner
layers the snapshot store on top: release tars the workspace away and
re-attach extracts it into a fresh directory, so workspace state
survives even though no directory outlives the sandbox.

storagePath is the archive prefix recorded on the deployment record;
it is empty in local mode.

# Readonly Mounts

The configured host→container readonly map rides along on every
create request unmodified. Readonly returns a defensive copy so a
driver mutating its request cannot write back into shared config.

# Troubleshooting

Workspace empty after re-attach in archive mode:

  - Cause: the previous release ran with keep=false, or the snapshot
    was pruned from the archive store
  - Check: the record's storage_path against Store.List output
  - Solution: only destroy-path releases drop snapshots; pool and
    normal detach keep them

Base directory fills up:

  - Cause: crashed sessions left workspaces behind in local mode
  - Check: directories under mounts.base_dir with no matching record
  - Solution: manager Cleanup releases workspaces with keep=false;
    stragglers can be removed by hand, names are session ids

# Integration Points

  - pkg/archive: snapshot persistence behind ArchiveProvisioner
  - pkg/manager: calls Prepare on connect, Reset on pool reuse, and
    Release on the destroy path
  - pkg/config: mounts.base_dir, mounts.readonly_mounts,
    archive.enabled

# See Also

  - pkg/archive for snapshot storage details
  - pkg/driver for how mountDir becomes a bind mount
*/
package mounts
