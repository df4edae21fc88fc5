/*
Package archive stores compressed workspace snapshots in an embedded
bbolt database. It is the persistence layer behind archive-mode mounts:
when a sandbox is released its workspace is tarred, gzipped, and saved
under the session's storage prefix; when the session re-attaches the
snapshot is extracted back into a fresh workspace directory.

# Architecture

	Save(prefix, dir)                    Restore(prefix, dir)
	   |                                    |
	   v                                    v
	tar + gzip dir  ------ bbolt ------>  extract into dir
	                 bucket "archives"
	                 key = prefix

One database file holds every snapshot. Keys are storage prefixes
(conventionally <session-id>/workspace) and values are complete
tarballs; Save replaces the previous snapshot for the prefix. Bolt
iterates keys in byte order, so List output is sorted.

# Safety

Extraction rejects entries whose resolved path would land outside the
target directory, so a crafted snapshot cannot write through ../
entries. Symlinks are restored as symlinks with their original targets;
they are not followed during extraction.

# Troubleshooting

Restore fails with "archive not found":

  - Cause: the record's storage_path points at a prefix that was
    deleted or never saved
  - Check: agentrun deployments get <session-id> for the storage path,
    then Store.List for the prefixes that exist
  - Solution: release re-creates the snapshot on the next archive-mode
    detach; a missing snapshot only costs the workspace history

Database stays locked after a crash:

  - Cause: bolt holds an exclusive flock; another manager process is
    still attached
  - Check: fuser <archive path>
  - Solution: stop the other process; the store is single-writer

# Integration Points

  - pkg/mounts: ArchiveProvisioner saves on release and restores on
    re-attach
  - pkg/config: archive.enabled and archive.path select and place the
    database

# See Also

  - pkg/mounts for the provisioner that drives this store
  - pkg/deployments for the JSON record store (separate file, separate
    concerns)
*/
package archive
