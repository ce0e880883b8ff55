// Package paths defines the on-disk layout (spec §6.1) and the OS
// advisory process lock guarding it.
package paths

import (
	"path/filepath"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
)

// Layout resolves the fixed file names under a storage_dir / state_dir
// pair by joining them onto those directories.
type Layout struct {
	StorageDir string
	StateDir   string
}

// NewLayout builds a Layout rooted at the given directories.
func NewLayout(storageDir, stateDir string) Layout {
	return Layout{StorageDir: storageDir, StateDir: stateDir}
}

// DB is the main encrypted storage container.
func (l Layout) DB() string { return filepath.Join(l.StorageDir, "db") }

// PeerDB is a transient peer container awaiting merge (spec §4.2
// "db.<peer>").
func (l Layout) PeerDB(peer string) string {
	return filepath.Join(l.StorageDir, "db."+peer)
}

// StorageBlobsDir is where committed, encrypted BLOBs live.
func (l Layout) StorageBlobsDir() string { return filepath.Join(l.StorageDir, "blobs") }

// StorageBlobPath is the path of one committed BLOB.
func (l Layout) StorageBlobPath(id arhivid.BLOBId) string {
	return filepath.Join(l.StorageBlobsDir(), id.String())
}

// Keyfile holds the data key, encrypted under the password-derived key.
func (l Layout) Keyfile() string { return filepath.Join(l.StorageDir, "keyfile") }

// State is the encrypted DocumentHead map plus the data_version. The
// replica's instance id is kept in the keyfile, not in this file.
func (l Layout) State() string { return filepath.Join(l.StateDir, "state") }

// Locks is the encrypted lock table.
func (l Layout) Locks() string { return filepath.Join(l.StateDir, "locks") }

// SearchIndex is the path reserved for an encrypted inverted index.
// Nothing in this module reads or writes it; search scores are computed
// by the schema at query time.
func (l Layout) SearchIndex() string { return filepath.Join(l.StateDir, "search_index") }

// StateBlobsDir is where staged, not-yet-committed BLOBs live.
func (l Layout) StateBlobsDir() string { return filepath.Join(l.StateDir, "blobs") }

// StateBlobPath is the path of one staged BLOB.
func (l Layout) StateBlobPath(id arhivid.BLOBId) string {
	return filepath.Join(l.StateBlobsDir(), id.String())
}

// Lockfile is the OS advisory lock sentinel path.
func (l Layout) Lockfile() string { return filepath.Join(l.StateDir, "lockfile") }
