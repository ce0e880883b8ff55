// Package manager implements the Manager facade (spec §4.10): the single
// entry point external collaborators (sync transport, UI server, scraper,
// CLI) use to open an archive and drive it through reader/writer guards.
//
// Grounded on cuemby-warren/pkg/scheduler/scheduler.go's RWMutex-guarded
// struct wrapping shared state, and on
// original_source/baza/src/baza2/baza_manager/mod.rs for the
// create/unlock/lock/open/open_mut contract and the 13-step commit
// sequence (§4.8) this replaces cuemby-warren's raft-based Manager with.
package manager

import (
	"os"
	"sync"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/cryptostream"
	"github.com/mbme/arhiv-sub000/pkg/migrations"
	"github.com/mbme/arhiv-sub000/pkg/paths"
	"github.com/mbme/arhiv-sub000/pkg/schema"
	"github.com/mbme/arhiv-sub000/pkg/state"
	"github.com/mbme/arhiv-sub000/pkg/storage"
)

// Info is the archive's compatibility record plus its replica identity,
// the read-only facts get_info/get_instance_id expose (spec §6.2).
type Info struct {
	DataVersion    uint8
	StorageVersion uint8
	SelfInstance   arhivid.InstanceId
}

// storageVersion is this core's on-disk Storage format version (spec
// §6.1's storage_version byte inside the Info record).
const storageVersion = 1

// Manager owns the archive's paths, its pluggable schema, and - once
// unlocked - the data key plus a cached State, guarded by mu (spec §4.10
// "RwLock over an optional cached State and an optional data key").
type Manager struct {
	mu sync.RWMutex

	layout     paths.Layout
	schema     schema.DataSchema
	migrations *migrations.Engine

	dataKey      *cryptostream.Key
	selfInstance arhivid.InstanceId

	// refreshMu serializes the on-disk-change check every open/open_mut
	// does, independent of mu so concurrent readers can still proceed
	// once the check is done (spec §5 "read guards may be held
	// concurrently").
	refreshMu          sync.Mutex
	cached             *state.State
	cachedStateModTime int64

	processLock *paths.ProcessLock
}

// New builds a Manager over storageDir/stateDir, locked until Create or
// Unlock is called. engine may be nil for schemas that have never shipped
// a migration.
func New(storageDir, stateDir string, sch schema.DataSchema, engine *migrations.Engine) *Manager {
	return &Manager{
		layout:     paths.NewLayout(storageDir, stateDir),
		schema:     sch,
		migrations: engine,
	}
}

// IsUnlocked reports whether the data key is currently held in memory.
func (m *Manager) IsUnlocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dataKey != nil
}

// Create initializes a brand-new archive protected by password: a fresh
// data key, a fresh replica identity, an empty main db, and a keyfile
// wrapping the data key under the password-derived key (spec §6.1's key
// hierarchy).
func (m *Manager) Create(password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.layout.Keyfile()); err == nil {
		return arhiverr.AlreadyExists("archive already initialized at %s", m.layout.StorageDir)
	}

	if err := os.MkdirAll(m.layout.StorageBlobsDir(), 0o700); err != nil {
		return arhiverr.IO(err, "failed to create storage blobs dir")
	}
	if err := os.MkdirAll(m.layout.StateBlobsDir(), 0o700); err != nil {
		return arhiverr.IO(err, "failed to create state blobs dir")
	}

	dataKey, err := cryptostream.GenerateKey()
	if err != nil {
		return err
	}
	selfInstance := arhivid.NewInstanceId()

	if err := writeKeyfile(m.layout.Keyfile(), password, keyfilePayload{
		DataKey:      dataKey,
		SelfInstance: selfInstance,
	}); err != nil {
		return err
	}

	info := storage.Info{DataVersion: m.schema.DataVersion(), StorageVersion: storageVersion}
	f, err := os.OpenFile(m.layout.DB(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return arhiverr.IO(err, "failed to create main db file")
	}
	if err := storage.Write(f, dataKey, info, nil); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return arhiverr.IO(err, "failed to close main db file")
	}

	m.dataKey = &dataKey
	m.selfInstance = selfInstance
	m.cached = state.New(m.schema, selfInstance)
	m.cached.SetDataVersion(m.schema.DataVersion())

	return nil
}

// Unlock decrypts the keyfile with password and holds the data key and
// replica identity in memory, ready for open/open_mut.
func (m *Manager) Unlock(password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload, err := readKeyfile(m.layout.Keyfile(), password)
	if err != nil {
		return err
	}

	m.dataKey = &payload.DataKey
	m.selfInstance = payload.SelfInstance
	return nil
}

// Lock drops the data key and any cached State from memory, releasing the
// OS lockfile if held.
func (m *Manager) Lock() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		m.cached.LogIfDirty()
	}

	var err error
	if m.processLock != nil {
		err = m.processLock.Release()
		m.processLock = nil
	}

	m.dataKey = nil
	m.cached = nil
	m.cachedStateModTime = 0
	return err
}

// ChangeKeyfilePassword re-encrypts the keyfile's payload under a new
// password, verifying oldPassword first.
func (m *Manager) ChangeKeyfilePassword(oldPassword, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload, err := readKeyfile(m.layout.Keyfile(), oldPassword)
	if err != nil {
		return err
	}

	tmpPath := m.layout.Keyfile() + ".rekey"
	if err := writeKeyfile(tmpPath, newPassword, payload); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, m.layout.Keyfile()); err != nil {
		return arhiverr.IO(err, "failed to install re-encrypted keyfile")
	}
	return nil
}

// ensureFresh reloads the cached State from disk if the on-disk state
// file has changed since the cache was built (spec §4.10 "every
// open/open_mut checks whether the on-disk state file has changed").
func (m *Manager) ensureFresh() error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.RLock()
	dataKey := m.dataKey
	cached := m.cached
	lastModTime := m.cachedStateModTime
	m.mu.RUnlock()

	if dataKey == nil {
		return arhiverr.Locked("archive at %s is locked", m.layout.StorageDir)
	}

	info, err := os.Stat(m.layout.State())
	if err != nil {
		if os.IsNotExist(err) {
			if cached != nil {
				return nil
			}
		} else {
			return arhiverr.IO(err, "failed to stat state file")
		}
	} else if cached != nil && info.ModTime().UnixNano() <= lastModTime {
		return nil
	}

	reloaded, err := state.Load(m.layout, *dataKey, m.schema, m.selfInstance)
	if err != nil {
		return err
	}

	if m.migrations != nil {
		if err := m.migrations.Run(reloaded, m.schema.DataVersion()); err != nil {
			return err
		}
	}

	var modTime int64
	if info != nil {
		modTime = info.ModTime().UnixNano()
	}

	m.mu.Lock()
	m.cached = reloaded
	m.cachedStateModTime = modTime
	m.mu.Unlock()

	return nil
}

// Open returns a read guard over the cached State, refreshing it from
// disk first if another process has written a newer one. Multiple read
// guards may be held concurrently (spec §5).
func (m *Manager) Open() (*ReadGuard, error) {
	if err := m.ensureFresh(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	return &ReadGuard{m: m}, nil
}

// OpenMut returns a write guard holding both the in-process write lock and
// the OS advisory lockfile (spec §4.10). If another process already holds
// the lockfile, returns arhiverr.Locked immediately rather than blocking -
// paths.TryAcquireProcessLock's flock(LOCK_NB) idiom, already used
// elsewhere in this core, over a blocking variant that would tie up the
// calling goroutine indefinitely.
func (m *Manager) OpenMut() (*WriteGuard, error) {
	if err := m.ensureFresh(); err != nil {
		return nil, err
	}

	processLock, err := paths.TryAcquireProcessLock(m.layout.Lockfile())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.processLock = processLock
	return &WriteGuard{ReadGuard: ReadGuard{m: m}}, nil
}

// GetSchema returns the archive's plugged-in schema.
func (m *Manager) GetSchema() schema.DataSchema { return m.schema }

// GetInstanceId returns this replica's identity. Only meaningful once
// unlocked.
func (m *Manager) GetInstanceId() arhivid.InstanceId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selfInstance
}

// GetInfo returns the archive's compatibility record.
func (m *Manager) GetInfo() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dataVersion := m.schema.DataVersion()
	if m.cached != nil {
		dataVersion = m.cached.DataVersion()
	}
	return Info{DataVersion: dataVersion, StorageVersion: storageVersion, SelfInstance: m.selfInstance}
}
