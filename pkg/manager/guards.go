package manager

import (
	"fmt"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/arhivlog"
	"github.com/mbme/arhiv-sub000/pkg/dochead"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/query"
	"github.com/mbme/arhiv-sub000/pkg/schema"
)

// ReadGuard is a held read lock over the Manager's cached State (spec
// §6.2/§5). Every method panics in spirit but in practice just reads - the
// held RLock guarantees no concurrent writer can mutate the state out from
// under it. Callers must call Close exactly once.
type ReadGuard struct {
	m      *Manager
	closed bool
}

// Close releases the read lock. Safe to call once; a second call is a
// programmer error and panics, matching the teacher's fail-fast guard
// idiom (cuemby-warren callers never double-release a mutex either).
func (g *ReadGuard) Close() {
	if g.closed {
		panic("manager: ReadGuard closed twice")
	}
	g.closed = true
	g.m.mu.RUnlock()
}

// Get returns id's head, if any.
func (g *ReadGuard) Get(id arhivid.Id) (*dochead.Head, bool) {
	return g.m.cached.Get(id)
}

// MustGet returns id's head or a NotFound error.
func (g *ReadGuard) MustGet(id arhivid.Id) (*dochead.Head, error) {
	return g.m.cached.MustGet(id)
}

// Query runs the filter/query engine over the current view (spec §4.4).
func (g *ReadGuard) Query(filter query.Filter) query.Result {
	return g.m.cached.Query(filter)
}

// FindBackrefs returns the ids of documents whose current view references
// id.
func (g *ReadGuard) FindBackrefs(id arhivid.Id) []arhivid.Id {
	return g.m.cached.FindBackrefs(id)
}

// FindCollections returns the ids of collections id's current view
// belongs to.
func (g *ReadGuard) FindCollections(id arhivid.Id) []arhivid.Id {
	return g.m.cached.FindCollections(id)
}

// HasStagedDocuments reports whether any document currently has a pending
// staged edit.
func (g *ReadGuard) HasStagedDocuments() bool {
	for _, c := range g.m.cached.IterDocuments() {
		if c.IsStaged {
			return true
		}
	}
	return false
}

// HasConflicts reports whether any document head is an unresolved
// conflict.
func (g *ReadGuard) HasConflicts() bool {
	return len(g.IterConflicts()) > 0
}

// IterConflicts returns the ids of every document head currently in an
// unresolved conflict state (spec §4.6).
func (g *ReadGuard) IterConflicts() []arhivid.Id {
	var out []arhivid.Id
	for _, c := range g.m.cached.IterDocuments() {
		head, ok := g.m.cached.Get(c.Doc.Id)
		if ok && head.IsUnresolvedConflict() {
			out = append(out, c.Doc.Id)
		}
	}
	return out
}

// GetSchema returns the archive's plugged-in schema.
func (g *ReadGuard) GetSchema() schema.DataSchema { return g.m.schema }

// GetInfo returns the archive's compatibility record.
func (g *ReadGuard) GetInfo() Info { return g.m.GetInfo() }

// GetInstanceId returns this replica's identity.
func (g *ReadGuard) GetInstanceId() arhivid.InstanceId { return g.m.selfInstance }

// WriteGuard additionally holds the OS process lock and the mutators
// (spec §6.2 stage/erase/reset/lock/unlock/commit). Close releases both
// the process lock and the in-process write lock.
type WriteGuard struct {
	ReadGuard
}

// Close releases the process lock (if still held) and the write lock.
// Logs loudly, rather than failing, if there are unsaved changes still
// pending - mirroring State.LogIfDirty's "better a loud warning than a
// silently lost edit" stance (spec §5).
func (g *WriteGuard) Close() {
	if g.closed {
		panic("manager: WriteGuard closed twice")
	}
	g.closed = true

	if g.m.cached != nil {
		g.m.cached.LogIfDirty()
	}

	if g.m.processLock != nil {
		if err := g.m.processLock.Release(); err != nil {
			arhivlog.Error(fmt.Sprintf("failed to release process lock: %v", err))
		}
		g.m.processLock = nil
	}

	g.m.mu.Unlock()
}

// Stage validates doc and stages it as the head's pending edit.
func (g *WriteGuard) Stage(doc *document.Document, lockKey string) error {
	return g.m.cached.Stage(doc, lockKey)
}

// Erase tombstones id.
func (g *WriteGuard) Erase(id arhivid.Id) error {
	return g.m.cached.Erase(id)
}

// Reset drops id's staged edit.
func (g *WriteGuard) Reset(id arhivid.Id, lockKey string) error {
	return g.m.cached.Reset(id, lockKey)
}

// LockDocument creates a fresh lock_key for id (spec §4.5). Named
// LockDocument rather than Lock to avoid colliding with Manager.Lock.
func (g *WriteGuard) LockDocument(id arhivid.Id, reason string) (string, error) {
	return g.m.cached.Lock(id, reason)
}

// UnlockDocument releases id's lock, requiring an exact key match.
func (g *WriteGuard) UnlockDocument(id arhivid.Id, key string) error {
	return g.m.cached.Unlock(id, key)
}

// UnlockDocumentWithoutKey is the administrative override.
func (g *WriteGuard) UnlockDocumentWithoutKey(id arhivid.Id) error {
	return g.m.cached.UnlockWithoutKey(id)
}

// SaveChanges persists the cached State to state_dir if it has unsaved
// mutations (spec §4.3's "modified flag"). Unlike Commit, this never
// touches Storage: it is the cheap, frequent write staged edits use so a
// crash doesn't lose them before the next commit.
func (g *WriteGuard) SaveChanges() error {
	if g.m.dataKey == nil {
		return arhiverr.Locked("archive is locked")
	}
	if err := g.m.cached.Save(g.m.layout, *g.m.dataKey); err != nil {
		return err
	}
	info, err := statModTime(g.m.layout.State())
	if err == nil {
		g.m.cachedStateModTime = info
	}
	return nil
}
