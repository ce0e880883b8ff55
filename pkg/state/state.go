// Package state implements the in-memory State layer (spec §4.3): the
// document_id -> DocumentHead map, the in-document lock table, the
// derived reference graph, and the mutators/read helpers the Manager and
// query engine drive it through.
//
// Grounded on original_source/baza/src/baza_state/baza_state.rs.
package state

import (
	"fmt"
	"sort"
	"time"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/arhivlog"
	"github.com/mbme/arhiv-sub000/pkg/dochead"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/mergeexpert"
	"github.com/mbme/arhiv-sub000/pkg/query"
	"github.com/mbme/arhiv-sub000/pkg/revision"
	"github.com/mbme/arhiv-sub000/pkg/schema"
	"github.com/mbme/arhiv-sub000/pkg/validator"
)

// Lock is one in-document lock (spec §4.5), distinct from the OS-level
// process lock in pkg/paths.
type Lock struct {
	Key       string    `json:"key"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// State holds everything the Manager needs between commits: the document
// map, the lock table, and the derived backreference index. Not safe for
// concurrent use; the Manager serializes access with its RwLock.
type State struct {
	schema       schema.DataSchema
	selfInstance arhivid.InstanceId

	documents map[arhivid.Id]*dochead.Head
	locks     map[arhivid.Id]Lock

	// dataVersion is the schema data format version this State's documents
	// currently conform to (spec §4.11); migrations bump it one step at a
	// time as they run.
	dataVersion uint8

	// refIndex maps a referenced id to the set of ids that reference it,
	// rebuilt on open and maintained incrementally (spec §4.3 "derived
	// reference graph").
	refIndex map[arhivid.Id]map[arhivid.Id]struct{}

	modified bool
}

// New returns an empty State for a fresh archive.
func New(sch schema.DataSchema, selfInstance arhivid.InstanceId) *State {
	return &State{
		schema:       sch,
		selfInstance: selfInstance,
		documents:    make(map[arhivid.Id]*dochead.Head),
		locks:        make(map[arhivid.Id]Lock),
		refIndex:     make(map[arhivid.Id]map[arhivid.Id]struct{}),
	}
}

// Modified reports whether any mutator has run since the last Save.
func (s *State) Modified() bool { return s.modified }

// DataVersion returns the schema data format version this State's
// documents currently conform to (spec §4.11).
func (s *State) DataVersion() uint8 { return s.dataVersion }

// SetDataVersion records that every document now conforms to version,
// called by pkg/migrations after it finishes one migration step.
func (s *State) SetDataVersion(version uint8) {
	s.dataVersion = version
	s.modified = true
}

// ApplyMigration runs fn over every head's current view and, where fn
// reports a change, stages the result (spec §4.11 "migrations operate on
// the current State ... the next commit propagates the changes").
// Returns the number of documents it changed. Erased documents are left
// alone: their data is empty by invariant, so no migration can have
// anything to do to them.
func (s *State) ApplyMigration(fn func(*document.Document) (*document.Document, bool)) int {
	now := time.Now()
	changed := 0

	for id, head := range s.documents {
		doc := currentView(head)
		if doc == nil || doc.IsErased() {
			continue
		}

		migrated, didChange := fn(doc.Clone())
		if !didChange {
			continue
		}

		if err := head.Modify(migrated, now); err != nil {
			arhivlog.Warn(fmt.Sprintf("migration could not update document %s: %v", id, err))
			continue
		}

		s.reindexRefs(id)
		changed++
	}

	if changed > 0 {
		s.modified = true
	}

	return changed
}

// ---- validator.RefResolver ----

// DocumentExists reports whether id names a document with some live
// (non-erased) snapshot, staged or committed. Satisfies
// validator.RefResolver and doubles as CollectionExists: the core has no
// separate notion of "collection" document, only documents referenced
// via a Collections-typed field.
func (s *State) DocumentExists(id arhivid.Id) bool {
	head, ok := s.documents[id]
	if !ok {
		return false
	}
	doc := currentView(head)
	return doc != nil && !doc.IsErased()
}

// CollectionExists is an alias of DocumentExists: any live document can
// be the target of a Collections-typed field.
func (s *State) CollectionExists(id arhivid.Id) bool {
	return s.DocumentExists(id)
}

// currentView returns the snapshot filter/query/backref code should treat
// as "the user's current view" of a head: its staged edit if any, else
// its latest committed snapshot (spec §4.4). For an unresolved conflict
// (multiple committed, nothing staged) this deterministically picks the
// first committed snapshot; it is expected to be rare and short-lived.
func currentView(head *dochead.Head) *document.Document {
	if head.Staged != nil {
		return head.Staged
	}
	if len(head.Committed) > 0 {
		return head.Committed[0]
	}
	return nil
}

// computeRefs mechanically derives a Refs summary from a document's data
// using the schema's field descriptors (spec §3.4), the same dispatch
// validator.Validate uses to check ref/collection fields exist.
func computeRefs(sch schema.DataSchema, doc *document.Document) document.Refs {
	refs := document.NewRefs()
	if doc == nil || doc.IsErased() {
		return refs
	}

	fields, err := sch.IterFields(doc.DocumentType, doc.Subtype)
	if err != nil {
		return refs
	}

	for _, field := range fields {
		if !field.AppliesToSubtype(doc.Subtype) {
			continue
		}
		raw := doc.Data.Get(field.Name)
		if len(raw) == 0 {
			continue
		}

		switch field.Type {
		case schema.FieldRef:
			var id string
			if jsonUnmarshalString(raw, &id) && id != "" {
				refs.AddDocument(arhivid.Id(id))
			}

		case schema.FieldRefList:
			for _, id := range jsonUnmarshalStrings(raw) {
				refs.AddDocument(arhivid.Id(id))
			}

		case schema.FieldCollections:
			for _, id := range jsonUnmarshalStrings(raw) {
				refs.AddCollection(arhivid.Id(id))
			}

		case schema.FieldBLOBId:
			var blobID string
			if jsonUnmarshalString(raw, &blobID) && blobID != "" {
				refs.AddBlob(arhivid.BLOBId(blobID))
			}
		}
	}

	return refs
}

// ComputeRefs exposes computeRefs to callers outside the package - the
// Manager, to work out which BLOBs a freshly committed batch of documents
// references (spec §4.8 step 7).
func (s *State) ComputeRefs(doc *document.Document) document.Refs {
	return computeRefs(s.schema, doc)
}

// ReferencedBlobs unions the BLOB refs of every document's current view,
// the "allReferenced" set commit uses to garbage-collect storage BLOBs no
// longer pointed to by anything (spec §4.2 "BLOB placement on commit").
func (s *State) ReferencedBlobs() map[arhivid.BLOBId]struct{} {
	out := map[arhivid.BLOBId]struct{}{}
	for _, head := range s.documents {
		refs := computeRefs(s.schema, currentView(head))
		for id := range refs.Blobs {
			out[id] = struct{}{}
		}
	}
	return out
}

// ErasedLatestRev reports the committed revision of id's erasure tombstone
// when id's head is currently a fully resolved erasure (one committed
// snapshot, itself erased, nothing staged): every older stored snapshot of
// id is then garbage (spec §4.8 step 9 "erasure garbage-collects history").
func (s *State) ErasedLatestRev(id arhivid.Id) (revision.Revision, bool) {
	head, ok := s.documents[id]
	if !ok || !head.IsOriginalErased() {
		return nil, false
	}
	return head.Committed[0].Rev.Real, true
}

// reindexRefs recomputes the backreference entries contributed by id's
// current view, replacing whatever it previously contributed.
func (s *State) reindexRefs(id arhivid.Id) {
	for target, referencers := range s.refIndex {
		delete(referencers, id)
		if len(referencers) == 0 {
			delete(s.refIndex, target)
		}
	}

	head, ok := s.documents[id]
	if !ok {
		return
	}
	doc := currentView(head)
	refs := computeRefs(s.schema, doc)
	for target := range refs.Documents {
		s.addBackref(target, id)
	}
	for target := range refs.Collections {
		s.addBackref(target, id)
	}
}

func (s *State) addBackref(target, referencer arhivid.Id) {
	set, ok := s.refIndex[target]
	if !ok {
		set = make(map[arhivid.Id]struct{})
		s.refIndex[target] = set
	}
	set[referencer] = struct{}{}
}

// ---- mutators ----

func (s *State) checkLock(id arhivid.Id, lockKey string) error {
	lock, locked := s.locks[id]
	if !locked {
		return nil
	}
	if lock.Key != lockKey {
		return arhiverr.Locked("document %s is locked: %s", id, lock.Reason)
	}
	return nil
}

// Stage validates doc against the schema and stages it as the head's
// pending edit (spec §4.3 stage contract).
func (s *State) Stage(doc *document.Document, lockKey string) error {
	if err := s.checkLock(doc.Id, lockKey); err != nil {
		return err
	}
	if verr := validator.Validate(s.schema, doc, s); verr != nil {
		return verr
	}

	now := time.Now()
	head, ok := s.documents[doc.Id]
	if !ok {
		staged := doc.Clone()
		staged.UpdatedAt = now
		if staged.CreatedAt.IsZero() {
			staged.CreatedAt = now
		}
		s.documents[doc.Id] = dochead.NewStaged(staged)
	} else {
		if err := head.Modify(doc.Clone(), now); err != nil {
			return err
		}
	}

	s.reindexRefs(doc.Id)
	s.modified = true
	return nil
}

// Erase clones the latest live snapshot of id, marks it erased, and
// stages it. Idempotent once the document is already erased; refuses to
// erase an unresolved conflict (resolve it first).
func (s *State) Erase(id arhivid.Id) error {
	head, ok := s.documents[id]
	if !ok {
		return arhiverr.NotFound("document %s not found", id)
	}

	if head.Staged != nil && head.Staged.IsErased() {
		return nil
	}
	if head.Staged == nil && head.IsOriginalErased() {
		return nil
	}

	var base *document.Document
	switch {
	case head.Staged != nil:
		base = head.Staged
	case head.IsConflict():
		return arhiverr.InvariantViolation("cannot erase %s: resolve its conflict first", id)
	case len(head.Committed) == 1:
		base = head.Committed[0]
	default:
		return arhiverr.InvariantViolation("document %s has no snapshot to erase", id)
	}

	now := time.Now()
	erased := document.NewErased(base, now)
	if err := head.Modify(erased, now); err != nil {
		return err
	}

	s.reindexRefs(id)
	s.modified = true
	return nil
}

// Reset drops id's staged edit. If the head had no committed revisions
// (a brand-new, never-committed document), the head is removed entirely.
func (s *State) Reset(id arhivid.Id, lockKey string) error {
	head, ok := s.documents[id]
	if !ok {
		return arhiverr.NotFound("document %s not found", id)
	}
	if err := s.checkLock(id, lockKey); err != nil {
		return err
	}

	if !head.Reset() {
		delete(s.documents, id)
	}

	s.reindexRefs(id)
	s.modified = true
	return nil
}

// InsertHead installs head wholesale, used by Storage -> State replay.
// Forbidden when an existing head is currently staged, since replay must
// never clobber a pending local edit.
func (s *State) InsertHead(head *dochead.Head) error {
	id := arhivid.Id(head.Id())
	if existing, ok := s.documents[id]; ok && existing.IsStaged() {
		return arhiverr.InvariantViolation("cannot insert_head over staged document %s", id)
	}

	s.documents[id] = head
	s.reindexRefs(id)
	s.modified = true
	return nil
}

// Commit retags every currently staged head with a freshly computed
// revision shared by the whole batch, and returns the newly committed
// snapshots (spec §4.6 "same new_rev ... every committed-this-cycle
// document", §4.8 step 5). The rest of the commit sequence - storage I/O,
// blob moves, the filesystem transaction - is the Manager's job.
func (s *State) Commit() ([]*document.Document, error) {
	if len(s.locks) > 0 {
		return nil, arhiverr.Locked("cannot commit while %d document(s) are locked", len(s.locks))
	}

	var allCommittedRevs []revision.Revision
	var staged []*dochead.Head
	for _, head := range s.documents {
		for _, d := range head.Committed {
			allCommittedRevs = append(allCommittedRevs, d.Rev.Real)
		}
		if head.Staged != nil {
			staged = append(staged, head)
		}
	}

	if len(staged) == 0 {
		return nil, nil
	}

	newRev := revision.NextRev(allCommittedRevs, s.selfInstance)

	committed := make([]*document.Document, 0, len(staged))
	for _, head := range staged {
		if err := head.Commit(newRev); err != nil {
			return nil, err
		}
		committed = append(committed, head.Committed[0])
	}

	s.modified = true
	return committed, nil
}

// Lock creates a fresh unguessable lock_key for id and returns it; the
// caller must remember it, since it is never stored in the clear for
// later retrieval (spec §4.5).
func (s *State) Lock(id arhivid.Id, reason string) (string, error) {
	if _, ok := s.documents[id]; !ok {
		return "", arhiverr.NotFound("document %s not found", id)
	}
	if _, locked := s.locks[id]; locked {
		return "", arhiverr.Locked("document %s is already locked", id)
	}

	key := arhivid.NewLockKey()
	s.locks[id] = Lock{Key: key, Reason: reason, Timestamp: time.Now()}
	s.modified = true
	return key, nil
}

// Unlock releases id's lock, requiring an exact key match.
func (s *State) Unlock(id arhivid.Id, key string) error {
	lock, ok := s.locks[id]
	if !ok {
		return arhiverr.NotFound("document %s is not locked", id)
	}
	if lock.Key != key {
		return arhiverr.Locked("lock key mismatch for document %s", id)
	}
	delete(s.locks, id)
	s.modified = true
	return nil
}

// UnlockWithoutKey is the administrative override: releases id's lock
// regardless of who holds the key.
func (s *State) UnlockWithoutKey(id arhivid.Id) error {
	if _, ok := s.locks[id]; !ok {
		return arhiverr.NotFound("document %s is not locked", id)
	}
	delete(s.locks, id)
	s.modified = true
	return nil
}

// HasLocks reports whether any document is currently locked; Commit
// refuses to run while this is true.
func (s *State) HasLocks() bool { return len(s.locks) > 0 }

// ---- read-only helpers (spec §4.3) ----

// Get returns id's head, if any.
func (s *State) Get(id arhivid.Id) (*dochead.Head, bool) {
	head, ok := s.documents[id]
	return head, ok
}

// MustGet returns id's head or a NotFound error.
func (s *State) MustGet(id arhivid.Id) (*dochead.Head, error) {
	head, ok := s.documents[id]
	if !ok {
		return nil, arhiverr.NotFound("document %s not found", id)
	}
	return head, nil
}

// FindBackrefs returns the ids of documents whose current view
// references id (directly, or as a collection member), sorted for
// deterministic output.
func (s *State) FindBackrefs(id arhivid.Id) []arhivid.Id {
	set, ok := s.refIndex[id]
	if !ok {
		return nil
	}
	out := make([]arhivid.Id, 0, len(set))
	for rid := range set {
		out = append(out, rid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FindCollections returns the ids of collections id's current view
// belongs to, per its schema-declared Collections-typed fields.
func (s *State) FindCollections(id arhivid.Id) []arhivid.Id {
	head, ok := s.documents[id]
	if !ok {
		return nil
	}
	refs := computeRefs(s.schema, currentView(head))
	out := make([]arhivid.Id, 0, len(refs.Collections))
	for cid := range refs.Collections {
		out = append(out, cid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LatestRevision returns the element-wise max of every committed
// revision currently known, the archive's high-water mark.
func (s *State) LatestRevision() revision.Revision {
	var revs []revision.Revision
	for _, head := range s.documents {
		for _, d := range head.Committed {
			revs = append(revs, d.Rev.Real)
		}
	}
	return revision.MergeAll(revs)
}

// FindLastModificationTime returns the latest UpdatedAt across every
// document's current view.
func (s *State) FindLastModificationTime() time.Time {
	var latest time.Time
	for _, head := range s.documents {
		doc := currentView(head)
		if doc != nil && doc.UpdatedAt.After(latest) {
			latest = doc.UpdatedAt
		}
	}
	return latest
}

// IterDocuments returns one query.Candidate per head's current view, the
// input the query engine filters and scores.
func (s *State) IterDocuments() []query.Candidate {
	out := make([]query.Candidate, 0, len(s.documents))
	for _, head := range s.documents {
		doc := currentView(head)
		if doc == nil {
			continue
		}
		out = append(out, query.Candidate{
			Doc:      doc,
			IsStaged: head.IsStaged(),
			Refs:     computeRefs(s.schema, doc),
		})
	}
	return out
}

// Query runs the query engine (spec §4.4) over the current view.
func (s *State) Query(filter query.Filter) query.Result {
	return query.Execute(s.IterDocuments(), s.schema, filter)
}

// ---- conflict detection & replay (spec §4.6) ----

// LoadSnapshots builds a head for id from its full stored history and
// installs it via InsertHead. When the history's maximal revisions (per
// the vector-clock partial order) number more than one, the document is
// in conflict: the merge expert runs immediately against the newest
// common ancestor it can find, and the result is staged automatically
// (the head becomes is_resolved_conflict until the user commits).
func (s *State) LoadSnapshots(id arhivid.Id, history []*document.Document) error {
	if len(history) == 0 {
		return nil
	}

	revs := make([]revision.Revision, len(history))
	byRev := make(map[string]*document.Document, len(history))
	for i, d := range history {
		revs[i] = d.Rev.Real
		byRev[d.Rev.Real.Serialize()] = d
	}

	latestRevs := revision.GetLatestRev(revs)
	latest := make([]*document.Document, len(latestRevs))
	for i, r := range latestRevs {
		latest[i] = byRev[r.Serialize()]
	}

	head := dochead.NewCommitted(latest, len(history))

	if len(latest) > 1 {
		base := findBaseRevision(history, latest)
		merged, err := mergeexpert.MergeSnapshots(s.schema, base, latest)
		if err != nil {
			return err
		}
		if err := head.Modify(merged, time.Now()); err != nil {
			return err
		}
	}

	return s.InsertHead(head)
}

// findBaseRevision finds the newest common ancestor of headSet within
// history: a snapshot strictly older than every element of headSet,
// maximal among such snapshots, ties broken by canonical rev
// serialization (spec §4.6). Returns nil if no common ancestor exists.
func findBaseRevision(history, headSet []*document.Document) *document.Document {
	var ancestorRevs []revision.Revision
	byRev := make(map[string]*document.Document, len(history))

	for _, snap := range history {
		isAncestor := true
		for _, head := range headSet {
			if !snap.Rev.Real.IsOlderThan(head.Rev.Real) {
				isAncestor = false
				break
			}
		}
		if isAncestor {
			ancestorRevs = append(ancestorRevs, snap.Rev.Real)
			byRev[snap.Rev.Real.Serialize()] = snap
		}
	}

	if len(ancestorRevs) == 0 {
		return nil
	}

	maximal := revision.GetLatestRev(ancestorRevs)
	sort.Slice(maximal, func(i, j int) bool {
		return maximal[i].Serialize() > maximal[j].Serialize()
	})
	return byRev[maximal[0].Serialize()]
}
