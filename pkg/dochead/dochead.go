// Package dochead implements DocumentHead (spec §3.4): everything the
// State layer knows about one document id - its committed snapshot(s),
// its staged edit if any, and its lifecycle transitions.
//
// Grounded on original_source/baza/src/baza_state/document_head.rs.
package dochead

import (
	"time"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/revision"
)

// Head groups everything known about one Id. Committed cardinality is 0
// (brand-new local doc), 1 (normal), or >1 (unresolved concurrent edits,
// a conflict).
type Head struct {
	Committed      []*document.Document
	Staged         *document.Document
	SnapshotsCount int
}

// NewStaged creates a brand-new local document: no committed snapshots,
// staged holds doc.
func NewStaged(doc *document.Document) *Head {
	doc.Stage()
	return &Head{Staged: doc}
}

// NewCommitted creates a head for a document that already has committed
// snapshot(s) on disk, with nothing currently staged.
func NewCommitted(committed []*document.Document, snapshotsCount int) *Head {
	return &Head{Committed: committed, SnapshotsCount: snapshotsCount}
}

// IsNewDocument reports committed empty, staged present.
func (h *Head) IsNewDocument() bool { return len(h.Committed) == 0 && h.Staged != nil }

// IsStaged reports whether a staged edit is present.
func (h *Head) IsStaged() bool { return h.Staged != nil }

// IsCommitted reports staged absent.
func (h *Head) IsCommitted() bool { return h.Staged == nil }

// IsConflict reports more than one committed snapshot.
func (h *Head) IsConflict() bool { return len(h.Committed) > 1 }

// IsUnresolvedConflict reports conflict with no staged resolution.
func (h *Head) IsUnresolvedConflict() bool { return h.IsConflict() && h.Staged == nil }

// IsResolvedConflict reports conflict with a staged resolution pending
// commit.
func (h *Head) IsResolvedConflict() bool { return h.IsConflict() && h.Staged != nil }

// IsOriginalErased reports a single committed snapshot that is itself the
// erasure tombstone.
func (h *Head) IsOriginalErased() bool {
	return len(h.Committed) == 1 && h.Committed[0].IsErased()
}

// IsStagedErased reports a staged edit that is the erasure tombstone.
func (h *Head) IsStagedErased() bool {
	return h.Staged != nil && h.Staged.IsErased()
}

// Id returns the id this head belongs to, taken from whichever snapshot
// is present.
func (h *Head) Id() string {
	if h.Staged != nil {
		return string(h.Staged.Id)
	}
	if len(h.Committed) > 0 {
		return string(h.Committed[0].Id)
	}
	return ""
}

// Modify replaces the staged edit with doc, preserving id and refreshing
// updated_at. Forbidden once the original committed snapshot is erased
// (erasure is terminal, spec §3.3/§3.4).
func (h *Head) Modify(doc *document.Document, now time.Time) error {
	if h.IsOriginalErased() {
		return arhiverr.InvariantViolation("cannot modify erased document %s", h.Id())
	}
	doc.Stage()
	doc.UpdatedAt = now
	h.Staged = doc
	return nil
}

// Reset drops the staged edit. Returns false when the head had no
// committed revisions, meaning the head ceases to exist entirely (a
// brand-new document's staging was abandoned).
func (h *Head) Reset() bool {
	h.Staged = nil
	return len(h.Committed) > 0
}

// Commit requires a staged edit and a newRev strictly newer than every
// existing committed revision; the result has exactly one committed
// snapshot (the staged document retagged with newRev), staged cleared,
// and snapshots_count incremented.
func (h *Head) Commit(newRev revision.Revision) error {
	if h.Staged == nil {
		return arhiverr.InvariantViolation("cannot commit %s: nothing staged", h.Id())
	}

	for _, committed := range h.Committed {
		if !newRev.IsNewerThan(committed.Rev.Real) {
			return arhiverr.InvariantViolation(
				"cannot commit %s: new revision %s is not newer than committed revision %s",
				h.Id(), newRev.Serialize(), committed.Rev.Real.Serialize())
		}
	}

	committed := h.Staged
	committed.Rev = document.RealRev(newRev)
	h.Committed = []*document.Document{committed}
	h.Staged = nil
	h.SnapshotsCount++
	return nil
}
