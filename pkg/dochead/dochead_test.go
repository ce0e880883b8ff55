package dochead

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/revision"
)

func newDoc(id string) *document.Document {
	return &document.Document{
		Id:           arhivid.Id(id),
		DocumentType: "note",
		Data:         document.Data{},
	}
}

func TestNewStagedIsNewDocument(t *testing.T) {
	h := NewStaged(newDoc("a"))
	require.True(t, h.IsNewDocument())
	require.True(t, h.IsStaged())
	require.False(t, h.IsCommitted())
}

func TestCommitClearsStaging(t *testing.T) {
	h := NewStaged(newDoc("a"))
	rev := revision.Revision{arhivid.InstanceId("i"): 1}

	require.NoError(t, h.Commit(rev))
	require.True(t, h.IsCommitted())
	require.Equal(t, 1, h.SnapshotsCount)
	require.Len(t, h.Committed, 1)
	require.True(t, h.Committed[0].Rev.Real.Equal(rev))
}

func TestCommitRequiresNewerRevision(t *testing.T) {
	doc := newDoc("a")
	doc.Rev = document.RealRev(revision.Revision{arhivid.InstanceId("i"): 2})
	h := NewCommitted([]*document.Document{doc}, 1)

	staged := newDoc("a")
	require.NoError(t, h.Modify(staged, time.Now()))

	err := h.Commit(revision.Revision{arhivid.InstanceId("i"): 1})
	require.Error(t, err)
}

func TestModifyForbiddenOnErasedOriginal(t *testing.T) {
	erased := newDoc("a")
	erased.DocumentType = document.ErasedType
	erased.Rev = document.RealRev(revision.Revision{arhivid.InstanceId("i"): 1})
	h := NewCommitted([]*document.Document{erased}, 1)

	require.True(t, h.IsOriginalErased())
	err := h.Modify(newDoc("a"), time.Now())
	require.Error(t, err)
}

func TestResetDropsBrandNewHead(t *testing.T) {
	h := NewStaged(newDoc("a"))
	stillExists := h.Reset()
	require.False(t, stillExists)
}

func TestResetKeepsCommittedHead(t *testing.T) {
	doc := newDoc("a")
	doc.Rev = document.RealRev(revision.Revision{arhivid.InstanceId("i"): 1})
	h := NewCommitted([]*document.Document{doc}, 1)
	require.NoError(t, h.Modify(newDoc("a"), time.Now()))

	stillExists := h.Reset()
	require.True(t, stillExists)
	require.False(t, h.IsStaged())
}

func TestConflictPredicates(t *testing.T) {
	docA := newDoc("a")
	docA.Rev = document.RealRev(revision.Revision{arhivid.InstanceId("x"): 1})
	docB := newDoc("a")
	docB.Rev = document.RealRev(revision.Revision{arhivid.InstanceId("y"): 1})

	h := NewCommitted([]*document.Document{docA, docB}, 2)
	require.True(t, h.IsConflict())
	require.True(t, h.IsUnresolvedConflict())
	require.False(t, h.IsResolvedConflict())

	require.NoError(t, h.Modify(newDoc("a"), time.Now()))
	require.True(t, h.IsResolvedConflict())
	require.False(t, h.IsUnresolvedConflict())
}
