package mergeexpert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/schema"
)

type fakeSchema struct {
	fields []schema.Field
}

func (f fakeSchema) DataVersion() uint8 { return 1 }

func (f fakeSchema) IterFields(documentType, subtype string) ([]schema.Field, error) {
	return f.fields, nil
}

func (f fakeSchema) TitleFormat(documentType string, data map[string]json.RawMessage) string {
	return ""
}

func (f fakeSchema) Search(documentType string, data map[string]json.RawMessage, pattern string) float64 {
	return 0
}

func (f fakeSchema) KnownDocumentTypes() []string { return []string{"note"} }

func noteSchema() fakeSchema {
	return fakeSchema{fields: []schema.Field{
		{Name: "title", Type: schema.FieldString},
		{Name: "tags", Type: schema.FieldRefList},
		{Name: "pinned", Type: schema.FieldFlag},
	}}
}

func mustDoc(t *testing.T, id string, updatedAt time.Time, fields map[string]any) *document.Document {
	t.Helper()
	d := &document.Document{
		Id:           arhivid.Id(id),
		DocumentType: "note",
		UpdatedAt:    updatedAt,
		Data:         document.Data{},
	}
	for k, v := range fields {
		require.NoError(t, d.Data.Set(k, v))
	}
	return d
}

func TestMergeSnapshotsTextAndList(t *testing.T) {
	sch := noteSchema()
	now := time.Now()

	base := mustDoc(t, "a", now, map[string]any{
		"title": "a good test", "tags": []string{"x", "y"}, "pinned": false,
	})
	left := mustDoc(t, "a", now.Add(time.Minute), map[string]any{
		"title": "a bad test", "tags": []string{"x", "y", "z"}, "pinned": true,
	})
	right := mustDoc(t, "a", now.Add(2*time.Minute), map[string]any{
		"title": "a good text", "tags": []string{"w", "x", "y"}, "pinned": false,
	})

	merged, err := MergeSnapshots(sch, base, []*document.Document{left, right})
	require.NoError(t, err)

	var title string
	require.NoError(t, json.Unmarshal(merged.Data.Get("title"), &title))
	require.Equal(t, "a bad text", title)

	var pinned bool
	require.NoError(t, json.Unmarshal(merged.Data.Get("pinned"), &pinned))
	require.Equal(t, false, pinned) // right (later) wins via LWW
}

func TestMergeSnapshotsAllErasedReturnsOldest(t *testing.T) {
	sch := noteSchema()
	now := time.Now()

	older := mustDoc(t, "a", now, nil)
	older.DocumentType = document.ErasedType
	newer := mustDoc(t, "a", now.Add(time.Hour), nil)
	newer.DocumentType = document.ErasedType

	merged, err := MergeSnapshots(sch, nil, []*document.Document{newer, older})
	require.NoError(t, err)
	require.True(t, merged.IsErased())
	require.Equal(t, older.UpdatedAt, merged.UpdatedAt)
}

func TestMergeSnapshotsSingleSurvivorShortcut(t *testing.T) {
	sch := noteSchema()
	now := time.Now()

	erased := mustDoc(t, "a", now, nil)
	erased.DocumentType = document.ErasedType
	survivor := mustDoc(t, "a", now.Add(time.Minute), map[string]any{"title": "hi"})

	merged, err := MergeSnapshots(sch, nil, []*document.Document{erased, survivor})
	require.NoError(t, err)
	require.False(t, merged.IsErased())

	var title string
	require.NoError(t, json.Unmarshal(merged.Data.Get("title"), &title))
	require.Equal(t, "hi", title)
}
