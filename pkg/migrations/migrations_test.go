package migrations

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/schema"
	"github.com/mbme/arhiv-sub000/pkg/state"
)

type fakeSchema struct{}

func (fakeSchema) DataVersion() uint8 { return 2 }
func (fakeSchema) IterFields(documentType, subtype string) ([]schema.Field, error) {
	return []schema.Field{{Name: "title", Type: schema.FieldString}}, nil
}
func (fakeSchema) TitleFormat(documentType string, data map[string]json.RawMessage) string {
	return ""
}
func (fakeSchema) Search(documentType string, data map[string]json.RawMessage, pattern string) float64 {
	return 0
}
func (fakeSchema) KnownDocumentTypes() []string { return []string{"note"} }

func newDoc(id, title string) *document.Document {
	d := &document.Document{Id: arhivid.Id(id), DocumentType: "note", Data: document.Data{}}
	_ = d.Data.Set("title", title)
	return d
}

func addTitlePrefix(prefix string) MigrateFunc {
	return func(doc *document.Document) (*document.Document, bool) {
		var title string
		if err := json.Unmarshal(doc.Data.Get("title"), &title); err != nil {
			return doc, false
		}
		_ = doc.Data.Set("title", prefix+title)
		return doc, true
	}
}

func TestRunAppliesSequentialSteps(t *testing.T) {
	s := state.New(fakeSchema{}, arhivid.InstanceId("self"))
	require.NoError(t, s.Stage(newDoc("a", "hello"), ""))
	_, err := s.Commit()
	require.NoError(t, err)

	engine := NewEngine(0,
		Step{Version: 1, Migrate: addTitlePrefix("v1:")},
		Step{Version: 2, Migrate: addTitlePrefix("v2:")},
	)

	require.NoError(t, engine.Run(s, 2))
	require.Equal(t, uint8(2), s.DataVersion())

	head, ok := s.Get(arhivid.Id("a"))
	require.True(t, ok)
	var title string
	require.NoError(t, json.Unmarshal(head.Staged.Data.Get("title"), &title))
	require.Equal(t, "v2:v1:hello", title)
}

func TestRunSkipsWhenAlreadyCurrent(t *testing.T) {
	s := state.New(fakeSchema{}, arhivid.InstanceId("self"))
	s.SetDataVersion(2)

	ran := false
	engine := NewEngine(0, Step{Version: 1, Migrate: func(doc *document.Document) (*document.Document, bool) {
		ran = true
		return doc, true
	}})

	require.NoError(t, engine.Run(s, 2))
	require.False(t, ran)
}

func TestRunFailsBelowMinSupported(t *testing.T) {
	s := state.New(fakeSchema{}, arhivid.InstanceId("self"))
	s.SetDataVersion(0)

	engine := NewEngine(1, Step{Version: 2, Migrate: func(doc *document.Document) (*document.Document, bool) {
		return doc, false
	}})

	err := engine.Run(s, 2)
	require.Error(t, err)
}
