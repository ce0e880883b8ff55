package query

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/schema"
)

type fakeSchema struct{}

func (fakeSchema) DataVersion() uint8 { return 1 }

func (fakeSchema) IterFields(documentType, subtype string) ([]schema.Field, error) {
	return nil, nil
}

func (fakeSchema) TitleFormat(documentType string, data map[string]json.RawMessage) string {
	return ""
}

func (fakeSchema) Search(documentType string, data map[string]json.RawMessage, pattern string) float64 {
	raw, ok := data["title"]
	if !ok {
		return 0
	}
	var title string
	if err := json.Unmarshal(raw, &title); err != nil {
		return 0
	}
	if strings.Contains(strings.ToLower(title), strings.ToLower(pattern)) {
		return 1
	}
	return 0
}

func (fakeSchema) KnownDocumentTypes() []string { return []string{"note"} }

func doc(id string, title string, updatedAt time.Time) *document.Document {
	d := &document.Document{Id: arhivid.Id(id), DocumentType: "note", UpdatedAt: updatedAt, Data: document.Data{}}
	_ = d.Data.Set("title", title)
	return d
}

func TestExecuteFiltersByDocumentType(t *testing.T) {
	a := Candidate{Doc: doc("a", "Hello", time.Now())}
	b := Candidate{Doc: &document.Document{Id: "b", DocumentType: "task", Data: document.Data{}}}

	res := Execute([]Candidate{a, b}, fakeSchema{}, Filter{DocumentTypes: []string{"note"}})
	require.Len(t, res.Items, 1)
	require.Equal(t, arhivid.Id("a"), res.Items[0].Id)
}

func TestExecuteSearchDropsNonMatches(t *testing.T) {
	a := Candidate{Doc: doc("a", "Hello world", time.Now())}
	b := Candidate{Doc: doc("b", "Goodbye", time.Now())}

	res := Execute([]Candidate{a, b}, fakeSchema{}, Filter{SearchPattern: "hello"})
	require.Len(t, res.Items, 1)
	require.Equal(t, arhivid.Id("a"), res.Items[0].Id)
}

func TestExecuteOrderByUpdatedAt(t *testing.T) {
	now := time.Now()
	a := Candidate{Doc: doc("a", "A", now)}
	b := Candidate{Doc: doc("b", "B", now.Add(time.Hour))}

	res := Execute([]Candidate{a, b}, fakeSchema{}, Filter{Order: []OrderClause{{Kind: OrderUpdatedAt, Asc: false}}})
	require.Equal(t, arhivid.Id("b"), res.Items[0].Id)
	require.Equal(t, arhivid.Id("a"), res.Items[1].Id)
}

func TestExecutePaginationHasMore(t *testing.T) {
	now := time.Now()
	cands := []Candidate{
		{Doc: doc("a", "A", now)},
		{Doc: doc("b", "B", now)},
		{Doc: doc("c", "C", now)},
	}

	res := Execute(cands, fakeSchema{}, Filter{PageSize: 2})
	require.Len(t, res.Items, 2)
	require.True(t, res.HasMore)
}

func TestExecuteSkipErased(t *testing.T) {
	erased := doc("a", "A", time.Now())
	erased.DocumentType = document.ErasedType

	res := Execute([]Candidate{{Doc: erased}}, fakeSchema{}, Filter{SkipErased: true})
	require.Empty(t, res.Items)
}
