package validator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/schema"
)

type fakeSchema struct{ fields []schema.Field }

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

type fakeRefs struct{ docs map[string]bool }

func (r fakeRefs) DocumentExists(id arhivid.Id) bool   { return r.docs[string(id)] }
func (r fakeRefs) CollectionExists(id arhivid.Id) bool { return r.docs[string(id)] }

func noteDoc(data map[string]any) *document.Document {
	d := &document.Document{Id: arhivid.Id("a"), DocumentType: "note", Data: document.Data{}}
	for k, v := range data {
		_ = d.Data.Set(k, v)
	}
	return d
}

func TestValidateMandatoryMissing(t *testing.T) {
	sch := fakeSchema{fields: []schema.Field{{Name: "title", Type: schema.FieldString, Mandatory: true}}}
	err := Validate(sch, noteDoc(nil), nil)
	require.NotNil(t, err)
	require.Len(t, err.FieldErrors, 1)
}

func TestValidateUnknownField(t *testing.T) {
	sch := fakeSchema{fields: []schema.Field{{Name: "title", Type: schema.FieldString}}}
	err := Validate(sch, noteDoc(map[string]any{"title": "hi", "bogus": 1}), nil)
	require.NotNil(t, err)
	require.Len(t, err.FieldErrors, 1)
}

func TestValidateRefMustExist(t *testing.T) {
	sch := fakeSchema{fields: []schema.Field{{Name: "parent", Type: schema.FieldRef}}}
	refs := fakeRefs{docs: map[string]bool{"known": true}}

	ok := Validate(sch, noteDoc(map[string]any{"parent": "known"}), refs)
	require.Nil(t, ok)

	bad := Validate(sch, noteDoc(map[string]any{"parent": "missing"}), refs)
	require.NotNil(t, bad)
}

func TestValidateEnumOptions(t *testing.T) {
	sch := fakeSchema{fields: []schema.Field{
		{Name: "status", Type: schema.FieldEnum, EnumOptions: []string{"open", "closed"}},
	}}

	require.Nil(t, Validate(sch, noteDoc(map[string]any{"status": "open"}), nil))
	require.NotNil(t, Validate(sch, noteDoc(map[string]any{"status": "bogus"}), nil))
}

func TestValidateUnknownDocumentType(t *testing.T) {
	sch := fakeSchema{}
	doc := noteDoc(nil)
	doc.DocumentType = "unknown"
	err := Validate(sch, doc, nil)
	require.NotNil(t, err)
	require.Len(t, err.DocumentErrors, 1)
}

func TestValidateErasedSkipsChecks(t *testing.T) {
	sch := fakeSchema{fields: []schema.Field{{Name: "title", Type: schema.FieldString, Mandatory: true}}}
	doc := noteDoc(nil)
	doc.DocumentType = document.ErasedType
	require.Nil(t, Validate(sch, doc, nil))
}
