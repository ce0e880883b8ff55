// Package testschema is a minimal reference schema.DataSchema
// implementation: note/book/film/task/asset document types. It exists so
// pkg/manager's tests and the demonstration CLI have a concrete schema to
// drive without depending on a real domain plug-in (spec §1's "the
// domain schema is a plug-in; the core ships only a minimal reference
// schema for its own tests and demos").
package testschema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mbme/arhiv-sub000/pkg/schema"
)

// DataVersion is this reference schema's current format version.
const DataVersion = 1

const (
	TypeNote  = "note"
	TypeBook  = "book"
	TypeFilm  = "film"
	TypeTask  = "task"
	TypeAsset = "asset"
)

// Schema implements schema.DataSchema.
type Schema struct{}

// New returns the reference schema.
func New() *Schema { return &Schema{} }

var _ schema.DataSchema = (*Schema)(nil)

func (s *Schema) DataVersion() uint8 { return DataVersion }

func (s *Schema) KnownDocumentTypes() []string {
	return []string{TypeNote, TypeBook, TypeFilm, TypeTask, TypeAsset}
}

var fieldsByType = map[string][]schema.Field{
	TypeNote: {
		{Name: "title", Type: schema.FieldString, Mandatory: true},
		{Name: "content", Type: schema.FieldMarkupString},
		{Name: "collections", Type: schema.FieldCollections, RefType: TypeNote},
	},
	TypeBook: {
		{Name: "title", Type: schema.FieldString, Mandatory: true},
		{Name: "author", Type: schema.FieldPeople},
		{Name: "read", Type: schema.FieldFlag},
		{Name: "pages", Type: schema.FieldNaturalNumber},
		{Name: "cover", Type: schema.FieldBLOBId},
		{Name: "related", Type: schema.FieldRefList, RefType: "*"},
	},
	TypeFilm: {
		{Name: "title", Type: schema.FieldString, Mandatory: true},
		{Name: "director", Type: schema.FieldPeople},
		{Name: "countries", Type: schema.FieldCountries},
		{Name: "watched", Type: schema.FieldFlag},
		{Name: "poster", Type: schema.FieldBLOBId},
	},
	TypeTask: {
		{Name: "title", Type: schema.FieldString, Mandatory: true},
		{Name: "done", Type: schema.FieldFlag},
		{Name: "due", Type: schema.FieldDate},
		{Name: "estimate", Type: schema.FieldDuration},
		{Name: "status", Type: schema.FieldEnum, EnumOptions: []string{"todo", "doing", "done"}, EnumOrder: []string{"doing", "todo", "done"}},
		{Name: "blockedBy", Type: schema.FieldRefList, RefType: TypeTask},
	},
	TypeAsset: {
		{Name: "filename", Type: schema.FieldString, Mandatory: true, Readonly: true},
		{Name: "media_type", Type: schema.FieldString, Mandatory: true, Readonly: true},
		{Name: "size", Type: schema.FieldNaturalNumber, Mandatory: true, Readonly: true},
		{Name: "blob_id", Type: schema.FieldBLOBId, Mandatory: true, Readonly: true},
		// blob_key holds the per-BLOB encryption key CreateAsset writes and
		// GetAssetData reads; the validator rejects undeclared fields, so it
		// is declared here like the others.
		{Name: "blob_key", Type: schema.FieldString, Mandatory: true, Readonly: true},
	},
}

func (s *Schema) IterFields(documentType, subtype string) ([]schema.Field, error) {
	fields, ok := fieldsByType[documentType]
	if !ok {
		return nil, fmt.Errorf("testschema: unknown document type %q", documentType)
	}

	out := make([]schema.Field, 0, len(fields))
	for _, f := range fields {
		if f.AppliesToSubtype(subtype) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Schema) TitleFormat(documentType string, data map[string]json.RawMessage) string {
	switch documentType {
	case TypeAsset:
		return stringField(data, "filename")
	default:
		if title := stringField(data, "title"); title != "" {
			return title
		}
		return fmt.Sprintf("<untitled %s>", documentType)
	}
}

func (s *Schema) Search(documentType string, data map[string]json.RawMessage, pattern string) float64 {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return 1
	}

	haystack := strings.ToLower(s.TitleFormat(documentType, data))
	if documentType == TypeNote {
		haystack += " " + strings.ToLower(stringField(data, "content"))
	}

	if strings.Contains(haystack, pattern) {
		return 1
	}
	return 0
}

func stringField(data map[string]json.RawMessage, field string) string {
	raw, ok := data[field]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}
