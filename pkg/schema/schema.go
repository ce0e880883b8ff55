// Package schema defines the plug-in contract between the core and the
// domain schema (spec §1 "the domain schema ... is a plug-in to the core,
// not part of it"). The core only depends on these interfaces; concrete
// document types (note, book, film, task, asset, ...) live outside it.
//
// Grounded on original_source/arhiv-core/src/schema/field.rs.
package schema

import (
	"encoding/json"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
)

// FieldType enumerates the field kinds the merge expert and validator
// understand (spec §4.6 merge-rule table).
type FieldType int

const (
	FieldString FieldType = iota
	FieldMarkupString
	FieldFlag
	FieldNaturalNumber
	FieldRef
	FieldRefList
	FieldBLOBId
	FieldEnum
	FieldDate
	FieldDuration
	FieldPeople
	FieldCountries
	FieldCollections
)

// Field describes one schema-declared field of a document type.
type Field struct {
	Name          string
	Type          FieldType
	Mandatory     bool
	Readonly      bool
	RefType       string   // for FieldRef / FieldRefList / FieldCollections: target document_type, "*" for any
	EnumOptions   []string // for FieldEnum
	EnumOrder     []string // for FieldEnum query ordering (spec §4.4)
	ForSubtypes   []string // nil means "applies to all subtypes"
}

// AppliesToSubtype reports whether this field is declared for the given
// subtype (empty ForSubtypes means "all").
func (f Field) AppliesToSubtype(subtype string) bool {
	if len(f.ForSubtypes) == 0 {
		return true
	}
	for _, s := range f.ForSubtypes {
		if s == subtype {
			return true
		}
	}
	return false
}

// IsMergeableText reports whether the field uses the word-level three-way
// text merge rule (spec §4.6).
func (f Field) IsMergeableText() bool {
	switch f.Type {
	case FieldString, FieldMarkupString, FieldPeople, FieldCountries:
		return true
	default:
		return false
	}
}

// IsMergeableList reports whether the field uses the token-level
// three-way sequence merge rule.
func (f Field) IsMergeableList() bool {
	return f.Type == FieldRefList || f.Type == FieldCollections
}

// DataSchema is the contract a domain schema implementation must satisfy.
type DataSchema interface {
	// DataVersion is the schema's current data format version, compared
	// against the stored state's version to trigger migrations (spec §4.11).
	DataVersion() uint8

	// IterFields returns the fields declared for a document type, filtered
	// to those applicable to subtype (empty subtype matches all).
	IterFields(documentType, subtype string) ([]Field, error)

	// TitleFormat renders a short human title for a document, used by UI
	// and conflict-review surfaces. Not exercised by the core itself
	// beyond being a pass-through of the plug-in contract.
	TitleFormat(documentType string, data map[string]json.RawMessage) string

	// Search computes the query engine's match score for pattern against a
	// document's searchable fields (spec §4.4); score <= 0 means no match.
	Search(documentType string, data map[string]json.RawMessage, pattern string) float64

	// KnownDocumentTypes lists every registered document type; the
	// validator uses it to reject documents of unknown types.
	KnownDocumentTypes() []string
}

// Id is re-exported for schema implementations that only need the id type.
type Id = arhivid.Id
