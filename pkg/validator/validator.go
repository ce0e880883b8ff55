// Package validator implements schema-driven field & ref validation at
// staging time (spec §4.3 stage contract, §9 "the schema, not the
// language type system, validates shapes").
//
// Grounded on original_source's field descriptor model referenced by
// arhiv-core/src/schema/field.rs and cuemby-warren's error-wrapping
// idiom, adapted to
// return pkg/arhiverr's typed ValidationError instead of a generic error.
package validator

import (
	"encoding/json"
	"strconv"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/schema"
)

// RefResolver answers existence questions the validator needs to check
// document_ref / collection_ref fields without depending on the State
// package (which itself depends on validator).
type RefResolver interface {
	DocumentExists(id arhivid.Id) bool
	CollectionExists(id arhivid.Id) bool
}

// Validate checks doc against the fields the schema declares for its
// document_type/subtype, returning a populated *arhiverr.ValidationError
// (HasErrors() true) on any failure, or nil if doc is valid. Erased
// documents (empty data by invariant) are never validated.
func Validate(sch schema.DataSchema, doc *document.Document, refs RefResolver) *arhiverr.ValidationError {
	if doc.IsErased() {
		return nil
	}

	result := arhiverr.NewValidationError()

	known := false
	for _, dt := range sch.KnownDocumentTypes() {
		if dt == doc.DocumentType {
			known = true
			break
		}
	}
	if !known {
		result.AddDocument("unknown document_type " + doc.DocumentType)
		return result
	}

	fields, err := sch.IterFields(doc.DocumentType, doc.Subtype)
	if err != nil {
		result.AddDocument(err.Error())
		return result
	}

	declared := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if !field.AppliesToSubtype(doc.Subtype) {
			continue
		}
		declared[field.Name] = struct{}{}
		validateField(field, doc.Data.Get(field.Name), refs, result)
	}

	for name := range doc.Data {
		if _, ok := declared[name]; !ok {
			result.AddField(name, "field not declared by schema")
		}
	}

	if result.HasErrors() {
		return result
	}
	return nil
}

func validateField(field schema.Field, raw json.RawMessage, refs RefResolver, result *arhiverr.ValidationError) {
	if len(raw) == 0 || string(raw) == "null" {
		if field.Mandatory {
			result.AddField(field.Name, "mandatory field missing")
		}
		return
	}

	switch field.Type {
	case schema.FieldString, schema.FieldMarkupString, schema.FieldPeople, schema.FieldCountries:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			result.AddField(field.Name, "expected a string")
		}

	case schema.FieldFlag:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			result.AddField(field.Name, "expected a boolean")
		}

	case schema.FieldNaturalNumber:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			result.AddField(field.Name, "expected a number")
			return
		}
		if v, err := strconv.ParseInt(n.String(), 10, 64); err != nil || v < 0 {
			result.AddField(field.Name, "expected a non-negative integer")
		}

	case schema.FieldRef:
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			result.AddField(field.Name, "expected a document id")
			return
		}
		if id != "" && refs != nil && !refs.DocumentExists(arhivid.Id(id)) {
			result.AddField(field.Name, "referenced document "+id+" does not exist")
		}

	case schema.FieldRefList:
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			result.AddField(field.Name, "expected a list of document ids")
			return
		}
		if refs != nil {
			for _, id := range ids {
				if !refs.DocumentExists(arhivid.Id(id)) {
					result.AddField(field.Name, "referenced document "+id+" does not exist")
				}
			}
		}

	case schema.FieldCollections:
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			result.AddField(field.Name, "expected a list of collection ids")
			return
		}
		if refs != nil {
			for _, id := range ids {
				if !refs.CollectionExists(arhivid.Id(id)) {
					result.AddField(field.Name, "referenced collection "+id+" does not exist")
				}
			}
		}

	case schema.FieldBLOBId:
		var blobId string
		if err := json.Unmarshal(raw, &blobId); err != nil || blobId == "" {
			result.AddField(field.Name, "expected a non-empty blob id")
		}

	case schema.FieldEnum:
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			result.AddField(field.Name, "expected a string")
			return
		}
		valid := false
		for _, opt := range field.EnumOptions {
			if opt == value {
				valid = true
				break
			}
		}
		if !valid {
			result.AddField(field.Name, "value "+value+" is not one of the declared enum options")
		}

	case schema.FieldDate, schema.FieldDuration:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			result.AddField(field.Name, "expected a non-empty string")
		}
	}
}
