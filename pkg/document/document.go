// Package document implements Arhiv's Document value type and the
// DocumentData JSON payload it carries (spec §3.3).
package document

import (
	"encoding/json"
	"time"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/revision"
)

// ErasedType is the sentinel document_type value marking a tombstoned
// document. Erasure is terminal (spec §3.3).
const ErasedType = ""

// Data is the dynamic, schema-validated field map. The schema - not the
// Go type system - enforces shapes (spec §9 "Dynamic JSON values in typed
// slots").
type Data map[string]json.RawMessage

// Get returns the raw JSON value for a field, or nil if absent.
func (d Data) Get(field string) json.RawMessage {
	if d == nil {
		return nil
	}
	return d[field]
}

// Set stores a Go value as the field's JSON representation.
func (d Data) Set(field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	d[field] = raw
	return nil
}

// SetRaw stores an already-encoded JSON value.
func (d Data) SetRaw(field string, raw json.RawMessage) {
	d[field] = raw
}

// Remove deletes a field.
func (d Data) Remove(field string) {
	delete(d, field)
}

// Clone returns a shallow copy (RawMessage values are treated as
// immutable once set).
func (d Data) Clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Equal compares two Data maps field by field, by the raw JSON bytes of
// each value.
func (d Data) Equal(other Data) bool {
	if len(d) != len(other) {
		return false
	}
	for k, v := range d {
		ov, ok := other[k]
		if !ok || string(v) != string(ov) {
			return false
		}
	}
	return true
}

// DocRevision is either a real vector clock or the distinguished STAGED
// sentinel (spec §3.2). STAGED documents never carry a real Revision.
type DocRevision struct {
	Staged bool
	Real   revision.Revision
}

// Staged constructs the STAGED sentinel revision.
func Staged() DocRevision { return DocRevision{Staged: true} }

// RealRev wraps a concrete vector-clock revision.
func RealRev(r revision.Revision) DocRevision { return DocRevision{Real: r} }

func (r DocRevision) String() string {
	if r.Staged {
		return "null"
	}
	return r.Real.Serialize()
}

// Document is one immutable snapshot, or the currently staged edit, of an
// identified piece of content (spec §3.3).
type Document struct {
	Id           arhivid.Id
	DocumentType string
	Subtype      string
	Rev          DocRevision
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Data         Data
}

// wireDocument is the on-disk / on-wire JSON shape. Rev is "null" for a
// staged document and the canonical revision object otherwise, matching
// the original's Revision::to_string convention.
type wireDocument struct {
	Id           arhivid.Id      `json:"id"`
	DocumentType string          `json:"document_type"`
	Subtype      string          `json:"subtype,omitempty"`
	Rev          json.RawMessage `json:"rev"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Data         Data            `json:"data"`
}

// MarshalJSON renders the wire form used by both Storage snapshots and the
// State file's staged-document slot.
func (d Document) MarshalJSON() ([]byte, error) {
	var rev json.RawMessage
	if d.Rev.Staged {
		rev = []byte("null")
	} else {
		rev = []byte(d.Rev.Real.Serialize())
	}

	return json.Marshal(wireDocument{
		Id:           d.Id,
		DocumentType: d.DocumentType,
		Subtype:      d.Subtype,
		Rev:          rev,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		Data:         d.Data,
	})
}

// UnmarshalJSON parses the wire form back into a Document.
func (d *Document) UnmarshalJSON(data []byte) error {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	d.Id = w.Id
	d.DocumentType = w.DocumentType
	d.Subtype = w.Subtype
	d.CreatedAt = w.CreatedAt
	d.UpdatedAt = w.UpdatedAt
	d.Data = w.Data
	if d.Data == nil {
		d.Data = Data{}
	}

	if len(w.Rev) == 0 || string(w.Rev) == "null" {
		d.Rev = Staged()
		return nil
	}

	var rev revision.Revision
	if err := json.Unmarshal(w.Rev, &rev); err != nil {
		return err
	}
	d.Rev = RealRev(rev)
	return nil
}

// IsErased reports whether this snapshot is the erasure tombstone.
func (d *Document) IsErased() bool {
	return d.DocumentType == ErasedType
}

// IsStaged reports whether this snapshot carries the STAGED sentinel.
func (d *Document) IsStaged() bool {
	return d.Rev.Staged
}

// Stage forces the document's revision to the STAGED sentinel.
func (d *Document) Stage() {
	d.Rev = Staged()
}

// Clone returns a deep-enough copy for safe mutation.
func (d *Document) Clone() *Document {
	clone := *d
	clone.Data = d.Data.Clone()
	return &clone
}

// NewErased returns an erased snapshot derived from d: empty data, erased
// type, staged for commit (spec §3.3 invariant "an erased snapshot has
// empty data").
func NewErased(d *Document, now time.Time) *Document {
	erased := d.Clone()
	erased.DocumentType = ErasedType
	erased.Subtype = ""
	erased.Data = Data{}
	erased.UpdatedAt = now
	erased.Stage()
	return erased
}

// Key identifies one immutable snapshot: (id, rev).
type Key struct {
	Id  arhivid.Id
	Rev revision.Revision
}

func NewKey(id arhivid.Id, rev revision.Revision) Key {
	return Key{Id: id, Rev: rev}
}

// Serialize renders the canonical storage-key form "<id> <rev-file-form>".
func (k Key) Serialize() string {
	return string(k.Id) + " " + k.Rev.ToFileName()
}

// ParseKey parses the Serialize form back into a Key.
func ParseKey(value string) (Key, error) {
	for i := 0; i < len(value); i++ {
		if value[i] == ' ' {
			rev, err := revision.FromFileName(value[i+1:])
			if err != nil {
				return Key{}, err
			}
			return Key{Id: arhivid.Id(value[:i]), Rev: rev}, nil
		}
	}
	return Key{}, errInvalidKey(value)
}

type keyError string

func (e keyError) Error() string { return "invalid document key: " + string(e) }

func errInvalidKey(value string) error { return keyError(value) }

// Refs summarizes the outgoing reference graph of one committed snapshot,
// computed mechanically by the schema from its field descriptors
// (spec §3.4 "derived reference graph").
type Refs struct {
	Documents   map[arhivid.Id]struct{}
	Blobs       map[arhivid.BLOBId]struct{}
	Collections map[arhivid.Id]struct{}
}

func NewRefs() Refs {
	return Refs{
		Documents:   map[arhivid.Id]struct{}{},
		Blobs:       map[arhivid.BLOBId]struct{}{},
		Collections: map[arhivid.Id]struct{}{},
	}
}

func (r *Refs) AddDocument(id arhivid.Id)     { r.Documents[id] = struct{}{} }
func (r *Refs) AddBlob(id arhivid.BLOBId)     { r.Blobs[id] = struct{}{} }
func (r *Refs) AddCollection(id arhivid.Id)   { r.Collections[id] = struct{}{} }
