package document

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/revision"
)

func TestDocumentMarshalStaged(t *testing.T) {
	doc := &Document{
		Id:           arhivid.Id("doc-1"),
		DocumentType: "note",
		Rev:          Staged(),
		CreatedAt:    time.Unix(0, 0).UTC(),
		UpdatedAt:    time.Unix(0, 0).UTC(),
		Data:         Data{},
	}
	_ = doc.Data.Set("title", "hello")

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}

	var roundTripped Document
	if err := json.Unmarshal(raw, &roundTripped); err != nil {
		t.Fatal(err)
	}

	if !roundTripped.IsStaged() {
		t.Fatalf("expected round-tripped document to remain staged")
	}
	if string(roundTripped.Data.Get("title")) != `"hello"` {
		t.Fatalf("data not preserved: %v", roundTripped.Data)
	}
}

func TestDocumentMarshalCommitted(t *testing.T) {
	rev := revision.Revision{arhivid.InstanceId("a"): 1}
	doc := &Document{
		Id:           arhivid.Id("doc-1"),
		DocumentType: "note",
		Rev:          RealRev(rev),
		Data:         Data{},
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}

	var roundTripped Document
	if err := json.Unmarshal(raw, &roundTripped); err != nil {
		t.Fatal(err)
	}
	if roundTripped.IsStaged() {
		t.Fatalf("expected committed document")
	}
	if !roundTripped.Rev.Real.Equal(rev) {
		t.Fatalf("rev mismatch: %v != %v", roundTripped.Rev.Real, rev)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	rev := revision.Revision{arhivid.InstanceId("a"): 1, arhivid.InstanceId("b"): 2}
	key := NewKey(arhivid.Id("doc-1"), rev)

	serialized := key.Serialize()
	if serialized != "doc-1 a:1-b:2" {
		t.Fatalf("unexpected serialization: %q", serialized)
	}

	parsed, err := ParseKey(serialized)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Id != key.Id || !parsed.Rev.Equal(key.Rev) {
		t.Fatalf("round trip mismatch: %+v != %+v", parsed, key)
	}
}

func TestNewErased(t *testing.T) {
	doc := &Document{
		Id:           arhivid.Id("doc-1"),
		DocumentType: "note",
		Rev:          RealRev(revision.Revision{arhivid.InstanceId("a"): 1}),
		Data:         Data{"title": json.RawMessage(`"hi"`)},
	}

	erased := NewErased(doc, time.Now())
	if !erased.IsErased() {
		t.Fatalf("expected erased document")
	}
	if len(erased.Data) != 0 {
		t.Fatalf("erased document must have empty data, got %v", erased.Data)
	}
	if !erased.IsStaged() {
		t.Fatalf("erased document must be staged for commit")
	}
}
