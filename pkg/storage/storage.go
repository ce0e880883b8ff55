// Package storage implements the durable, shareable Storage component
// (spec §4.2): a keyed-line container file whose first line is the
// serialized Info record and whose remaining lines are committed
// Document snapshots keyed by their canonical DocumentKey, plus the
// on-disk BLOB directory.
//
// Grounded on original_source/baza/src/baza2/baza_storage.rs
// (BazaInfo/BazaDocumentKey/DocumentsIndex/BazaIterator), layered on
// pkg/container and pkg/cryptostream instead of the original's
// Confidential1/gzip stack.
package storage

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/container"
	"github.com/mbme/arhiv-sub000/pkg/cryptostream"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/revision"
)

// infoKey is the fixed key under which the Info record is stored: the
// container's first line (spec §4.2 "whose first line is the serialized
// BazaInfo").
const infoKey = "info"

// Info is the per-archive compatibility record; data_version and
// storage_version must match between State and Storage (spec §3.5).
type Info struct {
	DataVersion    uint8 `json:"data_version"`
	StorageVersion uint8 `json:"storage_version"`
}

// Equal reports whether two Info records match field-for-field.
func (i Info) Equal(other Info) bool {
	return i.DataVersion == other.DataVersion && i.StorageVersion == other.StorageVersion
}

// Record pairs a parsed DocumentKey with its Document snapshot.
type Record struct {
	Key document.Key
	Doc *document.Document
}

// File is a fully-parsed Storage container, held in memory for merge and
// query purposes. Large archives would stream instead; this core keeps
// the representation simple and leaves streaming to the container layer
// it is built on.
type File struct {
	Info    Info
	Records []Record
}

// Read opens and fully decodes a Storage container file.
func Read(r io.Reader, key cryptostream.Key) (*File, error) {
	plain, err := cryptostream.NewCompressedReader(r, key)
	if err != nil {
		return nil, err
	}
	defer plain.Close()

	cr, err := container.NewReader(plain)
	if err != nil {
		return nil, err
	}

	infoKeyRead, infoLine, err := cr.Next()
	if err != nil {
		return nil, arhiverr.Corrupted(err, "failed to read storage info record")
	}
	if infoKeyRead != infoKey {
		return nil, arhiverr.Corrupted(nil, "storage file missing leading info record")
	}

	var info Info
	if err := json.Unmarshal(infoLine, &info); err != nil {
		return nil, arhiverr.Corrupted(err, "failed to parse storage info record")
	}

	var records []Record
	for {
		keyRaw, line, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		docKey, err := document.ParseKey(keyRaw)
		if err != nil {
			return nil, arhiverr.Corrupted(err, "invalid storage document key %q", keyRaw)
		}

		var doc document.Document
		if err := json.Unmarshal(line, &doc); err != nil {
			return nil, arhiverr.Corrupted(err, "failed to parse stored document %q", keyRaw)
		}

		records = append(records, Record{Key: docKey, Doc: &doc})
	}

	return &File{Info: info, Records: records}, nil
}

// Contains reports whether f holds a record under key. It scans Records
// linearly; File keeps no key index.
func (f *File) Contains(key document.Key) bool {
	serialized := key.Serialize()
	for _, rec := range f.Records {
		if rec.Key.Serialize() == serialized {
			return true
		}
	}
	return false
}

// AllRevisions returns every stored revision, across every document id,
// for global latest-revision computation.
func (f *File) AllRevisions() []revision.Revision {
	revs := make([]revision.Revision, 0, len(f.Records))
	for _, rec := range f.Records {
		revs = append(revs, rec.Key.Rev)
	}
	return revs
}

// DocumentRevisions returns the revisions stored for a single id.
func (f *File) DocumentRevisions(id string) []revision.Revision {
	var revs []revision.Revision
	for _, rec := range f.Records {
		if string(rec.Key.Id) == id {
			revs = append(revs, rec.Key.Rev)
		}
	}
	return revs
}

// Write streams Info followed by records (in argument order) into w,
// through the compress-then-encrypt envelope.
func Write(w io.Writer, key cryptostream.Key, info Info, records []Record) error {
	sealed, err := cryptostream.NewCompressedWriter(w, key)
	if err != nil {
		return err
	}
	defer sealed.Close()

	infoLine, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal storage info: %w", err)
	}

	keys := make([]string, 0, len(records)+1)
	keys = append(keys, infoKey)
	for _, rec := range records {
		keys = append(keys, rec.Key.Serialize())
	}

	idx, err := container.NewIndex(keys)
	if err != nil {
		return err
	}

	cw := container.NewWriter(sealed)
	if err := cw.WriteIndex(idx); err != nil {
		return err
	}
	if err := cw.WriteLine(infoLine); err != nil {
		return err
	}
	for _, rec := range records {
		line, err := json.Marshal(rec.Doc)
		if err != nil {
			return fmt.Errorf("failed to marshal document %s: %w", rec.Key.Id, err)
		}
		if err := cw.WriteLine(line); err != nil {
			return err
		}
	}
	return cw.Close()
}

// AppendAndSave writes a new Storage file containing f's existing records
// plus newRecords appended, keeping Info unchanged (spec §4.2
// "Append-only semantics ... new revisions add new keys, never mutate old
// ones"). WriteGuard.Commit does not call it; it rebuilds the main db
// with Write.
func (f *File) AppendAndSave(w io.Writer, key cryptostream.Key, newRecords []Record) error {
	for _, rec := range newRecords {
		if f.Contains(rec.Key) {
			return arhiverr.InvariantViolation("duplicate storage key %s", rec.Key.Serialize())
		}
	}
	all := make([]Record, 0, len(f.Records)+len(newRecords))
	all = append(all, f.Records...)
	all = append(all, newRecords...)
	return Write(w, key, f.Info, all)
}
