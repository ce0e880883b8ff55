// Package container implements the keyed-line append-only container
// format used for every persisted artifact that needs streaming,
// patchable storage (spec §4.1 "Keyed-line container"): a leading index
// of keys in write order, followed by the lines themselves in that same
// order.
//
// Grounded on original_source/baza/src/baza2/baza_storage.rs, which
// layers BazaIterator/DocumentsIndex on top of a Rust ContainerReader /
// ContainerWriter / LinesIndex / Patch whose own source wasn't included
// in the retrieval pack; the on-disk framing below (length-prefixed
// index then length-prefixed lines) is a direct, idiomatic-Go expression
// of the behavior that file documents and spec §4.1 describes.
package container

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
)

// Index is the ordered list of keys a container holds, in write order.
type Index struct {
	keys []string
	set  map[string]struct{}
}

// NewIndex builds an Index from an ordered key slice, rejecting
// duplicates.
func NewIndex(keys []string) (Index, error) {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := set[k]; dup {
			return Index{}, arhiverr.Corrupted(nil, "duplicate container key %q", k)
		}
		set[k] = struct{}{}
	}
	return Index{keys: keys, set: set}, nil
}

// Keys returns the ordered key list.
func (idx Index) Keys() []string { return idx.keys }

// Len returns the number of keys.
func (idx Index) Len() int { return len(idx.keys) }

// Contains is a cheap, index-backed membership check (spec §4.2
// "contains(key) - cheap, index-backed").
func (idx Index) Contains(key string) bool {
	_, ok := idx.set[key]
	return ok
}

func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, arhiverr.Corrupted(err, "truncated container frame")
	}
	return data, nil
}

// Writer streams a container to disk: WriteIndex must be called exactly
// once before any WriteLine calls, and the number of WriteLine calls must
// equal the index length, each call supplying the line for the next key
// in index order.
type Writer struct {
	w         io.Writer
	idx       Index
	written   int
}

// NewWriter creates a streaming container writer around w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteIndex emits the container's leading index. Must be called before
// any WriteLine call.
func (cw *Writer) WriteIndex(idx Index) error {
	cw.idx = idx

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(idx.Len()))
	if _, err := cw.w.Write(countBuf[:]); err != nil {
		return fmt.Errorf("failed to write container index count: %w", err)
	}

	for _, key := range idx.keys {
		if err := writeFrame(cw.w, []byte(key)); err != nil {
			return fmt.Errorf("failed to write container index key: %w", err)
		}
	}
	return nil
}

// WriteLine writes the next line, in index order.
func (cw *Writer) WriteLine(line []byte) error {
	if cw.written >= cw.idx.Len() {
		return arhiverr.InvariantViolation("container: more lines written than index keys")
	}
	cw.written++
	return writeFrame(cw.w, line)
}

// Close verifies every indexed key received its line.
func (cw *Writer) Close() error {
	if cw.written != cw.idx.Len() {
		return arhiverr.InvariantViolation(
			"container: wrote %d lines but index has %d keys", cw.written, cw.idx.Len())
	}
	return nil
}

// Reader streams a container's records back in index order.
type Reader struct {
	r       io.Reader
	idx     Index
	pos     int
}

// NewReader reads and validates the leading index, then returns a Reader
// positioned at the first line.
func NewReader(r io.Reader) (*Reader, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, arhiverr.Corrupted(err, "failed to read container index count")
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	keys := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		raw, err := readFrame(r)
		if err != nil {
			return nil, arhiverr.Corrupted(err, "failed to read container index key %d", i)
		}
		keys = append(keys, string(raw))
	}

	idx, err := NewIndex(keys)
	if err != nil {
		return nil, err
	}

	return &Reader{r: r, idx: idx}, nil
}

// Index returns the container's leading index.
func (cr *Reader) Index() Index { return cr.idx }

// Next returns the next (key, line) pair in index order, or io.EOF once
// every indexed key has been consumed.
func (cr *Reader) Next() (string, []byte, error) {
	if cr.pos >= cr.idx.Len() {
		return "", nil, io.EOF
	}

	line, err := readFrame(cr.r)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read container line for key %q: %w", cr.idx.keys[cr.pos], err)
	}

	key := cr.idx.keys[cr.pos]
	cr.pos++
	return key, line, nil
}

// ReadAll drains the reader into an ordered slice of (key, line) pairs.
func (cr *Reader) ReadAll() ([]Record, error) {
	records := make([]Record, 0, cr.idx.Len())
	for {
		key, line, err := cr.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, Record{Key: key, Line: line})
	}
}

// Record is one (key, line) pair.
type Record struct {
	Key  string
	Line []byte
}

// Patch is a key -> optional-line mapping driving Patch: a nil entry
// deletes the key, a non-nil entry inserts or overwrites it. Iteration
// order of keys not already present in the old container determines
// their emission order in the result (spec §4.1).
type Patch struct {
	order   []string
	entries map[string]*[]byte
}

// NewPatch creates an empty patch.
func NewPatch() *Patch {
	return &Patch{entries: map[string]*[]byte{}}
}

// Delete marks key for removal.
func (p *Patch) Delete(key string) {
	if _, exists := p.entries[key]; !exists {
		p.order = append(p.order, key)
	}
	p.entries[key] = nil
}

// Set marks key to be inserted or overwritten with line.
func (p *Patch) Set(key string, line []byte) {
	if _, exists := p.entries[key]; !exists {
		p.order = append(p.order, key)
	}
	cp := append([]byte(nil), line...)
	p.entries[key] = &cp
}

// Len reports the number of distinct keys touched by the patch.
func (p *Patch) Len() int { return len(p.order) }

// ApplyPatch rewrites a container read from r into w, applying patch
// (spec §4.1's patch semantics): retained old records in original order
// (skipping deleted keys, substituting overwritten content in place),
// then new keys in patch iteration order. Writing is streaming: the
// resulting index is computed and emitted first, then the lines.
func ApplyPatch(r *Reader, patch *Patch, w io.Writer) error {
	consumed := make(map[string]struct{}, patch.Len())

	type pending struct {
		key  string
		line []byte
	}
	var out []pending

	for {
		key, line, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		replacement, touched := patch.entries[key]
		if touched {
			consumed[key] = struct{}{}
			if replacement == nil {
				continue // deleted
			}
			out = append(out, pending{key: key, line: *replacement})
			continue
		}

		out = append(out, pending{key: key, line: line})
	}

	for _, key := range patch.order {
		if _, done := consumed[key]; done {
			continue
		}
		value := patch.entries[key]
		if value == nil {
			continue // delete of a key that was never present: no-op
		}
		out = append(out, pending{key: key, line: *value})
	}

	keys := make([]string, len(out))
	for i, p := range out {
		keys[i] = p.key
	}
	idx, err := NewIndex(keys)
	if err != nil {
		return err
	}

	cw := NewWriter(w)
	if err := cw.WriteIndex(idx); err != nil {
		return err
	}
	for _, p := range out {
		if err := cw.WriteLine(p.line); err != nil {
			return err
		}
	}
	return cw.Close()
}
