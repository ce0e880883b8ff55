// Package revision implements Arhiv's vector-clock Revision (spec §3.2):
// ordering, canonical serialization, and next-revision computation.
//
// Grounded on original_source/baza/src/entities/revision.rs.
package revision

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
)

// Revision is a vector clock: InstanceId -> positive integer. A missing
// entry is implicitly zero.
type Revision map[arhivid.InstanceId]uint32

// Order is the result of comparing two vector clocks.
type Order int

const (
	OrderBefore Order = iota
	OrderAfter
	OrderEqual
	OrderConcurrent
)

// Initial is the empty revision, predating every real revision.
func Initial() Revision {
	return Revision{}
}

// Clone returns a deep copy.
func (r Revision) Clone() Revision {
	out := make(Revision, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r Revision) get(id arhivid.InstanceId) uint32 {
	return r[id]
}

func (r Revision) set(id arhivid.InstanceId, version uint32) {
	if version == 0 {
		delete(r, id)
		return
	}
	r[id] = version
}

// Compare implements the standard vector-clock partial order.
func (r Revision) Compare(other Revision) Order {
	seen := make(map[arhivid.InstanceId]struct{}, len(r)+len(other))
	for k := range r {
		seen[k] = struct{}{}
	}
	for k := range other {
		seen[k] = struct{}{}
	}

	hasBefore, hasAfter := false, false
	for k := range seen {
		a, b := r.get(k), other.get(k)
		switch {
		case a < b:
			hasBefore = true
		case a > b:
			hasAfter = true
		}
		if hasBefore && hasAfter {
			return OrderConcurrent
		}
	}

	switch {
	case hasBefore:
		return OrderBefore
	case hasAfter:
		return OrderAfter
	default:
		return OrderEqual
	}
}

// IsOlderThan reports a < b strictly.
func (r Revision) IsOlderThan(other Revision) bool {
	return r.Compare(other) == OrderBefore
}

// IsNewerThan reports a > b strictly.
func (r Revision) IsNewerThan(other Revision) bool {
	return r.Compare(other) == OrderAfter
}

// IsConcurrentOrNewerThan reports After or Concurrent.
func (r Revision) IsConcurrentOrNewerThan(other Revision) bool {
	o := r.Compare(other)
	return o == OrderAfter || o == OrderConcurrent
}

// IsConcurrentOrOlderThan reports Before or Concurrent.
func (r Revision) IsConcurrentOrOlderThan(other Revision) bool {
	o := r.Compare(other)
	return o == OrderBefore || o == OrderConcurrent
}

// Equal reports structural equality under vector-clock comparison.
func (r Revision) Equal(other Revision) bool {
	return r.Compare(other) == OrderEqual
}

// Merge folds other into r, taking the element-wise max (in place).
func (r Revision) Merge(other Revision) {
	for k, v := range other {
		if cur, ok := r[k]; !ok || v > cur {
			r[k] = v
		}
	}
}

// MergeAll computes the element-wise max across every revision given.
func MergeAll(revs []Revision) Revision {
	acc := Initial()
	for _, rev := range revs {
		acc.Merge(rev)
	}
	return acc
}

// NextRev returns the element-wise max of revs with selfInstance's
// component incremented by one. This is the only way new revisions come
// into existence (spec §3.2).
func NextRev(revs []Revision, selfInstance arhivid.InstanceId) Revision {
	next := MergeAll(revs)
	next.set(selfInstance, next.get(selfInstance)+1)
	return next
}

// Serialize renders the canonical JSON object form: keys sorted
// lexicographically, zero entries omitted. Used both as a storage-key
// suffix component and for query collation.
func (r Revision) Serialize() string {
	keys := r.sortedKeys()

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(string(k))
		b.WriteString("\":")
		b.WriteString(strconv.FormatUint(uint64(r[k]), 10))
	}
	b.WriteByte('}')
	return b.String()
}

func (r Revision) sortedKeys() []arhivid.InstanceId {
	keys := make([]arhivid.InstanceId, 0, len(r))
	for k, v := range r {
		if v > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ToFileName renders the form used as a DocumentKey suffix:
// "<instance>:<version>-<instance>:<version>...", sorted by instance id.
func (r Revision) ToFileName() string {
	keys := r.sortedKeys()
	items := make([]string, 0, len(keys))
	for _, k := range keys {
		items = append(items, fmt.Sprintf("%s:%d", k, r[k]))
	}
	return strings.Join(items, "-")
}

// FromFileName parses the ToFileName form. An empty string yields Initial().
func FromFileName(value string) (Revision, error) {
	rev := Revision{}
	if value == "" {
		return rev, nil
	}
	// Instance ids may contain '-' themselves (they are UUIDs), so a piece
	// without ':' is the start of an instance id continued by the next one.
	pending := ""
	for _, segment := range strings.Split(value, "-") {
		segment = pending + segment
		parts := strings.SplitN(segment, ":", 2)
		if len(parts) != 2 {
			pending = segment + "-"
			continue
		}
		pending = ""
		version, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid revision version in %q: %w", segment, err)
		}
		rev.set(arhivid.InstanceId(parts[0]), uint32(version))
	}
	if pending != "" {
		return nil, fmt.Errorf("invalid revision segment %q", strings.TrimSuffix(pending, "-"))
	}
	return rev, nil
}

// MarshalJSON renders the canonical object form (used by Document storage).
func (r Revision) MarshalJSON() ([]byte, error) {
	return []byte(r.Serialize()), nil
}

// UnmarshalJSON accepts any JSON object of string->number, dropping
// zero-valued entries per the canonical form.
func (r *Revision) UnmarshalJSON(data []byte) error {
	raw := map[string]uint32{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Revision{}
	for k, v := range raw {
		out.set(arhivid.InstanceId(k), v)
	}
	*r = out
	return nil
}

// GetLatestRev returns the subset of revs that are maximal under the
// vector-clock partial order: elements not strictly dominated by any
// other element. Cardinality > 1 means the set is in conflict
// (spec §4.6 "Conflict detection").
func GetLatestRev(revs []Revision) []Revision {
	var latest []Revision

	for _, r := range revs {
		dominated := false
		alreadyPresent := false
		kept := latest[:0:0]

		for _, l := range latest {
			switch r.Compare(l) {
			case OrderBefore:
				dominated = true
				kept = append(kept, l)
			case OrderAfter:
				// l is dominated by r, drop it.
			case OrderEqual:
				alreadyPresent = true
				kept = append(kept, l)
			default: // Concurrent
				kept = append(kept, l)
			}
		}

		if dominated || alreadyPresent {
			latest = kept
			continue
		}

		latest = append(kept, r)
	}

	return latest
}
