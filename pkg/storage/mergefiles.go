package storage

import (
	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
)

// MergeFiles combines multiple Storage files (e.g. peer db.<name> files
// dropped in by an external sync) into a single record set using the
// Set-Cover heuristic (spec §4.2): sort sources by unique-key
// contribution descending; from the richest source keep every key; from
// each subsequent source keep only keys not yet covered; repeat. The
// output preserves each retained key's original source order, with ties
// falling back to first-seen source. Info records across every source
// must be equal, or the merge fails.
func MergeFiles(files []*File) (*File, error) {
	if len(files) == 0 {
		return &File{}, nil
	}

	info := files[0].Info
	for _, f := range files[1:] {
		if !f.Info.Equal(info) {
			return nil, arhiverr.InvariantViolation("cannot merge storage files with mismatched info records")
		}
	}

	type source struct {
		idx     int
		file    *File
		uniques map[string]struct{}
	}

	covered := make(map[string]struct{})
	sources := make([]source, len(files))
	for i, f := range files {
		uniques := make(map[string]struct{}, len(f.Records))
		for _, rec := range f.Records {
			uniques[rec.Key.Serialize()] = struct{}{}
		}
		sources[i] = source{idx: i, file: f, uniques: uniques}
	}

	var merged []Record

	remaining := append([]source(nil), sources...)
	for len(remaining) > 0 {
		// pick the source contributing the most keys not yet covered;
		// ties fall back to first-seen (lowest original index).
		bestPos := -1
		bestCount := -1
		for pos, s := range remaining {
			count := 0
			for key := range s.uniques {
				if _, done := covered[key]; !done {
					count++
				}
			}
			if count > bestCount {
				bestCount = count
				bestPos = pos
			}
		}

		if bestCount <= 0 {
			break // no source contributes anything new
		}

		best := remaining[bestPos]
		for _, rec := range best.file.Records {
			key := rec.Key.Serialize()
			if _, done := covered[key]; done {
				continue
			}
			covered[key] = struct{}{}
			merged = append(merged, rec)
		}

		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	return &File{Info: info, Records: merged}, nil
}
