package mergeexpert

import (
	"encoding/json"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/schema"
)

// MergeSnapshots resolves a conflict between two or more committed
// snapshots of the same id sharing an optional common ancestor base
// (nil when none was found). Erased participants are handled per spec
// §4.6: if every participant is erased the oldest of them wins outright;
// if some are erased they are dropped and the merge proceeds over the
// rest; a single surviving non-erased participant is returned unchanged.
func MergeSnapshots(sch schema.DataSchema, base *document.Document, participants []*document.Document) (*document.Document, error) {
	if len(participants) == 0 {
		return nil, arhiverr.InvariantViolation("cannot merge zero snapshots")
	}

	nonErased := make([]*document.Document, 0, len(participants))
	for _, p := range participants {
		if !p.IsErased() {
			nonErased = append(nonErased, p)
		}
	}

	if len(nonErased) == 0 {
		oldest := participants[0]
		for _, p := range participants[1:] {
			if p.UpdatedAt.Before(oldest.UpdatedAt) {
				oldest = p
			}
		}
		return oldest.Clone(), nil
	}

	if len(nonErased) == 1 {
		return nonErased[0].Clone(), nil
	}

	result := nonErased[0]
	for _, next := range nonErased[1:] {
		merged, err := mergeTwo(sch, base, result, next)
		if err != nil {
			return nil, err
		}
		result = merged
	}
	return result, nil
}

func mergeTwo(sch schema.DataSchema, base, left, right *document.Document) (*document.Document, error) {
	if left.Id != right.Id {
		return nil, arhiverr.InvariantViolation("cannot merge snapshots of different ids %s != %s", left.Id, right.Id)
	}
	if left.DocumentType != right.DocumentType {
		return nil, arhiverr.InvariantViolation(
			"cannot merge snapshots of different document types %s != %s", left.DocumentType, right.DocumentType)
	}

	merged := left.Clone()
	merged.UpdatedAt = left.UpdatedAt
	if right.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = right.UpdatedAt
	}

	fields, err := sch.IterFields(left.DocumentType, left.Subtype)
	if err != nil {
		return nil, err
	}

	mergedData := document.Data{}
	for _, field := range fields {
		value, err := mergeField(field, base, left, right)
		if err != nil {
			return nil, err
		}
		if value != nil {
			mergedData.SetRaw(field.Name, value)
		}
	}
	merged.Data = mergedData

	return merged, nil
}

func mergeField(field schema.Field, base, left, right *document.Document) (json.RawMessage, error) {
	leftRaw := left.Data.Get(field.Name)
	rightRaw := right.Data.Get(field.Name)
	var baseRaw json.RawMessage
	if base != nil {
		baseRaw = base.Data.Get(field.Name)
	}

	switch {
	case field.IsMergeableText():
		baseStr := decodeString(baseRaw)
		leftStr := decodeString(leftRaw)
		rightStr := decodeString(rightRaw)

		merged := MergeStringsThreeWay(baseStr, leftStr, rightStr)
		return json.Marshal(merged)

	case field.IsMergeableList():
		baseList := decodeStringSlice(baseRaw)
		leftList := decodeStringSlice(leftRaw)
		rightList := decodeStringSlice(rightRaw)

		merged := MergeSlicesThreeWay(baseList, leftList, rightList)
		return json.Marshal(merged)

	default:
		// Last-Write-Wins: the later snapshot's value wins.
		if right.UpdatedAt.After(left.UpdatedAt) {
			return rightRaw, nil
		}
		return leftRaw, nil
	}
}

func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeStringSlice(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var s []string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return s
}
