// Package query implements the Filter/Query engine (spec §4.4): document
// filtering, search scoring, ordering, and pagination over the State
// layer's current view.
package query

import (
	"encoding/json"
	"sort"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/schema"
)

// Candidate is one document in the State layer's current view - the
// latest committed snapshot if present, else the staged snapshot - along
// with whatever the caller knows about it that the filter needs.
type Candidate struct {
	Doc      *document.Document
	IsStaged bool
	Refs     document.Refs
}

// FieldCondition matches a field's JSON-encoded value exactly.
type FieldCondition struct {
	Name  string
	Value json.RawMessage
}

// Filter describes zero or more ANDed conditions plus ordering and
// pagination (spec §4.4).
type Filter struct {
	DocumentTypes []string
	OnlyStaged    bool
	SkipErased    bool
	Field         *FieldCondition
	DocumentRef   *arhivid.Id
	CollectionRef *arhivid.Id
	SearchPattern string

	Order []OrderClause

	PageSize   int
	PageOffset int
}

// OrderKind distinguishes the ordering clauses spec §4.4 allows.
type OrderKind int

const (
	OrderUpdatedAt OrderKind = iota
	OrderField
	OrderEnumField
)

// OrderClause is one ordering key; later clauses break ties among
// earlier ones.
type OrderClause struct {
	Kind      OrderKind
	Selector  string // field name, for OrderField/OrderEnumField
	Asc       bool
	EnumOrder []string // for OrderEnumField
}

// Result is one page of matches.
type Result struct {
	Items   []*document.Document
	HasMore bool
}

type scored struct {
	doc   *document.Document
	score float64
}

// Execute filters, scores, orders, and paginates candidates.
func Execute(candidates []Candidate, sch schema.DataSchema, filter Filter) Result {
	matched := make([]scored, 0, len(candidates))

	for _, c := range candidates {
		if !matches(c, filter) {
			continue
		}

		score := 0.0
		if filter.SearchPattern != "" {
			score = sch.Search(c.Doc.DocumentType, c.Doc.Data, filter.SearchPattern)
			if score <= 0 {
				continue
			}
		}

		matched = append(matched, scored{doc: c.Doc, score: score})
	}

	if filter.SearchPattern != "" {
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].score > matched[j].score })
	}

	docs := make([]*document.Document, len(matched))
	for i, m := range matched {
		docs[i] = m.doc
	}

	applyOrder(docs, filter.Order)

	return paginate(docs, filter.PageSize, filter.PageOffset)
}

func matches(c Candidate, filter Filter) bool {
	if filter.SkipErased && c.Doc.IsErased() {
		return false
	}
	if filter.OnlyStaged && !c.IsStaged {
		return false
	}

	if len(filter.DocumentTypes) > 0 {
		found := false
		for _, dt := range filter.DocumentTypes {
			if dt == c.Doc.DocumentType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.Field != nil {
		value := c.Doc.Data.Get(filter.Field.Name)
		if string(value) != string(filter.Field.Value) {
			return false
		}
	}

	if filter.DocumentRef != nil {
		if _, ok := c.Refs.Documents[*filter.DocumentRef]; !ok {
			return false
		}
	}

	if filter.CollectionRef != nil {
		if _, ok := c.Refs.Collections[*filter.CollectionRef]; !ok {
			return false
		}
	}

	return true
}

func applyOrder(docs []*document.Document, clauses []OrderClause) {
	if len(clauses) == 0 {
		return
	}

	// Apply clauses in reverse with a stable sort so the first clause is
	// the primary key and later clauses only break ties.
	for i := len(clauses) - 1; i >= 0; i-- {
		clause := clauses[i]
		sort.SliceStable(docs, func(a, b int) bool { return less(docs[a], docs[b], clause) })
	}
}

func less(a, b *document.Document, clause OrderClause) bool {
	switch clause.Kind {
	case OrderUpdatedAt:
		if clause.Asc {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.UpdatedAt.After(b.UpdatedAt)

	case OrderEnumField:
		ra := enumRank(a.Data.Get(clause.Selector), clause.EnumOrder)
		rb := enumRank(b.Data.Get(clause.Selector), clause.EnumOrder)
		if clause.Asc {
			return ra < rb
		}
		return ra > rb

	case OrderField:
		va := string(a.Data.Get(clause.Selector))
		vb := string(b.Data.Get(clause.Selector))
		if clause.Asc {
			return va < vb
		}
		return va > vb
	}
	return false
}

// enumRank ranks a field's value by its position in enumOrder; values
// not listed sort after every listed value (spec §4.4).
func enumRank(raw json.RawMessage, enumOrder []string) int {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return len(enumOrder)
	}
	for i, v := range enumOrder {
		if v == value {
			return i
		}
	}
	return len(enumOrder)
}

// paginate requests page_size+1 items so callers can render a "more"
// control without a separate count query (spec §4.4).
func paginate(docs []*document.Document, pageSize, pageOffset int) Result {
	if pageSize <= 0 {
		if pageOffset >= len(docs) {
			return Result{}
		}
		return Result{Items: docs[pageOffset:]}
	}

	start := pageOffset
	if start > len(docs) {
		start = len(docs)
	}
	end := start + pageSize + 1
	if end > len(docs) {
		end = len(docs)
	}

	page := docs[start:end]
	hasMore := len(page) > pageSize
	if hasMore {
		page = page[:pageSize]
	}

	return Result{Items: page, HasMore: hasMore}
}
