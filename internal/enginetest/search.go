package enginetest

import (
	"fmt"
	"sort"
	"strings"
)

type searchRequest struct {
	Query          map[string]any `json:"query"`
	Sort           any            `json:"sort"`
	From           *int           `json:"from"`
	Size           *int           `json:"size"`
	TrackTotalHits any            `json:"track_total_hits"`
}

type sortField struct {
	field string
	desc  bool
}

// matcher reports whether a document satisfies a query.
type matcher func(d *document) bool

// compileQuery supports match_all, term, match, ids and bool with
// must/filter/should/must_not.
func compileQuery(q map[string]any) (matcher, error) {
	if len(q) == 0 {
		return func(*document) bool { return true }, nil
	}
	if len(q) != 1 {
		return nil, fmt.Errorf("query malformed, expected a single clause")
	}
	for kind, body := range q {
		switch kind {
		case "match_all":
			return func(*document) bool { return true }, nil
		case "term", "match":
			field, want, err := singleField(body, kind)
			if err != nil {
				return nil, err
			}
			return func(d *document) bool { return equalValue(lookup(d.fields, field), want) }, nil
		case "ids":
			m, _ := body.(map[string]any)
			values, _ := m["values"].([]any)
			set := map[string]bool{}
			for _, v := range values {
				set[fmt.Sprint(v)] = true
			}
			return func(d *document) bool { return set[d.id] }, nil
		case "bool":
			return compileBool(body)
		default:
			return nil, fmt.Errorf("unknown query [%s]", kind)
		}
	}
	return nil, nil
}

func compileBool(body any) (matcher, error) {
	m, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("[bool] query malformed")
	}
	clauses := map[string][]matcher{}
	for _, occur := range []string{"must", "filter", "should", "must_not"} {
		raw, ok := m[occur]
		if !ok {
			continue
		}
		var list []any
		switch v := raw.(type) {
		case []any:
			list = v
		default:
			list = []any{v}
		}
		for _, item := range list {
			q, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("[bool] %s clause malformed", occur)
			}
			sub, err := compileQuery(q)
			if err != nil {
				return nil, err
			}
			clauses[occur] = append(clauses[occur], sub)
		}
	}
	return func(d *document) bool {
		for _, c := range append(clauses["must"], clauses["filter"]...) {
			if !c(d) {
				return false
			}
		}
		for _, c := range clauses["must_not"] {
			if c(d) {
				return false
			}
		}
		if len(clauses["should"]) == 0 {
			return true
		}
		for _, c := range clauses["should"] {
			if c(d) {
				return true
			}
		}
		return false
	}, nil
}

func singleField(body any, kind string) (string, any, error) {
	m, ok := body.(map[string]any)
	if !ok || len(m) != 1 {
		return "", nil, fmt.Errorf("[%s] query malformed", kind)
	}
	for field, v := range m {
		if inner, ok := v.(map[string]any); ok {
			if val, ok := inner["value"]; ok {
				return field, val, nil
			}
			if val, ok := inner["query"]; ok {
				return field, val, nil
			}
			return "", nil, fmt.Errorf("[%s] query malformed, no value for [%s]", kind, field)
		}
		return field, v, nil
	}
	return "", nil, nil
}

// lookup resolves a dotted field path in a document source.
func lookup(fields map[string]any, path string) any {
	var cur any = fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func equalValue(have, want any) bool {
	if have == nil {
		return false
	}
	return fmt.Sprint(have) == fmt.Sprint(want)
}

func parseSort(raw any) ([]sortField, error) {
	if raw == nil {
		return nil, nil
	}
	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	default:
		list = []any{v}
	}
	var out []sortField
	for _, item := range list {
		switch s := item.(type) {
		case string:
			out = append(out, sortField{field: s})
		case map[string]any:
			for field, spec := range s {
				sf := sortField{field: field}
				switch o := spec.(type) {
				case string:
					sf.desc = o == "desc"
				case map[string]any:
					sf.desc = o["order"] == "desc"
				}
				out = append(out, sf)
			}
		default:
			return nil, fmt.Errorf("malformed sort")
		}
	}
	return out, nil
}

func sortValue(d *document, field string) any {
	if field == "_id" {
		return d.id
	}
	return lookup(d.fields, field)
}

func less(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1 // missing values sort last
	case b == nil:
		return -1
	}
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func sortDocs(docs []*document, fields []sortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			c := less(sortValue(docs[i], f.field), sortValue(docs[j], f.field))
			if f.desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}
