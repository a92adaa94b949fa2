package features

import "sort"

// OrdinalEncoder maps categorical values to integer codes assigned over the
// sorted distinct values seen at fit time. Empty strings are treated as
// missing and never receive a code.
type OrdinalEncoder struct {
	categories []string
	index      map[string]int
}

// FitOrdinal builds an encoder from the observed values.
func FitOrdinal(values []string) *OrdinalEncoder {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		seen[v] = struct{}{}
	}
	categories := make([]string, 0, len(seen))
	for v := range seen {
		categories = append(categories, v)
	}
	sort.Strings(categories)

	index := make(map[string]int, len(categories))
	for i, v := range categories {
		index[v] = i
	}
	return &OrdinalEncoder{categories: categories, index: index}
}

// Transform returns the code for v, or false when v is missing or unseen.
func (e *OrdinalEncoder) Transform(v string) (float64, bool) {
	if e == nil || v == "" {
		return 0, false
	}
	code, ok := e.index[v]
	if !ok {
		return 0, false
	}
	return float64(code), true
}

// Categories returns the fitted categories in code order.
func (e *OrdinalEncoder) Categories() []string {
	out := make([]string, len(e.categories))
	copy(out, e.categories)
	return out
}
