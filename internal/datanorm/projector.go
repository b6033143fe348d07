package datanorm

import "github.com/olivestudio/leadrecon/internal/table"

// Project reorders t to exactly the given columns when every one of them is
// present. Otherwise t is returned unchanged and the bool is false; callers
// must not assume the reorder happened.
func Project(t *table.Table, order []string) (*table.Table, bool) {
	if t == nil || len(order) == 0 {
		return t, false
	}
	for _, c := range order {
		if !t.Has(c) {
			return t, false
		}
	}
	return t.Select(order), true
}
