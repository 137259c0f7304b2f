package domain

import (
	"sort"
	"strings"
)

// FieldDifference is one field whose value differs between two versions.
type FieldDifference struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// DiffFields compares two flattened records. Fields listed in order come
// first in that order; any remaining keys follow sorted by name. Empty values
// in target are treated as "not provided" when ignoreEmpty is set.
func DiffFields(base, target map[string]string, order []string, ignoreEmpty bool) []FieldDifference {
	seen := make(map[string]struct{}, len(order))
	keys := make([]string, 0, len(base)+len(target))
	for _, key := range order {
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	var extra []string
	for _, source := range []map[string]string{base, target} {
		for key := range source {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	diffs := []FieldDifference{}
	for _, key := range keys {
		oldValue := strings.TrimSpace(base[key])
		newValue := strings.TrimSpace(target[key])
		if ignoreEmpty && newValue == "" {
			continue
		}
		if oldValue == newValue {
			continue
		}
		diffs = append(diffs, FieldDifference{Field: key, OldValue: oldValue, NewValue: newValue})
	}
	return diffs
}
