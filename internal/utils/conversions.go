package utils

import "strings"

func ToStringSlice(slice []any) []string {
	stringSlice := make([]string, 0)
	for _, v := range slice {
		if s, ok := v.(string); ok {
			stringSlice = append(stringSlice, s)
		}
	}
	return stringSlice
}

// SplitSpaceDelimited splits an OAuth space-delimited parameter (scope, prompt, acr_values...)
// dropping empty entries.
func SplitSpaceDelimited(value string) []string {
	return strings.Fields(value)
}

// Contains reports whether values contains v.
func Contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// Distinct returns values with duplicates removed, keeping first-seen order.
func Distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// IsSubset reports whether every entry of subset is in set.
func IsSubset(subset, set []string) bool {
	for _, s := range subset {
		if !Contains(set, s) {
			return false
		}
	}
	return true
}
