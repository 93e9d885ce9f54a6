// Package keyconstruct builds the colon-delimited composite keys used
// for every aggregate and registry key in the store.
package keyconstruct

import (
	"fmt"
	"strings"
)

// Build flattens its arguments (scalars, slices, or nested slices),
// drops nil and empty-string leaves, stringifies the rest, and joins
// them with ":". Build() with no arguments returns "".
//
// Build("Activity", []string{"Month", "20111101"}, []string{"Practice", "1"})
// == "Activity:Month:20111101:Practice:1"
func Build(args ...any) string {
	flat := flatten(args)
	if len(flat) == 0 {
		return ""
	}
	return strings.Join(flat, ":")
}

func flatten(args []any) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		switch v := arg.(type) {
		case nil:
			continue
		case []any:
			out = append(out, flatten(v)...)
		case []string:
			nested := make([]any, len(v))
			for i, s := range v {
				nested[i] = s
			}
			out = append(out, flatten(nested)...)
		default:
			s := fmt.Sprintf("%v", v)
			if s == "" {
				continue
			}
			out = append(out, s)
		}
	}
	return out
}
