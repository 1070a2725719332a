// Package workitem imports, exports and holds the work items of a farm.
package workitem

import (
	"fmt"
	"strings"
)

// FieldProblem is one reason an import was rejected. Index is the item position,
// or -1 for problems with the document itself.
type FieldProblem struct {
	Index  int    `json:"index"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (p FieldProblem) String() string {
	switch {
	case p.Index < 0 && p.Field == "":
		return p.Reason
	case p.Index < 0:
		return fmt.Sprintf("%s: %s", p.Field, p.Reason)
	case p.Field == "":
		return fmt.Sprintf("item %d: %s", p.Index, p.Reason)
	}
	return fmt.Sprintf("item %d: %s: %s", p.Index, p.Field, p.Reason)
}

// ValidationError rejects a whole import. Nothing from the document is accepted.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	const shown = 5
	parts := make([]string, 0, shown)
	for i, p := range e.Problems {
		if i == shown {
			parts = append(parts, fmt.Sprintf("and %d more", len(e.Problems)-shown))
			break
		}
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("import rejected (%d problems): %s", len(e.Problems), strings.Join(parts, "; "))
}

type problems []FieldProblem

func (ps *problems) add(index int, field, reason string, args ...any) {
	*ps = append(*ps, FieldProblem{Index: index, Field: field, Reason: fmt.Sprintf(reason, args...)})
}

func (ps problems) err() error {
	if len(ps) == 0 {
		return nil
	}
	return &ValidationError{Problems: ps}
}

// splitTags accepts "a,b" as well as the ; and | separators spreadsheets tend to produce.
func splitTags(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '|' })
	var tags []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			tags = append(tags, f)
		}
	}
	return tags
}
