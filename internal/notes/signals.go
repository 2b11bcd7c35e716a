package notes

import (
	"regexp"
	"strings"
)

// notePattern matches lines of the form: NOTE: KIND content
var notePattern = regexp.MustCompile(`(?m)^\s*NOTE:\s+(\w+)\s+(.+)$`)

// validKinds is the set of recognised note kinds.
var validKinds = map[Kind]bool{
	Fact:     true,
	Location: true,
	Hazard:   true,
	Progress: true,
}

// ParseNotes extracts note lines from a model reply or rationale.
func ParseNotes(text string) []Note {
	matches := notePattern.FindAllStringSubmatch(text, -1)
	notes := make([]Note, 0, len(matches))
	for _, m := range matches {
		kind := Kind(strings.ToUpper(m[1]))
		if !validKinds[kind] {
			continue
		}
		notes = append(notes, Note{
			Kind:    kind,
			Content: strings.TrimSpace(m[2]),
		})
	}
	return notes
}
