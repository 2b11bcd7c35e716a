package notes

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// sectionOrder defines the priority of sections in the summary.
var sectionOrder = []Kind{
	Progress,
	Hazard,
	Location,
	Fact,
}

var sectionHeaders = map[Kind]string{
	Progress: "Progress",
	Hazard:   "Hazards",
	Location: "Locations",
	Fact:     "Facts",
}

// summarize renders entries grouped by kind, in priority order. Within a
// section, entries sharing more words with query come first, then newer
// ones. Sections that would overflow budget are skipped.
func summarize(entries []Entry, query string, budget int) string {
	if len(entries) == 0 {
		return ""
	}

	terms := words(query)
	groups := make(map[Kind][]Entry)
	for _, e := range entries {
		groups[e.Kind] = append(groups[e.Kind], e)
	}

	var sb strings.Builder
	used := 0
	for _, kind := range sectionOrder {
		items := groups[kind]
		if len(items) == 0 {
			continue
		}
		sort.SliceStable(items, func(i, j int) bool {
			si, sj := overlap(terms, items[i].Content), overlap(terms, items[j].Content)
			if si != sj {
				return si > sj
			}
			return items[i].Timestamp.After(items[j].Timestamp)
		})

		section := fmt.Sprintf("%s:\n", sectionHeaders[kind])
		for _, item := range items {
			line := fmt.Sprintf("- %s\n", item.Content)
			if used+len(section)+len(line) > budget {
				break
			}
			section += line
		}
		if !strings.Contains(section, "\n- ") {
			continue
		}
		if used+len(section) > budget {
			break
		}
		sb.WriteString(section)
		used += len(section)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func words(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) > 2 {
			out[w] = true
		}
	}
	return out
}

func overlap(terms map[string]bool, content string) int {
	if len(terms) == 0 {
		return 0
	}
	n := 0
	for w := range words(content) {
		if terms[w] {
			n++
		}
	}
	return n
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}
