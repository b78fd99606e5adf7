package parser

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Schema describes the canonical header shape of one upload kind. Column
// names are folded (see FoldHeader).
type Schema struct {
	Name     string
	Required []string
	Optional []string
	// AllowExtra silently ignores columns outside Required and Optional
	// instead of rejecting the file.
	AllowExtra bool
}

// maxSuggestionDistance bounds how far a typo may be from a known column
// before no hint is offered.
const maxSuggestionDistance = 3

func (s Schema) known() []string {
	return append(append([]string{}, s.Required...), s.Optional...)
}

// check validates a folded header row: duplicates first, then missing
// required columns, then unknown columns.
func (s Schema) check(header []string, line int) *FieldError {
	seen := make(map[string]bool, len(header))
	var dupes []string
	for _, name := range header {
		if seen[name] && !slices.Contains(dupes, name) {
			dupes = append(dupes, name)
		}
		seen[name] = true
	}
	if len(dupes) > 0 {
		return &FieldError{Row: line, Field: FileField, Message: fmt.Sprintf("Duplicate columns: %s", strings.Join(dupes, ", "))}
	}

	var missing []string
	for _, name := range s.Required {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &FieldError{Row: line, Field: FileField, Message: fmt.Sprintf("Missing required columns: %s", strings.Join(missing, ", "))}
	}

	if s.AllowExtra {
		return nil
	}

	known := s.known()
	var extras []string
	for _, name := range header {
		if slices.Contains(known, name) {
			continue
		}
		if hint := suggest(name, known); hint != "" {
			extras = append(extras, fmt.Sprintf("%q (did you mean %q?)", name, hint))
		} else {
			extras = append(extras, fmt.Sprintf("%q", name))
		}
	}
	if len(extras) > 0 {
		return &FieldError{
			Row:     line,
			Field:   FileField,
			Message: fmt.Sprintf("Unexpected columns: %s. Allowed columns: %s", strings.Join(extras, ", "), strings.Join(known, ", ")),
		}
	}
	return nil
}

// suggest returns the known column closest to an unknown one, or "".
// Abbreviations ("desc") are found by subsequence ranking, typos
// ("amout", "ammount") by edit distance.
func suggest(name string, known []string) string {
	if name == "" {
		return ""
	}
	if ranks := fuzzy.RankFindFold(name, known); len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}

	best, bestDist := "", maxSuggestionDistance+1
	for _, k := range known {
		if d := fuzzy.LevenshteinDistance(name, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}
