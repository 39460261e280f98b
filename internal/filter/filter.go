package filter

import (
	"strings"
	"unicode"

	"github.com/amishk599/jobscout/internal/model"
)

// TitleFilter matches postings whose title contains any of the include
// keywords and none of the exclude keywords. Matching is case-insensitive.
// An empty include list matches every title.
type TitleFilter struct {
	include []string
	exclude []string
}

// NewTitleFilter returns a filter over posting titles. Include keywords are
// substring matches; exclude keywords must match whole words, so "sr" rejects
// "Sr. Engineer" but not "SRE".
func NewTitleFilter(include, exclude []string) *TitleFilter {
	return &TitleFilter{
		include: normalizeKeywords(include),
		exclude: normalizeKeywords(exclude),
	}
}

// Compile-time check that TitleFilter implements model.JobFilter.
var _ model.JobFilter = (*TitleFilter)(nil)

// Match reports whether ref's title passes both keyword lists.
func (f *TitleFilter) Match(ref model.JobRef) bool {
	titleLower := strings.ToLower(ref.Title)

	if len(f.include) > 0 {
		matched := false
		for _, kw := range f.include {
			if strings.Contains(titleLower, kw) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(f.exclude) > 0 {
		words := " " + strings.Join(wordsOf(titleLower), " ") + " "
		for _, kw := range f.exclude {
			if strings.Contains(words, " "+strings.Join(wordsOf(kw), " ")+" ") {
				return false
			}
		}
	}

	return true
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func wordsOf(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
