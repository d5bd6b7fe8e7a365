package moderation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DictEntry is a banned token. Substring entries match anywhere in the
// normalized content; non-substring entries must match a whole word.
type DictEntry struct {
	Token     string
	Substring bool
}

// ProfanityFilter is the synchronous dictionary check. Content is
// case-folded and diacritic-stripped before matching so accented
// spellings can't slip past the dictionary.
type ProfanityFilter struct {
	entries []DictEntry
	fold    transform.Transformer
}

func NewProfanityFilter(entries []DictEntry) *ProfanityFilter {
	normalized := make([]DictEntry, 0, len(entries))
	f := &ProfanityFilter{
		fold: transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
	}
	for _, e := range entries {
		normalized = append(normalized, DictEntry{
			Token:     f.normalize(e.Token),
			Substring: e.Substring,
		})
	}
	f.entries = normalized
	return f
}

func (f *ProfanityFilter) normalize(s string) string {
	folded, _, err := transform.String(f.fold, strings.ToLower(s))
	if err != nil {
		// fall back to the case-folded input; matching still works for
		// unaccented text
		return strings.ToLower(s)
	}
	return folded
}

func (f *ProfanityFilter) Inspect(content string, userId int) error {
	normalized := f.normalize(content)
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	for _, e := range f.entries {
		if e.Substring {
			if strings.Contains(normalized, e.Token) {
				return &ContentRejectedError{Reason: "message contains a banned term"}
			}
			continue
		}

		for _, w := range words {
			if w == e.Token {
				return &ContentRejectedError{Reason: "message contains a banned term"}
			}
		}
	}

	return nil
}
