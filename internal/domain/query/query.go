// Package query canonicalizes free-text street and address input into a comparable form.
package query

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Query is a normalized view of raw user input.
type Query struct {
	Raw        string
	Normalized string
	Tokens     []string
}

// IsEmpty reports whether the query has no tokens.
func (q Query) IsEmpty() bool { return len(q.Tokens) == 0 }

// Len returns the rune length of the normalized form.
func (q Query) Len() int { return utf8.RuneCountInString(q.Normalized) }

// Normalize lower-cases raw, strips diacritics, transliterates to ASCII, and splits it into
// tokens on any rune that is not a letter or digit. It never fails: blank input yields a
// query with zero tokens.
func Normalize(raw string) Query {
	tokens := Tokens(raw)
	return Query{
		Raw:        raw,
		Normalized: strings.Join(tokens, " "),
		Tokens:     tokens,
	}
}

// Key returns just the normalized form of s.
func Key(s string) string {
	return strings.Join(Tokens(s), " ")
}

// Tokens returns the normalized tokens of s.
func Tokens(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	s = fold(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.ToLower(unidecode.Unidecode(stripped))
}
