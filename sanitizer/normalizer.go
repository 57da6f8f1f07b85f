package sanitizer

import (
	"regexp"
	"strings"

	"github.com/kljensen/snowball/english"
)

var nonAlnum = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

// Normalize lower-cases text, drops non-alphanumerics and reduces each token
// to its Porter2 stem. It is meant for index text only, never for mail copy.
func Normalize(text string) string {
	return strings.Join(Stems(text), " ")
}

// Stems is Normalize without the final join.
func Stems(text string) []string {
	lowered := nonAlnum.ReplaceAllString(strings.ToLower(text), " ")
	fields := strings.Fields(lowered)

	stems := make([]string, 0, len(fields))
	for _, f := range fields {
		s := english.Stem(f, true)
		if s == "" {
			continue
		}
		stems = append(stems, s)
	}
	return stems
}
