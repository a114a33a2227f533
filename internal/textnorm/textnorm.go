// Package textnorm folds the Unicode noise found in chat exports and OCR output
// into a form the regex grammars can match.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// String applies NFKC (non-breaking and narrow spaces become plain spaces,
// full-width digits and symbols become ASCII) and drops format characters such
// as the LRM/RLM marks WhatsApp writes around timestamps.
func String(s string) string {
	// transform.Chain keeps state, so build one per call.
	t := transform.Chain(norm.NFKC, runes.Remove(runes.In(unicode.Cf)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Lines splits text on LF or CRLF and normalizes each line.
func Lines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = String(strings.TrimRight(l, "\r"))
	}
	return lines
}
