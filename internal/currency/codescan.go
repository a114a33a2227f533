package currency

import (
	"regexp"
	"sort"
)

type codeScanner struct {
	matchers []matcher
}

func newCodeScanner(code Code) codeScanner {
	tok := `(?P<tok>(?i:` + regexp.QuoteMeta(string(code)) + `))`
	var s codeScanner
	for _, d := range []string{latinDigits, arabicDigits} {
		for _, p := range []struct {
			kind    MatchKind
			pattern string
		}{
			{AliasPrefix, tok + `\s*` + numberPattern(d)},
			{AliasSuffix, numberPattern(d) + `\s*` + tok},
		} {
			re := regexp.MustCompile(p.pattern)
			s.matchers = append(s.matchers, matcher{
				kind:   p.kind,
				re:     re,
				tokIdx: re.SubexpIndex("tok"),
				numIdx: re.SubexpIndex("num"),
			})
		}
	}
	return s
}

// ScanCodes looks for "CODE amount" and "amount CODE" with each registered
// ISO code, ignoring case. Each code contributes at most its earliest hit.
// The result is ordered by position.
func (r *Registry) ScanCodes(text string) []Match {
	var out []Match
	for i, s := range r.codes {
		e := r.extractors[i]
		best := Match{Start: -1}
		for _, m := range s.matchers {
			hit, ok := e.find(m, text, 0)
			if !ok {
				continue
			}
			if best.Start < 0 || hit.Start < best.Start {
				best = hit
			}
		}
		if best.Start >= 0 {
			out = append(out, best)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
