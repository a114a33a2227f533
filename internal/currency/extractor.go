package currency

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// MatchKind identifies which notation produced a match.
type MatchKind int

const (
	SymbolPrefix MatchKind = iota // R250
	SymbolSuffix                  // 250 R
	AliasPrefix                   // ZAR 250
	AliasSuffix                   // 250 rand
)

func (k MatchKind) String() string {
	switch k {
	case SymbolPrefix:
		return "symbol_prefix"
	case SymbolSuffix:
		return "symbol_suffix"
	case AliasPrefix:
		return "alias_prefix"
	case AliasSuffix:
		return "alias_suffix"
	default:
		return "unknown"
	}
}

const (
	latinDigits  = `0-9`
	arabicDigits = `٠-٩۰-۹`
)

// Match is one amount found in text. Offsets are byte offsets into the
// searched string.
type Match struct {
	Currency    Code
	Amount      decimal.Decimal
	Kind        MatchKind
	Start       int // first byte of token or number, whichever comes first
	End         int // one past the last byte of token or number
	TokenStart  int
	TokenEnd    int
	NumberStart int
	NumberEnd   int
	Raw         string // the numeral as written
}

// Overlaps reports whether m and o share any bytes.
func (m Match) Overlaps(o Match) bool {
	return m.Start < o.End && o.Start < m.End
}

type matcher struct {
	kind   MatchKind
	re     *regexp.Regexp
	tokIdx int
	numIdx int
}

// shadow is a token of another currency that contains one of ours, offset
// bytes in. "R$" shadows "R" at offset 0.
type shadow struct {
	inner  string
	outer  string
	offset int
}

// Extractor finds amounts written in one currency.
type Extractor struct {
	def      Definition
	matchers []matcher
	shadows  []shadow
}

// NewExtractor builds the matchers for def in their fixed order:
// symbol before number, number before symbol, alias before number, number
// before alias; each for Latin then Arabic-Indic digits.
func NewExtractor(def Definition) *Extractor {
	symbol := tokenBody(def.Symbol, false)
	aliases := aliasAlternation(def.Aliases)

	e := &Extractor{def: def}
	for _, d := range []string{latinDigits, arabicDigits} {
		e.add(SymbolPrefix, `(?P<tok>`+symbol+`)\s*`+numberPattern(d))
	}
	for _, d := range []string{latinDigits, arabicDigits} {
		e.add(SymbolSuffix, numberPattern(d)+`\s*(?P<tok>`+symbol+`)`)
	}
	if aliases != "" {
		for _, d := range []string{latinDigits, arabicDigits} {
			e.add(AliasPrefix, `(?P<tok>`+aliases+`)\s*`+numberPattern(d))
		}
		for _, d := range []string{latinDigits, arabicDigits} {
			e.add(AliasSuffix, numberPattern(d)+`\s*(?P<tok>`+aliases+`)`)
		}
	}
	return e
}

func (e *Extractor) add(kind MatchKind, pattern string) {
	re := regexp.MustCompile(pattern)
	e.matchers = append(e.matchers, matcher{
		kind:   kind,
		re:     re,
		tokIdx: re.SubexpIndex("tok"),
		numIdx: re.SubexpIndex("num"),
	})
}

// shadowWith records every token of defs that contains one of e's tokens, so
// that "50 R$" is not read as rand.
func (e *Extractor) shadowWith(defs []Definition) {
	own := tokensOf(e.def)
	for _, def := range defs {
		if def.Code == e.def.Code {
			continue
		}
		for _, outer := range tokensOf(def) {
			lo := strings.ToLower(outer)
			for _, inner := range own {
				li := strings.ToLower(inner)
				if len(lo) <= len(li) {
					continue
				}
				for from := 0; from < len(lo); {
					i := strings.Index(lo[from:], li)
					if i < 0 {
						break
					}
					e.shadows = append(e.shadows, shadow{inner: inner, outer: outer, offset: from + i})
					from += i + 1
				}
			}
		}
	}
}

// shadowed reports whether the token at text[start:end] is part of a longer
// token belonging to another currency.
func (e *Extractor) shadowed(text string, start, end int) bool {
	tok := text[start:end]
	for _, s := range e.shadows {
		if !strings.EqualFold(tok, s.inner) {
			continue
		}
		from := start - s.offset
		to := from + len(s.outer)
		if from < 0 || to > len(text) {
			continue
		}
		if strings.EqualFold(text[from:to], s.outer) {
			return true
		}
	}
	return false
}

func tokensOf(def Definition) []string {
	tokens := []string{def.Symbol, string(def.Code)}
	for _, a := range def.Aliases {
		if strings.TrimSpace(a) != "" {
			tokens = append(tokens, a)
		}
	}
	return tokens
}

// Definition returns the currency this extractor matches.
func (e *Extractor) Definition() Definition {
	return e.def
}

// Extract returns the match of the first matcher that fires.
func (e *Extractor) Extract(text string) (Match, bool) {
	for _, m := range e.matchers {
		if match, ok := e.find(m, text, 0); ok {
			return match, true
		}
	}
	return Match{}, false
}

// ExtractAll returns every non-overlapping match in text ordered by position.
// Where two matchers claim the same bytes the earlier matcher wins.
func (e *Extractor) ExtractAll(text string) []Match {
	var found []Match
	for _, m := range e.matchers {
		pos := 0
		for pos <= len(text) {
			match, ok := e.find(m, text, pos)
			if !ok {
				break
			}
			pos = match.End
			if overlapsAny(match, found) {
				continue
			}
			found = append(found, match)
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Start < found[j].Start })
	return found
}

func (e *Extractor) find(m matcher, text string, from int) (Match, bool) {
	for pos := from; pos <= len(text); {
		loc := m.re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			return Match{}, false
		}
		match := Match{
			Currency:    e.def.Code,
			Kind:        m.kind,
			TokenStart:  pos + loc[2*m.tokIdx],
			TokenEnd:    pos + loc[2*m.tokIdx+1],
			NumberStart: pos + loc[2*m.numIdx],
			NumberEnd:   pos + loc[2*m.numIdx+1],
		}
		match.Start = min(match.TokenStart, match.NumberStart)
		match.End = max(match.TokenEnd, match.NumberEnd)
		match.Raw = text[match.NumberStart:match.NumberEnd]

		if tokenIsolated(text, match.TokenStart, match.TokenEnd) && !e.shadowed(text, match.TokenStart, match.TokenEnd) {
			if amount, ok := ParseAmount(match.Raw); ok {
				match.Amount = amount
				return match, true
			}
		}

		_, size := utf8.DecodeRuneInString(text[pos+loc[0]:])
		if size == 0 {
			size = 1
		}
		pos += loc[0] + size
	}
	return Match{}, false
}

func overlapsAny(m Match, found []Match) bool {
	for _, f := range found {
		if m.Overlaps(f) {
			return true
		}
	}
	return false
}

func numberPattern(d string) string {
	return `(?P<num>[` + d + `]{1,3}(?:[., ٬][` + d + `]{3})+(?:[.,٫][` + d + `]{1,2})?|[` + d + `]+(?:[.,٫][` + d + `]{1,2})?)`
}

func tokenBody(tok string, caseInsensitive bool) string {
	body := regexp.QuoteMeta(tok)
	if caseInsensitive {
		body = `(?i:` + body + `)`
	}
	return body
}

// aliasAlternation joins aliases longest first so that "рублей" wins over
// "руб" at the same position.
func aliasAlternation(aliases []string) string {
	sorted := append([]string(nil), aliases...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i]) > utf8.RuneCountInString(sorted[j])
	})
	parts := make([]string, 0, len(sorted))
	for _, a := range sorted {
		if strings.TrimSpace(a) == "" {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(a))
	}
	if len(parts) == 0 {
		return ""
	}
	return `(?i:` + strings.Join(parts, "|") + `)`
}

// tokenIsolated rejects currency tokens glued to neighbouring letters. A token
// that starts with a letter must not follow a letter ("BR250" is not rand).
// A token that starts with a sign must not follow an upper-case Latin letter,
// so "A$5" and "CN¥5" are left to the currencies that own those prefixes. A
// token that ends with a letter must not be followed by one.
func tokenIsolated(text string, start, end int) bool {
	if start >= end {
		return false
	}
	first, _ := utf8.DecodeRuneInString(text[start:end])
	last, _ := utf8.DecodeLastRuneInString(text[start:end])

	if start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(first) && unicode.IsLetter(prev) {
			return false
		}
		if !unicode.IsLetter(first) && prev >= 'A' && prev <= 'Z' {
			return false
		}
	}
	if end < len(text) && unicode.IsLetter(last) {
		next, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(next) {
			return false
		}
	}
	return true
}

// tokenPattern is the guarded form of a token used for mention scans, where
// the match position does not matter.
func tokenPattern(tok string, caseInsensitive bool) string {
	first, _ := utf8.DecodeRuneInString(tok)
	last, _ := utf8.DecodeLastRuneInString(tok)

	var b strings.Builder
	if unicode.IsLetter(first) {
		b.WriteString(`(?:^|[^\p{L}])`)
	} else {
		b.WriteString(`(?:^|[^A-Z])`)
	}
	b.WriteString(tokenBody(tok, caseInsensitive))
	if unicode.IsLetter(last) {
		b.WriteString(`(?:[^\p{L}]|$)`)
	}
	return b.String()
}
