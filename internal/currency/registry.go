package currency

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Code is a three letter currency code. Codes reach payment records only
// through a Definition taken from a Registry, or through Registry.Parse.
type Code string

const (
	ZAR Code = "ZAR"
	USD Code = "USD"
	EUR Code = "EUR"
	GBP Code = "GBP"
	AUD Code = "AUD"
	INR Code = "INR"
	BRL Code = "BRL"
	CNY Code = "CNY"
	JPY Code = "JPY"
	NGN Code = "NGN"
	RUB Code = "RUB"
	SAR Code = "SAR"
	AED Code = "AED"
)

// ErrUnknownCurrency is returned when text does not name a registered currency.
var ErrUnknownCurrency = errors.New("unknown currency")

var codePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Definition describes how a currency shows up in text.
type Definition struct {
	Code    Code     `json:"code"`
	Symbol  string   `json:"symbol"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// Registry is an ordered, read-only set of currency definitions. The order is
// the resolution order: when a line could match several currencies, the
// earlier definition wins.
type Registry struct {
	defs       []Definition
	index      map[Code]int
	extractors []*Extractor
	codes      []codeScanner
	mentions   []*regexp.Regexp
}

// NewRegistry validates defs and builds their matchers.
func NewRegistry(defs ...Definition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("registry needs at least one currency")
	}

	r := &Registry{
		defs:  make([]Definition, 0, len(defs)),
		index: make(map[Code]int, len(defs)),
	}
	for _, def := range defs {
		if !codePattern.MatchString(string(def.Code)) {
			return nil, fmt.Errorf("invalid currency code %q", def.Code)
		}
		if strings.TrimSpace(def.Symbol) == "" {
			return nil, fmt.Errorf("currency %s has no symbol", def.Code)
		}
		if _, dup := r.index[def.Code]; dup {
			return nil, fmt.Errorf("currency %s registered twice", def.Code)
		}

		def.Aliases = append([]string(nil), def.Aliases...)
		r.index[def.Code] = len(r.defs)
		r.defs = append(r.defs, def)
		r.extractors = append(r.extractors, NewExtractor(def))
		r.codes = append(r.codes, newCodeScanner(def.Code))
		r.mentions = append(r.mentions, mentionPattern(def))
	}
	for _, e := range r.extractors {
		e.shadowWith(r.defs)
	}
	return r, nil
}

// MustRegistry is NewRegistry for static tables.
func MustRegistry(defs ...Definition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRegistry returns the stock registry.
func DefaultRegistry() *Registry {
	return MustRegistry(DefaultDefinitions()...)
}

// DefaultDefinitions lists the stock currencies in resolution order.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Code: ZAR, Symbol: "R", Name: "South African Rand", Aliases: []string{"ZAR", "rand", "rands"}},
		{Code: USD, Symbol: "$", Name: "US Dollar", Aliases: []string{"USD", "US$", "dollar", "dollars", "bucks", "доллар", "долларов", "دولار"}},
		{Code: EUR, Symbol: "€", Name: "Euro", Aliases: []string{"EUR", "euro", "euros", "евро", "يورو"}},
		{Code: GBP, Symbol: "£", Name: "British Pound", Aliases: []string{"GBP", "pound", "pounds", "quid", "sterling", "фунт", "фунтов"}},
		{Code: AUD, Symbol: "A$", Name: "Australian Dollar", Aliases: []string{"AUD", "AU$"}},
		{Code: INR, Symbol: "₹", Name: "Indian Rupee", Aliases: []string{"INR", "Rs.", "Rs", "rupee", "rupees", "рупий", "روبية"}},
		{Code: BRL, Symbol: "R$", Name: "Brazilian Real", Aliases: []string{"BRL", "reais"}},
		{Code: CNY, Symbol: "CN¥", Name: "Chinese Yuan", Aliases: []string{"CNY", "RMB", "yuan", "元", "юаней", "юань"}},
		{Code: JPY, Symbol: "¥", Name: "Japanese Yen", Aliases: []string{"JPY", "yen", "円", "иен"}},
		{Code: NGN, Symbol: "₦", Name: "Nigerian Naira", Aliases: []string{"NGN", "naira"}},
		{Code: RUB, Symbol: "₽", Name: "Russian Ruble", Aliases: []string{"RUB", "руб.", "руб", "р.", "рубль", "рублей", "рубля", "ruble", "rubles", "rouble", "roubles"}},
		{Code: SAR, Symbol: "SR", Name: "Saudi Riyal", Aliases: []string{"SAR", "ر.س", "ريال", "riyal", "riyals"}},
		{Code: AED, Symbol: "د.إ", Name: "UAE Dirham", Aliases: []string{"AED", "Dhs", "dirham", "dirhams", "درهم"}},
	}
}

// Definitions returns a copy of the definitions in resolution order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	for i, def := range r.defs {
		def.Aliases = append([]string(nil), def.Aliases...)
		out[i] = def
	}
	return out
}

// Lookup returns the definition registered for code.
func (r *Registry) Lookup(code Code) (Definition, bool) {
	i, ok := r.index[code]
	if !ok {
		return Definition{}, false
	}
	def := r.defs[i]
	def.Aliases = append([]string(nil), def.Aliases...)
	return def, true
}

// Contains reports whether code is registered.
func (r *Registry) Contains(code Code) bool {
	_, ok := r.index[code]
	return ok
}

// Parse turns user supplied text (flag values, request fields) into a
// registered Code.
func (r *Registry) Parse(s string) (Code, error) {
	code := Code(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Contains(code) {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, s)
	}
	return code, nil
}

// Extractor returns the amount extractor for code.
func (r *Registry) Extractor(code Code) (*Extractor, bool) {
	i, ok := r.index[code]
	if !ok {
		return nil, false
	}
	return r.extractors[i], true
}

// Extract runs every currency's extractor in registry order and returns the
// first hit. A line mentioning two currencies resolves to the one registered
// first, whichever the writer meant.
func (r *Registry) Extract(text string) (Match, bool) {
	for _, e := range r.extractors {
		if m, ok := e.Extract(text); ok {
			return m, true
		}
	}
	return Match{}, false
}

// Mentioned finds the first currency, in registry order, whose symbol, code,
// name or alias appears in text as a token.
func (r *Registry) Mentioned(text string) (Definition, bool) {
	for i, re := range r.mentions {
		if re.MatchString(text) {
			return r.Lookup(r.defs[i].Code)
		}
	}
	return Definition{}, false
}

// MentionsAny reports whether text carries any currency marker.
func (r *Registry) MentionsAny(text string) bool {
	_, ok := r.Mentioned(text)
	return ok
}

func mentionPattern(def Definition) *regexp.Regexp {
	alts := []string{
		tokenPattern(def.Symbol, false),
		tokenPattern(string(def.Code), true),
		tokenPattern(def.Name, true),
	}
	for _, alias := range def.Aliases {
		alts = append(alts, tokenPattern(alias, true))
	}
	return regexp.MustCompile(strings.Join(alts, "|"))
}
