// Package ocr turns the text an OCR engine read off a receipt into payment
// records.
package ocr

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zombor/chat-payments/internal/currency"
	"github.com/zombor/chat-payments/internal/payment"
	"github.com/zombor/chat-payments/internal/textnorm"
	"github.com/zombor/chat-payments/internal/timestamp"
)

// Placeholder is the description used when no item label can be inferred.
const Placeholder = "receipt item"

const maxContextLine = 50

var (
	totalLabel   = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:sub\s*-?\s*total|total|amount|price|cost|fee|charge|payment)(?:[^\p{L}]|$)`)
	quantityItem = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])\d+\s*[x×]\s*(?P<item>\p{L}[\p{L}\p{N}'&\- ]*)`)
)

// Builder converts OCR output into records.
type Builder struct {
	Registry *currency.Registry
	Clock    timestamp.TimeSource
}

// NewBuilder creates a Builder; a nil clock selects the system clock.
func NewBuilder(registry *currency.Registry, clock timestamp.TimeSource) *Builder {
	if clock == nil {
		clock = timestamp.SystemClock()
	}
	return &Builder{Registry: registry, Clock: clock}
}

// Build returns one record per amount found in text, in line order. Every
// record is stamped with the current time, imageRef and confidence (0-100 in,
// 0-1 out). Lines without amounts are ignored.
func (b *Builder) Build(text, imageRef string, confidence float64) []payment.Record {
	records := []payment.Record{}
	if b.Registry == nil {
		return records
	}

	now := b.Clock.Now()
	conf := normalizeConfidence(confidence)
	lines := textnorm.Lines(text)

	index := 0
	for i, line := range lines {
		hits := b.hits(line)
		prevEnd := 0
		for _, hit := range hits {
			var previous string
			if i > 0 {
				previous = lines[i-1]
			}
			description := b.describe(line, previous, prevEnd, hit)
			prevEnd = hit.End

			c := conf
			record, err := payment.New(b.Registry, payment.Fields{
				Timestamp:      now,
				Origin:         payment.OriginOCR,
				Counterparty:   payment.OCRCounterparty,
				Description:    description,
				Amount:         hit.Amount,
				Currency:       hit.Currency,
				SourceImageRef: imageRef,
				Confidence:     &c,
				Source:         imageRef + "\x00" + line,
				Index:          index,
			})
			index++
			if err != nil {
				continue
			}
			records = append(records, record)
		}
	}
	return records
}

// hits runs every currency's matchers over line, keeps the longest of any
// overlapping matches, then adds code hits ("USD 100") that do not overlap
// a hit of the same currency.
func (b *Builder) hits(line string) []currency.Match {
	var candidates []currency.Match
	for _, def := range b.Registry.Definitions() {
		e, ok := b.Registry.Extractor(def.Code)
		if !ok {
			continue
		}
		candidates = append(candidates, e.ExtractAll(line)...)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].End-candidates[i].Start > candidates[j].End-candidates[j].Start
	})

	var accepted []currency.Match
	for _, c := range candidates {
		if !overlapsAny(c, accepted, func(currency.Match) bool { return true }) {
			accepted = append(accepted, c)
		}
	}

	for _, c := range b.Registry.ScanCodes(line) {
		sameCurrency := func(m currency.Match) bool { return m.Currency == c.Currency }
		if !overlapsAny(c, accepted, sameCurrency) {
			accepted = append(accepted, c)
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool { return accepted[i].Start < accepted[j].Start })
	return accepted
}

func overlapsAny(m currency.Match, found []currency.Match, consider func(currency.Match) bool) bool {
	for _, f := range found {
		if consider(f) && m.Overlaps(f) {
			return true
		}
	}
	return false
}

// describe picks the item label for hit: text just before it on the same
// line, else a plain preceding line, else "<qty> x <item>" on this line.
func (b *Builder) describe(line, previous string, from int, hit currency.Match) string {
	if from > hit.Start {
		from = 0
	}
	if label := trimLabel(line[from:hit.Start]); acceptable(label) {
		return label
	}

	if prev := strings.TrimSpace(previous); prev != "" &&
		utf8.RuneCountInString(prev) < maxContextLine &&
		hasLetter(prev) &&
		!b.Registry.MentionsAny(prev) &&
		!totalLabel.MatchString(prev) {
		return trimLabel(prev)
	}

	if m := quantityItem.FindStringSubmatch(line); m != nil {
		if item := trimLabel(m[quantityItem.SubexpIndex("item")]); acceptable(item) {
			return item
		}
	}
	return Placeholder
}

func trimLabel(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

func acceptable(label string) bool {
	return utf8.RuneCountInString(label) >= 2 && hasLetter(label)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func normalizeConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(1, c/100))
}
