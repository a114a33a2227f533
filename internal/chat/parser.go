package chat

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/chat-payments/internal/currency"
	"github.com/zombor/chat-payments/internal/payment"
	"github.com/zombor/chat-payments/internal/textnorm"
	"github.com/zombor/chat-payments/internal/timestamp"
)

// SkipReason says why a transcript line produced no record
type SkipReason string

const (
	SkipNoEnvelope SkipReason = "no_envelope"
	SkipNoAmount   SkipReason = "no_amount"
)

// LineResult is the outcome for one non-blank transcript line: either a
// record or the reason there is none.
type LineResult struct {
	Line              int // 1-based
	Text              string
	Record            *payment.Record
	Skip              SkipReason
	TimestampFallback bool
}

// Matched reports whether the line produced a record.
func (r LineResult) Matched() bool {
	return r.Record != nil
}

// Result is everything one pass over a transcript found.
type Result struct {
	Records            []payment.Record   `json:"records"`
	Attachments        []string           `json:"attachments"`
	Lines              []LineResult       `json:"-"`
	Skipped            map[SkipReason]int `json:"skipped"`
	TimestampFallbacks int                `json:"timestamp_fallbacks"`
}

// SkippedTotal counts skipped lines of every reason.
func (r Result) SkippedTotal() int {
	total := 0
	for _, n := range r.Skipped {
		total += n
	}
	return total
}

var (
	latinKeywords  = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:sent|paid|pay(?:ing|ments?)?|transfer(?:s|red|ring)?|pagado|pagué|pago|enviado|envié|transferencia|transferí)(?:[^\p{L}]|$)`)
	arabicKeywords = regexp.MustCompile(`دفعت|دفع|أرسلت|ارسلت|حولت|تحويل|مدفوع`)
	spaces         = regexp.MustCompile(`\s+`)
)

// HasPaymentIntent reports whether text carries one of the payment keywords.
func HasPaymentIntent(text string) bool {
	return latinKeywords.MatchString(text) || arabicKeywords.MatchString(text)
}

// Parser turns transcripts into payment records.
type Parser struct {
	registry   *currency.Registry
	normalizer *timestamp.Normalizer
	fallback   currency.Code
}

// NewParser creates a Parser. fallback is the currency assumed for keyword
// matches that name no currency and must be in registry.
func NewParser(registry *currency.Registry, normalizer *timestamp.Normalizer, fallback currency.Code) (*Parser, error) {
	if registry == nil {
		return nil, fmt.Errorf("parser needs a currency registry")
	}
	if !registry.Contains(fallback) {
		return nil, fmt.Errorf("fallback currency: %w: %q", currency.ErrUnknownCurrency, fallback)
	}
	if normalizer == nil {
		normalizer = timestamp.NewNormalizer(nil, nil)
	}
	return &Parser{
		registry:   registry,
		normalizer: normalizer,
		fallback:   fallback,
	}, nil
}

// Parse extracts every payment in transcript. It never fails; lines it cannot
// use are reported in Lines and Skipped. Records are newest first.
func (p *Parser) Parse(transcript string) Result {
	report := Result{
		Records:     []payment.Record{},
		Attachments: []string{},
		Skipped:     map[SkipReason]int{},
	}
	var attachments attachmentSet

	for i, line := range textnorm.Lines(transcript) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		hits := attachmentHits(line)
		for _, h := range hits {
			attachments.add(h.name)
		}

		result := p.parseLine(i+1, line, hits)
		if result.Matched() {
			report.Records = append(report.Records, *result.Record)
		} else {
			report.Skipped[result.Skip]++
			slog.Debug("Skipping transcript line", "line", result.Line, "reason", result.Skip)
		}
		if result.TimestampFallback {
			report.TimestampFallbacks++
		}
		report.Lines = append(report.Lines, result)
	}

	if attachments.names != nil {
		report.Attachments = attachments.names
	}
	payment.SortNewestFirst(report.Records)
	return report
}

func (p *Parser) parseLine(n int, line string, hits []attachmentHit) LineResult {
	result := LineResult{Line: n, Text: line}

	env, ok := Classify(line)
	if !ok {
		result.Skip = SkipNoEnvelope
		return result
	}

	content := strings.TrimSpace(stripAttachments(env.Content))
	amount, code, start, end, ok := p.findAmount(content)
	if !ok {
		result.Skip = SkipNoAmount
		return result
	}

	ts, parsed := p.normalizer.Normalize(env.Timestamp)
	result.TimestampFallback = !parsed

	var imageRef string
	if len(hits) > 0 {
		imageRef = hits[0].name
	}

	record, err := payment.New(p.registry, payment.Fields{
		Timestamp:      ts,
		Origin:         payment.OriginChat,
		Counterparty:   env.Sender,
		Description:    describe(content, start, end),
		Amount:         amount,
		Currency:       code,
		SourceImageRef: imageRef,
		Source:         line,
		Index:          n,
	})
	if err != nil {
		slog.Debug("Dropping transcript record", "line", n, "error", err)
		result.Skip = SkipNoAmount
		return result
	}
	result.Record = &record
	return result
}

// findAmount tries the currency matchers in registry order, then the keyword
// fallback: a payment word plus a bare number, with the currency taken from
// any mention in the text or else the configured fallback.
func (p *Parser) findAmount(content string) (decimal.Decimal, currency.Code, int, int, bool) {
	if m, ok := p.registry.Extract(content); ok {
		return m.Amount, m.Currency, m.Start, m.End, true
	}

	if !HasPaymentIntent(content) || !currency.HasNumeral(content) {
		return decimal.Zero, "", 0, 0, false
	}
	amount, start, end, ok := currency.FirstNumber(content)
	if !ok {
		return decimal.Zero, "", 0, 0, false
	}
	code := p.fallback
	if def, found := p.registry.Mentioned(content); found {
		code = def.Code
	}
	return amount, code, start, end, true
}

// describe is content with the amount span cut out, or all of content when
// nothing else is left.
func describe(content string, start, end int) string {
	rest := content[:start] + " " + content[end:]
	rest = strings.TrimSpace(spaces.ReplaceAllString(rest, " "))
	if rest == "" {
		return content
	}
	return rest
}
