// Package payment holds the record type shared by the chat and OCR paths.
package payment

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/chat-payments/internal/currency"
)

// Origin says where a record was found
type Origin string

const (
	OriginChat Origin = "chat"
	OriginOCR  Origin = "ocr"
)

// OCRCounterparty labels records read from receipt images.
const OCRCounterparty = "Receipt (OCR)"

// ErrNegativeAmount is returned when a record would carry a negative amount.
var ErrNegativeAmount = errors.New("negative amount")

// recordNamespace scopes the name-based record IDs.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/zombor/chat-payments/record"))

// Record is one payment found in a transcript line or a receipt image.
type Record struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Origin         Origin          `json:"origin"`
	Counterparty   string          `json:"counterparty"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       currency.Code   `json:"currency"`
	SourceImageRef string          `json:"source_image_ref,omitempty"`
	Confidence     *float64        `json:"confidence,omitempty"`
}

// Fields are the inputs to New
type Fields struct {
	Timestamp      time.Time
	Origin         Origin
	Counterparty   string
	Description    string
	Amount         decimal.Decimal
	Currency       currency.Code
	SourceImageRef string
	Confidence     *float64

	// Source and Index identify where the record came from (transcript name
	// and line, or image and line) and feed the record ID.
	Source string
	Index  int
}

// New validates f against registry and builds a Record.
func New(registry *currency.Registry, f Fields) (Record, error) {
	if f.Amount.IsNegative() {
		return Record{}, fmt.Errorf("%w: %s", ErrNegativeAmount, f.Amount)
	}
	if registry == nil || !registry.Contains(f.Currency) {
		return Record{}, fmt.Errorf("%w: %q", currency.ErrUnknownCurrency, f.Currency)
	}
	if f.Origin != OriginChat && f.Origin != OriginOCR {
		return Record{}, fmt.Errorf("unknown origin %q", f.Origin)
	}

	var confidence *float64
	if f.Confidence != nil {
		c := *f.Confidence
		confidence = &c
	}

	return Record{
		ID:             recordID(f.Origin, f.Source, f.Index),
		Timestamp:      f.Timestamp,
		Origin:         f.Origin,
		Counterparty:   f.Counterparty,
		Description:    f.Description,
		Amount:         f.Amount,
		Currency:       f.Currency,
		SourceImageRef: f.SourceImageRef,
		Confidence:     confidence,
	}, nil
}

func recordID(origin Origin, source string, index int) string {
	name := string(origin) + "\x00" + source + "\x00" + strconv.Itoa(index)
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}

// SortNewestFirst orders records by descending timestamp in place. Records
// with equal timestamps keep their relative order.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}

// Clone returns a copy of records that shares no pointers with the input.
func Clone(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		if r.Confidence != nil {
			c := *r.Confidence
			r.Confidence = &c
		}
		out[i] = r
	}
	return out
}
