package extraction

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/zombor/chat-payments/internal/currency"
	"github.com/zombor/chat-payments/internal/payment"
)

var csvHeader = []string{
	"Date",
	"Time",
	"Sender",
	"Amount",
	"Currency",
	"Currency Symbol",
	"Message",
	"Origin",
	"Image",
	"Confidence",
}

// WriteCSV writes records as a spreadsheet friendly CSV, one row per record
// in the order given. Symbols come from registry.
func WriteCSV(w io.Writer, registry *currency.Registry, records []payment.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, r := range records {
		symbol := ""
		if def, ok := registry.Lookup(r.Currency); ok {
			symbol = def.Symbol
		}
		confidence := ""
		if r.Confidence != nil {
			confidence = strconv.FormatFloat(*r.Confidence, 'f', 2, 64)
		}

		row := []string{
			r.Timestamp.Format("2006-01-02"),
			r.Timestamp.Format("15:04:05"),
			r.Counterparty,
			r.Amount.StringFixed(2),
			string(r.Currency),
			symbol,
			r.Description,
			string(r.Origin),
			r.SourceImageRef,
			confidence,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
