package extraction

import (
	"bytes"
	"encoding/csv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/chat-payments/internal/currency"
	"github.com/zombor/chat-payments/internal/payment"
)

var _ = Describe("WriteCSV", func() {
	It("writes a header and one row per record", func() {
		registry := currency.DefaultRegistry()
		confidence := 0.875
		records := []payment.Record{
			{
				Timestamp:      time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
				Origin:         payment.OriginOCR,
				Counterparty:   payment.OCRCounterparty,
				Description:    "Coffee, large",
				Amount:         decimal.RequireFromString("4.5"),
				Currency:       currency.USD,
				SourceImageRef: "img1.jpg",
				Confidence:     &confidence,
			},
			{
				Timestamp:    time.Date(2024, 3, 12, 14, 5, 0, 0, time.UTC),
				Origin:       payment.OriginChat,
				Counterparty: "Alice",
				Description:  "Lunch",
				Amount:       decimal.NewFromInt(250),
				Currency:     currency.ZAR,
			},
		}

		var buf bytes.Buffer
		Expect(WriteCSV(&buf, registry, records)).To(Succeed())

		rows, err := csv.NewReader(&buf).ReadAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(Equal([][]string{
			csvHeader,
			{"2025-06-01", "09:30:00", "Receipt (OCR)", "4.50", "USD", "$", "Coffee, large", "ocr", "img1.jpg", "0.88"},
			{"2024-03-12", "14:05:00", "Alice", "250.00", "ZAR", "R", "Lunch", "chat", "", ""},
		}))
	})

	It("writes only the header for no records", func() {
		var buf bytes.Buffer
		Expect(WriteCSV(&buf, currency.DefaultRegistry(), nil)).To(Succeed())
		Expect(buf.String()).To(Equal("Date,Time,Sender,Amount,Currency,Currency Symbol,Message,Origin,Image,Confidence\n"))
	})
})
