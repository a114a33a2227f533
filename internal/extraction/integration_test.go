package extraction_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/chat-payments/internal/currency"
	"github.com/zombor/chat-payments/internal/extraction"
	"github.com/zombor/chat-payments/internal/payment"
	"github.com/zombor/chat-payments/internal/scanning"
	"github.com/zombor/chat-payments/internal/timestamp"
)

// engine stands in for a real OCR engine and counts its calls
type engine struct {
	text  string
	calls atomic.Int32
}

func (e *engine) Recognize(ctx context.Context, imageData []byte, contentType string) (*scanning.Recognition, error) {
	e.calls.Add(1)
	return &scanning.Recognition{Text: e.text, Confidence: 92}, nil
}

func (e *engine) Close() error {
	return nil
}

const exportTranscript = "[12/03/2024, 14:05:09] Alice: Dinner was R450.50 🍕\n" +
	"[12/03/2024, 14:06:00] Bob: <attached: 00000012-PHOTO-2024-03-12-14-06-00.jpg>\n" +
	"[12/03/2024, 14:07:30] Bob: Sent you $20 for the tip\n" +
	"[12/03/2024, 14:08:00] Alice: 👍\n"

var _ = Describe("Integration", func() {
	var (
		exportDir string
		ocr       *engine
		scanner   scanning.Scanner
		service   *extraction.Service
		now       time.Time
	)

	BeforeEach(func() {
		exportDir = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(exportDir, "00000012-PHOTO-2024-03-12-14-06-00.jpg"), []byte("jpeg bytes"), 0644)).To(Succeed())

		ocr = &engine{text: "CAFE MILANO\nCappuccino R32.00\n2 x Croissant R45.00\nTOTAL R77.00"}
		cached, err := scanning.NewCached(ocr, filepath.Join(GinkgoT().TempDir(), "ocr-cache.db"))
		Expect(err).NotTo(HaveOccurred())
		scanner = scanning.NewThrottled(cached, 0, 1)
		DeferCleanup(scanner.Close)

		now = time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
		service, err = extraction.NewServiceWithDeps(extraction.Options{Location: time.UTC}, scanner, extraction.NewMetrics(), timestamp.FixedClock(now))
		Expect(err).NotTo(HaveOccurred())
	})

	It("extracts a whole export from disk", func() {
		storage, err := extraction.NewLocalStorage(exportDir)
		Expect(err).NotTo(HaveOccurred())

		result, err := service.ProcessExport(context.Background(), exportTranscript, storage)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Failures).To(BeEmpty())
		Expect(result.Missing).To(BeEmpty())

		Expect(result.Records).To(HaveLen(5))

		receipt := result.Records[:3]
		for _, r := range receipt {
			Expect(r.Origin).To(Equal(payment.OriginOCR))
			Expect(r.Timestamp).To(Equal(now))
			Expect(r.SourceImageRef).To(Equal("00000012-PHOTO-2024-03-12-14-06-00.jpg"))
			Expect(r.Currency).To(Equal(currency.ZAR))
		}
		Expect(receipt[0].Description).To(Equal("Cappuccino"))
		Expect(receipt[1].Description).To(Equal("2 x Croissant"))
		Expect(receipt[2].Amount.StringFixed(2)).To(Equal("77.00"))

		Expect(result.Records[3].Counterparty).To(Equal("Bob"))
		Expect(result.Records[3].Currency).To(Equal(currency.USD))
		Expect(result.Records[4].Counterparty).To(Equal("Alice"))
		Expect(result.Records[4].Amount.StringFixed(2)).To(Equal("450.50"))

		Expect(result.Skipped).To(HaveKeyWithValue(BeEquivalentTo("no_amount"), 2))
	})

	It("reads each image only once across runs", func() {
		storage, err := extraction.NewLocalStorage(exportDir)
		Expect(err).NotTo(HaveOccurred())

		first, err := service.ProcessExport(context.Background(), exportTranscript, storage)
		Expect(err).NotTo(HaveOccurred())
		second, err := service.ProcessExport(context.Background(), exportTranscript, storage)
		Expect(err).NotTo(HaveOccurred())

		Expect(second.Records).To(Equal(first.Records))
		Expect(ocr.calls.Load()).To(Equal(int32(1)))
	})

	It("serves the same export over HTTP", func() {
		server := extraction.NewServer(service, nil, extraction.BasicAuth{Username: "me", Password: "pw"})
		ghServer := ghttp.NewServer()
		DeferCleanup(ghServer.Close)
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP)

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("transcript", "_chat.txt")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte(exportTranscript))
		Expect(err).NotTo(HaveOccurred())
		part, err = writer.CreateFormFile("attachments", "00000012-PHOTO-2024-03-12-14-06-00.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("jpeg bytes"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, ghServer.URL()+"/api/exports", bytes.NewReader(body.Bytes()))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.SetBasicAuth("me", "pw")
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var result extraction.ExportResult
		Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
		Expect(result.Records).To(HaveLen(5))

		req, err = http.NewRequest(http.MethodPost, ghServer.URL()+"/api/exports?format=csv", bytes.NewReader(body.Bytes()))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.SetBasicAuth("me", "pw")
		resp2, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp2.Body.Close()

		rows, err := csv.NewReader(resp2.Body).ReadAll()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(6))
		Expect(ocr.calls.Load()).To(Equal(int32(1)))
	})
})
