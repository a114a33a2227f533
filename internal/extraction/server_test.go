package extraction

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/chat-payments/internal/currency"
	"github.com/zombor/chat-payments/internal/payment"
	"github.com/zombor/chat-payments/internal/scanning"
	"github.com/zombor/chat-payments/internal/timestamp"
)

func multipartBody(files map[string][]file) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for field, list := range files {
		for _, f := range list {
			part, err := writer.CreateFormFile(field, f.name)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte(f.content))
			Expect(err).NotTo(HaveOccurred())
		}
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

type file = struct{ name, content string }

var _ = Describe("Server", func() {
	var (
		scanner     *mockScanner
		metrics     *Metrics
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, metrics, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	BeforeEach(func() {
		scanner = newMockScanner()
		metrics = NewMetrics()
		var err error
		service, err = NewServiceWithDeps(Options{Location: time.UTC}, scanner, metrics, timestamp.FixedClock(fixedNow))
		Expect(err).NotTo(HaveOccurred())
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/currencies")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("rejects wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/currencies", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/currencies", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("handleListCurrencies", func() {
		It("lists the registry in resolution order", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/currencies")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var defs []currency.Definition
			Expect(json.NewDecoder(resp.Body).Decode(&defs)).To(Succeed())
			Expect(defs).To(HaveLen(len(currency.DefaultDefinitions())))
			Expect(defs[0].Code).To(Equal(currency.ZAR))
		})
	})

	Describe("handleParseTranscript", func() {
		const transcript = "2024/03/12, 14:05 - Alice: Lunch R250.00\n2024/03/12, 14:06 - Bob: thanks"

		When("the transcript is posted as the body", func() {
			It("returns the report as JSON", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/transcripts", "text/plain", strings.NewReader(transcript))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var report struct {
					Records []payment.Record `json:"records"`
					Skipped map[string]int   `json:"skipped"`
				}
				Expect(json.NewDecoder(resp.Body).Decode(&report)).To(Succeed())
				Expect(report.Records).To(HaveLen(1))
				Expect(report.Records[0].Amount.StringFixed(2)).To(Equal("250.00"))
				Expect(report.Skipped).To(HaveKeyWithValue("no_amount", 1))
			})
		})

		When("the transcript is uploaded as a file", func() {
			It("reads the file field", func() {
				body, contentType := multipartBody(map[string][]file{"file": {{"chat.txt", transcript}}})
				resp, err := http.Post(ghttpServer.URL()+"/api/transcripts", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("CSV is requested", func() {
			It("returns one row per record", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/transcripts?format=csv", "text/plain", strings.NewReader(transcript))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/csv"))

				rows, err := csv.NewReader(resp.Body).ReadAll()
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).To(HaveLen(2))
				Expect(rows[0]).To(Equal(csvHeader))
				Expect(rows[1]).To(Equal([]string{"2024-03-12", "14:05:00", "Alice", "250.00", "ZAR", "R", "Lunch", "chat", "", ""}))
			})
		})

		When("the body is empty", func() {
			It("returns bad request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/transcripts", "text/plain", strings.NewReader("  \n"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleBuildFromOCR", func() {
		post := func(body string) *http.Response {
			resp, err := http.Post(ghttpServer.URL()+"/api/ocr", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("builds records from the text", func() {
			resp := post(`{"text": "Coffee $4.50", "image_ref": "img1.jpg", "confidence": 80}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out struct {
				Records []payment.Record `json:"records"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out.Records).To(HaveLen(1))
			Expect(out.Records[0].Description).To(Equal("Coffee"))
			Expect(out.Records[0].Currency).To(Equal(currency.USD))
			Expect(out.Records[0].SourceImageRef).To(Equal("img1.jpg"))
		})

		It("accepts a confidence of zero", func() {
			resp := post(`{"text": "Coffee $4.50", "image_ref": "img1.jpg", "confidence": 0}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		DescribeTable("invalid requests",
			func(body, message string) {
				resp := post(body)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var out map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
				Expect(out["error"]).To(Equal(message))
			},
			Entry("missing image_ref", `{"text": "x", "confidence": 50}`, "image_ref is required"),
			Entry("missing confidence", `{"text": "x", "image_ref": "a"}`, "confidence is required"),
			Entry("confidence above range", `{"text": "x", "image_ref": "a", "confidence": 101}`, "confidence must be between 0 and 100"),
			Entry("malformed json", `{"text":`, "Invalid request body"),
		)
	})

	Describe("handleUploadReceipts", func() {
		BeforeEach(func() {
			scanner.answers["coffee-image"] = &scanning.Recognition{Text: "Coffee $4.50", Confidence: 90}
			scanner.errs["broken-image"] = errors.New("unreadable")
		})

		It("reads every uploaded image", func() {
			body, contentType := multipartBody(map[string][]file{"file": {
				{"Receipt 1.jpg", "coffee-image"},
				{"broken.jpg", "broken-image"},
			}})
			resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var batch Batch
			Expect(json.NewDecoder(resp.Body).Decode(&batch)).To(Succeed())
			Expect(batch.Records).To(HaveLen(1))
			Expect(batch.Records[0].SourceImageRef).To(Equal("Receipt 1.jpg"))
			Expect(batch.Failures).To(HaveLen(1))
			Expect(batch.Failures[0].Name).To(Equal("broken.jpg"))
		})

		It("returns bad gateway when nothing could be read", func() {
			body, contentType := multipartBody(map[string][]file{"file": {{"broken.jpg", "broken-image"}}})
			resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
		})

		It("requires a file", func() {
			body, contentType := multipartBody(map[string][]file{})
			resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("no OCR engine is configured", func() {
			BeforeEach(func() {
				var err error
				service, err = NewServiceWithDeps(Options{}, nil, metrics, timestamp.FixedClock(fixedNow))
				Expect(err).NotTo(HaveOccurred())
				setupServer()
			})

			It("returns service unavailable", func() {
				body, contentType := multipartBody(map[string][]file{"file": {{"a.jpg", "coffee-image"}}})
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			})
		})
	})

	Describe("handleProcessExport", func() {
		It("merges the transcript with its uploaded attachments", func() {
			scanner.answers["pizza-image"] = &scanning.Recognition{Text: "Pizza R180.00", Confidence: 85}
			body, contentType := multipartBody(map[string][]file{
				"transcript": {{"chat.txt", "2024/03/12, 14:05 - Alice: Lunch R250.00\n" +
					"2024/03/12, 14:06 - Alice: IMG-20240312-WA0001.jpg (file attached)"}},
				"attachments": {{"IMG-20240312-WA0001.jpg", "pizza-image"}},
			})
			resp, err := http.Post(ghttpServer.URL()+"/api/exports", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result ExportResult
			Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
			Expect(result.Records).To(HaveLen(2))
			Expect(result.Records[0].Origin).To(Equal(payment.OriginOCR))
			Expect(result.Missing).To(BeEmpty())
		})

		It("requires a transcript", func() {
			body, contentType := multipartBody(map[string][]file{"attachments": {{"a.jpg", "x"}}})
			resp, err := http.Post(ghttpServer.URL()+"/api/exports", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleMetrics", func() {
		It("exposes the pipeline counters", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/transcripts", "text/plain", strings.NewReader("2024/03/12, 14:05 - Alice: Lunch R250.00"))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			ghttpServer.AppendHandlers(server.ServeHTTP)
			resp, err = http.Get(ghttpServer.URL() + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`chat_payments_records_extracted_total{origin="chat"} 1`))
		})
	})

	Describe("Handler", func() {
		It("answers preflight requests", func() {
			ghttpServer.Close()
			ghttpServer = ghttp.NewServer()
			ghttpServer.AppendHandlers(server.Handler().ServeHTTP)

			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/transcripts", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})
	})

	Describe("handleHealth", func() {
		It("reports the scanner", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			var out map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out).To(HaveKeyWithValue("status", "ok"))
			Expect(out).To(HaveKeyWithValue("scanner", true))
		})
	})
})
