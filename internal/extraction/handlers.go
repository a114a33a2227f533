package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zombor/chat-payments/internal/payment"
)

const (
	maxTranscriptSize = int64(20 << 20)  // 20MB
	maxFormSize       = int64(100 << 20) // 100MB, phone photos add up
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v as a JSON response with CORS headers set
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// wantsCSV reports whether the caller asked for CSV output
func wantsCSV(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("format"), "csv")
}

// writeRecords writes body as JSON, or just records as CSV when asked
func (s *Server) writeRecords(w http.ResponseWriter, r *http.Request, body any, records []payment.Record) {
	if !wantsCSV(r) {
		writeJSON(w, http.StatusOK, body)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="payments.csv"`)
	if err := WriteCSV(w, s.service.Registry(), records); err != nil {
		slog.Error("Error writing CSV", "error", err)
	}
}

// readTranscript returns the transcript from a multipart "file" field or,
// for any other content type, the raw request body
func readTranscript(w http.ResponseWriter, r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxTranscriptSize); err != nil {
			return "", fmt.Errorf("parsing form: %w", err)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			return "", fmt.Errorf("reading transcript file: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxTranscriptSize))
		if err != nil {
			return "", fmt.Errorf("reading transcript file: %w", err)
		}
		return string(data), nil
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTranscriptSize))
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	return string(data), nil
}

// readUpload reads one uploaded file into an Image
func readUpload(header *multipart.FileHeader) (Image, error) {
	f, err := header.Open()
	if err != nil {
		return Image{}, fmt.Errorf("opening %s: %w", header.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Image{}, fmt.Errorf("reading %s: %w", header.Filename, err)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = ContentTypeFor(header.Filename)
	}
	return Image{Name: sanitizeFilename(header.Filename), Data: data, ContentType: contentType}, nil
}

// handleParseTranscript extracts payments from an uploaded transcript
func (s *Server) handleParseTranscript(w http.ResponseWriter, r *http.Request) {
	transcript, err := readTranscript(w, r)
	if err != nil {
		slog.Error("Error reading transcript", "error", err)
		writeError(w, http.StatusBadRequest, "Could not read transcript")
		return
	}
	if strings.TrimSpace(transcript) == "" {
		writeError(w, http.StatusBadRequest, "Transcript is empty")
		return
	}

	report := s.service.ParseTranscript(transcript)
	s.writeRecords(w, r, report, report.Records)
}

// handleProcessExport takes a transcript and its attachments in one form and
// returns the merged records
func (s *Server) handleProcessExport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	headers := r.MultipartForm.File["transcript"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "No transcript provided")
		return
	}
	transcript, err := readUpload(headers[0])
	if err != nil {
		slog.Error("Error reading transcript", "error", err)
		writeError(w, http.StatusBadRequest, "Could not read transcript")
		return
	}

	attachments := NewMemoryStorage()
	for _, header := range r.MultipartForm.File["attachments"] {
		img, err := readUpload(header)
		if err != nil {
			slog.Error("Error reading attachment", "error", err)
			writeError(w, http.StatusBadRequest, "Could not read attachment "+header.Filename)
			return
		}
		// Keep the original name: the transcript refers to it verbatim.
		attachments.Put(header.Filename, img.Data)
	}

	result, err := s.service.ProcessExport(r.Context(), string(transcript.Data), attachments)
	if err != nil {
		slog.Error("Error processing export", "error", err)
		writeError(w, http.StatusInternalServerError, "Error processing export")
		return
	}
	s.writeRecords(w, r, result, result.Records)
}

// ocrRequest is text an OCR engine already read off a receipt
type ocrRequest struct {
	Text       string   `json:"text"`
	ImageRef   string   `json:"image_ref" validate:"required,max=255"`
	Confidence *float64 `json:"confidence" validate:"required,gte=0,lte=100"`
}

// handleBuildFromOCR turns posted OCR text into records
func (s *Server) handleBuildFromOCR(w http.ResponseWriter, r *http.Request) {
	var req ocrRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTranscriptSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	records := s.service.BuildFromOCR(req.Text, req.ImageRef, *req.Confidence)
	s.writeRecords(w, r, map[string]any{"records": records}, records)
}

// validationMessage names the first field that failed validation
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", fe.Field())
		case "gte", "lte":
			return fmt.Sprintf("%s must be between 0 and 100", fe.Field())
		default:
			return fmt.Sprintf("%s is invalid", fe.Field())
		}
	}
	return "Invalid request"
}

// handleUploadReceipts reads uploaded receipt images with the OCR engine
func (s *Server) handleUploadReceipts(w http.ResponseWriter, r *http.Request) {
	if !s.service.HasScanner() {
		writeError(w, http.StatusServiceUnavailable, "No OCR engine is configured")
		return
	}

	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if strings.Contains(err.Error(), "request body too large") {
			errorMsg = "Upload is too large. Maximum size is 100MB."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}

	images := make([]Image, 0, len(headers))
	for _, header := range headers {
		img, err := readUpload(header)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
			return
		}
		images = append(images, img)
	}

	batch := s.service.ProcessImages(r.Context(), images)
	if len(batch.Failures) == len(images) {
		writeJSON(w, http.StatusBadGateway, batch)
		return
	}
	s.writeRecords(w, r, batch, batch.Records)
}

// handleListCurrencies lists the currencies the service recognizes
func (s *Server) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Registry().Definitions())
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"scanner": s.service.HasScanner(),
	})
}
