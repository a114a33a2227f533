// Package extraction wires the transcript parser, the OCR record builder and
// an OCR engine into one pipeline, and serves it over HTTP.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/chat-payments/internal/chat"
	"github.com/zombor/chat-payments/internal/currency"
	"github.com/zombor/chat-payments/internal/ocr"
	"github.com/zombor/chat-payments/internal/payment"
	"github.com/zombor/chat-payments/internal/scanning"
	"github.com/zombor/chat-payments/internal/timestamp"
)

// ErrNoScanner is returned when an image needs reading but no OCR engine is
// configured.
var ErrNoScanner = errors.New("no OCR engine configured")

const defaultConcurrency = 4

// Options configures a Service
type Options struct {
	Registry         *currency.Registry
	FallbackCurrency currency.Code
	Location         *time.Location
	Concurrency      int
}

// Image is one receipt picture to run through the OCR engine
type Image struct {
	Name        string
	Data        []byte
	ContentType string
}

// ImageFailure records an image the OCR engine could not read
type ImageFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Batch is the result of reading several images
type Batch struct {
	Records  []payment.Record `json:"records"`
	Failures []ImageFailure   `json:"failures"`
}

// ExportResult is everything found in a chat export: transcript records
// merged with records read from the images the transcript references.
type ExportResult struct {
	Records            []payment.Record        `json:"records"`
	Attachments        []string                `json:"attachments"`
	Missing            []string                `json:"missing"`
	Failures           []ImageFailure          `json:"failures"`
	Skipped            map[chat.SkipReason]int `json:"skipped"`
	TimestampFallbacks int                     `json:"timestamp_fallbacks"`
}

// Service handles extraction operations
type Service struct {
	registry    *currency.Registry
	parser      *chat.Parser
	builder     *ocr.Builder
	scanner     scanning.Scanner
	metrics     *Metrics
	concurrency int
}

// NewService creates a new Service using the system clock. scanner may be nil
// when only transcripts and pre-read OCR text will be processed.
func NewService(opts Options, scanner scanning.Scanner, metrics *Metrics) (*Service, error) {
	return NewServiceWithDeps(opts, scanner, metrics, timestamp.SystemClock())
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(opts Options, scanner scanning.Scanner, metrics *Metrics, timeSrc timestamp.TimeSource) (*Service, error) {
	registry := opts.Registry
	if registry == nil {
		registry = currency.DefaultRegistry()
	}
	fallback := opts.FallbackCurrency
	if fallback == "" {
		fallback = currency.ZAR
	}
	if timeSrc == nil {
		timeSrc = timestamp.SystemClock()
	}

	parser, err := chat.NewParser(registry, timestamp.NewNormalizer(opts.Location, timeSrc), fallback)
	if err != nil {
		return nil, fmt.Errorf("creating parser: %w", err)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Service{
		registry:    registry,
		parser:      parser,
		builder:     ocr.NewBuilder(registry, timeSrc),
		scanner:     scanner,
		metrics:     metrics,
		concurrency: concurrency,
	}, nil
}

// Registry returns the currency registry the service resolves against
func (s *Service) Registry() *currency.Registry {
	return s.registry
}

// HasScanner reports whether an OCR engine is configured
func (s *Service) HasScanner() bool {
	return s.scanner != nil
}

// ParseTranscript extracts the payments mentioned in a chat transcript
func (s *Service) ParseTranscript(transcript string) chat.Result {
	report := s.parser.Parse(transcript)
	s.metrics.ObserveReport(report)
	slog.Info("Parsed transcript",
		"records", len(report.Records),
		"skipped", report.SkippedTotal(),
		"attachments", len(report.Attachments),
	)
	return report
}

// BuildFromOCR turns text already read off a receipt into records
func (s *Service) BuildFromOCR(text, imageRef string, confidence float64) []payment.Record {
	records := s.builder.Build(text, imageRef, confidence)
	s.metrics.ObserveOCR(records)
	return records
}

// ProcessImage reads one receipt image and returns the records found on it
func (s *Service) ProcessImage(ctx context.Context, filename string, data []byte, contentType string) ([]payment.Record, error) {
	if s.scanner == nil {
		return nil, ErrNoScanner
	}
	if contentType == "" {
		contentType = ContentTypeFor(filename)
	}

	start := time.Now()
	rec, err := s.scanner.Recognize(ctx, data, contentType)
	s.metrics.ObserveScan(time.Since(start), err)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("scanning %s: %w", filename, err)
	}

	records := s.BuildFromOCR(rec.Text, filename, rec.Confidence)
	slog.Debug("Read receipt", "filename", filename, "records", len(records), "confidence", rec.Confidence)
	return records, nil
}

// ProcessImages reads images concurrently. Each image fills its own slot so
// the combined list does not depend on completion order; it is sorted newest
// first once at the end. A failed image is reported, never fatal.
func (s *Service) ProcessImages(ctx context.Context, images []Image) Batch {
	results := make([][]payment.Record, len(images))
	errs := make([]error, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, img := range images {
		g.Go(func() error {
			results[i], errs[i] = s.ProcessImage(gctx, img.Name, img.Data, img.ContentType)
			return nil
		})
	}
	_ = g.Wait()

	batch := Batch{Records: []payment.Record{}, Failures: []ImageFailure{}}
	for i, records := range results {
		if errs[i] != nil {
			batch.Failures = append(batch.Failures, ImageFailure{Name: images[i].Name, Error: errs[i].Error()})
			continue
		}
		batch.Records = append(batch.Records, records...)
	}
	payment.SortNewestFirst(batch.Records)
	return batch
}

// ProcessExport parses a transcript and reads every image it references from
// attachments. Referenced images missing from storage are listed in Missing.
// attachments may be nil, in which case only the transcript is parsed.
func (s *Service) ProcessExport(ctx context.Context, transcript string, attachments Storage) (*ExportResult, error) {
	report := s.ParseTranscript(transcript)
	result := &ExportResult{
		Records:            payment.Clone(report.Records),
		Attachments:        report.Attachments,
		Missing:            []string{},
		Failures:           []ImageFailure{},
		Skipped:            report.Skipped,
		TimestampFallbacks: report.TimestampFallbacks,
	}
	if attachments == nil || len(report.Attachments) == 0 {
		return result, nil
	}
	if s.scanner == nil {
		slog.Warn("Transcript references images but no OCR engine is configured", "attachments", len(report.Attachments))
		for _, name := range report.Attachments {
			result.Failures = append(result.Failures, ImageFailure{Name: name, Error: ErrNoScanner.Error()})
		}
		return result, nil
	}

	var images []Image
	for _, name := range report.Attachments {
		data, err := attachments.Get(name)
		if errors.Is(err, ErrAttachmentNotFound) {
			slog.Warn("Referenced attachment not in export", "name", name)
			result.Missing = append(result.Missing, name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading attachment %s: %w", name, err)
		}
		images = append(images, Image{Name: name, Data: data, ContentType: ContentTypeFor(name)})
	}

	batch := s.ProcessImages(ctx, images)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("processing export: %w", err)
	}
	result.Records = append(result.Records, batch.Records...)
	result.Failures = batch.Failures
	payment.SortNewestFirst(result.Records)
	return result, nil
}

// ContentTypeFor guesses an image content type from its file extension
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up an uploaded filename before it is used as an
// image reference on records
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	const maxLen = 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}
	return base + strings.ToLower(ext)
}
