package extraction

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/chat-payments/internal/chat"
	"github.com/zombor/chat-payments/internal/payment"
)

// Metrics counts what the pipeline extracted and skipped. Each Metrics owns
// its registry so tests can build as many as they like.
type Metrics struct {
	registry           *prometheus.Registry
	records            *prometheus.CounterVec
	skippedLines       *prometheus.CounterVec
	timestampFallbacks prometheus.Counter
	scanDuration       prometheus.Histogram
	scanErrors         prometheus.Counter
}

// NewMetrics creates and registers the pipeline collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_payments",
			Name:      "records_extracted_total",
			Help:      "Payment records extracted, by origin.",
		}, []string{"origin"}),
		skippedLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_payments",
			Name:      "transcript_lines_skipped_total",
			Help:      "Transcript lines that produced no record, by reason.",
		}, []string{"reason"}),
		timestampFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat_payments",
			Name:      "timestamp_fallbacks_total",
			Help:      "Records stamped with processing time because their chat timestamp did not parse.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chat_payments",
			Name:      "ocr_scan_duration_seconds",
			Help:      "Time spent in the OCR engine per image.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		scanErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat_payments",
			Name:      "ocr_scan_errors_total",
			Help:      "Images the OCR engine failed to read.",
		}),
	}

	m.registry.MustRegister(
		m.records,
		m.skippedLines,
		m.timestampFallbacks,
		m.scanDuration,
		m.scanErrors,
		collectors.NewGoCollector(),
	)
	for _, origin := range []payment.Origin{payment.OriginChat, payment.OriginOCR} {
		m.records.WithLabelValues(string(origin))
	}
	for _, reason := range []chat.SkipReason{chat.SkipNoEnvelope, chat.SkipNoAmount} {
		m.skippedLines.WithLabelValues(string(reason))
	}
	return m
}

// ObserveReport records the outcome of one transcript parse
func (m *Metrics) ObserveReport(report chat.Result) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(string(payment.OriginChat)).Add(float64(len(report.Records)))
	for reason, n := range report.Skipped {
		m.skippedLines.WithLabelValues(string(reason)).Add(float64(n))
	}
	m.timestampFallbacks.Add(float64(report.TimestampFallbacks))
}

// ObserveOCR records records built from OCR text
func (m *Metrics) ObserveOCR(records []payment.Record) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(string(payment.OriginOCR)).Add(float64(len(records)))
}

// ObserveScan records one call to the OCR engine
func (m *Metrics) ObserveScan(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.scanErrors.Inc()
	}
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
