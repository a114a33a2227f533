package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/chat-payments/internal/currency"
	"github.com/zombor/chat-payments/internal/extraction"
	"github.com/zombor/chat-payments/internal/logging"
	"github.com/zombor/chat-payments/internal/scanning"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type config struct {
	port             int
	transcript       string
	attachments      string
	format           string
	scannerType      string
	geminiKey        string
	geminiModel      string
	ollamaURL        string
	ollamaModel      string
	cacheDB          string
	scanRate         int
	concurrency      int
	fallbackCurrency string
	timezone         string
	authUser         string
	authPass         string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("chat-payments")
	var (
		port             = fs.IntLong("port", 8080, "HTTP server port")
		transcript       = fs.StringLong("transcript", "", "Chat transcript to process once and exit (serve HTTP when empty)")
		attachments      = fs.StringLong("attachments", "", "Directory holding the images the transcript references")
		format           = fs.StringLong("format", "json", "One-shot output format: 'json' or 'csv'")
		scannerType      = fs.StringLong("scanner", "none", "OCR engine: 'none', 'gemini' or 'ollama'")
		geminiKey        = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel      = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL        = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel      = fs.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name (e.g., qwen2.5vl, llava)")
		cacheDB          = fs.StringLong("cache-db", "", "BoltDB file caching OCR results by image content (optional)")
		scanRate         = fs.IntLong("scan-rate", 0, "Maximum OCR requests per minute (0 for unlimited)")
		concurrency      = fs.IntLong("concurrency", 4, "Images read in parallel")
		fallbackCurrency = fs.StringLong("fallback-currency", "ZAR", "Currency assumed for payments that name none")
		timezone         = fs.StringLong("timezone", "Local", "Time zone of transcript timestamps")
		authUser         = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass         = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel         = fs.StringLong("log-level", "", "Log level: debug, info, warn, error (or set LOG_LEVEL env var)")
	)
	showVersion := fs.BoolLong("version", "Show version information")
	_ = fs.StringLong("config", "", "Config file with one 'flag value' per line (optional)")

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CHAT_PAYMENTS"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logging.Setup(*logLevel)

	cfg := config{
		port:             *port,
		transcript:       *transcript,
		attachments:      *attachments,
		format:           *format,
		scannerType:      *scannerType,
		geminiKey:        *geminiKey,
		geminiModel:      *geminiModel,
		ollamaURL:        *ollamaURL,
		ollamaModel:      *ollamaModel,
		cacheDB:          *cacheDB,
		scanRate:         *scanRate,
		concurrency:      *concurrency,
		fallbackCurrency: *fallbackCurrency,
		timezone:         *timezone,
		authUser:         *authUser,
		authPass:         *authPass,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Exiting", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	registry := currency.DefaultRegistry()
	fallback, err := registry.Parse(cfg.fallbackCurrency)
	if err != nil {
		return fmt.Errorf("fallback currency: %w", err)
	}

	loc, err := time.LoadLocation(cfg.timezone)
	if err != nil {
		return fmt.Errorf("loading time zone %q: %w", cfg.timezone, err)
	}

	scanner, err := newScanner(ctx, cfg)
	if err != nil {
		return err
	}
	if scanner != nil {
		defer scanner.Close()
	}

	metrics := extraction.NewMetrics()
	service, err := extraction.NewService(extraction.Options{
		Registry:         registry,
		FallbackCurrency: fallback,
		Location:         loc,
		Concurrency:      cfg.concurrency,
	}, scanner, metrics)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	if cfg.transcript != "" {
		return processOnce(ctx, service, cfg)
	}
	return serve(ctx, service, metrics, cfg)
}

// newScanner builds the OCR engine chain: engine, then cache, then rate
// limit. It returns nil when OCR is disabled.
func newScanner(ctx context.Context, cfg config) (scanning.Scanner, error) {
	var (
		scanner scanning.Scanner
		err     error
	)

	switch cfg.scannerType {
	case "none", "":
		return nil, nil
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", cfg.geminiModel)
		scanner, err = scanning.NewGemini(ctx, apiKey, cfg.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		scanner, err = scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
	default:
		return nil, fmt.Errorf("invalid scanner type %q: want none, gemini or ollama", cfg.scannerType)
	}

	if cfg.cacheDB != "" {
		slog.Info("Caching OCR results", "path", cfg.cacheDB)
		cached, err := scanning.NewCached(scanner, cfg.cacheDB)
		if err != nil {
			scanner.Close()
			return nil, fmt.Errorf("opening OCR cache: %w", err)
		}
		scanner = cached
	}

	if cfg.scanRate > 0 {
		scanner = scanning.NewThrottled(scanner, cfg.scanRate, 1)
	}
	return scanner, nil
}

// processOnce extracts the payments from one export and writes them to stdout
func processOnce(ctx context.Context, service *extraction.Service, cfg config) error {
	data, err := os.ReadFile(cfg.transcript)
	if err != nil {
		return fmt.Errorf("reading transcript: %w", err)
	}

	var attachments extraction.Storage
	if cfg.attachments != "" {
		store, err := extraction.NewLocalStorage(cfg.attachments)
		if err != nil {
			return err
		}
		attachments = store
	}

	result, err := service.ProcessExport(ctx, string(data), attachments)
	if err != nil {
		return err
	}
	for _, f := range result.Failures {
		slog.Warn("Could not read attachment", "name", f.Name, "error", f.Error)
	}

	switch strings.ToLower(cfg.format) {
	case "csv":
		return extraction.WriteCSV(os.Stdout, service.Registry(), result.Records)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("invalid format %q: want json or csv", cfg.format)
	}
}

// serve runs the HTTP API until ctx ends
func serve(ctx context.Context, service *extraction.Service, metrics *extraction.Metrics, cfg config) error {
	basicAuth := extraction.BasicAuth{
		Username: cfg.authUser,
		Password: cfg.authPass,
	}
	server := extraction.NewServer(service, metrics, basicAuth)

	addr := fmt.Sprintf(":%d", cfg.port)
	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(addr)
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "ocr", service.HasScanner())
	if cfg.authUser != "" || cfg.authPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.authUser)
	}

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("Shutting down...")
		return nil
	}
}
