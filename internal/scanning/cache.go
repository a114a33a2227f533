package scanning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

const recognitionBucket = "recognitions"

type cachedRecognition struct {
	Recognition
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// Cached wraps a Scanner and remembers its recognitions in BoltDB, keyed by
// the SHA-256 of the image, so re-running an export does not pay for OCR
// twice.
type Cached struct {
	next Scanner
	db   *bbolt.DB
}

// NewCached opens (or creates) the cache at path
func NewCached(next Scanner, path string) (*Cached, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recognitionBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Cached{next: next, db: db}, nil
}

func imageKey(imageData []byte) []byte {
	sum := sha256.Sum256(imageData)
	return []byte(hex.EncodeToString(sum[:]))
}

// Recognize returns the cached recognition for imageData or asks the wrapped
// scanner and stores its answer. Failures are not cached.
func (c *Cached) Recognize(ctx context.Context, imageData []byte, contentType string) (*Recognition, error) {
	key := imageKey(imageData)

	if rec, ok := c.lookup(key); ok {
		slog.Debug("OCR cache hit", "key", string(key[:12]))
		return rec, nil
	}

	rec, err := c.next.Recognize(ctx, imageData, contentType)
	if err != nil {
		return nil, err
	}

	if err := c.store(key, rec, contentType); err != nil {
		slog.Warn("Failed to cache recognition", "error", err)
	}
	return rec, nil
}

func (c *Cached) lookup(key []byte) (*Recognition, bool) {
	var entry *cachedRecognition
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(recognitionBucket)).Get(key)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		slog.Warn("Failed to read recognition cache", "error", err)
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	rec := entry.Recognition
	return &rec, true
}

func (c *Cached) store(key []byte, rec *Recognition, contentType string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(cachedRecognition{
			Recognition: *rec,
			ContentType: contentType,
			CreatedAt:   time.Now(),
		})
		if err != nil {
			return fmt.Errorf("marshaling recognition: %w", err)
		}
		return tx.Bucket([]byte(recognitionBucket)).Put(key, data)
	})
}

// Len returns the number of cached recognitions
func (c *Cached) Len() (int, error) {
	var n int
	err := c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(recognitionBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the cache and the wrapped scanner
func (c *Cached) Close() error {
	dbErr := c.db.Close()
	if err := c.next.Close(); err != nil {
		return err
	}
	return dbErr
}
