package extraction

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrAttachmentNotFound is returned when a transcript names an image that is
// not in the export directory.
var ErrAttachmentNotFound = errors.New("attachment not found")

// Storage defines read access to the files that came with a chat export
type Storage interface {
	// Get retrieves an attachment by name
	Get(name string) ([]byte, error)

	// Exists reports whether an attachment is present
	Exists(name string) bool
}

// LocalStorage implements the Storage interface over an unpacked export
// directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance. The directory must
// already exist.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("opening attachment directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("attachment path %s is not a directory", basePath)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// path keeps lookups inside basePath; transcripts are untrusted input.
func (l *LocalStorage) path(name string) (string, bool) {
	base := filepath.Base(filepath.Clean(name))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", false
	}
	return filepath.Join(l.basePath, base), true
}

// Get retrieves a file from the export directory
func (l *LocalStorage) Get(name string) ([]byte, error) {
	fullPath, ok := l.path(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAttachmentNotFound, name)
	}
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Exists reports whether name is a regular file in the export directory
func (l *LocalStorage) Exists(name string) bool {
	fullPath, ok := l.path(name)
	if !ok {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && info.Mode().IsRegular()
}

// MemoryStorage holds attachments uploaded alongside a transcript
type MemoryStorage struct {
	files map[string][]byte
}

// NewMemoryStorage creates an empty MemoryStorage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{files: map[string][]byte{}}
}

// Put stores data under the base name of name
func (m *MemoryStorage) Put(name string, data []byte) {
	m.files[filepath.Base(name)] = data
}

// Get retrieves an uploaded attachment
func (m *MemoryStorage) Get(name string) ([]byte, error) {
	data, ok := m.files[filepath.Base(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, name)
	}
	return data, nil
}

// Exists reports whether an attachment was uploaded
func (m *MemoryStorage) Exists(name string) bool {
	_, ok := m.files[filepath.Base(name)]
	return ok
}
