package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the session document.
type Store interface {
	// Save writes the full document. Called after every mutation
	// (write-through); failures are logged by callers and are not fatal to
	// the running process.
	Save(doc *Document) error

	// Load reads the document back. Returns fs.ErrNotExist (possibly wrapped)
	// when no document has been saved yet.
	Load() (*Document, error)
}

// FileStore persists the session as a single indented JSON document at a
// fixed path. Writes go to a temporary file in the same directory and are
// renamed into place so a crash mid-write never corrupts the previous save.
// Safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore writing to path. The parent directory is
// created if it does not exist.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state: store path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("state: create data dir %q: %w", dir, err)
		}
	}
	return &FileStore{path: path}, nil
}

// Save implements Store.
func (fs *FileStore) Save(doc *Document) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal session: %w", err)
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("state: rename %q: %w", tmp, err)
	}
	return nil
}

// Load implements Store.
func (fs *FileStore) Load() (*Document, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.path)
	if err != nil {
		return nil, fmt.Errorf("state: read %q: %w", fs.path, err)
	}

	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("state: parse %q: %w", fs.path, err)
	}
	doc.Normalize()
	return doc, nil
}

// LoadOrDefault loads the saved session from store, falling back to coded
// defaults when no save exists or the save cannot be parsed. A corrupt save
// is logged and ignored rather than blocking startup.
func LoadOrDefault(store Store) *Document {
	doc, err := store.Load()
	switch {
	case err == nil:
		return doc
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("no saved session found, starting fresh")
	default:
		slog.Warn("saved session unreadable, starting fresh", "err", err)
	}
	return NewDocument()
}
