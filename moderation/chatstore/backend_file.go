package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Persists the whole state as a single JSON document on local disk.
//
// Writes go to a temporary file in the same directory which is then renamed over the target, so a crash mid-write never leaves a truncated document behind.
type FileBackend struct {
	Path string
}

var _ Backend = (*FileBackend)(nil)

func NewFileBackend(path string) (*FileBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileBackend{Path: path}, nil
}

func (b *FileBackend) Load(ctx context.Context) (*Document, error) {
	raw, err := os.ReadFile(b.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("reading data file: %w", err)
	}
	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing data file %s: %w", b.Path, err)
	}
	return doc, nil
}

func (b *FileBackend) Save(ctx context.Context, doc *Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.Path), filepath.Base(b.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp data file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp data file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp data file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), b.Path); err != nil {
		return fmt.Errorf("replacing data file: %w", err)
	}
	return nil
}

func (b *FileBackend) Close() error {
	return nil
}
