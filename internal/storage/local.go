// Package storage keeps uploaded attachment blobs on the local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidName is returned for file names that cannot be stored.
var ErrInvalidName = errors.New("invalid file name")

// FileStore persists blobs under a per-ticket namespace.
type FileStore interface {
	Save(ctx context.Context, ticketKey, fileName string, content io.Reader) (storageKey string, size int64, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
}

// LocalStore writes blobs below a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore builds a store rooted at root, creating it when missing.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Namespace returns the storage prefix of a ticket.
func Namespace(ticketKey string) string {
	return path.Join("tickets", ticketKey)
}

// Save streams content to tickets/<ticketKey>/<uuid>-<name>.
func (s *LocalStore) Save(ctx context.Context, ticketKey, fileName string, content io.Reader) (string, int64, error) {
	name := cleanName(fileName)
	if name == "" || ticketKey == "" || strings.ContainsAny(ticketKey, `/\.`) {
		return "", 0, ErrInvalidName
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	key := path.Join(Namespace(ticketKey), uuid.NewString()+"-"+name)
	full := s.resolve(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", 0, fmt.Errorf("create ticket directory: %w", err)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create blob: %w", err)
	}
	size, err := io.Copy(f, content)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(full)
		return "", 0, fmt.Errorf("write blob: %w", err)
	}
	return key, size, nil
}

func (s *LocalStore) Open(_ context.Context, storageKey string) (io.ReadCloser, error) {
	if !validKey(storageKey) {
		return nil, ErrInvalidName
	}
	return os.Open(s.resolve(storageKey))
}

// Delete removes a blob. Missing blobs are not an error.
func (s *LocalStore) Delete(_ context.Context, storageKey string) error {
	if !validKey(storageKey) {
		return ErrInvalidName
	}
	err := os.Remove(s.resolve(storageKey))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *LocalStore) resolve(storageKey string) string {
	return filepath.Join(s.root, filepath.FromSlash(storageKey))
}

func validKey(storageKey string) bool {
	clean := path.Clean(storageKey)
	return clean == storageKey && strings.HasPrefix(clean, "tickets/") && !strings.Contains(clean, "..")
}

func cleanName(fileName string) string {
	name := filepath.Base(strings.ReplaceAll(fileName, `\`, "/"))
	name = strings.TrimSpace(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
