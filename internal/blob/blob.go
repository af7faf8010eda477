// Package blob stores marker imagery uploaded alongside annotations.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Store persists named blobs and returns a URL path they can be fetched
// from.
type Store interface {
	// Put writes the blob under name, overwriting any previous content,
	// and returns the public URL path for it.
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// FSStore implements Store on the local filesystem. Files are served back
// under /images/.
type FSStore struct {
	dir    string
	logger *zap.Logger
}

// NewFSStore creates the storage directory if needed.
func NewFSStore(dir string, logger *zap.Logger) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &FSStore{dir: dir, logger: logger}, nil
}

// Dir returns the directory blobs are written to.
func (s *FSStore) Dir() string {
	return s.dir
}

// Put writes the blob to disk.
func (s *FSStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Error("Failed to write blob", zap.String("name", name), zap.Error(err))
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	s.logger.Info("Stored blob", zap.String("name", name), zap.Int("bytes", len(data)))
	return "/images/" + name, nil
}

// validateName rejects names that could escape the storage directory.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("blob name must not be empty")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("invalid blob name %q", name)
	}
	return nil
}
