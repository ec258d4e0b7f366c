package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

const localScheme = "file://"

// LocalStore keeps objects below a base directory.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(basePath string) (*LocalStore, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir %s: %w", basePath, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", abs, err)
	}
	return &LocalStore{basePath: abs}, nil
}

// Put writes the object and returns a file:// locator.
func (s *LocalStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	fullPath, err := s.pathOf(key)
	if err != nil {
		return "", err
	}

	// Ensure directory exists
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", fullPath, err)
	}
	defer file.Close()

	bytesWritten, err := io.Copy(file, body)
	if err != nil {
		// Clean up partial file
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to write file %s: %w", fullPath, err)
	}

	log.Infof("[Storage] Saved %s (%d bytes, %s)", key, bytesWritten, contentType)
	return localScheme + filepath.ToSlash(fullPath), nil
}

// Get opens a stored object.
func (s *LocalStore) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	fullPath, err := s.pathOf(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fullPath, err)
	}
	return f, nil
}

// Delete removes a stored object. Missing objects are not an error.
func (s *LocalStore) Delete(ctx context.Context, locator string) error {
	fullPath, err := s.pathOf(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", fullPath, err)
	}
	return nil
}

// pathOf accepts a key relative to the base directory or a locator returned by Put.
func (s *LocalStore) pathOf(keyOrLocator string) (string, error) {
	p := strings.TrimPrefix(keyOrLocator, localScheme)
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.basePath, filepath.FromSlash(p))
	}
	p = filepath.Clean(p)
	if p != s.basePath && !strings.HasPrefix(p, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes storage dir", keyOrLocator)
	}
	return p, nil
}
