// Package evidence stores the receipt artifacts attached to manual payment submissions.
package evidence

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
	"github.com/pharmalink/pharmalink/internal/pkg/storage"
)

const sniffLen = 512

// Store validates receipts and writes them to the object store.
type Store struct {
	objects  storage.ObjectStore
	maxBytes int64
	now      func() time.Time
}

// NewStore creates a receipt store. maxBytes <= 0 disables the size check.
func NewStore(objects storage.ObjectStore, maxBytes int64) *Store {
	return &Store{objects: objects, maxBytes: maxBytes, now: func() time.Time { return time.Now().UTC() }}
}

// Put stores a receipt for accountID and returns its locator.
func (s *Store) Put(ctx context.Context, accountID uint, filename string, body io.Reader, size int64) (string, error) {
	if accountID == 0 {
		return "", apperr.Validation("account id is required")
	}
	if size == 0 {
		return "", apperr.Validation("receipt is empty")
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return "", apperr.Validation("receipt exceeds %d bytes", s.maxBytes)
	}

	br := bufio.NewReaderSize(body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return "", apperr.Validation("unreadable receipt: %v", err)
	}
	mime, err := ValidateReceipt(filename, head)
	if err != nil {
		return "", err
	}

	key := storage.EvidenceKey(accountID, uuid.NewString(), filename, s.now())
	locator, err := s.objects.Put(ctx, key, mime, br, size)
	if err != nil {
		return "", apperr.Storage("store receipt", err)
	}
	log.Infof("[Evidence] Stored receipt for account %d at %s", accountID, locator)
	return locator, nil
}

// Open streams a stored receipt back together with its content type.
func (s *Store) Open(ctx context.Context, locator string) (io.ReadCloser, string, error) {
	rc, err := s.objects.Get(ctx, locator)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", apperr.NotFound("receipt %s", locator)
	}
	if err != nil {
		return nil, "", apperr.Storage("open receipt", err)
	}
	return rc, ContentTypeOf(locator), nil
}

// ContentTypeOf maps a receipt locator to the mime type of its extension.
func ContentTypeOf(locator string) string {
	if mime, ok := mimeByExt[strings.ToLower(path.Ext(locator))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// Delete removes a stored receipt.
func (s *Store) Delete(ctx context.Context, locator string) error {
	if err := s.objects.Delete(ctx, locator); err != nil {
		return apperr.Storage("delete receipt", err)
	}
	return nil
}
