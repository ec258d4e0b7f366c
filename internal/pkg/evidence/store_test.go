package evidence

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
	"github.com/pharmalink/pharmalink/internal/pkg/storage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newStore(t *testing.T, maxBytes int64) (*Store, *storage.LocalStore) {
	t.Helper()
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return NewStore(local, maxBytes), local
}

func TestPutStoresValidReceipt(t *testing.T) {
	s, local := newStore(t, 1<<20)
	body := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...)

	locator, err := s.Put(context.Background(), 7, "recu.PNG", bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	assert.Contains(t, locator, "/evidence/")
	assert.True(t, strings.HasSuffix(locator, ".png"))

	rc, err := local.Get(context.Background(), locator)
	require.NoError(t, err)
	defer rc.Close()
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, stored)
}

func TestPutRejectsInvalidReceipts(t *testing.T) {
	s, _ := newStore(t, 32)

	tests := []struct {
		name     string
		filename string
		body     []byte
	}{
		{"wrong extension", "recu.gif", pngHeader},
		{"html disguised as png", "recu.png", []byte("<html><script>alert(1)</script></html>")},
		{"too large", "recu.png", bytes.Repeat([]byte{1}, 64)},
		{"empty", "recu.png", nil},
	}
	for _, tt := range tests {
		_, err := s.Put(context.Background(), 7, tt.filename, bytes.NewReader(tt.body), int64(len(tt.body)))
		assert.True(t, errors.Is(err, apperr.ErrValidation), tt.name)
	}
}

func TestValidateReceiptAcceptsPDF(t *testing.T) {
	mime, err := ValidateReceipt("releve.pdf", []byte("%PDF-1.7\n"))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mime)
}

func TestOpenStreamsStoredReceipt(t *testing.T) {
	s, _ := newStore(t, 1<<20)
	ctx := context.Background()

	locator, err := s.Put(ctx, 7, "recu.png", bytes.NewReader(pngHeader), int64(len(pngHeader)))
	require.NoError(t, err)

	rc, contentType, err := s.Open(ctx, locator)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "image/png", contentType)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, got)

	require.NoError(t, s.Delete(ctx, locator))
	_, _, err = s.Open(ctx, locator)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestContentTypeOf(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentTypeOf("s3://bucket/evidence/2025/03/10/x.PDF"))
	assert.Equal(t, "image/jpeg", ContentTypeOf("file:///data/evidence/a.jpeg"))
	assert.Equal(t, "application/octet-stream", ContentTypeOf("evidence/a"))
}
