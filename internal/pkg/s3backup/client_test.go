package s3backup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink/internal/pkg/config"
)

func TestLoadConfigRequiresCredentialsWhenEnabled(t *testing.T) {
	_, err := LoadConfig(&config.Config{S3Enabled: true, S3BucketName: "b"})
	assert.ErrorContains(t, err, "S3_ACCESS_KEY_ID")

	cfg, err := LoadConfig(&config.Config{S3Enabled: false})
	require.NoError(t, err)
	assert.False(t, cfg.IsEnabled())
}

func TestNewClientRefusesDisabledConfig(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{Enabled: false})
	assert.Error(t, err)
}

func TestKeyOf(t *testing.T) {
	c := &Client{config: &Config{BucketName: "pharmalink"}}

	assert.Equal(t, "snapshots/2025/03/10/x.json.gz", c.keyOf("s3://pharmalink/snapshots/2025/03/10/x.json.gz"))
	assert.Equal(t, "evidence/a.png", c.keyOf("evidence/a.png"))
}
