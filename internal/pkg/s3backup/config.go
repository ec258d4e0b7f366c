package s3backup

import (
	"errors"

	"github.com/pharmalink/pharmalink/internal/pkg/config"
)

// Config holds S3 configuration for snapshot exports and receipt evidence
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
	AppEnv          string
}

// LoadConfig maps the application configuration onto the S3 settings
func LoadConfig(cfg *config.Config) (*Config, error) {
	c := &Config{
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Region:          cfg.S3Region,
		BucketName:      cfg.S3BucketName,
		EndpointURL:     cfg.S3EndpointURL,
		Enabled:         cfg.S3Enabled,
		AppEnv:          cfg.AppEnv,
	}

	// Validate required fields if S3 is enabled
	if c.Enabled {
		if c.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3 is enabled")
		}
		if c.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3 is enabled")
		}
		if c.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when S3 is enabled")
		}
	}

	return c, nil
}

// IsEnabled returns true if S3 is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}
