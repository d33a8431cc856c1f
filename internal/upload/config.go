package upload

import (
	"context"
	"strings"

	"github.com/evermore/evermore/internal/storage"
	"github.com/evermore/evermore/internal/storage/s3"
)

// Config holds the primary store settings passed to Initialize.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	CDNDomain       string
}

// Missing returns the names of every required field that is empty.
func (c Config) Missing() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	check("endpoint", c.Endpoint)
	check("region", c.Region)
	check("accessKeyId", c.AccessKeyID)
	check("secretAccessKey", c.SecretAccessKey)
	check("bucket", c.Bucket)
	check("cdnDomain", c.CDNDomain)
	return missing
}

// PrimaryFactory builds the primary store client from a validated Config.
type PrimaryFactory func(ctx context.Context, cfg Config) (storage.Store, error)

// NewS3Primary is the default PrimaryFactory.
func NewS3Primary(ctx context.Context, cfg Config) (storage.Store, error) {
	return s3.New(ctx, s3.Config{
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
}

// DefaultAllowedContentTypes are the image types accepted for upload.
var DefaultAllowedContentTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/gif",
	"image/avif",
	"image/heic",
}
