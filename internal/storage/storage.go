// Package storage defines the object-store capability shared by the primary and
// secondary backends, plus the pure helpers and health cache the upload path uses.
package storage

import (
	"context"
	"strings"
	"time"
)

// Store names used for breakers, health checks and metrics.
const (
	PrimaryStore   = "primary"
	SecondaryStore = "secondary"
)

// DefaultCacheControl is sent with every uploaded photo. Keys are timestamped, so objects never change.
const DefaultCacheControl = "public, max-age=31536000, immutable"

// Type identifies which store served an upload.
type Type string

const (
	TypePrimary   Type = "Primary"
	TypeSecondary Type = "Secondary"
)

// String returns the string representation of the storage type.
func (t Type) String() string {
	return string(t)
}

// PutInput describes a single object write.
type PutInput struct {
	Bucket       string
	Key          string
	Body         []byte
	ContentType  string
	CacheControl string
}

// Store is the object-store capability: a write and a cheap existence probe.
type Store interface {
	Put(ctx context.Context, in PutInput) error
	HeadBucket(ctx context.Context, bucket string) error
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	StorageType Type   `json:"storageType"`
}

// HealthStatus is the last observed health of a store.
type HealthStatus struct {
	Healthy     bool      `json:"healthy"`
	LastChecked time.Time `json:"lastChecked"`
	Error       string    `json:"error,omitempty"`
}

// CDNURL builds the public URL of key behind domain. The key is used as-is.
func CDNURL(domain, key string) string {
	domain = strings.TrimSuffix(domain, "/")
	key = strings.TrimPrefix(key, "/")
	return "https://" + domain + "/" + key
}
