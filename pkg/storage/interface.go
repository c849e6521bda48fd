// Package storage defines the key/blob backend used as the persistent tier of
// the caching plugin.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Backend stores opaque blobs under string keys.
type Backend interface {
	// Init applies backend-specific configuration and opens connections.
	Init(config map[string]any) error

	Save(ctx context.Context, key string, data io.Reader) error

	// Load returns ErrKeyNotFound when key is absent.
	Load(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete returns ErrKeyNotFound when key is absent.
	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// Expirer is implemented by backends with native key expiry.
type Expirer interface {
	SetExpiration(ctx context.Context, key string, ttl time.Duration) error
}

// Config selects and configures a backend.
type Config struct {
	// Type is one of memory, filesystem, redis, s3, gcs, ftp.
	Type string `json:"type" yaml:"type" mapstructure:"type"`

	// Config holds backend-specific settings.
	Config map[string]any `json:"config" yaml:"config" mapstructure:"config"`
}

// SaveJSON encodes v and saves it under key. When ttl is positive and the
// backend implements Expirer the key expires natively.
func SaveJSON(ctx context.Context, b Backend, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := b.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return err
	}
	if exp, ok := b.(Expirer); ok && ttl > 0 {
		return exp.SetExpiration(ctx, key, ttl)
	}
	return nil
}

// LoadJSON loads key and decodes it into v.
func LoadJSON(ctx context.Context, b Backend, key string, v any) error {
	rc, err := b.Load(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
