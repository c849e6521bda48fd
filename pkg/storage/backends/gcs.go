package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/hypersim/hookengine/pkg/storage"
)

// GCSBackend stores entries as objects in a Google Cloud Storage bucket.
type GCSBackend struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSBackend creates a new Google Cloud Storage backend
func NewGCSBackend() *GCSBackend {
	return &GCSBackend{}
}

// Init reads bucket, prefix and either key_file or emulator_host. Without
// either, application default credentials are used.
func (g *GCSBackend) Init(config map[string]any) error {
	bucket, ok := config["bucket"].(string)
	if !ok || bucket == "" {
		return fmt.Errorf("%w: bucket is required for GCS backend", storage.ErrInvalidConfig)
	}
	g.bucket = bucket

	if prefix, ok := config["prefix"].(string); ok {
		g.prefix = strings.Trim(prefix, "/")
	}

	client, err := gcs.NewClient(context.Background(), gcsOptions(config)...)
	if err != nil {
		return fmt.Errorf("failed to create GCS client: %w", err)
	}
	g.client = client
	return nil
}

func gcsOptions(config map[string]any) []option.ClientOption {
	var opts []option.ClientOption
	if host, _ := config["emulator_host"].(string); host != "" {
		opts = append(opts,
			option.WithEndpoint(fmt.Sprintf("http://%s/storage/v1/", host)),
			option.WithoutAuthentication(),
		)
		return opts
	}
	if keyFile, _ := config["key_file"].(string); keyFile != "" {
		opts = append(opts, option.WithCredentialsFile(keyFile))
	}
	return opts
}

func (g *GCSBackend) object(key string) (*gcs.ObjectHandle, error) {
	if g.client == nil {
		return nil, storage.ErrBackendNotReady
	}
	return g.client.Bucket(g.bucket).Object(g.buildKey(key)), nil
}

// Save uploads data to the object for key.
func (g *GCSBackend) Save(ctx context.Context, key string, data io.Reader) error {
	obj, err := g.object(key)
	if err != nil {
		return err
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload gs://%s/%s: %w", g.bucket, g.buildKey(key), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", g.bucket, g.buildKey(key), err)
	}
	return nil
}

// Load opens a reader on the object for key.
func (g *GCSBackend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := g.object(key)
	if err != nil {
		return nil, err
	}

	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", g.bucket, g.buildKey(key), err)
	}
	return r, nil
}

// Delete removes the object for key.
func (g *GCSBackend) Delete(ctx context.Context, key string) error {
	obj, err := g.object(key)
	if err != nil {
		return err
	}

	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return storage.ErrKeyNotFound
		}
		return fmt.Errorf("failed to delete gs://%s/%s: %w", g.bucket, g.buildKey(key), err)
	}
	return nil
}

// Exists checks the object attributes for key.
func (g *GCSBackend) Exists(ctx context.Context, key string) (bool, error) {
	obj, err := g.object(key)
	if err != nil {
		return false, err
	}

	if _, err := obj.Attrs(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat gs://%s/%s: %w", g.bucket, g.buildKey(key), err)
	}
	return true, nil
}

// List returns the keys of every object under prefix.
func (g *GCSBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if g.client == nil {
		return nil, storage.ErrBackendNotReady
	}

	it := g.client.Bucket(g.bucket).Objects(ctx, &gcs.Query{Prefix: g.buildKey(prefix)})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		keys = append(keys, g.stripPrefix(attrs.Name))
	}
	return keys, nil
}

// Close closes the GCS client.
func (g *GCSBackend) Close() error {
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

func (g *GCSBackend) buildKey(key string) string {
	if g.prefix == "" {
		return key
	}
	return g.prefix + "/" + strings.TrimPrefix(key, "/")
}

func (g *GCSBackend) stripPrefix(objectName string) string {
	if g.prefix == "" {
		return objectName
	}
	return strings.TrimPrefix(objectName, g.prefix+"/")
}
