// Package backends implements storage.Backend over memory, the local file
// system, Redis, S3, Google Cloud Storage and FTP.
package backends

import (
	"fmt"
	"strings"

	"github.com/hypersim/hookengine/pkg/storage"
)

// Types lists the backend names accepted by New.
func Types() []string {
	return []string{"memory", "filesystem", "redis", "s3", "gcs", "ftp"}
}

// New builds and initializes the backend named by cfg.Type. An empty type
// selects memory.
func New(cfg storage.Config) (storage.Backend, error) {
	var backend storage.Backend
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "memory":
		backend = NewMemoryBackend()
	case "filesystem", "fs":
		backend = NewFileSystemBackend()
	case "redis":
		backend = NewRedisBackend()
	case "s3":
		backend = NewS3Backend()
	case "gcs":
		backend = NewGCSBackend()
	case "ftp":
		backend = NewFTPBackend()
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrBackendNotFound, cfg.Type)
	}

	config := cfg.Config
	if config == nil {
		config = map[string]any{}
	}
	if err := backend.Init(config); err != nil {
		return nil, fmt.Errorf("init %s backend: %w", cfg.Type, err)
	}
	return backend, nil
}
