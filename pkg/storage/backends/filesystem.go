package backends

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hypersim/hookengine/pkg/storage"
)

// isPathUnder checks if childPath is under parentPath in a cross-platform way
func isPathUnder(parentPath, childPath string) bool {
	absParent, err := filepath.Abs(parentPath)
	if err != nil {
		return false
	}
	absChild, err := filepath.Abs(childPath)
	if err != nil {
		return false
	}

	absParent = filepath.Clean(absParent)
	absChild = filepath.Clean(absChild)

	// On Windows, paths are case-insensitive
	if runtime.GOOS == "windows" {
		absParent = strings.ToLower(absParent)
		absChild = strings.ToLower(absChild)
	}

	rel, err := filepath.Rel(absParent, absChild)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, "..") && rel != "."
}

// FileSystemBackend stores each key as a file below a base directory.
// Keys containing ':' or '/' map to nested paths; List reports them with ':'.
type FileSystemBackend struct {
	basePath string
}

// NewFileSystemBackend creates a new file system storage backend
func NewFileSystemBackend() *FileSystemBackend {
	return &FileSystemBackend{}
}

// Init reads base_path, expanding a leading "~/", and creates the directory.
func (fs *FileSystemBackend) Init(config map[string]any) error {
	basePath, ok := config["base_path"].(string)
	if !ok || basePath == "" {
		return fmt.Errorf("%w: base_path is required for filesystem backend", storage.ErrInvalidConfig)
	}

	if strings.HasPrefix(basePath, "~/") && runtime.GOOS != "windows" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		basePath = filepath.Join(homeDir, basePath[2:])
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	fs.basePath = absPath

	if err := os.MkdirAll(fs.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create base directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes data to a temporary file and renames it into place, so readers
// never observe a partial entry.
func (fs *FileSystemBackend) Save(ctx context.Context, key string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := fs.resolve(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	discard := func() {
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			log.Warn().Err(removeErr).Str("path", tmpPath).Msg("failed to remove partial cache file")
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(tmp, data)
		done <- err
	}()

	select {
	case err := <-done:
		closeErr := tmp.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			discard()
			return fmt.Errorf("failed to save data to %s: %w", filePath, err)
		}
	case <-ctx.Done():
		// The copy goroutine exits on its next write to the closed file.
		_ = tmp.Close()
		discard()
		return fmt.Errorf("save operation cancelled: %w", ctx.Err())
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		discard()
		return fmt.Errorf("failed to move %s into place: %w", filePath, err)
	}
	return nil
}

// Load opens the file stored at key.
func (fs *FileSystemBackend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath) // #nosec G304 - path is validated by resolve
	if os.IsNotExist(err) {
		return nil, storage.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}

	return &contextAwareReader{ReadCloser: file, ctx: ctx}, nil
}

// Delete removes the file at key and any parent directories left empty.
func (fs *FileSystemBackend) Delete(ctx context.Context, key string) error {
	filePath, err := fs.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return storage.ErrKeyNotFound
		}
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}

	fs.cleanupEmptyDirs(filepath.Dir(filePath))
	return nil
}

// Exists checks if data exists at the given key/path
func (fs *FileSystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	filePath, err := fs.resolve(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check file existence %s: %w", filePath, err)
}

// List walks the base directory and returns the keys starting with prefix.
func (fs *FileSystemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if fs.basePath == "" {
		return nil, storage.ErrBackendNotReady
	}

	var keys []string
	err := filepath.Walk(fs.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}

		if key := fs.pathToKey(path); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op.
func (fs *FileSystemBackend) Close() error {
	return nil
}

// resolve maps key to a path below basePath, rejecting traversal.
func (fs *FileSystemBackend) resolve(key string) (string, error) {
	if fs.basePath == "" {
		return "", storage.ErrBackendNotReady
	}
	if key == "" {
		return "", fmt.Errorf("%w: empty key", storage.ErrInvalidConfig)
	}

	cleanKey := strings.ReplaceAll(key, ":", string(filepath.Separator))
	cleanKey = strings.TrimPrefix(filepath.Clean(filepath.FromSlash(cleanKey)), string(filepath.Separator))
	filePath := filepath.Join(fs.basePath, cleanKey)

	if !isPathUnder(fs.basePath, filePath) {
		return "", fmt.Errorf("path outside base directory not allowed: %s", key)
	}
	return filePath, nil
}

// pathToKey converts a file system path back to a storage key
func (fs *FileSystemBackend) pathToKey(path string) string {
	relPath, err := filepath.Rel(fs.basePath, path)
	if err != nil {
		return path
	}
	return strings.ReplaceAll(filepath.ToSlash(relPath), "/", ":")
}

// cleanupEmptyDirs removes empty parent directories up to the base path
func (fs *FileSystemBackend) cleanupEmptyDirs(dir string) {
	if dir == fs.basePath || !isPathUnder(fs.basePath, dir) {
		return
	}
	if err := os.Remove(dir); err == nil {
		fs.cleanupEmptyDirs(filepath.Dir(dir))
	}
}

// contextAwareReader wraps a ReadCloser to respect context cancellation
type contextAwareReader struct {
	io.ReadCloser
	ctx context.Context
}

func (r *contextAwareReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.ReadCloser.Read(p)
}
