package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/hypersim/hookengine/pkg/storage"
)

const defaultFTPDialTimeout = 10 * time.Second

// FTPBackend stores each entry as a file in one directory of an FTP server.
// The control connection carries one command at a time, so every operation
// holds the backend lock.
type FTPBackend struct {
	mu     sync.Mutex
	client *ftp.ServerConn
	dir    string
}

// NewFTPBackend creates a new FTP storage backend
func NewFTPBackend() *FTPBackend {
	return &FTPBackend{}
}

// Init dials addr, logs in with username/password (anonymous by default) and
// uses dir as the storage directory.
func (f *FTPBackend) Init(config map[string]any) error {
	addr, _ := config["addr"].(string)
	if addr == "" {
		return fmt.Errorf("%w: addr is required for FTP backend", storage.ErrInvalidConfig)
	}
	if !strings.Contains(addr, ":") {
		addr += ":21"
	}

	username, _ := config["username"].(string)
	password, _ := config["password"].(string)
	if username == "" {
		username, password = "anonymous", "anonymous"
	}

	timeout := defaultFTPDialTimeout
	if v, ok := config["timeout"].(string); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: timeout: %v", storage.ErrInvalidConfig, err)
		}
		timeout = d
	}

	dir, _ := config["dir"].(string)
	if dir == "" {
		dir = "/"
	}

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout))
	if err != nil {
		return fmt.Errorf("failed to connect to FTP server %s: %w", addr, err)
	}
	if err := conn.Login(username, password); err != nil {
		_ = conn.Quit()
		return fmt.Errorf("FTP authentication failed for user %s: %w", username, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.client = conn
	f.dir = path.Clean("/" + dir)
	return nil
}

// Save uploads data as the file for key.
func (f *FTPBackend) Save(ctx context.Context, key string, data io.Reader) error {
	filePath, err := f.filePath(ctx, key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		return storage.ErrBackendNotReady
	}
	if err := f.client.Stor(filePath, data); err != nil {
		return fmt.Errorf("failed to store %s: %w", filePath, err)
	}
	return nil
}

// Load downloads the file for key into memory.
func (f *FTPBackend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	filePath, err := f.filePath(ctx, key)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		return nil, storage.ErrBackendNotReady
	}

	resp, err := f.client.Retr(filePath)
	if err != nil {
		if isFTPNotFound(err) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to retrieve %s: %w", filePath, err)
	}

	// The response must be closed before the connection takes another command.
	body, readErr := io.ReadAll(resp)
	if closeErr := resp.Close(); readErr == nil {
		readErr = closeErr
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to download %s: %w", filePath, readErr)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// Delete removes the file for key.
func (f *FTPBackend) Delete(ctx context.Context, key string) error {
	filePath, err := f.filePath(ctx, key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		return storage.ErrBackendNotReady
	}
	if err := f.client.Delete(filePath); err != nil {
		if isFTPNotFound(err) {
			return storage.ErrKeyNotFound
		}
		return fmt.Errorf("failed to delete %s: %w", filePath, err)
	}
	return nil
}

// Exists asks the server for the size of the file for key.
func (f *FTPBackend) Exists(ctx context.Context, key string) (bool, error) {
	filePath, err := f.filePath(ctx, key)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		return false, storage.ErrBackendNotReady
	}
	if _, err := f.client.FileSize(filePath); err != nil {
		if isFTPNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", filePath, err)
	}
	return true, nil
}

// List returns the names of the files in the storage directory that start
// with prefix.
func (f *FTPBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		return nil, storage.ErrBackendNotReady
	}

	entries, err := f.client.List(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory %s: %w", f.dir, err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.Type == ftp.EntryTypeFile && strings.HasPrefix(entry.Name, prefix) {
			keys = append(keys, entry.Name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close sends QUIT and drops the connection.
func (f *FTPBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		return nil
	}
	err := f.client.Quit()
	f.client = nil
	return err
}

// filePath maps key to a file in the storage directory. Keys are flat.
func (f *FTPBackend) filePath(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" || strings.ContainsAny(key, "/\\") || key == "." || key == ".." {
		return "", fmt.Errorf("%w: invalid FTP key %q", storage.ErrInvalidConfig, key)
	}
	return path.Join(f.dir, key), nil
}

// isFTPNotFound recognizes the 550 reply servers send for missing files.
func isFTPNotFound(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable
}
