package storage

import "errors"

// Common storage errors
var (
	ErrBackendNotFound = errors.New("storage backend type not recognized")
	ErrKeyNotFound     = errors.New("key not found in storage")
	ErrInvalidConfig   = errors.New("invalid storage configuration")
	ErrBackendNotReady = errors.New("storage backend not ready")
	ErrUnsupportedOp   = errors.New("operation not supported by this backend")
)
