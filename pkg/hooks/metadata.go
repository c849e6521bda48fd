package hooks

import "time"

// Metadata is the free-form bag plugins use to pass values to later handlers.
// Keys are owned by the plugin that writes them.
type Metadata map[string]any

// Set stores value under key.
func (m Metadata) Set(key string, value any) {
	m[key] = value
}

// Get returns the raw value stored under key.
func (m Metadata) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// Has reports whether key is present.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Delete removes key.
func (m Metadata) Delete(key string) {
	delete(m, key)
}

// Bool returns the boolean stored under key, false when missing or of another type.
func (m Metadata) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// String returns the string stored under key.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Int returns the integer stored under key, accepting the numeric types
// produced by decoders as well as plain ints.
func (m Metadata) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Time returns the time stored under key.
func (m Metadata) Time(key string) (time.Time, bool) {
	t, ok := m[key].(time.Time)
	return t, ok
}

// Duration returns the duration stored under key.
func (m Metadata) Duration(key string) time.Duration {
	switch v := m[key].(type) {
	case time.Duration:
		return v
	case int64:
		return time.Duration(v)
	default:
		return 0
	}
}

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
