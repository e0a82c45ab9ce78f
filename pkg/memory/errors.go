package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredentials is returned when no embedding provider credential can be resolved
	ErrNoCredentials = errors.New("no OpenAI API key found")

	// ErrDimensionMismatch is returned when a vector does not match the store dimension
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrModelMismatch is returned when a store was built with a different embedding model
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrInvalidChunking is returned for a window/overlap pair that cannot make progress
	ErrInvalidChunking = errors.New("chunk overlap must be smaller than the window")

	// ErrAuth is returned by providers when credentials are rejected
	ErrAuth = errors.New("embedding provider rejected credentials")

	// ErrRateLimited is returned by providers when the caller is throttled
	ErrRateLimited = errors.New("embedding provider rate limited")

	// ErrInvalidInput is returned by providers when a single input is rejected
	ErrInvalidInput = errors.New("embedding provider rejected input")

	// ErrUnavailable is returned by providers for network failures, timeouts and 5xx responses
	ErrUnavailable = errors.New("embedding provider unavailable")
)

// ConfigurationError reports a missing credential or malformed configuration.
// It is fatal for indexing and direct search.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TransportError reports an unreachable provider or store, or a timeout.
// It is fatal for the current run.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DataError reports a malformed record. It is isolated to that record.
type DataError struct {
	SourceType SourceType
	SourceID   string
	Err        error
}

func (e *DataError) Error() string {
	if e.SourceID == "" {
		return fmt.Sprintf("data error: %s: %v", e.SourceType, e.Err)
	}
	return fmt.Sprintf("data error: %s/%s: %v", e.SourceType, e.SourceID, e.Err)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// IsConfiguration reports whether err carries a ConfigurationError
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsTransport reports whether err carries a TransportError
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsData reports whether err carries a DataError
func IsData(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}

// storeError wraps a vector store failure. Errors already classified pass through.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsConfiguration(err) || IsTransport(err) || IsData(err) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
