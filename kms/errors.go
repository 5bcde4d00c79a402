package kms

import (
	"errors"
	"fmt"

	"github.com/umk/mediarpc"
)

// Error codes used by the media server.
const (
	CodeTypeNotFound   = 40100
	CodeObjectNotFound = 40101
	CodeMethodNotFound = 40105
)

var (
	ErrTypeNotFound   = errors.New("media object type not found")
	ErrObjectNotFound = errors.New("media object not found")
	ErrMethodNotFound = errors.New("media object method not found")

	// ErrUnsupported is returned for an operation the element type lacks.
	ErrUnsupported = errors.New("operation not supported by element")
)

// classify tags server errors with a sentinel while keeping the
// *mediarpc.Error reachable through errors.As.
func classify(err error) error {
	var rpcErr *mediarpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch rpcErr.Code {
	case CodeTypeNotFound:
		return fmt.Errorf("%w: %w", ErrTypeNotFound, err)
	case CodeObjectNotFound:
		return fmt.Errorf("%w: %w", ErrObjectNotFound, err)
	case CodeMethodNotFound:
		return fmt.Errorf("%w: %w", ErrMethodNotFound, err)
	}
	return err
}
