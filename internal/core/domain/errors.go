package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a normal miss (cache, template, document).
	ErrNotFound = errors.New("not found")
	// ErrUpstream marks a failed embedding or LLM provider call.
	ErrUpstream = errors.New("upstream failure")
	// ErrAllBranchesFailed marks a fan-out where every embedding-model
	// branch failed.
	ErrAllBranchesFailed = errors.New("all embedding branches failed")
	// ErrMalformedExample marks a learning example whose answer values
	// cannot be located in its utterance. Compilation still succeeds
	// with a literal template; the kind exists for callers that want
	// to log the degeneration.
	ErrMalformedExample = errors.New("malformed example")
	// ErrStoreWrite marks a failed persistence of a learned example or
	// an index batch.
	ErrStoreWrite = errors.New("store write failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
