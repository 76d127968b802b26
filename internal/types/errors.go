package types

import "errors"

// Error kinds returned across the core boundary.
// Algorithmic subcomponents never raise; only the orchestration layer
// (GraphIndex, MutationPipeline and the service facade) returns
// these, always wrapped with context via fmt.Errorf("%w", ...).
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidOwnership = errors.New("invalid ownership")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrTimeout          = errors.New("timeout")
	ErrBackpressure     = errors.New("backpressure")
	ErrInternal         = errors.New("internal error")
)
