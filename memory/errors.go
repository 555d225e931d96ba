package memory

import "errors"

var (
	// ErrNotInitialized indicates the allocator was used before bootstrap finished.
	ErrNotInitialized = errors.New("memory: allocator not initialized")

	// ErrInvalidSize indicates a zero request or one larger than a MaxOrder block.
	ErrInvalidSize = errors.New("memory: invalid allocation size")

	// ErrOutOfMemory indicates no free block large enough exists at any order.
	ErrOutOfMemory = errors.New("memory: out of memory")
)
