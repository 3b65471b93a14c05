package pricing

import "errors"

var (
	// ErrNoSlabMatch means no configured slab covers the member count. This
	// is a configuration error and is surfaced, never retried.
	ErrNoSlabMatch = errors.New("no pricing slab matches member count")

	// ErrInvalidSlabs means the slab set has a gap, an overlap, or an
	// inverted band.
	ErrInvalidSlabs = errors.New("invalid slab configuration")

	// ErrSlabNotFound is returned for admin operations on a missing slab.
	ErrSlabNotFound = errors.New("slab not found")
)
