package distributed

import "github.com/pkg/errors"

// Configuration and geometry errors.
//
// They are returned wrapped with context (see github.com/pkg/errors), use errors.Is to test for them.
// All of them are fatal: they describe mesh, sharding or shape inputs that cannot be satisfied, never
// transient conditions.
var (
	// ErrInvalidPlacement is returned when a placement (mesh) description is malformed.
	ErrInvalidPlacement = errors.New("invalid placement")

	// ErrInvalidRegion is returned when constructing a region with a non-positive extent or a negative offset.
	ErrInvalidRegion = errors.New("invalid region")

	// ErrUnresolvedSource is returned when no source participant can be found for a destination.
	ErrUnresolvedSource = errors.New("unresolved source")

	// ErrEmptyDestinationRegion is returned when a destination position owns no element of the array.
	ErrEmptyDestinationRegion = errors.New("empty destination region")

	// ErrEmptySourceRegion is returned when a source position owns no element of the array.
	ErrEmptySourceRegion = errors.New("empty source region")

	// ErrEmptyIntersection is returned when the regions of a source and destination pair don't overlap.
	ErrEmptyIntersection = errors.New("empty intersection")
)
