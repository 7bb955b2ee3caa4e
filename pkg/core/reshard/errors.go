package reshard

import "github.com/pkg/errors"

// Execution errors. Configuration and geometry errors are defined in the distributed package
// (e.g. distributed.ErrUnresolvedSource), and are returned by BuildPlan.
var (
	// ErrCommunicationFailure wraps any error returned by the Transport: the resharding call is aborted and the
	// contents of the output buffer are undefined.
	ErrCommunicationFailure = errors.New("communication failure")

	// ErrBufferTooSmall is returned when an input, output or staging buffer can't hold the data it's supposed to.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrUnsupportedDType is returned for dtypes whose elements don't have a whole number of bytes (e.g. S4)
	// or that have no known size.
	ErrUnsupportedDType = errors.New("unsupported dtype")
)
