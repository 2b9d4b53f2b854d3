package registration

import "errors"

var (
	// ErrTooFewPoints is returned when fewer than three usable pairs remain.
	ErrTooFewPoints = errors.New("too few points")
	// ErrEmptyPointSet is returned when a point set has no eligible points.
	ErrEmptyPointSet = errors.New("empty point set")
	// ErrSizeMismatch is returned when paired inputs have different lengths.
	ErrSizeMismatch = errors.New("point lists differ in size")
	// ErrInvalidTransform is returned when an operation needs a valid rigid transform.
	ErrInvalidTransform = errors.New("invalid rigid transform")
	ErrFileExists       = errors.New("file already exists")
	ErrBadHeader        = errors.New("unexpected file header")
	ErrUnexpectedEOF    = errors.New("unexpected end of file")
	ErrMissingMatrix    = errors.New("missing Matrix block")
	ErrEmptyList        = errors.New("empty transform list")
	ErrOptimizer        = errors.New("optimizer failed")
)
