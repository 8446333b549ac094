package rasterpager

import "errors"

var (
	// ErrInvalidRequest wraps every reason a DataRequest is refused
	ErrInvalidRequest = errors.New("invalid data request")
	// ErrReadOnly is returned when writing through a read-only element or accessor
	ErrReadOnly = errors.New("read-only")
	// ErrAllocation is returned when the memory for an element or page cannot be obtained
	ErrAllocation = errors.New("allocation failed")
	// ErrSkipFactor is returned when on-disk numbers are not uniformly spaced
	ErrSkipFactor = errors.New("cannot determine skip factor")
	// ErrAccessorsOutstanding is returned when closing an element that still has live accessors
	ErrAccessorsOutstanding = errors.New("accessors outstanding")
	// ErrUnsupported flags formats or layouts a pager cannot serve
	ErrUnsupported = errors.New("unsupported")
	// ErrClosed is returned by operations on a closed element
	ErrClosed = errors.New("element closed")
)

type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}
