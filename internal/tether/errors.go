package tether

import "errors"

// Sentinel errors returned synchronously from the facade.
var (
	ErrIfaceUnknown      = errors.New("tether: unknown interface")
	ErrIfaceNotAvailable = errors.New("tether: interface is not available")
	ErrIfaceNotTethered  = errors.New("tether: interface is not tethered")
	ErrServiceStopped    = errors.New("tether: service is not running")
)

// CodedError pairs a Go error with the stable ErrorCode surfaced across the
// facade boundary, so callers can both errors.Is against a sentinel and
// read the numeric code.
type CodedError struct {
	Code ErrorCode
	Err  error
}

func (e *CodedError) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Err.Error()
}

func (e *CodedError) Unwrap() error { return e.Err }

// NewCodedError wraps err with code.
func NewCodedError(code ErrorCode, err error) *CodedError {
	return &CodedError{Code: code, Err: err}
}
