package tap

import (
	"errors"
	"fmt"

	"github.com/lkyzhu/tapcfg-go/ether"
	"github.com/lkyzhu/tapcfg-go/netif"
)

var (
	ErrUnsupportedPlatform     = netif.ErrUnsupportedPlatform
	ErrInitializationFailed    = errors.New("initialization failed")
	ErrStartFailed             = errors.New("start failed")
	ErrInvalidState            = errors.New("invalid state")
	ErrReadFailed              = errors.New("read failed")
	ErrStreamClosed            = errors.New("stream closed")
	ErrWriteFailed             = errors.New("write failed")
	ErrPartialWrite            = errors.New("partial write")
	ErrFrameTooShort           = ether.ErrFrameTooShort
	ErrAddressAssignmentFailed = errors.New("address assignment failed")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrConfigFailed            = errors.New("configuration failed")
	ErrStopFailed              = errors.New("stop failed")
)

// Error is returned by every Device operation that fails. Kind is one of the
// package sentinels; Code is the native status code, or 0 when the failure
// did not come from the native layer.
type Error struct {
	Op   string
	Kind error
	Code int
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PartialWriteError reports a write the native layer accepted only in part.
// Retrying the remainder is left to the caller.
type PartialWriteError struct {
	Written int
	Length  int
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("write frame: partial write: %d of %d bytes", e.Written, e.Length)
}

func (e *PartialWriteError) Unwrap() error {
	return ErrPartialWrite
}

func nativeError(op string, kind error, err error) *Error {
	return &Error{Op: op, Kind: kind, Code: netif.Code(err), Err: err}
}

func stateError(op string, state State) *Error {
	return &Error{Op: op, Kind: ErrInvalidState, Err: fmt.Errorf("device is %v", state)}
}

func argError(op string, format string, args ...interface{}) *Error {
	return &Error{Op: op, Kind: ErrInvalidArgument, Err: fmt.Errorf(format, args...)}
}
