package audit

import (
	"errors"
	"fmt"
)

// External systems named in user-visible failures.
const (
	SystemMetrics = "metrics source"
	SystemAPI     = "control-plane API"
	SystemStorage = "storage engine"
)

var (
	// ErrPrefixNotFound means no key in the index matched the resource kind.
	ErrPrefixNotFound = errors.New("key prefix not found")
	// ErrNotConfirmed means the operator did not type the expected acknowledgment.
	ErrNotConfirmed = errors.New("not confirmed")
	// ErrConnectivityLost aborts a forensic scan once the store stops answering.
	ErrConnectivityLost = errors.New("storage connectivity lost")
	// ErrUnknownResource means the API has no resource matching an alias.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrResourceNotFound means a listing target does not exist; sizes treat it as empty.
	ErrResourceNotFound = errors.New("resource not found")
)

// SystemError is a failure of one of the external systems the audit reads from.
type SystemError struct {
	System string
	Op     string
	Err    error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.System, e.Op, e.Err)
}

func (e *SystemError) Unwrap() error {
	return e.Err
}

func systemErr(system, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SystemError
	if errors.As(err, &se) {
		return err
	}
	return &SystemError{System: system, Op: op, Err: err}
}
