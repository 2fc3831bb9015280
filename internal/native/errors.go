package native

import "fmt"

// StatusError reports a failed native call.
//
// It is the only error kind produced at the binding boundary: the engine gives no
// detail beyond the status code, so none is invented here.
type StatusError struct {
	Op   string // Name of the native operation (e.g. "matmul")
	Code Status // Non-zero status returned by the engine
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("native operation %q failed with status %d (%s)", e.Op, int32(e.Code), e.Code)
}

// Check converts a status into an error. It returns nil for StatusOK.
func Check(status Status, op string) error {
	if status == StatusOK {
		return nil
	}
	return &StatusError{Op: op, Code: status}
}

// Must panics with a *StatusError when status is not StatusOK.
func Must(status Status, op string) {
	if err := Check(status, op); err != nil {
		panic(err)
	}
}
