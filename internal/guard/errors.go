package guard

import "fmt"

// InvalidHazardError reports a hazard rejected at registration.
type InvalidHazardError struct {
	Name   string
	Reason string
}

func (e *InvalidHazardError) Error() string {
	if e == nil {
		return ""
	}
	if e.Name == "" {
		return "guard: invalid hazard: " + e.Reason
	}
	return fmt.Sprintf("guard: invalid hazard %q: %s", e.Name, e.Reason)
}

// MissingTimeoutError reports an attempt to block with a hazard that has no timeout.
type MissingTimeoutError struct {
	Hazard string
}

func (e *MissingTimeoutError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("guard: hazard %q has no timeout, cannot block", e.Hazard)
}

// StoreUnavailableError wraps a key-value store failure.
type StoreUnavailableError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("guard: store %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying store error.
func (e *StoreUnavailableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func storeErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreUnavailableError{Op: op, Key: key, Err: err}
}
