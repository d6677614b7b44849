package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start when the project is tracked in
	// an active state.
	ErrAlreadyRunning = errors.New("project already running")
	// ErrNotFound is returned by operations targeting an untracked project.
	ErrNotFound = errors.New("project not found")
)

// StartError reports a failed start attempt and wraps the underlying cause.
type StartError struct {
	Project string
	Reason  string
	Err     error
}

func (e *StartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("start %s: %s: %v", e.Project, e.Reason, e.Err)
	}
	return fmt.Sprintf("start %s: %s", e.Project, e.Reason)
}

func (e *StartError) Unwrap() error { return e.Err }
