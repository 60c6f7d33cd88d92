package flows

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to the API layer
var (
	ErrFlowNotFound   = errors.New("flow not found")
	ErrFlowParsing    = errors.New("flow parsing failed")
	ErrSecretNotFound = errors.New("secret not found")
)

// FlowExitError is the explicit-exit control signal raised by the exit step.
// The interpreter terminates the run with status "exit" when it sees one.
type FlowExitError struct {
	Message string
}

func (e *FlowExitError) Error() string {
	return e.Message
}

// RestStepError carries the HTTP status and decoded body of a failed REST
// call so ignore_errors patterns can match on them.
type RestStepError struct {
	StatusCode int
	Body       interface{}
}

func (e *RestStepError) Error() string {
	if e.Body != nil {
		return fmt.Sprintf("REST request failed with status code %d: %v", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("REST request failed with status code %d", e.StatusCode)
}
