package listingsync

import (
	"errors"

	"github.com/unkn0wn-root/listingsync/index"
)

// Outcome tags the result of one step of an operation.
type Outcome int

const (
	Success Outcome = iota
	// TransientFailure is logged and the operation carries on.
	TransientFailure
	// Fatal aborts the operation and reaches the caller.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransientFailure:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type stepResult struct {
	Outcome Outcome
	Err     error
}

var succeeded = stepResult{Outcome: Success}

func fatal(err error) stepResult { return stepResult{Outcome: Fatal, Err: err} }

// bestEffort classifies the error of a step whose failure is tolerated.
func bestEffort(err error) stepResult { return classify(err, TransientFailure) }

// mustSucceed classifies the error of a step that mutates known state.
func mustSucceed(err error) stepResult { return classify(err, Fatal) }

// classify maps err to an outcome. Authorization, configuration and version
// conflicts are fatal whatever the step policy.
func classify(err error, policy Outcome) stepResult {
	if err == nil {
		return succeeded
	}
	if alwaysFatal(err) {
		return fatal(err)
	}
	return stepResult{Outcome: policy, Err: err}
}

func alwaysFatal(err error) bool {
	var ce *index.ConfigError
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, index.ErrConflict) ||
		errors.As(err, &ce)
}
