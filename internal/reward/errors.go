package reward

import "fmt"

// ValidationError is bad caller input. It is raised before any ledger
// interaction.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// StageError names the pipeline stage that aborted the request. Err is the
// typed cause (attest.CommitError, entrypoint.SubmissionError,
// chain.ReadError, chain.TimeoutError, ...).
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
