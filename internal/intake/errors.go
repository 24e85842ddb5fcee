package intake

import "fmt"

// ValidationError marks a collected field that failed its format or range
// rule. It is recoverable: the conversation re-prompts and never aborts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StateError marks a disallowed workflow transition. It carries the
// current phase so the caller can resume correctly.
type StateError struct {
	Phase Phase
}

func (e *StateError) Error() string {
	return fmt.Sprintf("transition not allowed from phase %s", e.Phase)
}
