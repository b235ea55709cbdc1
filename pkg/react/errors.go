package react

import "fmt"

// GatewayError wraps a model backend failure. Gateway failures are terminal
// for the run; nothing is appended to memory for the failed step.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway failure: %v", e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// StructuredOutputError reports that the model's output did not satisfy the
// requested schema after all retries. Raw holds the last candidate document.
type StructuredOutputError struct {
	Cause string
	Raw   string
}

func (e *StructuredOutputError) Error() string {
	return fmt.Sprintf("structured output invalid: %s", e.Cause)
}
