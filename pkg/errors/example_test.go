// Package errors provides examples of structured error handling in nebula-cdk.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	err := errors.New(errors.ErrorTypeConfig, "step and cursor_granularity must be set together").
		WithDetail("step", "P1D")

	fmt.Println(err.Error())

	// Output:
	// config: step and cursor_granularity must be set together
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeState, "failed to read checkpoint").
		WithDetail("stream", "orders")

	if errors.IsType(err, errors.ErrorTypeState) {
		fmt.Println("This is a state error")
	}
	fmt.Println(err.Error())

	// Output:
	// This is a state error
	// state: failed to read checkpoint: unexpected EOF
}

// ExampleIsRetryable shows how to check if an error is retryable.
func ExampleIsRetryable() {
	exhausted := errors.New(errors.ErrorTypeRateLimit, "retries exhausted")
	failed := errors.New(errors.ErrorTypeUpstream, "HTTP 403")

	fmt.Println(errors.IsRetryable(exhausted))
	fmt.Println(errors.IsRetryable(failed))

	// Output:
	// true
	// false
}
