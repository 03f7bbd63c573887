package processor

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/fxsml/goroute/exchange"
)

// RecoveryError wraps a panic value with the stack trace.
// This allows panics to be converted to exchange exceptions and handled by the
// error handler like any other failure.
type RecoveryError struct {
	// PanicValue is the original value that was passed to panic().
	PanicValue any
	// StackTrace contains the full stack trace at the point of panic.
	StackTrace string
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.PanicValue)
}

func newRecoveryError(r any) *RecoveryError {
	return &RecoveryError{
		PanicValue: r,
		StackTrace: string(debug.Stack()),
	}
}

func recoverInto(ex *exchange.Exchange) {
	if r := recover(); r != nil {
		ex.SetErr(newRecoveryError(r))
	}
}

// Recover wraps p with panic recovery.
// Any panic during processing is recorded on the exchange as a RecoveryError.
func Recover(p Processor) Processor {
	return AsyncFunc(func(ctx context.Context, ex *exchange.Exchange, done DoneFunc) bool {
		return Invoke(ctx, p, ex, done)
	})
}
