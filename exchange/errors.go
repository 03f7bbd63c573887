package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure recorded on an exchange.
type ErrorKind int

const (
	// KindUnknown is any error that was not classified.
	KindUnknown ErrorKind = iota
	// KindTransient marks retryable failures such as network blips or lock contention.
	KindTransient
	// KindPermanent marks business or validation failures that never succeed on retry.
	KindPermanent
	// KindConfiguration marks route-build failures. They are never retried.
	KindConfiguration
	// KindShutdownForced marks exchanges aborted by a shutdown timeout or discarded queue.
	KindShutdownForced
)

var (
	// ErrTransient is the sentinel matched by errors.Is for transient failures.
	ErrTransient = errors.New("goroute: transient failure")
	// ErrPermanent is the sentinel matched by errors.Is for permanent failures.
	ErrPermanent = errors.New("goroute: permanent failure")
	// ErrConfiguration is the sentinel matched by errors.Is for configuration failures.
	ErrConfiguration = errors.New("goroute: configuration error")
	// ErrShutdownForced is the sentinel matched by errors.Is for forced shutdown failures.
	ErrShutdownForced = errors.New("goroute: shutdown forced")
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindConfiguration:
		return "configuration"
	case KindShutdownForced:
		return "shutdown_forced"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// Accepts the String form, case-insensitive, with "-" or "_" separators.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(string(text))), "-", "_")
	switch s {
	case "unknown", "":
		*k = KindUnknown
	case "transient":
		*k = KindTransient
	case "permanent":
		*k = KindPermanent
	case "configuration":
		*k = KindConfiguration
	case "shutdown_forced", "shutdownforced":
		*k = KindShutdownForced
	default:
		return fmt.Errorf("exchange: unknown error kind %q", string(text))
	}
	return nil
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTransient:
		return ErrTransient
	case KindPermanent:
		return ErrPermanent
	case KindConfiguration:
		return ErrConfiguration
	case KindShutdownForced:
		return ErrShutdownForced
	default:
		return nil
	}
}

type kindError struct {
	kind  ErrorKind
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return e.kind.sentinel().Error()
}

func (e *kindError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind.sentinel()}
	}
	return []error{e.kind.sentinel(), e.cause}
}

func wrapKind(kind ErrorKind, err error) error {
	return &kindError{kind: kind, cause: err}
}

// Transient marks err as retryable.
func Transient(err error) error { return wrapKind(KindTransient, err) }

// Permanent marks err as non-retryable.
func Permanent(err error) error { return wrapKind(KindPermanent, err) }

// Configuration marks err as a route-build failure.
func Configuration(err error) error { return wrapKind(KindConfiguration, err) }

// ShutdownForced marks err as the synthetic failure of an aborted exchange.
// A nil cause yields the bare sentinel message.
func ShutdownForced(err error) error { return wrapKind(KindShutdownForced, err) }

// KindOf returns the outermost classification of err.
// Unclassified and nil errors yield KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	switch {
	case errors.Is(err, ErrShutdownForced):
		return KindShutdownForced
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrTransient):
		return KindTransient
	}
	return KindUnknown
}
