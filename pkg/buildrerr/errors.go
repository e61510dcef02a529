// Package buildrerr defines the typed error kinds from the engine's error
// handling design: Configuration, Resource, Execution, Integration,
// Cancellation, Internal. It follows the teacher's ComplexError pattern
// (pkg/commands/errors.go) adapted from carrying one numeric container-op
// code to carrying a Kind plus free-form context (step, phase).
package buildrerr

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
	"golang.org/x/xerrors"
)

// Kind classifies an engine error per spec.md §7.
type Kind int

const (
	// Configuration errors are fatal before any work starts: manifest
	// parse, unknown reference, cycle, schema.
	Configuration Kind = iota
	// Resource errors: image pull/build, container start, network,
	// filesystem.
	Resource
	// Execution errors: non-zero exit without xfail, xfail-inverted,
	// wait-for timeout.
	Execution
	// Integration errors: remote SSH failure, registry auth/push.
	Integration
	// Cancellation: user signal.
	Cancellation
	// Internal: invariant breach.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Resource:
		return "resource"
	case Execution:
		return "execution"
	case Integration:
		return "integration"
	case Cancellation:
		return "cancellation"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// StepError is an error which carries a Kind plus the step/phase it
// happened in, so calling code and log output can report "minimal
// surrounding context" per spec.md §7 without parsing message strings.
type StepError struct {
	Kind    Kind
	Step    string
	Phase   string
	Message string
	frame   xerrors.Frame
	cause   error
}

// New constructs a StepError with the caller's frame captured, mirroring
// the teacher's ComplexError.
func New(kind Kind, step, phase, message string) *StepError {
	return &StepError{
		Kind:    kind,
		Step:    step,
		Phase:   phase,
		Message: message,
		frame:   xerrors.Caller(1),
	}
}

// Wrap attaches step/phase context to an existing error without discarding
// it; Unwrap makes the original error reachable via errors.Is/As.
func Wrap(kind Kind, step, phase string, err error) *StepError {
	if err == nil {
		return nil
	}
	return &StepError{
		Kind:    kind,
		Step:    step,
		Phase:   phase,
		Message: err.Error(),
		frame:   xerrors.Caller(1),
		cause:   err,
	}
}

// Unwrap returns the error passed to Wrap, or nil for one built by New.
func (e *StepError) Unwrap() error { return e.cause }

func (e *StepError) FormatError(p xerrors.Printer) error {
	if e.Step != "" {
		p.Printf("[%s/%s] %s: %s", e.Step, e.Phase, e.Kind, e.Message)
	} else {
		p.Printf("%s: %s", e.Kind, e.Message)
	}
	e.frame.Format(p)
	return nil
}

func (e *StepError) Format(f fmt.State, c rune) { xerrors.FormatError(e, f, c) }

func (e *StepError) Error() string { return fmt.Sprint(e) }

// HasKind reports whether err is, or wraps, a *StepError of the given kind.
func HasKind(err error, kind Kind) bool {
	var se *StepError
	if xerrors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// WrapForTopLevel wraps an error with a stack trace for the sake of
// printing a trace at the top level, mirroring the teacher's WrapError:
// go-errors.Wrap does not return nil for a nil input, so guard it here.
func WrapForTopLevel(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, 0)
}
