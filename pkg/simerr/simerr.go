// Package simerr defines the failure taxonomy shared by the solver packages.
//
// ConfigurationError is fatal and surfaced immediately. ConvergenceFailure and
// SingularMatrix are recovered locally (tier escalation, step reduction).
// NumericalInstability aborts the current tier or step and is propagated for the
// same recovery, it is never absorbed silently.
package simerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	ConfigurationError Kind = iota + 1
	ConvergenceFailure
	NumericalInstability
	SingularMatrix
)

func (k Kind) String() string {
	switch k {
	case ConfigurationError:
		return "configuration error"
	case ConvergenceFailure:
		return "convergence failure"
	case NumericalInstability:
		return "numerical instability"
	case SingularMatrix:
		return "singular matrix"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is.
var (
	ErrConfiguration = errors.New("transim: configuration error")
	ErrConvergence   = errors.New("transim: convergence failure")
	ErrInstability   = errors.New("transim: numerical instability")
	ErrSingular      = errors.New("transim: singular matrix")
)

func (k Kind) sentinel() error {
	switch k {
	case ConfigurationError:
		return ErrConfiguration
	case ConvergenceFailure:
		return ErrConvergence
	case NumericalInstability:
		return ErrInstability
	case SingularMatrix:
		return ErrSingular
	}
	return nil
}

// Error carries the failure kind together with where and when it happened.
type Error struct {
	Kind Kind
	Op   string  // e.g. "dc/gmin", "tran/step"
	Time float64 // simulation time, 0 for setup and DC
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// At returns a copy of e stamped with simulation time t.
func (e *Error) At(t float64) *Error {
	c := *e
	c.Time = t
	return &c
}

// KindOf reports the kind of the outermost *Error in err's chain, 0 if none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsRecoverable reports whether a caller may retry with an easier problem
// (next DC tier, smaller step). Singular matrices count as convergence failures.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case ConvergenceFailure, SingularMatrix, NumericalInstability:
		return true
	}
	return false
}
