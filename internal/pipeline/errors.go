package pipeline

import (
	"errors"
	"fmt"
)

// Class is the failure taxonomy shared by all workers. It decides what the
// dispatcher does with a failed message.
type Class int

const (
	// ClassTransient marks infrastructure failures (store or bus
	// unavailable). Retried with backoff. Unclassified errors are treated
	// as transient, which errs on the side of redelivery.
	ClassTransient Class = iota

	// ClassMalformed marks inputs that can never succeed (unparseable
	// payload, unknown reference). Not retried; dead-lettered immediately.
	ClassMalformed

	// ClassNotReady marks work whose prerequisite has not materialized yet
	// (snapshot not written). Requeued with backoff up to a bounded number
	// of attempts, then treated as permanent.
	ClassNotReady

	// ClassPermanent marks failures that exhausted their budget or can
	// never be repaired. Dead-lettered; the owning record is expected to be
	// marked failed by the handler.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassMalformed:
		return "malformed_input"
	case ClassNotReady:
		return "not_ready"
	case ClassPermanent:
		return "permanent_failure"
	default:
		return "transient_infra"
	}
}

type classifiedError struct {
	class Class
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks err as a retryable infrastructure failure.
func Transient(err error) error { return classify(ClassTransient, err) }

// Malformed marks err as a non-retryable input failure.
func Malformed(err error) error { return classify(ClassMalformed, err) }

// NotReady marks err as a missing-prerequisite failure.
func NotReady(err error) error { return classify(ClassNotReady, err) }

// PermanentFailure marks err as terminal.
func PermanentFailure(err error) error { return classify(ClassPermanent, err) }

// Malformedf is shorthand for Malformed(fmt.Errorf(...)).
func Malformedf(format string, args ...any) error {
	return Malformed(fmt.Errorf(format, args...))
}

// NotReadyf is shorthand for NotReady(fmt.Errorf(...)).
func NotReadyf(format string, args ...any) error {
	return NotReady(fmt.Errorf(format, args...))
}

func classify(c Class, err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: c, err: err}
}

// ClassOf returns the failure class of err. Unclassified errors are
// ClassTransient.
func ClassOf(err error) Class {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	return ClassTransient
}
