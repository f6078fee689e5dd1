package consumer

import (
	"errors"
	"fmt"
	"strings"
)

// Class buckets turn failures for retry policy and reporting.
type Class string

const (
	// ClassConfig is operator error: bad credentials, bad config. Retrying
	// cannot help until a human intervenes.
	ClassConfig Class = "CONFIG"
	// ClassGitHub covers GitHub API and gh CLI failures.
	ClassGitHub Class = "GITHUB"
	// ClassCompute covers infrastructure failures on our side.
	ClassCompute Class = "COMPUTE"
	// ClassAgent covers coding agent failures: crashes, bad output,
	// provider errors.
	ClassAgent Class = "AGENT"
	// ClassWorkspace covers git and filesystem failures in the working
	// copy.
	ClassWorkspace Class = "WORKSPACE"
)

// Retryable reports whether a failure of this class may succeed on a later
// attempt.
func (c Class) Retryable() bool {
	return c != ClassConfig
}

// Error is a classified turn failure.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify wraps err with a failure class, preserving an existing class if
// one is already attached.
func classify(class Class, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Class: class, Err: err}
}

// classOf extracts the failure class, defaulting to COMPUTE for unclassified
// errors.
func classOf(err error) Class {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Class
	}
	return ClassCompute
}

// errorTrace renders the wrap chain one frame per line, outermost first.
// Persisted as the error stack on terminal failures.
func errorTrace(err error) string {
	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(e.Error())
	}
	return b.String()
}
