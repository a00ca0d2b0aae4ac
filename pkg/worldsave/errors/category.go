package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category tells the store whether a backend failure is worth retrying.
type Category int

const (
	// CategoryTransient failures may clear up: a locked database file, a
	// busy bucket.
	CategoryTransient Category = iota

	// CategoryPermanent failures will not: a closed store, a missing file.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError tags a backend error with its Category.
type CategorizedError struct {
	Err      error
	Category Category

	// Attempts is set once retries were exhausted.
	Attempts int

	// Context names the backend or operation.
	Context string
}

func (e *CategorizedError) Error() string {
	msg := e.Err.Error()
	if e.Context != "" {
		msg = e.Context + ": " + msg
	}
	if e.Attempts > 0 {
		return fmt.Sprintf("%s (%s, %d attempts)", msg, e.Category, e.Attempts)
	}
	return msg
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// Transient marks err as worth retrying.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Permanent marks err as not worth retrying.
func Permanent(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryPermanent, Context: context}
}

// Categorize returns the category of err. Untagged errors are permanent,
// except deadline overruns.
func Categorize(err error) Category {
	var ce *CategorizedError
	switch {
	case err == nil:
		return CategoryPermanent
	case errors.As(err, &ce):
		return ce.Category
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	default:
		return CategoryPermanent
	}
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
