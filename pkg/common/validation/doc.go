// Package validation provides the checks shared by the pool, priority queue,
// admission and scheduler constructors.
//
// Every check returns a *errors.ValidationError so callers can match
// errors.ErrInvalidConfiguration regardless of which constructor failed.
package validation
