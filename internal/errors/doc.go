// Package errors provides the classified error type used across the
// project-lifecycle core: BadRequest, NotFound, Conflict, HandlerFailure,
// IOFailure, and Internal.
//
// Key features:
//   - ErrorCategory: one of the six kinds above
//   - ErrorSeverity: impact level (fatal, error, warning, info)
//   - RetryStrategy: retry behavior (never, immediate, backoff, rate-limit, user)
//   - ClassifiedError: structured error with category, severity, and context
//   - ErrorBuilder: fluent API for creating classified errors
//   - HTTP and CLI adapters mapping categories to status/exit codes
//
// Example usage:
//
//	err := errors.NewError(errors.CategoryNotFound, "location does not exist").
//		WithContext("projectID", id).
//		Build()
package errors
