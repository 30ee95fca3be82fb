// Package errors provides structured error types for better observability
// and programmatic error handling across the application.
//
// Example usage:
//
//	err := errors.WrapWithContext(
//	    errors.ErrCodeTimeout,
//	    "inference service did not become ready",
//	    ctx.Err(),
//	    map[string]any{
//	        "name":      name,
//	        "namespace": namespace,
//	    },
//	)
//
// Errors returned by the Kubernetes API server can be classified with
// FromKubernetes, which maps NotFound, AlreadyExists, Conflict, and the
// timeout family onto the matching ErrorCode.
package errors
