// Package errors provides the error taxonomy for the tuple I/O layer.
//
// # Classification
//
// Errors fall into three classes:
//
//   - Transient: transport failures and expired waits. The caller may retry.
//   - Invalid: malformed queries, unsupported operations, denied leases, undecodable
//     payloads. Retrying the same request will fail again.
//   - Fatal: the resource the operation targeted has been revoked.
//
// # Sentinels
//
// Every error produced by the module wraps one sentinel so callers can branch with
// errors.Is:
//
//	if errors.Is(err, errors.ErrRevoked) {
//	    // channel is gone, rebind
//	}
//
// # Wrapping Pattern
//
// Wrapped errors follow the format
//
//	"component.method: action failed: %w"
//
// and the WrapTransient/WrapInvalid/WrapFatal helpers attach the class. The
// Validationf, Unsupportedf, Revoked and Transport helpers combine a sentinel with its
// class in one call.
package errors
