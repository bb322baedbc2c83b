// Package errors provides structured error handling with error codes for portal-auth.
//
// Services return *Error values whose Message is safe to show to the person
// signing in. The wrapped Err carries the internal cause and is only logged.
//
//	err := errors.New(errors.ErrCode2FARequired, "Authenticator code required")
//	err := errors.Wrap(dbErr, errors.ErrCodeInternal, "failed to load user")
//
// At the HTTP boundary, WriteError maps the code to a status and renders JSON.
// Errors without a code, and ErrCodeInternal errors, are logged and reported
// as "Something went wrong".
//
// Inspection:
//
//	if errors.IsCode(err, errors.ErrCodeBackupCodeInvalid) { ... }
//	code := errors.GetCode(err)
//	msg := errors.UserMessage(err)
package errors
