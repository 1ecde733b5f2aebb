// Package security provides validation, sanitization, and limits for the delayed package.
//
// This package includes:
//   - Validation of payload type tags
//   - Error message sanitization before last_error is stored
//   - Clamping functions for attempts, worker count and read-ahead
//
// Most users should import the root package github.com/jdziat/delayed-jobs
// which re-exports these functions.
package security
