// Package core provides the fundamental types and interfaces for the delayed package.
//
// This package contains:
//   - The Job model with GORM annotations and its eligibility predicate
//   - Storage interface defining the persistence contract
//   - The Performable capability and the default backoff
//   - Event types for queue monitoring
//   - Error types for job processing
//
// Most users should import the root package github.com/jdziat/delayed-jobs
// instead of this package directly.
package core
