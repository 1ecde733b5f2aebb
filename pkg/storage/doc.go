// Package storage persists jobs in the delayed_jobs table through GORM.
//
// GormStorage implements core.Storage on SQLite and PostgreSQL. Workers
// coordinate only through conditional writes on the job row: a claim is an
// UPDATE whose WHERE clause repeats the eligibility predicate, and it
// succeeds only when exactly one row changed.
//
// Open builds a *gorm.DB for a driver name and DSN with the pool configured.
// IsTransient classifies driver errors for the worker's retry loop, and
// EntityFinder adapts a GORM model into a payload.FindFunc.
package storage
