// Package postgres contains the PostgreSQL-backed implementations of the
// store interfaces. All SQL lives here; the engine above it only sees the
// interfaces and sentinel errors from the store package.
package postgres
