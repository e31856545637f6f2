// Package executor runs generated SQL against the configured database and
// normalizes the outcome into a Result.
//
// Each statement runs in its own transaction. Row-returning statements are
// read up to a fetch limit; everything else reports rows affected and is
// committed. Errors roll back and surface as Result.Error, never as a Go
// error, so callers can branch on them.
//
// The default driver is modernc.org/sqlite, registered as "sqlite".
package executor
