// Package secrets detects and redacts credentials in text that leaves the
// process: run records written to the episodic log, HTTP responses and
// execution error messages echoed from the database driver.
//
// Findings keep the rule id and position, never the matched value.
package secrets
