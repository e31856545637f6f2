// Package orchestrator runs one text-to-SQL learning cycle per request.
//
// # Cycle
//
// Stages run strictly in order and each appends exactly one StepRecord:
//
//	ContextBuild → Generate → Execute → Evaluate → [AutoCurate]
//
// AutoCurate is entered when the user marked the answer incorrect, when
// execution failed, or when the execution error matches a recoverable
// signature (see WithRecoverableErrors). It first asks the curator for
// operations straight from the error. Only if that yields nothing does it
// reflect once and curate from the resulting insight.
//
// # Failure boundary
//
// Run never returns an error and never panics. Any fault aborts the cycle,
// sets Outcome to failed with a zero score, records the fault in
// RunRecord.Error, and the record is still returned and logged.
//
// # Episodic log
//
// EpisodicLog appends each finished RunRecord as one JSON line after
// scrubbing secrets from every string value.
package orchestrator
