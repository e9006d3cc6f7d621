// Package errors provides standardized error handling for the engine.
// It defines the error taxonomy surfaced by flow execution (graph errors,
// loop-cap errors, window rejections, version conflicts, persistence
// failures) as sentinel values, plus a classification layer that tags
// errors as transient, invalid, or fatal so callers can decide whether
// an operation is worth retrying.
//
// Wrapping follows one pattern throughout the module:
//
//	errors.WrapTransient(err, "conversation", "Save", "update KV")
//
// which yields "conversation.Save: update KV failed: <cause>" and carries
// the transient classification for errors.IsTransient.
package errors
