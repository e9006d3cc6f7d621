// Package extcall implements the external-call capability used by
// external_call flow nodes: an HTTP invoker that applies the node's own
// retry policy and maps response fields into flow variables via gjson
// paths. Retrying happens here, inside the capability, so the engine's
// node handlers stay deterministic; what surfaces to the engine is either
// a variable map or a final error.
package extcall
