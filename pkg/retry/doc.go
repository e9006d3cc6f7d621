// Package retry provides exponential backoff retry logic with jitter.
// It is used for external-call nodes (per-node retry policies), KV
// compare-and-swap loops, and startup connections.
//
// Errors wrapped with NonRetryable abort the loop immediately:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//		resp, err := call()
//		if isPermanent(err) {
//			return retry.NonRetryable(err)
//		}
//		return err
//	})
package retry
