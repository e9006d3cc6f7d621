// Package worker provides a generic bounded worker pool. The sweeper uses
// it to fan tenant partitions out across a fixed number of goroutines so
// one slow tenant cannot stall the rest of a sweep, and the pool's queue
// bound keeps memory use predictable under load.
//
// Submit never blocks: when the queue is full the item is dropped and
// ErrQueueFull is returned, leaving backpressure policy to the caller.
package worker
