// Package sweeper periodically reconciles conversation records: it closes
// the cached window flag once the 24h clock lapses, expires conversations
// whose idle session TTL has run out, and deletes terminal records past the
// garbage-collection grace period. All writes are optimistic; a record
// being advanced by a live event simply wins and the sweeper retries it on
// the next cycle.
package sweeper
