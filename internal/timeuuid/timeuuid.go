// Package timeuuid provides the default time-based UUID generator for
// write_atomic_batches (spec.md §4.4 step 1).
//
// The generator is externalizable: callers of the journal package may
// supply any func() (gocql.UUID, error) — this package just provides the
// default, a monotone wrapper around google/uuid's version-1 generator.
package timeuuid

import (
	"sync"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// Generator mints a time_uuid for a serialized event row. Implementations
// must return non-decreasing values for sequential calls from the same
// goroutine so that I6 ("their time_uuids are monotonically non-decreasing")
// holds for a single atomic write.
type Generator func() (gocql.UUID, error)

// Monotone is the default Generator. google/uuid's NewUUID already keeps a
// process-wide clock sequence that advances when the system clock hasn't, so
// successive calls never go backwards; this wrapper just guards against the
// pathological case where the underlying clock jumps backwards across a
// leap-second or NTP correction by clamping to the last-seen value.
func Monotone() Generator {
	var mu sync.Mutex
	var last time.Time

	return func() (gocql.UUID, error) {
		mu.Lock()
		defer mu.Unlock()

		id, err := uuid.NewUUID()
		if err != nil {
			return gocql.UUID{}, err
		}

		sec, nsec := id.Time().UnixTime()
		now := time.Unix(sec, nsec)
		if !last.IsZero() && now.Before(last) {
			// Clock moved backwards; mint from the last-seen instant so
			// the wire-order time_uuid stays non-decreasing.
			return gocql.UUIDFromTime(last), nil
		}
		last = now

		return gocql.UUIDFromBytes(id[:])
	}
}
