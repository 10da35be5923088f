// Package tagwrite implements C6, the tag-write dispatch. It extracts
// per-tag submissions from a batch of serialized rows and hands a single
// BulkTagWrite message to an external tag-writer subsystem, which is
// treated as an actor-like collaborator addressed through one channel
// (spec.md §4.6) — grounded on the teacher's tag_index_persistence.go,
// which performs the same per-tag fan-out against a local index instead of
// an external channel.
package tagwrite

import "github.com/osakka/cassandra-journal/internal/serialize"

// TaggedRow is the subset of a serialized row the tag writer needs: enough
// to place the event in a tag's time-ordered view without re-deriving it
// from the full storage row.
type TaggedRow struct {
	PersistenceID string
	SequenceNr    int64
	TimeBucket    string
	Row           serialize.Row
}

// PerTagWrite groups the subsequence of a batch's events carrying one tag,
// in original order.
type PerTagWrite struct {
	Tag    string
	Events []TaggedRow
}

// BulkTagWrite is the single message C4 emits per completed
// write_atomic_batches call, covering every AtomicWrite the call
// contained, once all of the call's groups have committed
// (spec.md §4.4 step 5, §4.6).
type BulkTagWrite struct {
	PerTagWrites    []PerTagWrite
	UntaggedEvents  []TaggedRow
}

// Dispatcher forwards a BulkTagWrite to the external tag-writer subsystem.
// Delivery is fire-and-forget from the journal's perspective; the journal
// does not block the write caller on tag-view durability (spec.md §4.6).
type Dispatcher interface {
	Dispatch(msg BulkTagWrite)
}

// ChannelDispatcher forwards every BulkTagWrite onto a buffered channel, the
// simplest Dispatcher a hosting framework can wire up. The tag-writer
// subsystem consuming the channel is responsible for preserving the order
// batches arrive in (spec.md §4.6); a buffered channel alone guarantees
// that ordering as long as there is exactly one consumer goroutine.
type ChannelDispatcher struct {
	ch chan BulkTagWrite
}

// NewChannelDispatcher creates a dispatcher with the given channel buffer
// depth. A depth of 0 makes Dispatch synchronous with the consumer.
func NewChannelDispatcher(buffer int) *ChannelDispatcher {
	return &ChannelDispatcher{ch: make(chan BulkTagWrite, buffer)}
}

// Dispatch enqueues msg, blocking only if the channel buffer is full.
func (d *ChannelDispatcher) Dispatch(msg BulkTagWrite) {
	d.ch <- msg
}

// Messages exposes the channel for the tag-writer subsystem to range over.
func (d *ChannelDispatcher) Messages() <-chan BulkTagWrite {
	return d.ch
}

// Extract builds a BulkTagWrite from a batch of rows, each paired with the
// tags it carries (tags live on serialize.Row, not TaggedRow, so callers
// pass them alongside). A fast path avoids allocating per-tag maps when the
// batch holds exactly one event (spec.md §4.4, §9).
func Extract(rows []TaggedRow) BulkTagWrite {
	if len(rows) == 1 {
		return extractSingle(rows[0])
	}

	order := make([]string, 0, 4)
	byTag := make(map[string][]TaggedRow, 4)
	var untagged []TaggedRow

	for _, r := range rows {
		if len(r.Row.Tags) == 0 {
			untagged = append(untagged, r)
			continue
		}
		for _, tag := range r.Row.Tags {
			if _, ok := byTag[tag]; !ok {
				order = append(order, tag)
			}
			byTag[tag] = append(byTag[tag], r)
		}
	}

	writes := make([]PerTagWrite, 0, len(order))
	for _, tag := range order {
		writes = append(writes, PerTagWrite{Tag: tag, Events: byTag[tag]})
	}

	return BulkTagWrite{PerTagWrites: writes, UntaggedEvents: untagged}
}

func extractSingle(r TaggedRow) BulkTagWrite {
	if len(r.Row.Tags) == 0 {
		return BulkTagWrite{UntaggedEvents: []TaggedRow{r}}
	}
	writes := make([]PerTagWrite, len(r.Row.Tags))
	for i, tag := range r.Row.Tags {
		writes[i] = PerTagWrite{Tag: tag, Events: []TaggedRow{r}}
	}
	return BulkTagWrite{PerTagWrites: writes}
}
