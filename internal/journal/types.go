// Package journal implements the durable event journal: the write path,
// delete path, sequence-number discovery path, and the concurrency
// coordination tying them together (C4, C5, C7, C9). C1-C3 and C6 live in
// their own internal/ packages; this package wires them against a
// cqlsession.Session.
package journal

import "github.com/gocql/gocql"

// PersistenceID names one event stream. Opaque to the journal beyond being
// a map key and a bound CQL parameter.
type PersistenceID string

// Event is the caller-supplied payload handed to the serializer gateway.
// The journal itself never inspects Payload or Meta; C1 turns them into a
// SerializedRow. Meta is optional: a nil value produces a row with
// HasMeta == false and no meta_payload/meta_ser_id/meta_ser_manifest written
// (spec.md §3, §4.1 — metadata is "a second, independent serialization").
type Event struct {
	Payload       interface{}
	Meta          interface{}
	Tags          []string
	SequenceNr    int64
	WriterUUID    string
	PersistenceID PersistenceID
}

// SerializedRow is the atomic unit of storage (spec.md §3).
type SerializedRow struct {
	PersistenceID PersistenceID
	PartitionNr   int64
	SequenceNr    int64
	TimeUUID      gocql.UUID
	TimeBucket    string
	WriterUUID    string

	EventPayload         []byte
	SerID                int
	SerManifest          string
	EventAdapterManifest string

	Tags []string

	HasMeta        bool
	MetaPayload    []byte
	MetaSerID      int
	MetaSerManifest string
}

// AtomicWrite is an ordered, non-empty group of events for one PID whose
// sequence numbers are contiguous (spec.md §3).
type AtomicWrite struct {
	PersistenceID PersistenceID
	Events        []Event
}

// WriteResult is the per-batch outcome of write_atomic_batches: exactly one
// of Err == nil (success) or Err != nil (non-rejection failure). Precondition
// violations and serialization errors do not appear here — they fail the
// whole call (spec.md §4.4, §7).
type WriteResult struct {
	Err error
}

// DeletedToMarker is the metadata row recording the highest logically
// deleted sequence number for a PID (spec.md §3).
type DeletedToMarker struct {
	PersistenceID PersistenceID
	DeletedTo     int64
}

// PartitionInfo is the derived (partition_nr, min, max) triple used during
// physical-delete scans (spec.md §3).
type PartitionInfo struct {
	PartitionNr int64
	MinSeq      int64
	MaxSeq      int64
}

// AllSequenceNrs is the magic "delete everything currently stored" value
// passed to DeleteTo (spec.md §4.5 step 2).
const AllSequenceNrs int64 = 1<<63 - 1
