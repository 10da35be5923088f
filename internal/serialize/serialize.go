// Package serialize is the journal's serializer gateway (C1): it turns a
// caller event into a SerializedRow ready for the statement builder, and
// back again on read.
//
// Grounded on the teacher's models/entity.go content-type/encoding split
// (an entity's payload carries its own encoding tag, decoded lazily), here
// generalized to the event-sourcing serializer-registry idea from spec.md
// §4.1: an event's encoder may be sync or async, and metadata failures must
// never fail the event itself.
package serialize

import (
	"context"
	"sync/atomic"

	"github.com/gocql/gocql"

	"github.com/osakka/cassandra-journal/internal/logger"
)

// Row is what C1 produces from an event, and what the statement builder
// consumes. It mirrors journal.SerializedRow minus the fields the write
// coordinator fills in afterwards (partition_nr, sequence_nr, time_uuid):
// the gateway only knows about payload encoding, not placement.
type Row struct {
	EventPayload         []byte
	SerID                int
	SerManifest          string
	EventAdapterManifest string
	Tags                 []string

	HasMeta         bool
	MetaPayload     []byte
	MetaSerID       int
	MetaSerManifest string
}

// sentinelMetaManifest marks metadata that failed to serialize; forward
// compatibility outweighs strict recovery of unknown metadata types
// (spec.md §4.1).
const sentinelMetaManifest = "unknown-meta/v1"

// EventCodec encodes and decodes one event payload type. Encode may block;
// callers that need non-blocking behavior should implement AsyncEventCodec
// instead.
type EventCodec interface {
	Encode(event interface{}) (payload []byte, serID int, manifest string, err error)
	Decode(payload []byte, serID int, manifest string) (event interface{}, err error)
}

// AsyncEventCodec is an EventCodec whose encode step is naturally
// asynchronous (e.g. it calls out to a remote schema registry). Gateway
// waits on the returned channel (or on ctx) inside SerializeEvent, so both
// codec kinds look the same to its caller; SerializeEvent blocks the calling
// goroutine until encoding finishes either way and returns no future.
type AsyncEventCodec interface {
	EventCodec
	EncodeAsync(ctx context.Context, event interface{}) <-chan EncodeResult
}

// EncodeResult is what an AsyncEventCodec delivers once encoding finishes.
type EncodeResult struct {
	Payload  []byte
	SerID    int
	Manifest string
	Err      error
}

// MetaCodec serializes the optional metadata side-channel. A failure here
// never fails the event (spec.md §4.1, §7 item 6).
type MetaCodec interface {
	Encode(meta interface{}) (payload []byte, serID int, manifest string, err error)
	Decode(payload []byte, serID int, manifest string) (meta interface{}, err error)
}

// Gateway is C1: serialize_event / deserialize_event plus the column
// presence probes readers need.
type Gateway struct {
	codec     EventCodec
	metaCodec MetaCodec

	// Column presence is probed on every row read and the latest result is
	// cached; a stale read is harmless, so atomic.Bool is enough synchronization
	// (spec.md §4.1, §9 "Column-presence probes").
	hasMetaColumn     atomic.Bool
	hasMetaColumnSeen atomic.Bool
	hasTagsColumn     atomic.Bool
	hasTagsColumnSeen atomic.Bool
}

// New builds a Gateway. metaCodec may be nil if the deployment never writes
// metadata; SerializeEvent then always produces a row with HasMeta = false.
func New(codec EventCodec, metaCodec MetaCodec) *Gateway {
	return &Gateway{codec: codec, metaCodec: metaCodec}
}

// SerializeEvent encodes event (and, if present, meta) into a Row, tagged
// with tags. If the codec is an AsyncEventCodec, encoding is awaited here
// via its channel rather than blocking inline — from the caller's view the
// two codec kinds are indistinguishable.
func (g *Gateway) SerializeEvent(ctx context.Context, event interface{}, meta interface{}, tags []string) (Row, error) {
	payload, serID, manifest, err := g.encode(ctx, event)
	if err != nil {
		return Row{}, err
	}

	row := Row{
		EventPayload: payload,
		SerID:        serID,
		SerManifest:  manifest,
		Tags:         tags,
	}

	if meta != nil && g.metaCodec != nil {
		mp, mserID, mmanifest, merr := g.metaCodec.Encode(meta)
		if merr != nil {
			logger.Warn("serialize: metadata encode failed, storing sentinel: %v", merr)
			row.HasMeta = true
			row.MetaPayload = nil
			row.MetaSerID = 0
			row.MetaSerManifest = sentinelMetaManifest
		} else {
			row.HasMeta = true
			row.MetaPayload = mp
			row.MetaSerID = mserID
			row.MetaSerManifest = mmanifest
		}
	}

	return row, nil
}

func (g *Gateway) encode(ctx context.Context, event interface{}) ([]byte, int, string, error) {
	if async, ok := g.codec.(AsyncEventCodec); ok {
		select {
		case res := <-async.EncodeAsync(ctx, event):
			return res.Payload, res.SerID, res.Manifest, res.Err
		case <-ctx.Done():
			return nil, 0, "", ctx.Err()
		}
	}
	return g.codec.Encode(event)
}

// DeserializeEvent is the inverse of SerializeEvent. A failure to decode
// the event payload propagates (spec.md §7 item 7); a failure to decode
// metadata is logged and the event is returned with a nil meta, not with a
// sentinel value. A row carrying the sentinel manifest also yields nil meta.
func (g *Gateway) DeserializeEvent(row Row) (event interface{}, meta interface{}, err error) {
	event, err = g.codec.Decode(row.EventPayload, row.SerID, row.SerManifest)
	if err != nil {
		return nil, nil, err
	}

	if row.HasMeta && g.metaCodec != nil {
		if row.MetaSerManifest == sentinelMetaManifest {
			return event, nil, nil
		}
		meta, err = g.metaCodec.Decode(row.MetaPayload, row.MetaSerID, row.MetaSerManifest)
		if err != nil {
			logger.Warn("serialize: metadata decode failed, dropping: %v", err)
			return event, nil, nil
		}
	}

	return event, meta, nil
}

// ProbeMetaColumn records whether the rows being read carry a meta column,
// based on inspecting a decoded row's column set. Cheap to call repeatedly;
// every call overwrites the cached value with the latest observation.
func (g *Gateway) ProbeMetaColumn(present bool) {
	g.hasMetaColumnSeen.Store(true)
	g.hasMetaColumn.Store(present)
}

// HasMetaColumn reports the cached probe result; false with seen=false
// means no row has been read yet.
func (g *Gateway) HasMetaColumn() (present, seen bool) {
	return g.hasMetaColumn.Load(), g.hasMetaColumnSeen.Load()
}

// ProbeTagsColumn mirrors ProbeMetaColumn for the tags column, which may be
// absent on legacy schemas still using tag1/tag2/tag3.
func (g *Gateway) ProbeTagsColumn(present bool) {
	g.hasTagsColumnSeen.Store(true)
	g.hasTagsColumn.Store(present)
}

func (g *Gateway) HasTagsColumn() (present, seen bool) {
	return g.hasTagsColumn.Load(), g.hasTagsColumnSeen.Load()
}

// legacyTagColumns are the scalar tag columns older schemas used before the
// modern `tags` set column existed (spec.md §9 "Column-presence probes").
var legacyTagColumns = [3]string{"tag1", "tag2", "tag3"}

// FromStorageMap builds a Row from one raw driver row, probing and caching
// column presence as it goes (spec.md §4.1): a row map's key set reflects
// the table's actual schema, so the presence of a "meta"/"tags" key (not
// the nilness of its value) is what the probe caches. When the modern
// `tags` column is absent, the legacy tag1/tag2/tag3 scalar columns are
// read instead.
func (g *Gateway) FromStorageMap(m map[string]interface{}) Row {
	row := Row{}
	if v, ok := m["event"].([]byte); ok {
		row.EventPayload = v
	}
	if v, ok := m["ser_id"].(int); ok {
		row.SerID = v
	}
	if v, ok := m["ser_manifest"].(string); ok {
		row.SerManifest = v
	}
	if v, ok := m["event_manifest"].(string); ok {
		row.EventAdapterManifest = v
	}

	if _, present := m["tags"]; present {
		g.ProbeTagsColumn(true)
		if v, ok := m["tags"].([]string); ok {
			row.Tags = v
		}
	} else {
		g.ProbeTagsColumn(false)
		row.Tags = legacyTagsFromColumns(m)
	}

	if _, present := m["meta"]; present {
		g.ProbeMetaColumn(true)
		if v, ok := m["meta"].([]byte); ok && v != nil {
			row.HasMeta = true
			row.MetaPayload = v
			if v, ok := m["meta_ser_id"].(int); ok {
				row.MetaSerID = v
			}
			if v, ok := m["meta_ser_manifest"].(string); ok {
				row.MetaSerManifest = v
			}
		}
	} else {
		g.ProbeMetaColumn(false)
	}

	return row
}

func legacyTagsFromColumns(m map[string]interface{}) []string {
	var tags []string
	for _, col := range legacyTagColumns {
		if v, ok := m[col].(string); ok && v != "" {
			tags = append(tags, v)
		}
	}
	return tags
}

// MintTimeUUID is a convenience re-export point so callers that only import
// serialize (e.g. a custom codec implementation testing row shapes) don't
// also need gocql; the write coordinator uses timeuuid.Generator directly.
func MintTimeUUID(gen func() (gocql.UUID, error)) (gocql.UUID, error) {
	return gen()
}
