package journal

import (
	"context"

	"github.com/osakka/cassandra-journal/internal/cqlsession"
)

// EventExtractor turns a raw SerializedRow into the caller's domain event
// type. Replay delivers errors from this function as replay failures
// (spec.md §7 item 7: a deserialization error on the event payload
// propagates and fails replay).
type EventExtractor func(row SerializedRow) error

// ReplayMessages is C8's events_by_persistence_id cursor (spec.md §4.8):
// every committed event with sequence_nr in [fromSeq, toSeq] is delivered
// to extractor in ascending sequence_nr order, exactly once. Rows with
// sequence_nr <= deletedTo are skipped per I5, even if the underlying
// storage row still physically exists.
func (j *Journal) ReplayMessages(ctx context.Context, pid PersistenceID, fromSeq, toSeq int64, maxEvents int64, extractor EventExtractor) error {
	if j.stopped.Load() {
		return ErrShutdown
	}

	deletedTo, err := j.readDeletedTo(ctx, pid)
	if err != nil {
		return err
	}
	effectiveFrom := fromSeq
	if deletedTo+1 > effectiveFrom {
		effectiveFrom = deletedTo + 1
	}

	effectiveTo := toSeq
	if toSeq == AllSequenceNrs {
		effectiveTo, err = j.HighestSequenceNr(ctx, pid, effectiveFrom)
		if err != nil {
			return err
		}
	}

	if effectiveFrom > effectiveTo {
		return nil
	}
	toSeq = effectiveTo

	delivered := int64(0)
	fromPartition := j.partitionSize.Of(maxInt64(effectiveFrom, 1))
	toPartition := j.partitionSize.Of(toSeq)

	for nr := fromPartition; nr <= toPartition; nr++ {
		minSeq, maxSeq := j.partitionSize.Span(nr)
		lo := maxInt64(minSeq, effectiveFrom)
		hi := minInt64(maxSeq, toSeq)
		if lo > hi {
			continue
		}

		more, err := j.replayPartition(ctx, pid, nr, lo, hi, maxEvents, &delivered, extractor)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (j *Journal) replayPartition(ctx context.Context, pid PersistenceID, partitionNr, lo, hi, maxEvents int64, delivered *int64, extractor EventExtractor) (bool, error) {
	return true, cqlsession.WithRetry(ctx, j.backoff, func() error {
		iter := j.session.Query(j.stmts.SelectMessages).
			WithContext(ctx).
			Profile(j.cfg.ReadProfile).
			Bind(string(pid), partitionNr, lo, hi).
			Iter()
		defer iter.Close()

		row := make(map[string]interface{})
		for iter.MapScan(row) {
			if maxEvents > 0 && *delivered >= maxEvents {
				break
			}
			sr := j.rowFromMap(pid, row)
			if err := extractor(sr); err != nil {
				return err
			}
			*delivered++
			for k := range row {
				delete(row, k)
			}
		}
		return iter.Close()
	})
}

// rowFromMap assembles a SerializedRow from one raw driver row: the
// placement columns (persistence_id, partition_nr, sequence_nr, writer_uuid)
// are read directly, while the encoding columns (event payload, tags,
// optional meta, with dynamic column-presence fallback for legacy schemas)
// go through the gateway's probe/cache (spec.md §4.1, §4.8).
func (j *Journal) rowFromMap(pid PersistenceID, m map[string]interface{}) SerializedRow {
	sr := SerializedRow{PersistenceID: pid}
	if v, ok := m["sequence_nr"].(int64); ok {
		sr.SequenceNr = v
	}
	if v, ok := m["partition_nr"].(int64); ok {
		sr.PartitionNr = v
	}
	if v, ok := m["writer_uuid"].(string); ok {
		sr.WriterUUID = v
	}

	row := j.gateway.FromStorageMap(m)
	sr.EventPayload = row.EventPayload
	sr.SerID = row.SerID
	sr.SerManifest = row.SerManifest
	sr.EventAdapterManifest = row.EventAdapterManifest
	sr.Tags = row.Tags
	sr.HasMeta = row.HasMeta
	sr.MetaPayload = row.MetaPayload
	sr.MetaSerID = row.MetaSerID
	sr.MetaSerManifest = row.MetaSerManifest
	return sr
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
