package journal

import (
	"context"
	"fmt"

	"github.com/osakka/cassandra-journal/internal/cqlsession"
	"github.com/osakka/cassandra-journal/internal/logger"
	"github.com/osakka/cassandra-journal/internal/serialize"
	"github.com/osakka/cassandra-journal/internal/statement"
	"github.com/osakka/cassandra-journal/internal/tagwrite"
)

// preparedRow is a SerializedRow with its serialize.Row payload still
// attached, so the tag-write extraction step (step 5) can read Tags without
// re-deriving them, plus the index of the input AtomicWrite it came from so
// a WriteResult can be reported for it after call-level grouping.
type preparedRow struct {
	row      SerializedRow
	meta     serialize.Row
	batchIdx int
}

// WriteAtomicBatches implements C4's write_atomic_batches(batches) (spec.md
// §4.4). Each element of the returned slice corresponds 1:1 positionally to
// an input batch.
//
// Serialization errors are not caught here: a failure from j.gateway
// propagates and fails the whole call, per spec.md §4.4/§7 item 2, because
// swallowing it would create a sequence-number hole invisible to callers
// but visible to the tag index.
func (j *Journal) WriteAtomicBatches(ctx context.Context, batches []AtomicWrite) ([]WriteResult, error) {
	if j.stopped.Load() {
		return nil, ErrShutdown
	}

	totalEvents := 0
	for _, b := range batches {
		totalEvents += len(b.Events)
	}
	j.metrics.WriteAttempted(totalEvents)

	perBatch := make([][]preparedRow, len(batches))
	flat := make([]preparedRow, 0, totalEvents)
	for i, b := range batches {
		rows, err := j.prepareBatch(ctx, b)
		if err != nil {
			return nil, err
		}
		for i2 := range rows {
			rows[i2].batchIdx = i
		}
		perBatch[i] = rows
		flat = append(flat, rows...)
	}

	for i, b := range batches {
		if err := j.checkPartitionSpan(perBatch[i]); err != nil {
			return nil, fmt.Errorf("%w: batch for %s: %v", ErrPreconditionViolation, b.PersistenceID, err)
		}
	}

	pids := distinctPIDs(batches)
	finish := j.coord.beginWrites(pids)
	defer finish()

	shards := j.coord.lock.LockAll(pids)
	defer j.coord.lock.UnlockAll(shards)

	results := make([]WriteResult, len(batches))
	groups := groupByMaxBatchSize(flat, j.cfg.MaxMessageBatchSize)

	failedAt := -1
	for gi, group := range groups {
		err := j.sendBatch(ctx, group)
		for _, r := range group {
			if err != nil {
				results[r.batchIdx] = WriteResult{Err: err}
			}
		}
		if err != nil {
			logger.Error("journal: write group %d/%d failed: %v", gi+1, len(groups), err)
			j.metrics.WriteFailed()
			failedAt = gi
			break
		}
	}

	if failedAt >= 0 {
		for gi := failedAt + 1; gi < len(groups); gi++ {
			for _, r := range groups[gi] {
				if results[r.batchIdx].Err == nil {
					results[r.batchIdx] = WriteResult{Err: ErrNotAttempted}
				}
			}
		}
		return results, nil
	}

	j.emitTagWrite(flat)
	return results, nil
}

func (j *Journal) prepareBatch(ctx context.Context, b AtomicWrite) ([]preparedRow, error) {
	if len(b.Events) == 0 {
		return nil, ErrEmptyAtomicWrite
	}

	rows := make([]preparedRow, len(b.Events))
	for i, ev := range b.Events {
		uuid, err := j.timeGen()
		if err != nil {
			return nil, err
		}

		meta, err := j.gateway.SerializeEvent(ctx, ev.Payload, ev.Meta, ev.Tags)
		if err != nil {
			return nil, err
		}

		partitionNr := j.partitionSize.Of(ev.SequenceNr)
		rows[i] = preparedRow{
			row: SerializedRow{
				PersistenceID:        b.PersistenceID,
				PartitionNr:          partitionNr,
				SequenceNr:           ev.SequenceNr,
				TimeUUID:             uuid,
				WriterUUID:           ev.WriterUUID,
				EventPayload:         meta.EventPayload,
				SerID:                meta.SerID,
				SerManifest:          meta.SerManifest,
				EventAdapterManifest: meta.EventAdapterManifest,
				Tags:                 meta.Tags,
				HasMeta:              meta.HasMeta,
				MetaPayload:          meta.MetaPayload,
				MetaSerID:            meta.MetaSerID,
				MetaSerManifest:      meta.MetaSerManifest,
			},
			meta: meta,
		}
	}
	return rows, nil
}

// checkPartitionSpan enforces I2 / the precondition in spec.md §4.4: the
// minimum partition of the first row and the maximum partition of the last
// row must differ by at most 1. This is a per-AtomicWrite check: the
// partition-span rule protects one PID's contiguous stream, not the whole
// call's cross-PID grouping (spec.md §3's "atomic write" is PID-scoped).
func (j *Journal) checkPartitionSpan(rows []preparedRow) error {
	if len(rows) == 0 {
		return nil
	}
	first := rows[0].row.PartitionNr
	last := rows[len(rows)-1].row.PartitionNr
	if last-first > 1 {
		return fmt.Errorf("atomic write spans partitions %d..%d, more than 2 adjacent partitions", first, last)
	}
	return nil
}

// distinctPIDs lists the PIDs named by batches, first-seen order, deduplicated.
func distinctPIDs(batches []AtomicWrite) []PersistenceID {
	seen := make(map[PersistenceID]bool, len(batches))
	pids := make([]PersistenceID, 0, len(batches))
	for _, b := range batches {
		if !seen[b.PersistenceID] {
			seen[b.PersistenceID] = true
			pids = append(pids, b.PersistenceID)
		}
	}
	return pids
}

// groupByMaxBatchSize implements the call-level batching decision (spec.md
// §4.4 step 4): if every row across every input AtomicWrite fits in one
// unlogged batch, send them all together; otherwise split into sequential
// groups each under maxSize, in original order. Rows from different
// AtomicWrites (same PID or not) may share a group — the grouping is a
// property of the whole call, not of any one input batch.
func groupByMaxBatchSize(rows []preparedRow, maxSize int) [][]preparedRow {
	if len(rows) <= maxSize {
		return [][]preparedRow{rows}
	}
	groups := make([][]preparedRow, 0, (len(rows)+maxSize-1)/maxSize)
	for start := 0; start < len(rows); start += maxSize {
		end := start + maxSize
		if end > len(rows) {
			end = len(rows)
		}
		groups = append(groups, rows[start:end])
	}
	return groups
}

func (j *Journal) sendBatch(ctx context.Context, rows []preparedRow) error {
	batch := j.session.NewBatch(true).Profile(j.cfg.WriteProfile)
	for _, pr := range rows {
		stmt := statement.InsertFor(j.stmts, pr.row.HasMeta)
		batch.Query(stmt, insertArgs(pr.row)...)
	}

	return cqlsession.WithRetry(ctx, j.backoff, func() error {
		return j.session.ExecuteBatch(batch)
	})
}

func insertArgs(r SerializedRow) []interface{} {
	base := []interface{}{
		string(r.PersistenceID), r.PartitionNr, r.SequenceNr, r.TimeUUID, r.TimeBucket, r.WriterUUID,
		r.EventPayload, r.SerID, r.SerManifest, r.EventAdapterManifest, r.Tags,
	}
	if r.HasMeta {
		return append(base, r.MetaPayload, r.MetaSerID, r.MetaSerManifest)
	}
	return base
}

// emitTagWrite builds and dispatches the single BulkTagWrite for the whole
// write_atomic_batches call, once every group has completed successfully
// (spec.md §4.4 step 5, §4.6), skipped entirely when the tag view is
// disabled.
func (j *Journal) emitTagWrite(rows []preparedRow) {
	if !j.cfg.EventsByTagEnabled || j.tagDispatcher == nil {
		return
	}

	tagged := make([]tagwrite.TaggedRow, len(rows))
	for i, pr := range rows {
		tagged[i] = tagwrite.TaggedRow{
			PersistenceID: string(pr.row.PersistenceID),
			SequenceNr:    pr.row.SequenceNr,
			TimeBucket:    pr.row.TimeBucket,
			Row:           pr.meta,
		}
	}

	msg := tagwrite.Extract(tagged)
	j.metrics.TagWriteDispatched(len(msg.PerTagWrites))
	j.tagDispatcher.Dispatch(msg)
}
