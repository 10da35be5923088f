package journal

import (
	"context"

	"github.com/osakka/cassandra-journal/internal/cqlsession"
	"github.com/osakka/cassandra-journal/internal/logger"
)

// DeleteTo implements C5's delete_to(pid, to_seq) (spec.md §4.5): all
// events with sequence_nr <= to_seq are logically deleted, then physical
// deletion is attempted best-effort. AllSequenceNrs means "delete
// everything currently stored".
func (j *Journal) DeleteTo(ctx context.Context, pid PersistenceID, toSeq int64) error {
	if j.stopped.Load() {
		return ErrShutdown
	}
	if !j.cfg.SupportDeletes {
		return ErrDeletesUnsupported
	}

	pd, started, err := j.coord.enqueueDelete(pid, toSeq)
	if err != nil {
		j.metrics.DeleteRejectedBackpressure()
		return err
	}
	j.metrics.DeleteAccepted()
	if started {
		go j.runDelete(ctx, pid, pd)
	}

	return <-pd.result
}

// runDelete executes the head-of-queue delete pipeline for pid, then starts
// the next queued request (if any), following the per-PID serialization
// rule in spec.md §4.5.
func (j *Journal) runDelete(ctx context.Context, pid PersistenceID, pd *pendingDelete) {
	outcome := j.deletePipeline(ctx, pid, pd.toSeq)

	next, ok := j.coord.settleDelete(pid, outcome)
	if ok {
		go j.runDelete(ctx, pid, next)
	}
}

// deletePipeline is the per-request algorithm of spec.md §4.5 steps 1-5.
func (j *Journal) deletePipeline(ctx context.Context, pid PersistenceID, toSeq int64) error {
	deletedTo, err := j.readDeletedTo(ctx, pid)
	if err != nil {
		return err
	}

	effectiveToSeq := toSeq
	if toSeq == AllSequenceNrs {
		highest, err := j.HighestSequenceNr(ctx, pid, 0)
		if err != nil {
			return err
		}
		effectiveToSeq = highest
	}

	if effectiveToSeq > deletedTo {
		if err := j.upsertDeletedTo(ctx, pid, effectiveToSeq); err != nil {
			return err
		}
	}

	if err := j.physicalDelete(ctx, pid, deletedTo, effectiveToSeq); err != nil {
		// Physical-delete failure never fails the overall call: the logical
		// delete already committed and is authoritative (spec.md §4.5 step 5).
		logger.Warn("journal: physical delete failed for %s up to seq %d, manual cleanup required: %v", pid, effectiveToSeq, err)
		if j.metrics != nil {
			j.metrics.DeletePhysicalFailed(string(pid))
		}
	}

	return nil
}

func (j *Journal) readDeletedTo(ctx context.Context, pid PersistenceID) (int64, error) {
	var deletedTo int64
	err := cqlsession.WithRetry(ctx, j.backoff, func() error {
		iter := j.session.Query(j.stmts.SelectDeletedTo).
			WithContext(ctx).
			Profile(j.cfg.ReadProfile).
			Bind(string(pid)).
			Iter()
		defer iter.Close()

		row := make(map[string]interface{})
		if iter.MapScan(row) {
			if v, ok := row["deleted_to"].(int64); ok {
				deletedTo = v
			}
		} else {
			deletedTo = 0
		}
		return iter.Close()
	})
	return deletedTo, err
}

func (j *Journal) upsertDeletedTo(ctx context.Context, pid PersistenceID, toSeq int64) error {
	return cqlsession.WithRetry(ctx, j.backoff, func() error {
		return j.session.Query(j.stmts.UpsertDeletedTo).
			WithContext(ctx).
			Profile(j.cfg.WriteProfile).
			Bind(string(pid), toSeq).
			Exec()
	})
}

// physicalDelete removes rows across partitions [partition_of(deletedTo+1),
// partition_of(toSeq)+1] — the trailing +1 covers an atomic write that
// straddled a partition boundary (spec.md §4.5 step 4).
func (j *Journal) physicalDelete(ctx context.Context, pid PersistenceID, deletedTo, toSeq int64) error {
	fromPartition := j.partitionSize.Of(maxInt64(deletedTo+1, 1))
	toPartition := j.partitionSize.Of(toSeq) + 1

	if j.cfg.Cassandra2xCompat {
		return j.physicalDeleteCompat(ctx, pid, fromPartition, toPartition, toSeq)
	}
	return j.physicalDeleteRange(ctx, pid, fromPartition, toPartition, toSeq)
}

// physicalDeleteRange issues one partition-range delete per partition, the
// default mode for schemas that support range tombstones.
func (j *Journal) physicalDeleteRange(ctx context.Context, pid PersistenceID, fromPartition, toPartition, toSeq int64) error {
	for nr := fromPartition; nr <= toPartition; nr++ {
		err := cqlsession.WithRetry(ctx, j.backoff, func() error {
			return j.session.Query(j.stmts.DeleteMessagesRange).
				WithContext(ctx).
				Profile(j.cfg.WriteProfile).
				Bind(string(pid), nr, toSeq).
				Exec()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// physicalDeleteCompat enumerates individual rows and deletes them in
// chunks of max_message_batch_size, for older schemas without range
// tombstone support (spec.md §4.5 step 4, compatibility mode). Per spec.md
// §9, individual chunk failures are logged and the loop continues rather
// than aborting, matching the source's "many small batches, warn and
// continue" behavior.
func (j *Journal) physicalDeleteCompat(ctx context.Context, pid PersistenceID, fromPartition, toPartition, toSeq int64) error {
	for nr := fromPartition; nr <= toPartition; nr++ {
		_, maxSeq := j.partitionSize.Span(nr)
		upper := maxSeq
		if upper > toSeq {
			upper = toSeq
		}
		minSeq, _ := j.partitionSize.Span(nr)

		seqs := make([]int64, 0, upper-minSeq+1)
		for s := minSeq; s <= upper; s++ {
			seqs = append(seqs, s)
		}

		for start := 0; start < len(seqs); start += j.cfg.MaxMessageBatchSize {
			end := start + j.cfg.MaxMessageBatchSize
			if end > len(seqs) {
				end = len(seqs)
			}
			chunk := seqs[start:end]

			batch := j.session.NewBatch(true).Profile(j.cfg.WriteProfile)
			for _, s := range chunk {
				batch.Query(j.stmts.DeleteMessageByRow, string(pid), nr, s)
			}

			if err := j.session.ExecuteBatch(batch); err != nil {
				logger.Warn("journal: compat-mode delete chunk failed for %s partition %d: %v", pid, nr, err)
			}
		}
	}
	return nil
}
