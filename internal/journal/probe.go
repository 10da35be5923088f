package journal

import (
	"context"

	"github.com/osakka/cassandra-journal/internal/cqlsession"
)

// HighestSequenceNr implements C7's highest_sequence_nr(pid, from_seq)
// (spec.md §4.7). It awaits any in-flight write for pid first (compensating
// for the backing store's lack of session-level read-your-writes), then
// walks partitions forward from partition_of(from_seq), tolerating at most
// one empty partition before concluding the stream ends there.
func (j *Journal) HighestSequenceNr(ctx context.Context, pid PersistenceID, fromSeq int64) (int64, error) {
	if j.stopped.Load() {
		return 0, ErrShutdown
	}

	j.coord.awaitWrite(pid)

	highest := fromSeq
	partitionNr := j.partitionSize.Of(maxInt64(fromSeq, 1))
	foundEmptyPartition := false
	scanned := 0

	for {
		seq, err := j.maxSeqInPartition(ctx, pid, partitionNr)
		scanned++
		if err != nil {
			j.metrics.HighestSeqProbePartitionsScanned(scanned)
			return 0, err
		}

		if seq == 0 {
			if foundEmptyPartition {
				j.metrics.HighestSeqProbePartitionsScanned(scanned)
				return highest, nil
			}
			foundEmptyPartition = true
			partitionNr++
			continue
		}

		highest = seq
		foundEmptyPartition = false
		partitionNr++
	}
}

func (j *Journal) maxSeqInPartition(ctx context.Context, pid PersistenceID, partitionNr int64) (int64, error) {
	if j.cfg.Cassandra2xCompat {
		return j.maxSeqInPartitionCompat(ctx, pid, partitionNr)
	}

	var seq int64
	err := cqlsession.WithRetry(ctx, j.backoff, func() error {
		iter := j.session.Query(j.stmts.SelectHighestSeq).
			WithContext(ctx).
			Profile(j.cfg.ReadProfile).
			Bind(string(pid), partitionNr).
			Iter()
		defer iter.Close()

		row := make(map[string]interface{})
		if iter.MapScan(row) {
			if v, ok := row["sequence_nr"].(int64); ok {
				seq = v
			}
		} else {
			seq = 0
		}
		return iter.Close()
	})
	return seq, err
}

// maxSeqInPartitionCompat implements the highest-seq probe under
// cassandra_2x_compat. The legacy schema's clustering order does not
// support the modern "ORDER BY sequence_nr DESC LIMIT 1" scan, so a static
// "used" marker column first distinguishes a partition that never received
// a write (highest stays 0, no further query needed) from one that did;
// only a used partition is then scanned (ascending, the legacy clustering
// order) to find its actual highest surviving sequence_nr (spec.md §4.7,
// §9 second open question).
func (j *Journal) maxSeqInPartitionCompat(ctx context.Context, pid PersistenceID, partitionNr int64) (int64, error) {
	var used bool
	err := cqlsession.WithRetry(ctx, j.backoff, func() error {
		iter := j.session.Query(j.stmts.SelectHighestSeqLegacy).
			WithContext(ctx).
			Profile(j.cfg.ReadProfile).
			Bind(string(pid), partitionNr).
			Iter()
		defer iter.Close()

		row := make(map[string]interface{})
		if iter.MapScan(row) {
			if v, ok := row["used"].(bool); ok {
				used = v
			}
		}
		return iter.Close()
	})
	if err != nil || !used {
		return 0, err
	}

	minSeq, maxSeq := j.partitionSize.Span(partitionNr)
	var highest int64
	err = cqlsession.WithRetry(ctx, j.backoff, func() error {
		iter := j.session.Query(j.stmts.SelectMessages).
			WithContext(ctx).
			Profile(j.cfg.ReadProfile).
			Bind(string(pid), partitionNr, minSeq, maxSeq).
			Iter()
		defer iter.Close()

		row := make(map[string]interface{})
		for iter.MapScan(row) {
			if v, ok := row["sequence_nr"].(int64); ok && v > highest {
				highest = v
			}
			for k := range row {
				delete(row, k)
			}
		}
		return iter.Close()
	})
	return highest, err
}

// LowestSequenceNr implements C7's lowest_sequence_nr(pid, from_seq,
// deleted_to): the first event's sequence number above deleted_to, or
// from_seq if none exists (spec.md §4.7).
func (j *Journal) LowestSequenceNr(ctx context.Context, pid PersistenceID, fromSeq, deletedTo int64) (int64, error) {
	if j.stopped.Load() {
		return 0, ErrShutdown
	}

	start := deletedTo + 1
	if start < 1 {
		start = 1
	}
	partitionNr := j.partitionSize.Of(start)
	_, maxSeq := j.partitionSize.Span(partitionNr)

	var found int64
	err := cqlsession.WithRetry(ctx, j.backoff, func() error {
		iter := j.session.Query(j.stmts.SelectMessages).
			WithContext(ctx).
			Profile(j.cfg.ReadProfile).
			Bind(string(pid), partitionNr, start, maxSeq).
			Iter()
		defer iter.Close()

		row := make(map[string]interface{})
		if iter.MapScan(row) {
			if v, ok := row["sequence_nr"].(int64); ok {
				found = v
			}
		}
		return iter.Close()
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return fromSeq, nil
	}
	return found, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
