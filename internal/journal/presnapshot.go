package journal

import (
	"context"

	"github.com/osakka/cassandra-journal/internal/logger"
	"github.com/osakka/cassandra-journal/internal/serialize"
	"github.com/osakka/cassandra-journal/internal/tagwrite"
)

// RecoverHighestSequenceNr is the recovery-time entry point a persistent
// actor calls instead of HighestSequenceNr directly. It answers the same
// probe, but additionally detects the case recovery replay will deliver
// zero events (highest == fromSeq, typically because a snapshot already
// covers everything up to fromSeq-1) and proactively synchronizes the tag
// view for pid before returning, since the normal "replay drives tag
// progress" path never fires in that case (spec.md §4.6, "Startup
// coordination with readers").
func (j *Journal) RecoverHighestSequenceNr(ctx context.Context, pid PersistenceID, fromSeq int64) (int64, error) {
	highest, err := j.HighestSequenceNr(ctx, pid, fromSeq)
	if err != nil {
		return 0, err
	}

	if highest == fromSeq {
		j.preSnapshotTagSync(ctx, pid, highest)
	}

	return highest, nil
}

// preSnapshotTagSync re-publishes tag progress for pid by re-scanning its
// already-committed events from cfg.PreSnapshotScanFrom through highest and
// dispatching them as one BulkTagWrite, the same per-tag-ordered message C4
// uses for new writes. The tag writer is expected to de-duplicate against
// progress it has already seen, so re-sending already-tagged events here is
// safe; what this closes is the window where a write committed its main
// rows but crashed before its own tag-write dispatch (spec.md §4.6). A
// failure here is logged and swallowed: pre-snapshot sync is best-effort
// and must never fail the recovery probe it rides along with.
func (j *Journal) preSnapshotTagSync(ctx context.Context, pid PersistenceID, highest int64) {
	if !j.cfg.EventsByTagEnabled || j.tagDispatcher == nil {
		return
	}

	from := j.cfg.PreSnapshotScanFrom
	if from < 1 {
		from = 1
	}
	if from > highest {
		return
	}

	var tagged []tagwrite.TaggedRow
	err := j.ReplayMessages(ctx, pid, from, highest, 0, func(row SerializedRow) error {
		tagged = append(tagged, tagwrite.TaggedRow{
			PersistenceID: string(row.PersistenceID),
			SequenceNr:    row.SequenceNr,
			TimeBucket:    row.TimeBucket,
			Row:           serialize.Row{Tags: row.Tags},
		})
		return nil
	})
	if err != nil {
		logger.Warn("journal: pre-snapshot tag sync scan failed for %s: %v", pid, err)
		return
	}
	if len(tagged) == 0 {
		return
	}

	msg := tagwrite.Extract(tagged)
	j.metrics.TagWriteDispatched(len(msg.PerTagWrites))
	j.tagDispatcher.Dispatch(msg)
}
