package journal

import (
	"context"
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/require"

	"github.com/osakka/cassandra-journal/internal/config"
	"github.com/osakka/cassandra-journal/internal/journaltest"
	"github.com/osakka/cassandra-journal/internal/statement"
	"github.com/osakka/cassandra-journal/internal/tagwrite"
)

type stringCodec struct{}

func (stringCodec) Encode(event interface{}) ([]byte, int, string, error) {
	return []byte(event.(string)), 1, "string/v1", nil
}

func (stringCodec) Decode(payload []byte, serID int, manifest string) (interface{}, error) {
	return string(payload), nil
}

// sequentialUUID hands out deterministic, strictly increasing gocql.UUIDs so
// tests don't depend on wall-clock monotonicity.
func sequentialUUID() func() (gocql.UUID, error) {
	var n byte
	return func() (gocql.UUID, error) {
		n++
		var b [16]byte
		b[15] = n
		return gocql.UUIDFromBytes(b[:])
	}
}

func newTestJournal(t *testing.T, cfg *config.Config, opts ...Option) (*Journal, *journaltest.FakeSession) {
	t.Helper()

	if cfg == nil {
		cfg = config.Default()
		cfg.TargetPartitionSize = 5
		cfg.MaxMessageBatchSize = 10
	}

	fs := journaltest.New()
	journaltest.Wire(fs, statement.Build("messages", "metadata"))

	opts = append([]Option{WithTimeUUIDGenerator(sequentialUUID())}, opts...)

	j, err := Open(context.Background(), cfg, fs, stringCodec{}, nil, opts...)
	require.NoError(t, err)
	return j, fs
}

func atomicWrite(pid PersistenceID, fromSeq int64, n int, tags ...string) AtomicWrite {
	events := make([]Event, n)
	for i := 0; i < n; i++ {
		events[i] = Event{
			Payload:       "payload",
			Tags:          tags,
			SequenceNr:    fromSeq + int64(i),
			WriterUUID:    "writer-1",
			PersistenceID: pid,
		}
	}
	return AtomicWrite{PersistenceID: pid, Events: events}
}

// S1: write [1..3], highest == 3.
func TestS1WriteAndHighest(t *testing.T) {
	j, _ := newTestJournal(t, nil)
	ctx := context.Background()

	results, err := j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 1, 3)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	highest, err := j.HighestSequenceNr(ctx, "A", 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), highest)
}

// S2: write [1..5] then [6..7]; partition_of(5)=0, partition_of(6)=1; highest == 7.
func TestS2SequentialWritesAcrossPartitions(t *testing.T) {
	j, _ := newTestJournal(t, nil)
	ctx := context.Background()

	_, err := j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 1, 5)})
	require.NoError(t, err)
	_, err = j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 6, 2)})
	require.NoError(t, err)

	highest, err := j.HighestSequenceNr(ctx, "A", 0)
	require.NoError(t, err)
	require.Equal(t, int64(7), highest)
}

// S3: atomic [4..6] spans partitions 0 and 1, accepted (I2 allows at most 2
// adjacent partitions); atomic [3..15] spans partitions 0, 1 and 2, rejected.
func TestS3PartitionSpanRule(t *testing.T) {
	j, _ := newTestJournal(t, nil)
	ctx := context.Background()

	results, err := j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 4, 3)})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	_, err = j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("B", 3, 13)})
	require.ErrorIs(t, err, ErrPreconditionViolation)
}

// S4: delete_to("A", 3) after S1; replay yields nothing; deleted_to == 3.
func TestS4LogicalDeleteHidesEvents(t *testing.T) {
	j, _ := newTestJournal(t, nil)
	ctx := context.Background()

	_, err := j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 1, 3)})
	require.NoError(t, err)

	require.NoError(t, j.DeleteTo(ctx, "A", 3))

	var delivered []int64
	err = j.ReplayMessages(ctx, "A", 1, AllSequenceNrs, 0, func(row SerializedRow) error {
		delivered = append(delivered, row.SequenceNr)
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, delivered)

	deletedTo, err := j.readDeletedTo(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, int64(3), deletedTo)
}

// P4/P5: delete idempotence and monotonicity.
func TestP4P5DeleteIdempotentAndMonotonic(t *testing.T) {
	j, _ := newTestJournal(t, nil)
	ctx := context.Background()

	_, err := j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 1, 10)})
	require.NoError(t, err)

	require.NoError(t, j.DeleteTo(ctx, "A", 5))
	require.NoError(t, j.DeleteTo(ctx, "A", 5))

	deletedTo, err := j.readDeletedTo(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, int64(5), deletedTo)

	require.NoError(t, j.DeleteTo(ctx, "A", 3))
	deletedTo, err = j.readDeletedTo(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, int64(5), deletedTo, "deleted_to must not regress below a higher prior value")
}

// S5: with max_concurrent_deletes=3, enqueuing 5 pending_deletes for one PID
// before any of them settle accepts exactly the first 3 and rejects the
// remaining 2 with backpressure (spec.md §4.5 admission rule).
func TestS5DeleteBackpressure(t *testing.T) {
	c := newCoordinator(3)

	var startedCount, backpressureCount int
	for i := 0; i < 5; i++ {
		_, started, err := c.enqueueDelete("A", 3)
		switch {
		case err == ErrBackpressure:
			backpressureCount++
		case started:
			startedCount++
		}
	}

	require.Equal(t, 1, startedCount, "only the first request starts immediately")
	require.Equal(t, 2, backpressureCount, "requests beyond the queue bound are rejected")
}

// S6: write [1..5] tagged red, then [6..7] tagged red+blue; tag writer
// receives red in order 1..7 and blue in order 6..7.
func TestS6TagOrdering(t *testing.T) {
	dispatcher := tagwrite.NewChannelDispatcher(8)
	j, _ := newTestJournal(t, nil, WithTagDispatcher(dispatcher))
	ctx := context.Background()

	_, err := j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 1, 5, "red")})
	require.NoError(t, err)
	_, err = j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 6, 2, "red", "blue")})
	require.NoError(t, err)

	first := <-dispatcher.Messages()
	second := <-dispatcher.Messages()

	redSeqs := tagSeqs(first, "red")
	redSeqs = append(redSeqs, tagSeqs(second, "red")...)
	require.Equal(t, []int64{1, 2, 3, 4, 5}, redSeqs[:5])
	require.Equal(t, []int64{6, 7}, redSeqs[5:])

	blueSeqs := tagSeqs(second, "blue")
	require.Equal(t, []int64{6, 7}, blueSeqs)
}

func tagSeqs(msg tagwrite.BulkTagWrite, tag string) []int64 {
	for _, w := range msg.PerTagWrites {
		if w.Tag == tag {
			seqs := make([]int64, len(w.Events))
			for i, e := range w.Events {
				seqs[i] = e.SequenceNr
			}
			return seqs
		}
	}
	return nil
}

// P8: inserting at {1, target_partition_size+5} leaves partition 1 starting
// late; highest from 1 still returns P+5.
func TestP8HighestSeqTolerateSkippedPartition(t *testing.T) {
	cfg := config.Default()
	cfg.TargetPartitionSize = 5
	cfg.MaxMessageBatchSize = 10

	j, _ := newTestJournal(t, cfg)
	ctx := context.Background()

	_, err := j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 1, 1)})
	require.NoError(t, err)
	_, err = j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 10, 1)})
	require.NoError(t, err)

	highest, err := j.HighestSequenceNr(ctx, "A", 1)
	require.NoError(t, err)
	require.Equal(t, int64(10), highest)
}

func TestEmptyAtomicWriteRejected(t *testing.T) {
	j, _ := newTestJournal(t, nil)
	ctx := context.Background()

	_, err := j.WriteAtomicBatches(ctx, []AtomicWrite{{PersistenceID: "A", Events: nil}})
	require.ErrorIs(t, err, ErrEmptyAtomicWrite)
}

func TestDeleteToUnsupportedWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.SupportDeletes = false

	j, _ := newTestJournal(t, cfg)
	err := j.DeleteTo(context.Background(), "A", 1)
	require.ErrorIs(t, err, ErrDeletesUnsupported)
}

func TestFatalStopsController(t *testing.T) {
	j, _ := newTestJournal(t, nil)
	j.Fatal(require.AnError)

	_, err := j.WriteAtomicBatches(context.Background(), []AtomicWrite{atomicWrite("A", 1, 1)})
	require.ErrorIs(t, err, ErrShutdown)
}

// TestWriteAtomicBatchesGroupsAcrossInputBatches exercises the call-level
// batching decision (spec.md §4.4 step 4): multiple input AtomicWrites for
// distinct PIDs, whose combined event count fits under MaxMessageBatchSize,
// land in a single physical batch rather than one batch per input.
func TestWriteAtomicBatchesGroupsAcrossInputBatches(t *testing.T) {
	cfg := config.Default()
	cfg.TargetPartitionSize = 500
	cfg.MaxMessageBatchSize = 10

	j, fs := newTestJournal(t, cfg)
	ctx := context.Background()

	results, err := j.WriteAtomicBatches(ctx, []AtomicWrite{
		atomicWrite("A", 1, 3),
		atomicWrite("B", 1, 4),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)

	require.Len(t, fs.Messages["A"], 3)
	require.Len(t, fs.Messages["B"], 4)
}

// TestWriteAtomicBatchesSplitsOverMaxSize exercises the over-threshold branch
// of the same call-level decision: combined events across input AtomicWrites
// exceed MaxMessageBatchSize, so the call executes sequential sub-groups, in
// order, stopping at the first failure. A fault injected on the insert
// statement fires on the first group executed (A's), failing it; B's group,
// grouped and ordered after A's, never gets attempted and is reported with
// ErrNotAttempted rather than silently left without a result.
func TestWriteAtomicBatchesSplitsOverMaxSize(t *testing.T) {
	cfg := config.Default()
	cfg.TargetPartitionSize = 500
	cfg.MaxMessageBatchSize = 3

	j, fs := newTestJournal(t, cfg)
	ctx := context.Background()

	stmts := statement.Build("messages", "metadata")
	fs.InjectFault(stmts.InsertMessageNoMeta, require.AnError)

	results, err := j.WriteAtomicBatches(ctx, []AtomicWrite{
		atomicWrite("A", 1, 3),
		atomicWrite("B", 1, 3),
	})
	require.NoError(t, err, "call-level error is reported per-batch, not as a call failure")
	require.Len(t, results, 2)

	require.Error(t, results[0].Err, "first group hits the injected fault")
	require.ErrorIs(t, results[1].Err, ErrNotAttempted, "second group never runs once the first fails")
}

type stringMetaCodec struct{}

func (stringMetaCodec) Encode(meta interface{}) ([]byte, int, string, error) {
	return []byte(meta.(string)), 1, "string-meta/v1", nil
}

func (stringMetaCodec) Decode(payload []byte, serID int, manifest string) (interface{}, error) {
	return string(payload), nil
}

// TestEventMetaThreadsThroughToHasMeta asserts fix #1: Event.Meta reaches the
// serializer gateway and produces a row with HasMeta == true, exercising the
// with-meta insert statement.
func TestEventMetaThreadsThroughToHasMeta(t *testing.T) {
	cfg := config.Default()
	cfg.TargetPartitionSize = 5
	cfg.MaxMessageBatchSize = 10

	fs := journaltest.New()
	journaltest.Wire(fs, statement.Build("messages", "metadata"))

	j, err := Open(context.Background(), cfg, fs, stringCodec{}, stringMetaCodec{}, WithTimeUUIDGenerator(sequentialUUID()))
	require.NoError(t, err)

	ctx := context.Background()

	batch := AtomicWrite{
		PersistenceID: "A",
		Events: []Event{
			{
				Payload:       "payload",
				Meta:          "meta-value",
				SequenceNr:    1,
				WriterUUID:    "writer-1",
				PersistenceID: "A",
			},
		},
	}

	_, err = j.WriteAtomicBatches(ctx, []AtomicWrite{batch})
	require.NoError(t, err)

	require.Len(t, fs.Messages["A"], 1)
	require.Contains(t, fs.Messages["A"][0], "meta")
}

// TestWriteAndReadProfilesAreStamped asserts fix #5: Config.WriteProfile and
// Config.ReadProfile reach the statements the write and probe paths execute.
func TestWriteAndReadProfilesAreStamped(t *testing.T) {
	cfg := config.Default()
	cfg.TargetPartitionSize = 500
	cfg.MaxMessageBatchSize = 10
	cfg.WriteProfile = "custom-write"
	cfg.ReadProfile = "custom-read"

	j, fs := newTestJournal(t, cfg)
	ctx := context.Background()

	_, err := j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 1, 2)})
	require.NoError(t, err)

	_, err = j.HighestSequenceNr(ctx, "A", 0)
	require.NoError(t, err)

	stmts := statement.Build("messages", "metadata")
	require.Equal(t, "custom-write", fs.Profiles[stmts.InsertMessageNoMeta])
	require.Equal(t, "custom-read", fs.Profiles[stmts.SelectHighestSeq])
}

// TestMaxSeqInPartitionCompatUsesLegacyMarker asserts fix #7: under
// cassandra_2x_compat the highest-seq probe uses the legacy "used"
// marker-column statement rather than the modern ORDER BY DESC LIMIT 1 query.
func TestMaxSeqInPartitionCompatUsesLegacyMarker(t *testing.T) {
	cfg := config.Default()
	cfg.TargetPartitionSize = 500
	cfg.MaxMessageBatchSize = 10
	cfg.Cassandra2xCompat = true

	j, fs := newTestJournal(t, cfg)
	ctx := context.Background()

	_, err := j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 1, 3)})
	require.NoError(t, err)

	highest, err := j.HighestSequenceNr(ctx, "A", 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), highest)

	highest, err = j.HighestSequenceNr(ctx, "B", 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), highest, "an untouched partition short-circuits on the unused marker")

	stmts := statement.Build("messages", "metadata")
	require.Equal(t, cfg.ReadProfile, fs.Profiles[stmts.SelectHighestSeqLegacy], "the legacy marker statement was executed")
	require.NotContains(t, fs.Profiles, stmts.SelectHighestSeq, "the modern ORDER BY DESC query was never executed")
}

// TestRecoverHighestSequenceNrSyncsTagsOnEmptyReplay asserts fix #4: when
// recovery's highest-seq probe returns exactly fromSeq (no events will
// replay), the journal proactively re-dispatches tag progress for the
// already-committed events a snapshot made invisible to the normal
// replay-drives-tag-progress path.
func TestRecoverHighestSequenceNrSyncsTagsOnEmptyReplay(t *testing.T) {
	dispatcher := tagwrite.NewChannelDispatcher(8)
	j, _ := newTestJournal(t, nil, WithTagDispatcher(dispatcher))
	ctx := context.Background()

	_, err := j.WriteAtomicBatches(ctx, []AtomicWrite{atomicWrite("A", 1, 3, "red")})
	require.NoError(t, err)
	<-dispatcher.Messages() // drain the write-path dispatch

	highest, err := j.RecoverHighestSequenceNr(ctx, "A", 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), highest)

	msg := <-dispatcher.Messages()
	redSeqs := tagSeqs(msg, "red")
	require.Equal(t, []int64{1, 2, 3}, redSeqs)
}
