package journal

import (
	"context"
	"sync/atomic"

	"github.com/gocql/gocql"

	"github.com/osakka/cassandra-journal/internal/config"
	"github.com/osakka/cassandra-journal/internal/cqlsession"
	"github.com/osakka/cassandra-journal/internal/logger"
	"github.com/osakka/cassandra-journal/internal/metrics"
	"github.com/osakka/cassandra-journal/internal/partition"
	"github.com/osakka/cassandra-journal/internal/serialize"
	"github.com/osakka/cassandra-journal/internal/statement"
	"github.com/osakka/cassandra-journal/internal/tagwrite"
	"github.com/osakka/cassandra-journal/internal/timeuuid"
)

// Journal is C9: the top-level owner holding C1-C7, driving startup
// prewarming, and mediating between incoming requests and the per-PID
// coordination state (spec.md §4.9).
type Journal struct {
	cfg           *config.Config
	session       cqlsession.Session
	stmts         statement.Set
	gateway       *serialize.Gateway
	partitionSize partition.Size
	coord         *coordinator
	backoff       cqlsession.Backoff
	metrics       metrics.Recorder

	timeGen timeuuid.Generator

	tagDispatcher tagwrite.Dispatcher

	stopped atomic.Bool

	onFatal func(error)
}

// Option customizes Journal construction beyond the required session/codec
// arguments, following the functional-options idiom the pack's cobra/cadence
// references both use for optional wiring.
type Option func(*Journal)

// WithTagDispatcher registers the C6 dispatcher forwarding BulkTagWrite
// messages to the external tag-writer subsystem. If unset, tag dispatch is
// a no-op even when events_by_tag_enabled is true.
func WithTagDispatcher(d tagwrite.Dispatcher) Option {
	return func(j *Journal) { j.tagDispatcher = d }
}

// WithMetrics registers a metrics.Recorder; defaults to metrics.Noop.
func WithMetrics(m metrics.Recorder) Option {
	return func(j *Journal) { j.metrics = m }
}

// WithTimeUUIDGenerator overrides the default monotone generator (spec.md
// §4.4 step 1: "the UUID generator is externalizable").
func WithTimeUUIDGenerator(gen timeuuid.Generator) Option {
	return func(j *Journal) { j.timeGen = gen }
}

// WithFatalHandler registers a callback invoked when Fatal is called,
// typically wired to a hosting framework's coordinated-shutdown trigger
// (spec.md §4.9, §5 "Fatal errors").
func WithFatalHandler(fn func(error)) Option {
	return func(j *Journal) { j.onFatal = fn }
}

// Open constructs a Journal, eagerly preparing every statement the
// configuration will need (write with/without meta, select highest, select
// messages, and conditionally the delete and legacy-compat statements) so
// that first-request latency does not pay the preparation cost (spec.md
// §4.9).
func Open(ctx context.Context, cfg *config.Config, session cqlsession.Session, codec serialize.EventCodec, metaCodec serialize.MetaCodec, opts ...Option) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stmts := statement.Build("messages", "metadata")

	j := &Journal{
		cfg:           cfg,
		session:       session,
		stmts:         stmts,
		gateway:       serialize.New(codec, metaCodec),
		partitionSize: partition.Size(cfg.TargetPartitionSize),
		coord:         newCoordinator(cfg.MaxConcurrentDeletes),
		backoff:       cqlsession.NewExponentialBackoff(5),
		metrics:       metrics.Noop,
		timeGen:       timeuuid.Monotone(),
	}

	for _, opt := range opts {
		opt(j)
	}

	for _, cql := range stmts.All(cfg.SupportDeletes, cfg.Cassandra2xCompat) {
		if err := session.Prepare(ctx, cql); err != nil {
			return nil, err
		}
	}

	logger.Info("journal: opened against keyspace %q (partition size %d, deletes=%v, tags=%v)",
		cfg.Keyspace, cfg.TargetPartitionSize, cfg.SupportDeletes, cfg.EventsByTagEnabled)

	return j, nil
}

// Fatal signals a fatal internal error: the controller stops accepting new
// requests and, if configured, triggers coordinated shutdown. The journal
// is considered non-resumable within the current process instance
// (spec.md §4.9, §5).
func (j *Journal) Fatal(err error) {
	if !j.stopped.CompareAndSwap(false, true) {
		return
	}
	logger.Error("journal: fatal error, stopping: %v", err)
	if j.cfg.CoordinatedShutdownOnError && j.onFatal != nil {
		j.onFatal(err)
	}
}

// Close closes the underlying session. A session shared with other
// components is closed for them as well.
func (j *Journal) Close() {
	j.session.Close()
}

// MintTimeUUID exposes the journal's configured time-UUID generator, used
// by tests constructing rows directly without going through WriteAtomicBatches.
func (j *Journal) MintTimeUUID() (gocql.UUID, error) {
	return j.timeGen()
}
