// Package cqlsession is the journal's boundary to the backing store.
//
// spec.md treats the connection pool and prepared-statement cache as an
// external collaborator ("assumed: a Session capable of executing prepared
// statements and returning rows/result-sets asynchronously"). This package
// gives that assumption a concrete shape: a small Session/Query/Batch
// interface set the rest of the journal drives, plus a Dial that builds one
// from a real gocql.ClusterConfig, grounded on the cadence
// cassandraHistoryPersistence reference in the retrieval pack (session per
// cluster, LocalQuorum/LocalSerial consistency, prepared statement re-use).
package cqlsession

import (
	"context"

	"github.com/gocql/gocql"

	"github.com/osakka/cassandra-journal/internal/config"
	"github.com/osakka/cassandra-journal/internal/logger"
)

// RowScanner mirrors the subset of *gocql.Iter the journal needs to drain a
// result set into maps, matching the cadence reference's MapScan idiom.
type RowScanner interface {
	MapScan(m map[string]interface{}) bool
	PageState() []byte
	Close() error
}

// Query mirrors the subset of *gocql.Query the journal binds and executes.
type Query interface {
	Bind(values ...interface{}) Query
	WithContext(ctx context.Context) Query
	Consistency(c gocql.Consistency) Query
	PageSize(n int) Query
	PageState(state []byte) Query
	// Profile stamps the caller-owned execution profile name onto the
	// query. The journal never interprets or mutates name, only passes it
	// through (spec.md §4.3, §5); a blank name is a no-op.
	Profile(name string) Query
	Exec() error
	Iter() RowScanner
	MapScanCAS(dest map[string]interface{}) (applied bool, err error)
}

// Batch mirrors the subset of *gocql.Batch the journal builds up.
type Batch interface {
	Query(stmt string, args ...interface{})
	Size() int
	// Profile stamps the caller-owned execution profile name onto the
	// batch; see Query.Profile.
	Profile(name string) Batch
}

// Session is the journal's view of the backing store: build queries and
// batches, execute them, and prepare statements ahead of time. Repeated
// Prepare calls for the same CQL text must be idempotent (spec.md §5).
type Session interface {
	Query(stmt string) Query
	NewBatch(unlogged bool) Batch
	ExecuteBatch(b Batch) error
	Prepare(ctx context.Context, cql string) error
	Close()
}

// gocqlSession adapts *gocql.Session to Session.
type gocqlSession struct {
	session *gocql.Session
}

// Dial builds a Session from the connection fields of cfg, following the
// cadence reference's cluster-config shape (keyspace, consistency, serial
// consistency, timeout, num connections).
func Dial(cfg *config.Config) (Session, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Port = cfg.Port
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = cfg.ConnectTimeout
	cluster.NumConns = cfg.NumConns
	if cfg.LocalDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.DCAwareRoundRobinPolicy(cfg.LocalDC)
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	logger.Info("cqlsession: connected to keyspace %q via %d contact point(s)", cfg.Keyspace, len(cfg.Hosts))
	return &gocqlSession{session: session}, nil
}

func (s *gocqlSession) Query(stmt string) Query {
	return &gocqlQuery{q: s.session.Query(stmt)}
}

func (s *gocqlSession) NewBatch(unlogged bool) Batch {
	t := gocql.LoggedBatch
	if unlogged {
		t = gocql.UnloggedBatch
	}
	return &gocqlBatch{b: s.session.NewBatch(t)}
}

func (s *gocqlSession) ExecuteBatch(b Batch) error {
	gb, ok := b.(*gocqlBatch)
	if !ok {
		return errNotGocqlBatch
	}
	return s.session.ExecuteBatch(gb.b)
}

func (s *gocqlSession) Prepare(ctx context.Context, cql string) error {
	// gocql prepares lazily and caches by query string on first execution;
	// issuing a zero-row bind-and-discard here forces that cache population
	// at startup instead of on the first real request (spec.md §4.9).
	return s.session.Query(cql).WithContext(ctx).Exec()
}

func (s *gocqlSession) Close() { s.session.Close() }

type gocqlQuery struct{ q *gocql.Query }

func (g *gocqlQuery) Bind(values ...interface{}) Query {
	g.q = g.q.Bind(values...)
	return g
}
func (g *gocqlQuery) WithContext(ctx context.Context) Query {
	g.q = g.q.WithContext(ctx)
	return g
}
func (g *gocqlQuery) Consistency(c gocql.Consistency) Query {
	g.q = g.q.Consistency(c)
	return g
}
func (g *gocqlQuery) PageSize(n int) Query {
	g.q = g.q.PageSize(n)
	return g
}
func (g *gocqlQuery) PageState(state []byte) Query {
	g.q = g.q.PageState(state)
	return g
}
func (g *gocqlQuery) Profile(name string) Query {
	if name == "" {
		return g
	}
	g.q = g.q.CustomPayload(executionProfilePayload(name))
	return g
}
func (g *gocqlQuery) Exec() error { return g.q.Exec() }
func (g *gocqlQuery) Iter() RowScanner {
	return g.q.Iter()
}
func (g *gocqlQuery) MapScanCAS(dest map[string]interface{}) (bool, error) {
	return g.q.MapScanCAS(dest)
}

type gocqlBatch struct{ b *gocql.Batch }

func (g *gocqlBatch) Query(stmt string, args ...interface{}) { g.b.Query(stmt, args...) }
func (g *gocqlBatch) Size() int                               { return g.b.Size() }
func (g *gocqlBatch) Profile(name string) Batch {
	if name == "" {
		return g
	}
	g.b.CustomPayload = executionProfilePayload(name)
	return g
}

// executionProfilePayload carries the caller-owned execution profile name
// through gocql's custom payload channel, the one passthrough mechanism
// gocql exposes for driver-opaque per-statement hints (spec.md §4.3: "the
// builder must set the execution profile to write_profile for writes,
// read_profile for reads", treated here as an opaque string, not a
// consistency level or retry policy the journal interprets).
func executionProfilePayload(name string) map[string][]byte {
	return map[string][]byte{"execution-profile": []byte(name)}
}

var errNotGocqlBatch = &adapterError{"batch was not created by this session"}

type adapterError struct{ msg string }

func (e *adapterError) Error() string { return e.msg }

// WithRetry wraps a backing-store call with exponential backoff, retrying
// only transient failures (throttling, timeout) and giving up immediately
// on anything else — precondition violations and serialization errors must
// never be retried here (spec.md §7).
func WithRetry(ctx context.Context, b Backoff, fn func() error) error {
	return b.Retry(ctx, fn)
}

// Backoff is implemented by internal/cqlsession/backoff.go's cenkalti/backoff
// wrapper; kept as an interface here so journal code and tests don't need to
// import backoff directly.
type Backoff interface {
	Retry(ctx context.Context, fn func() error) error
}

// classify distinguishes retriable transient errors from the rest, mirroring
// the cadence reference's isThrottlingError/isTimeoutError split.
func classify(err error) (retriable bool) {
	if err == nil {
		return false
	}
	switch err {
	case gocql.ErrTimeoutNoResponse, gocql.ErrConnectionClosed:
		return true
	}
	if _, ok := err.(*gocql.RequestErrWriteTimeout); ok {
		return true
	}
	if _, ok := err.(*gocql.RequestErrReadTimeout); ok {
		return true
	}
	return false
}
