// Package journaltest provides an in-memory fake of cqlsession.Session used
// across the journal's test suite instead of a live cluster, following the
// teacher's convention (storage/binary/locks_test.go, memory_stress_test.go)
// of hand-rolled test doubles over a mocking framework.
//
// The fake is a minimal CQL interpreter: it recognizes the handful of
// statement shapes internal/statement.Build produces (by matching the exact
// registered statement text) and applies them against in-memory tables. It is not a
// general SQL/CQL engine.
package journaltest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/gocql/gocql"

	"github.com/osakka/cassandra-journal/internal/cqlsession"
)

// Row is a generic column->value map, mirroring how gocql.Iter.MapScan
// delivers results.
type Row map[string]interface{}

// Handler executes a bound statement against the fake's tables and returns
// the rows a SELECT would produce (nil for writes).
type Handler func(f *FakeSession, args []interface{}) ([]Row, error)

// FakeSession is a cqlsession.Session backed by plain Go maps, guarded by a
// single mutex — adequate for unit tests, not a performance model of the
// real store.
type FakeSession struct {
	mu sync.Mutex

	// Messages holds serialized rows keyed by persistence_id, kept sorted by
	// sequence_nr on every insert.
	Messages map[string][]Row

	// DeletedTo holds the metadata table's deleted_to markers.
	DeletedTo map[string]int64

	// UsedPartitions tracks, per persistence id, which partition numbers
	// have ever received a write, independent of Messages — mirroring the
	// legacy schema's static "used" marker column, which a range delete
	// does not clear (spec.md §4.7, §9).
	UsedPartitions map[string]map[int64]bool

	// handlers maps a CQL statement (by exact text, as the statement
	// builder always emits the same literal templates) to its Handler.
	handlers map[string]Handler

	// Faults lets tests inject a one-shot error the next time a given
	// statement (by exact text) executes, to exercise §7's failure paths.
	Faults map[string]error

	// Prepared records every statement Prepare was called with, so C9's
	// startup-prewarming contract is testable.
	Prepared map[string]bool

	// Profiles records the last execution profile name a statement was
	// bound with, so the write_profile/read_profile wiring (spec.md §4.3)
	// is testable without a live cluster.
	Profiles map[string]string
}

// New creates an empty FakeSession with no registered handlers; callers
// register the handlers they need via Register, or call Wire to register
// the full set for a statement.Set.
func New() *FakeSession {
	return &FakeSession{
		Messages:       make(map[string][]Row),
		DeletedTo:      make(map[string]int64),
		UsedPartitions: make(map[string]map[int64]bool),
		handlers:       make(map[string]Handler),
		Faults:         make(map[string]error),
		Prepared:       make(map[string]bool),
		Profiles:       make(map[string]string),
	}
}

// Register associates a CQL statement with the handler that simulates it.
func (f *FakeSession) Register(stmt string, h Handler) {
	f.handlers[stmt] = h
}

// InjectFault arms a one-shot error for the next execution of stmt.
func (f *FakeSession) InjectFault(stmt string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Faults[stmt] = err
}

func (f *FakeSession) takeFault(stmt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.Faults[stmt]; ok {
		delete(f.Faults, stmt)
		return err
	}
	return nil
}

func (f *FakeSession) Query(stmt string) cqlsession.Query {
	return &fakeQuery{f: f, stmt: stmt}
}

func (f *FakeSession) NewBatch(unlogged bool) cqlsession.Batch {
	return &fakeBatch{f: f}
}

func (f *FakeSession) ExecuteBatch(b cqlsession.Batch) error {
	fb, ok := b.(*fakeBatch)
	if !ok {
		return errWrongBatch
	}
	for _, q := range fb.queries {
		if err := f.takeFault(q.stmt); err != nil {
			return err
		}
		h, ok := f.handlers[q.stmt]
		if !ok {
			return unknownStatement(q.stmt)
		}
		if _, err := h(f, q.args); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeSession) Prepare(ctx context.Context, cql string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prepared[cql] = true
	return nil
}

func (f *FakeSession) Close() {}

type fakeQuery struct {
	f       *FakeSession
	stmt    string
	args    []interface{}
	pageSz  int
	pageSt  []byte
	profile string
}

func (q *fakeQuery) Bind(values ...interface{}) cqlsession.Query {
	q.args = values
	return q
}
func (q *fakeQuery) WithContext(context.Context) cqlsession.Query { return q }
func (q *fakeQuery) Consistency(gocql.Consistency) cqlsession.Query { return q }
func (q *fakeQuery) PageSize(n int) cqlsession.Query                { q.pageSz = n; return q }
func (q *fakeQuery) PageState(s []byte) cqlsession.Query            { q.pageSt = s; return q }

// Profile records the execution profile name so tests can assert it was
// set, mirroring the real driver's passthrough rather than interpreting it.
func (q *fakeQuery) Profile(name string) cqlsession.Query {
	q.profile = name
	if name != "" {
		q.f.mu.Lock()
		q.f.Profiles[q.stmt] = name
		q.f.mu.Unlock()
	}
	return q
}

func (q *fakeQuery) Exec() error {
	if err := q.f.takeFault(q.stmt); err != nil {
		return err
	}
	h, ok := q.f.handlers[q.stmt]
	if !ok {
		return unknownStatement(q.stmt)
	}
	_, err := h(q.f, q.args)
	return err
}

func (q *fakeQuery) Iter() cqlsession.RowScanner {
	if err := q.f.takeFault(q.stmt); err != nil {
		return &fakeIter{err: err}
	}
	h, ok := q.f.handlers[q.stmt]
	if !ok {
		return &fakeIter{err: unknownStatement(q.stmt)}
	}
	rows, err := h(q.f, q.args)
	if err != nil {
		return &fakeIter{err: err}
	}
	return &fakeIter{rows: rows}
}

func (q *fakeQuery) MapScanCAS(dest map[string]interface{}) (bool, error) {
	if err := q.f.takeFault(q.stmt); err != nil {
		return false, err
	}
	h, ok := q.f.handlers[q.stmt]
	if !ok {
		return false, unknownStatement(q.stmt)
	}
	rows, err := h(q.f, q.args)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return true, nil
	}
	for k, v := range rows[0] {
		dest[k] = v
	}
	return true, nil
}

type fakeIter struct {
	rows []Row
	pos  int
	err  error
}

func (it *fakeIter) MapScan(m map[string]interface{}) bool {
	if it.err != nil || it.pos >= len(it.rows) {
		return false
	}
	for k, v := range it.rows[it.pos] {
		m[k] = v
	}
	it.pos++
	return true
}
func (it *fakeIter) PageState() []byte { return nil }
func (it *fakeIter) Close() error      { return it.err }

type boundStmt struct {
	stmt string
	args []interface{}
}

type fakeBatch struct {
	f       *FakeSession
	queries []boundStmt
	profile string
}

func (b *fakeBatch) Query(stmt string, args ...interface{}) {
	b.queries = append(b.queries, boundStmt{stmt: stmt, args: args})
	if b.profile != "" {
		b.f.mu.Lock()
		b.f.Profiles[stmt] = b.profile
		b.f.mu.Unlock()
	}
}
func (b *fakeBatch) Size() int { return len(b.queries) }

// Profile records the execution profile name against every statement
// already queued on the batch, mirroring fakeQuery.Profile; statements
// queued afterwards are recorded by Query, so the name covers the whole
// batch whichever order the caller uses.
func (b *fakeBatch) Profile(name string) cqlsession.Batch {
	b.profile = name
	if name != "" {
		b.f.mu.Lock()
		for _, q := range b.queries {
			b.f.Profiles[q.stmt] = name
		}
		b.f.mu.Unlock()
	}
	return b
}

// SortedPIDs returns the persistence ids with stored messages, for
// deterministic test assertions.
func (f *FakeSession) SortedPIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	pids := make([]string, 0, len(f.Messages))
	for pid := range f.Messages {
		pids = append(pids, pid)
	}
	sort.Strings(pids)
	return pids
}

type notFoundError struct{ stmt string }

func (e *notFoundError) Error() string { return "journaltest: no handler registered for: " + e.stmt }

func unknownStatement(stmt string) error { return &notFoundError{strings.TrimSpace(stmt)} }

type wrongBatchError struct{}

func (wrongBatchError) Error() string { return "journaltest: batch was not created by FakeSession" }

var errWrongBatch = wrongBatchError{}
