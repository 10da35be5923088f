package journal

import (
	"hash/fnv"
	"sort"
	"sync"
)

// pidLock is a sharded mutex keyed by PersistenceID, adapted from the
// teacher's ShardedLock: distributing the per-PID coordination state across
// a fixed number of shards keeps writes to unrelated PIDs from contending
// on one global mutex, while writes to the same PID still serialize.
type pidLock struct {
	shards []sync.Mutex
}

const numPIDLockShards = 64

func newPIDLock() *pidLock {
	return &pidLock{shards: make([]sync.Mutex, numPIDLockShards)}
}

func (l *pidLock) shardIndex(pid PersistenceID) int {
	h := fnv.New32a()
	h.Write([]byte(pid))
	return int(h.Sum32() % uint32(len(l.shards)))
}

// LockAll locks every distinct shard touched by pids, deduplicated and
// sorted ascending before acquiring any of them. A single write_atomic_batches
// call now holds locks for every PID named in its input batches (spec.md
// §4.4 step 4's whole-call batching), so two distinct PIDs hashing to the
// same shard would self-deadlock on a naive per-PID lock loop; sorting
// ascending here and unlocking in reverse also keeps two concurrent
// multi-PID calls from deadlocking on each other.
func (l *pidLock) LockAll(pids []PersistenceID) []int {
	idxs := l.shardIndexes(pids)
	for _, i := range idxs {
		l.shards[i].Lock()
	}
	return idxs
}

// UnlockAll releases the shards idxs (as returned by LockAll) in reverse
// acquisition order.
func (l *pidLock) UnlockAll(idxs []int) {
	for i := len(idxs) - 1; i >= 0; i-- {
		l.shards[idxs[i]].Unlock()
	}
}

func (l *pidLock) shardIndexes(pids []PersistenceID) []int {
	seen := make(map[int]bool, len(pids))
	idxs := make([]int, 0, len(pids))
	for _, pid := range pids {
		shard := l.shardIndex(pid)
		if !seen[shard] {
			seen[shard] = true
			idxs = append(idxs, shard)
		}
	}
	sort.Ints(idxs)
	return idxs
}

// writeFuture is the "write_in_progress" entry for one PID (spec.md §5): its
// presence in coordinator.inProgress signals an outstanding write, and done
// closes once that write settles (success or failure). This is a
// synchronization hint, not a lock — a probe that arrives before the store
// reflects the write's effects awaits done, compensating for the absence of
// session-level read-your-writes consistency.
type writeFuture struct {
	done chan struct{}
}

func newWriteFuture() *writeFuture {
	return &writeFuture{done: make(chan struct{})}
}

func (f *writeFuture) resolve() { close(f.done) }

// pendingDelete is one queued delete_to request for a PID, following the
// teacher's WriteOperation/Done-channel shape (single_writer_queue.go):
// the caller blocks on result while the coordinator serializes execution.
type pendingDelete struct {
	toSeq  int64
	result chan error
}

// coordinator owns the mutable per-PID state described in spec.md §5:
// write_in_progress and pending_deletes. Both maps are mutated only while
// holding mu, a single mutex shared by all PIDs; external callers never
// touch them directly.
type coordinator struct {
	lock *pidLock

	mu         sync.Mutex
	inProgress map[PersistenceID]*writeFuture
	deleteQ    map[PersistenceID][]*pendingDelete

	maxConcurrentDeletes int
}

func newCoordinator(maxConcurrentDeletes int) *coordinator {
	return &coordinator{
		lock:                 newPIDLock(),
		inProgress:           make(map[PersistenceID]*writeFuture),
		deleteQ:              make(map[PersistenceID][]*pendingDelete),
		maxConcurrentDeletes: maxConcurrentDeletes,
	}
}

// beginWrites installs a new write_in_progress future for every pid in pids
// and returns a finish func that resolves and removes all of them — the
// multi-PID analogue needed once a single write_atomic_batches call can
// touch more than one PID (spec.md §4.4 step 3, step 4's whole-call
// batching; §5's "per-entity write-in-progress").
func (c *coordinator) beginWrites(pids []PersistenceID) func() {
	c.mu.Lock()
	futures := make(map[PersistenceID]*writeFuture, len(pids))
	for _, pid := range pids {
		f := newWriteFuture()
		c.inProgress[pid] = f
		futures[pid] = f
	}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		for pid, f := range futures {
			if c.inProgress[pid] == f {
				delete(c.inProgress, pid)
			}
		}
		c.mu.Unlock()
		for _, f := range futures {
			f.resolve()
		}
	}
}

// awaitWrite blocks until any in-flight write for pid has settled. Called
// by highest_sequence_nr before it probes the store (spec.md §4.7 step 1).
func (c *coordinator) awaitWrite(pid PersistenceID) {
	c.mu.Lock()
	f, ok := c.inProgress[pid]
	c.mu.Unlock()
	if !ok {
		return
	}
	<-f.done
}

// enqueueDelete implements the per-PID delete queue admission rule
// (spec.md §4.5): if the PID's queue is empty, the request starts
// immediately (started=true); if the queue is already at
// max_concurrent_deletes, it is rejected with ErrBackpressure; otherwise it
// is appended and will start once the head completes.
func (c *coordinator) enqueueDelete(pid PersistenceID, toSeq int64) (pd *pendingDelete, started bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.deleteQ[pid]
	pd = &pendingDelete{toSeq: toSeq, result: make(chan error, 1)}

	if len(q) == 0 {
		c.deleteQ[pid] = []*pendingDelete{pd}
		return pd, true, nil
	}
	if c.maxConcurrentDeletes > 0 && len(q) >= c.maxConcurrentDeletes {
		return nil, false, ErrBackpressure
	}
	c.deleteQ[pid] = append(q, pd)
	return pd, false, nil
}

// settleDelete resolves the head of pid's queue with outcome, pops it, and
// reports the next request to run (if any). runDelete starts that request
// itself; settleDelete only does the bookkeeping.
func (c *coordinator) settleDelete(pid PersistenceID, outcome error) (next *pendingDelete, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.deleteQ[pid]
	if len(q) == 0 {
		return nil, false
	}
	head := q[0]
	head.result <- outcome

	q = q[1:]
	c.deleteQ[pid] = q
	if len(q) == 0 {
		delete(c.deleteQ, pid)
		return nil, false
	}
	return q[0], true
}
