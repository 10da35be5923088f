package journaltest

import (
	"sort"

	"github.com/osakka/cassandra-journal/internal/statement"
)

// Wire registers handlers against stmts that simulate a Cassandra messages
// table keyed by (persistence_id, partition_nr, sequence_nr) and a metadata
// table keyed by persistence_id, close enough to real driver behavior for
// the journal's write/delete/probe/replay paths to be tested without a
// cluster.
func Wire(f *FakeSession, stmts statement.Set) {
	f.Register(stmts.InsertMessage, insertHandler(true))
	f.Register(stmts.InsertMessageNoMeta, insertHandler(false))
	f.Register(stmts.SelectMessages, selectMessagesHandler)
	f.Register(stmts.SelectHighestSeq, selectHighestSeqHandler)
	f.Register(stmts.SelectHighestSeqLegacy, selectHighestSeqLegacyHandler)
	f.Register(stmts.SelectDeletedTo, selectDeletedToHandler)
	f.Register(stmts.UpsertDeletedTo, upsertDeletedToHandler)
	f.Register(stmts.DeleteMessagesRange, deleteMessagesRangeHandler)
	f.Register(stmts.DeleteMessageByRow, deleteMessageByRowHandler)
}

func insertHandler(hasMeta bool) Handler {
	return func(f *FakeSession, args []interface{}) ([]Row, error) {
		pid := args[0].(string)
		row := Row{
			"persistence_id": pid,
			"partition_nr":   args[1],
			"sequence_nr":    args[2],
			"timestamp":      args[3],
			"timebucket":     args[4],
			"writer_uuid":    args[5],
			"event":          args[6],
			"ser_id":         args[7],
			"ser_manifest":   args[8],
			"event_manifest": args[9],
			"tags":           args[10],
		}
		if hasMeta {
			row["meta"] = args[11]
			row["meta_ser_id"] = args[12]
			row["meta_ser_manifest"] = args[13]
		}

		f.mu.Lock()
		f.Messages[pid] = append(f.Messages[pid], row)
		sort.Slice(f.Messages[pid], func(i, j int) bool {
			return f.Messages[pid][i]["sequence_nr"].(int64) < f.Messages[pid][j]["sequence_nr"].(int64)
		})
		if f.UsedPartitions[pid] == nil {
			f.UsedPartitions[pid] = make(map[int64]bool)
		}
		f.UsedPartitions[pid][args[1].(int64)] = true
		f.mu.Unlock()

		return nil, nil
	}
}

func selectMessagesHandler(f *FakeSession, args []interface{}) ([]Row, error) {
	pid := args[0].(string)
	partitionNr := args[1].(int64)
	lo := args[2].(int64)
	hi := args[3].(int64)

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Row
	for _, row := range f.Messages[pid] {
		if row["partition_nr"].(int64) != partitionNr {
			continue
		}
		seq := row["sequence_nr"].(int64)
		if seq >= lo && seq <= hi {
			out = append(out, row)
		}
	}
	return out, nil
}

func selectHighestSeqHandler(f *FakeSession, args []interface{}) ([]Row, error) {
	pid := args[0].(string)
	partitionNr := args[1].(int64)

	f.mu.Lock()
	defer f.mu.Unlock()

	var max int64
	found := false
	for _, row := range f.Messages[pid] {
		if row["partition_nr"].(int64) != partitionNr {
			continue
		}
		seq := row["sequence_nr"].(int64)
		if !found || seq > max {
			max = seq
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return []Row{{"sequence_nr": max}}, nil
}

func selectHighestSeqLegacyHandler(f *FakeSession, args []interface{}) ([]Row, error) {
	pid := args[0].(string)
	partitionNr := args[1].(int64)

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.UsedPartitions[pid][partitionNr] {
		return nil, nil
	}
	return []Row{{"used": true}}, nil
}

func selectDeletedToHandler(f *FakeSession, args []interface{}) ([]Row, error) {
	pid := args[0].(string)

	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.DeletedTo[pid]
	if !ok {
		return nil, nil
	}
	return []Row{{"deleted_to": v}}, nil
}

func upsertDeletedToHandler(f *FakeSession, args []interface{}) ([]Row, error) {
	pid := args[0].(string)
	toSeq := args[1].(int64)

	f.mu.Lock()
	f.DeletedTo[pid] = toSeq
	f.mu.Unlock()

	return nil, nil
}

func deleteMessagesRangeHandler(f *FakeSession, args []interface{}) ([]Row, error) {
	pid := args[0].(string)
	partitionNr := args[1].(int64)
	toSeq := args[2].(int64)

	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.Messages[pid][:0]
	for _, row := range f.Messages[pid] {
		if row["partition_nr"].(int64) == partitionNr && row["sequence_nr"].(int64) <= toSeq {
			continue
		}
		kept = append(kept, row)
	}
	f.Messages[pid] = kept
	return nil, nil
}

func deleteMessageByRowHandler(f *FakeSession, args []interface{}) ([]Row, error) {
	pid := args[0].(string)
	partitionNr := args[1].(int64)
	seq := args[2].(int64)

	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.Messages[pid][:0]
	for _, row := range f.Messages[pid] {
		if row["partition_nr"].(int64) == partitionNr && row["sequence_nr"].(int64) == seq {
			continue
		}
		kept = append(kept, row)
	}
	f.Messages[pid] = kept
	return nil, nil
}
