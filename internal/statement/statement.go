// Package statement builds the parameter-bound CQL statements the write,
// delete, and probe paths execute (C3). Grounded on the cadence reference's
// templated-query constants and the gocql Bind/Exec idiom, generalized per
// spec.md §4.3: two shapes per write operation (with/without meta columns),
// chosen per row, with write_profile/read_profile attached by the caller.
package statement

import "fmt"

// Set holds the prepared statement text for one (messages table, metadata
// table) pair; the keyspace comes from the session. Building it is pure string formatting; no
// session I/O happens here — C9 hands the resulting strings to
// cqlsession.Session.Prepare at startup and Session.Query at request time.
type Set struct {
	MessagesTable string
	MetadataTable string

	InsertMessage      string
	InsertMessageNoMeta string

	SelectMessages       string
	SelectHighestSeq     string
	SelectHighestSeqLegacy string

	SelectDeletedTo string
	UpsertDeletedTo string

	DeleteMessagesRange string
	DeleteMessageByRow  string
}

// Build renders every statement shape for a given messages/metadata table
// pair. Table names are caller-controlled identifiers, never end-user
// input, so they are formatted directly into the CQL text the way the
// cadence reference formats its keyspace-qualified table names.
func Build(messagesTable, metadataTable string) Set {
	return Set{
		MessagesTable: messagesTable,
		MetadataTable: metadataTable,

		InsertMessage: fmt.Sprintf(
			`INSERT INTO %s (persistence_id, partition_nr, sequence_nr, timestamp, timebucket, writer_uuid, `+
				`event, ser_id, ser_manifest, event_manifest, tags, meta, meta_ser_id, meta_ser_manifest) `+
				`VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, messagesTable),

		InsertMessageNoMeta: fmt.Sprintf(
			`INSERT INTO %s (persistence_id, partition_nr, sequence_nr, timestamp, timebucket, writer_uuid, `+
				`event, ser_id, ser_manifest, event_manifest, tags) `+
				`VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, messagesTable),

		SelectMessages: fmt.Sprintf(
			`SELECT persistence_id, partition_nr, sequence_nr, timestamp, timebucket, writer_uuid, event, `+
				`ser_id, ser_manifest, event_manifest, tags, meta, meta_ser_id, meta_ser_manifest `+
				`FROM %s WHERE persistence_id = ? AND partition_nr = ? AND sequence_nr >= ? AND sequence_nr <= ?`,
			messagesTable),

		SelectHighestSeq: fmt.Sprintf(
			`SELECT sequence_nr FROM %s WHERE persistence_id = ? AND partition_nr = ? ORDER BY sequence_nr DESC LIMIT 1`,
			messagesTable),

		// Legacy shape used only under cassandra_2x_compat: older schemas kept
		// a static per-partition marker column instead of relying on a
		// clustering-order scan (spec.md §9, second open question).
		SelectHighestSeqLegacy: fmt.Sprintf(
			`SELECT used FROM %s WHERE persistence_id = ? AND partition_nr = ?`, messagesTable),

		SelectDeletedTo: fmt.Sprintf(
			`SELECT deleted_to FROM %s WHERE persistence_id = ?`, metadataTable),

		UpsertDeletedTo: fmt.Sprintf(
			`INSERT INTO %s (persistence_id, deleted_to) VALUES (?, ?)`, metadataTable),

		DeleteMessagesRange: fmt.Sprintf(
			`DELETE FROM %s WHERE persistence_id = ? AND partition_nr = ? AND sequence_nr <= ?`, messagesTable),

		DeleteMessageByRow: fmt.Sprintf(
			`DELETE FROM %s WHERE persistence_id = ? AND partition_nr = ? AND sequence_nr = ?`, messagesTable),
	}
}

// All returns every statement text in Set, for C9's startup prewarming loop
// (spec.md §4.9): each is handed to Session.Prepare once before the journal
// accepts requests.
func (s Set) All(supportDeletes, compat2x bool) []string {
	stmts := []string{
		s.InsertMessage,
		s.InsertMessageNoMeta,
		s.SelectMessages,
		s.SelectHighestSeq,
		s.SelectDeletedTo,
	}
	if supportDeletes {
		stmts = append(stmts, s.UpsertDeletedTo, s.DeleteMessagesRange, s.DeleteMessageByRow)
	}
	if compat2x {
		stmts = append(stmts, s.SelectHighestSeqLegacy)
	}
	return stmts
}

// InsertFor picks the meta/no-meta shape for a row based on whether it
// carries metadata (spec.md §4.3).
func InsertFor(s Set, hasMeta bool) string {
	if hasMeta {
		return s.InsertMessage
	}
	return s.InsertMessageNoMeta
}
