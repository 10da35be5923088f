package tagwrite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osakka/cassandra-journal/internal/serialize"
)

func row(seq int64, tags ...string) TaggedRow {
	return TaggedRow{PersistenceID: "A", SequenceNr: seq, Row: serialize.Row{Tags: tags}}
}

func TestExtractSingleEventFastPath(t *testing.T) {
	msg := Extract([]TaggedRow{row(1, "red")})

	require.Len(t, msg.PerTagWrites, 1)
	require.Equal(t, "red", msg.PerTagWrites[0].Tag)
	require.Empty(t, msg.UntaggedEvents)
}

func TestExtractSingleUntaggedEventFastPath(t *testing.T) {
	msg := Extract([]TaggedRow{row(1)})

	require.Empty(t, msg.PerTagWrites)
	require.Len(t, msg.UntaggedEvents, 1)
}

func TestExtractGroupsByTagPreservingOrder(t *testing.T) {
	rows := []TaggedRow{
		row(1, "red"),
		row(2, "red"),
		row(3, "red"),
		row(4, "red"),
		row(5, "red"),
		row(6, "red", "blue"),
		row(7, "red", "blue"),
	}

	msg := Extract(rows)
	require.Len(t, msg.PerTagWrites, 2)

	var red, blue PerTagWrite
	for _, w := range msg.PerTagWrites {
		switch w.Tag {
		case "red":
			red = w
		case "blue":
			blue = w
		}
	}

	require.Len(t, red.Events, 7)
	require.Len(t, blue.Events, 2)
	require.Equal(t, int64(6), blue.Events[0].SequenceNr)
	require.Equal(t, int64(7), blue.Events[1].SequenceNr)
}

func TestExtractCollectsUntaggedSeparately(t *testing.T) {
	rows := []TaggedRow{row(1, "red"), row(2), row(3)}

	msg := Extract(rows)
	require.Len(t, msg.UntaggedEvents, 2)
	require.Len(t, msg.PerTagWrites, 1)
}

func TestChannelDispatcherPreservesOrder(t *testing.T) {
	d := NewChannelDispatcher(4)

	d.Dispatch(BulkTagWrite{UntaggedEvents: []TaggedRow{row(1)}})
	d.Dispatch(BulkTagWrite{UntaggedEvents: []TaggedRow{row(2)}})

	first := <-d.Messages()
	second := <-d.Messages()

	require.Equal(t, int64(1), first.UntaggedEvents[0].SequenceNr)
	require.Equal(t, int64(2), second.UntaggedEvents[0].SequenceNr)
}
