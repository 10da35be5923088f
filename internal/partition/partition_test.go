package partition

import "testing"

func TestOfAndMinSeqRoundTrip(t *testing.T) {
	s := Size(500)

	for seq := int64(1); seq < 2500; seq++ {
		nr := s.Of(seq)
		min, max := s.Span(nr)
		if seq < min || seq > max {
			t.Fatalf("seq %d mapped to partition %d with span [%d,%d]", seq, nr, min, max)
		}
	}
}

func TestMinSeqOfFirstPartitionIsOne(t *testing.T) {
	s := Size(500)
	if got := s.MinSeq(0); got != 1 {
		t.Fatalf("MinSeq(0) = %d, want 1", got)
	}
}

func TestSpansBoundary(t *testing.T) {
	s := Size(10)

	if s.SpansBoundary(1, 10) {
		t.Fatalf("batch [1,10] fits entirely in partition 0")
	}
	if !s.SpansBoundary(8, 5) {
		t.Fatalf("batch [8,12] crosses into partition 1")
	}
}

func TestSplit(t *testing.T) {
	s := Size(10)

	runs := s.Split(8, 5)
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d: %+v", len(runs), runs)
	}
	if runs[0].Partition != 0 || runs[0].FromSeq != 8 || runs[0].Count != 3 {
		t.Fatalf("unexpected first run: %+v", runs[0])
	}
	if runs[1].Partition != 1 || runs[1].FromSeq != 11 || runs[1].Count != 2 {
		t.Fatalf("unexpected second run: %+v", runs[1])
	}
}

func TestSplitWithinSinglePartition(t *testing.T) {
	s := Size(500)
	runs := s.Split(1, 500)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Count != 500 {
		t.Fatalf("expected count 500, got %d", runs[0].Count)
	}
}
