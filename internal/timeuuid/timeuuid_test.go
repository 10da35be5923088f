package timeuuid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMonotoneNonDecreasing(t *testing.T) {
	gen := Monotone()

	var last int64
	for i := 0; i < 200; i++ {
		id, err := gen()
		require.NoError(t, err)

		cur := id.Time().UnixNano()
		require.GreaterOrEqual(t, cur, last, "time_uuid component must be non-decreasing across a run")
		last = cur
	}
}

func TestMonotoneProducesValidUUIDs(t *testing.T) {
	gen := Monotone()
	id, err := gen()
	require.NoError(t, err)
	require.NotEqual(t, id.String(), "")
}
