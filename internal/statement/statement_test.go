package statement

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildProducesQualifiedTableNames(t *testing.T) {
	s := Build("messages", "metadata")

	require.Contains(t, s.InsertMessage, "messages")
	require.Contains(t, s.SelectDeletedTo, "metadata")
}

func TestInsertForChoosesShapeByMeta(t *testing.T) {
	s := Build("messages", "metadata")

	require.Equal(t, s.InsertMessage, InsertFor(s, true))
	require.Equal(t, s.InsertMessageNoMeta, InsertFor(s, false))
	require.False(t, strings.Contains(InsertFor(s, false), "meta_ser_id"))
}

func TestAllIncludesOptionalStatementsOnlyWhenEnabled(t *testing.T) {
	s := Build("messages", "metadata")

	base := s.All(false, false)
	require.NotContains(t, base, s.DeleteMessagesRange)
	require.NotContains(t, base, s.SelectHighestSeqLegacy)

	withDeletes := s.All(true, false)
	require.Contains(t, withDeletes, s.DeleteMessagesRange)
	require.Contains(t, withDeletes, s.UpsertDeletedTo)

	withCompat := s.All(true, true)
	require.Contains(t, withCompat, s.SelectHighestSeqLegacy)
}
