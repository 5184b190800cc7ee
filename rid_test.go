package fastbit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRIDsRoundTrip(t *testing.T) {
	t.Parallel()
	rids := []RID{NewRID(), NewRID(), NewRID()}

	var buf bytes.Buffer
	require.NoError(t, WriteRIDs(&buf, rids))

	got, err := ReadRIDs(&buf, len(rids))
	require.NoError(t, err)
	require.Equal(t, rids, got)
}

func TestReadRIDsShortReadErrors(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteRIDs(&buf, []RID{NewRID()}))

	_, err := ReadRIDs(&buf, 2)
	require.Error(t, err)
}

func TestNewRIDsAreDistinct(t *testing.T) {
	t.Parallel()
	a, b := NewRID(), NewRID()
	require.NotEqual(t, a, b)
}
