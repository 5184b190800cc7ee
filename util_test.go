package fastbit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeASCIIID(t *testing.T) {
	t.Parallel()
	require.Equal(t, "0", EncodeASCIIID(0))
	require.Equal(t, "Z", EncodeASCIIID(35))
	require.Equal(t, "10", EncodeASCIIID(64))
}

func TestPickCompactValuesDegenerate(t *testing.T) {
	t.Parallel()
	require.Equal(t, 5.0, PickCompactValues(5, 5, 0))
	require.Equal(t, 0.0, PickCompactValues(-1, 1, 0))
	require.Equal(t, 1.0, PickCompactValues(0.5, 2, 0))
}

func TestPickCompactValuesWithinRange(t *testing.T) {
	t.Parallel()
	got := PickCompactValues(12, 28, 0)
	require.Greater(t, got, 12.0)
	require.LessOrEqual(t, got, 28.0)
}
