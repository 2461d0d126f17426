package docformer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRelativePositionLookupShape(t *testing.T) {
	rel := NewRelativePosition(16, 4, 32)

	out := rel.Lookup(8, 10)
	require.Equal(t, []int{8, 10, 16}, out.Shape())
}

func TestRelativePositionClipping(t *testing.T) {
	const (
		units  = 4
		maxRel = 3
		maxLen = 20
	)
	rel := NewRelativePosition(units, maxRel, maxLen)
	out := rel.Lookup(maxLen, maxLen)

	// All pairs with k-q >= maxRel share the far boundary row; all pairs
	// with k-q <= -maxRel share the near boundary row.
	farRow := make([]float64, units)
	nearRow := make([]float64, units)
	for d := 0; d < units; d++ {
		farRow[d] = out.At(0, maxRel, d)
		nearRow[d] = out.At(maxRel, 0, d)
	}

	for q := 0; q < maxLen; q++ {
		for k := 0; k < maxLen; k++ {
			dist := k - q
			switch {
			case dist >= maxRel:
				for d := 0; d < units; d++ {
					require.Equal(t, farRow[d], out.At(q, k, d),
						"pair (%d,%d) should map to the +%d boundary row", q, k, maxRel)
				}
			case dist <= -maxRel:
				for d := 0; d < units; d++ {
					require.Equal(t, nearRow[d], out.At(q, k, d),
						"pair (%d,%d) should map to the -%d boundary row", q, k, maxRel)
				}
			}
		}
	}
}

func TestRelativePositionDiagonalIsZeroDistanceRow(t *testing.T) {
	rel := NewRelativePosition(8, 5, 12)
	out := rel.Lookup(12, 12)

	// Every (q,q) pair reads the same center row.
	for q := 1; q < 12; q++ {
		for d := 0; d < 8; d++ {
			require.Equal(t, out.At(0, 0, d), out.At(q, q, d))
		}
	}
}

func TestRelativePositionOutOfBounds(t *testing.T) {
	rel := NewRelativePosition(8, 4, 16)

	require.Panics(t, func() { rel.Lookup(17, 16) })
	require.Panics(t, func() { rel.Lookup(16, 17) })
	require.NotPanics(t, func() { rel.Lookup(16, 16) })
}
