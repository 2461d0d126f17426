package docformer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddingLookupShape(t *testing.T) {
	emb := NewEmbedding(10, 4, -1)
	out := emb.Forward([][]int{{1, 2, 3}, {4, 5, 6}})
	require.Equal(t, []int{2, 3, 4}, out.Shape())
}

func TestEmbeddingPadRowIsZero(t *testing.T) {
	emb := NewEmbedding(10, 4, 0)
	out := emb.Forward([][]int{{0, 1}})
	for j := 0; j < 4; j++ {
		require.Equal(t, 0.0, out.At(0, 0, j))
	}
	// The non-pad row should carry real weights.
	nonZero := false
	for j := 0; j < 4; j++ {
		if out.At(0, 1, j) != 0 {
			nonZero = true
		}
	}
	require.True(t, nonZero, "row 1 is all zeros, init looks broken")
}

func TestEmbeddingOutOfRangePanics(t *testing.T) {
	emb := NewEmbedding(10, 4, -1)
	require.Panics(t, func() { emb.Forward([][]int{{10}}) })
	require.Panics(t, func() { emb.Forward([][]int{{-1}}) })
}

func TestEmbeddingRaggedBatchPanics(t *testing.T) {
	emb := NewEmbedding(10, 4, -1)
	require.Panics(t, func() { emb.Forward([][]int{{1, 2}, {3}}) })
}

func TestEmbeddingRejectsPadOutsideTable(t *testing.T) {
	require.Panics(t, func() { NewEmbedding(10, 4, 10) })
}

func TestEmbeddingCompressRoundTrip(t *testing.T) {
	emb := NewEmbedding(16, 8, 2)
	before := emb.Forward([][]int{{0, 2, 7, 15}})

	require.False(t, emb.Compressed())
	emb.Compress()
	require.True(t, emb.Compressed())
	emb.Compress() // idempotent

	after := emb.Forward([][]int{{0, 2, 7, 15}})
	require.Equal(t, before.Shape(), after.Shape())
	for i := range before.data {
		if d := math.Abs(before.data[i] - after.data[i]); d > 1e-3 {
			t.Fatalf("element %d drifted by %g after half-precision round trip", i, d)
		}
	}
	// The pad row survives compression exactly: zero is representable.
	for j := 0; j < 8; j++ {
		require.Equal(t, 0.0, after.At(0, 1, j))
	}
}
