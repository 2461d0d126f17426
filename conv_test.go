package docformer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConv2DOutputShape(t *testing.T) {
	conv := NewConv2D(3, 5, 3, 1)
	out := conv.Forward(NewTensorRand(2, 3, 8, 8))
	require.Equal(t, []int{2, 5, 6, 6}, out.Shape())
}

func TestConv2DStride(t *testing.T) {
	conv := NewConv2D(1, 1, 3, 2)
	out := conv.Forward(NewTensorRand(1, 1, 9, 9))
	require.Equal(t, []int{1, 1, 4, 4}, out.Shape())
}

// A 1x1 identity kernel with zero bias must reproduce its input.
func TestConv2DIdentityKernel(t *testing.T) {
	conv := NewConv2D(1, 1, 1, 1)
	conv.w.data[0] = 1
	conv.b.data[0] = 0

	x := NewTensorRand(1, 1, 4, 4)
	out := conv.Forward(x)
	for i := range x.data {
		require.Equal(t, x.data[i], out.data[i])
	}
}

func TestConv2DRejectsBadInput(t *testing.T) {
	conv := NewConv2D(3, 3, 3, 1)
	require.Panics(t, func() { conv.Forward(NewTensorRand(1, 2, 8, 8)) })
	require.Panics(t, func() { conv.Forward(NewTensorRand(1, 3, 2, 2)) })
	require.Panics(t, func() { NewConv2D(1, 1, 0, 1) })
}

func TestBatchNorm2DNormalizesPerChannel(t *testing.T) {
	bn := NewBatchNorm2D(2, 1e-5)
	x := NewTensorRand(3, 2, 4, 4)
	out := bn.Forward(x)

	for c := 0; c < 2; c++ {
		mean, count := 0.0, 0
		for b := 0; b < 3; b++ {
			for y := 0; y < 4; y++ {
				for xx := 0; xx < 4; xx++ {
					mean += out.At(b, c, y, xx)
					count++
				}
			}
		}
		mean /= float64(count)
		if math.Abs(mean) > 1e-9 {
			t.Fatalf("channel %d mean %g after normalization, want ~0", c, mean)
		}
	}
}

func TestShallowDecoderOutputSize(t *testing.T) {
	dec := NewShallowDecoder(16, SingleThreaded())

	// The canonical 512-position sequence lands on the 224-pixel target.
	require.Equal(t, 224, dec.OutputSize(512))

	// Short sequences collapse inside the ladder.
	require.Panics(t, func() { dec.OutputSize(8) })
}

func TestShallowDecoderRejectsNon3DInput(t *testing.T) {
	dec := NewShallowDecoder(16, SingleThreaded())
	require.Panics(t, func() { dec.Forward(NewTensorRand(2, 16)) })
}
