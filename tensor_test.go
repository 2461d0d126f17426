package docformer

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestMatMulAgainstGonum(t *testing.T) {
	a := NewTensorRand(13, 7)
	b := NewTensorRand(7, 11)

	got := MatMul(a, b)

	ga := mat.NewDense(13, 7, append([]float64(nil), a.data...))
	gb := mat.NewDense(7, 11, append([]float64(nil), b.data...))
	var want mat.Dense
	want.Mul(ga, gb)

	for i := 0; i < 13; i++ {
		for j := 0; j < 11; j++ {
			if diff := math.Abs(got.At(i, j) - want.At(i, j)); diff > 1e-12 {
				t.Fatalf("matmul[%d,%d] = %g, gonum reference %g", i, j, got.At(i, j), want.At(i, j))
			}
		}
	}
}

func TestDeviceMatMulMatchesSingleThreaded(t *testing.T) {
	a := NewTensorRand(96, 64)
	b := NewTensorRand(64, 96)

	parallel := CPU().MatMul(a, b)
	serial := MatMul(a, b)

	for i := range serial.data {
		if parallel.data[i] != serial.data[i] {
			t.Fatalf("parallel and serial matmul diverge at element %d: %g vs %g",
				i, parallel.data[i], serial.data[i])
		}
	}
}

func TestSoftmaxLastDimRowsSumToOne(t *testing.T) {
	x := NewTensorRand(3, 2, 4, 5)
	out := SoftmaxLastDim(x)

	features := 5
	rows := out.Size() / features
	for r := 0; r < rows; r++ {
		sum := 0.0
		for f := 0; f < features; f++ {
			sum += out.data[r*features+f]
		}
		if math.Abs(sum-1.0) > 1e-12 {
			t.Fatalf("softmax row %d sums to %g", r, sum)
		}
	}
}

func TestSoftmaxShiftInvariance(t *testing.T) {
	x := NewTensorRand(4, 6)
	shifted := NewTensor(4, 6)
	for i, v := range x.data {
		shifted.data[i] = v + 3.7
	}

	a := SoftmaxLastDim(x)
	b := SoftmaxLastDim(shifted)
	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > 1e-12 {
			t.Fatalf("softmax not shift invariant at element %d: %g vs %g", i, a.data[i], b.data[i])
		}
	}
}

func TestReshapeSharesData(t *testing.T) {
	x := NewTensor(2, 6)
	v := x.Reshape(3, 4)
	v.Set(1.5, 2, 3)
	if x.At(1, 5) != 1.5 {
		t.Fatal("Reshape should return a view over the same data")
	}
}

func TestXavierInitWithinLimit(t *testing.T) {
	fanIn, fanOut := 30, 50
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))

	w := NewTensorXavier(fanIn, fanOut, fanIn, fanOut)
	for i, v := range w.data {
		if v < -limit || v > limit {
			t.Fatalf("element %d = %g outside Xavier limit ±%g", i, v, limit)
		}
	}
}

func TestTensorIndexPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-bounds index")
		}
	}()
	NewTensor(2, 2).At(2, 0)
}
