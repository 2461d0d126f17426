package docformer

import (
	"fmt"
	"math"
	"math/rand"
)

// ===========================================================================
// SHARED NEURAL NETWORK LAYERS
// ===========================================================================
//
// The building blocks every model surface uses: linear projections, layer
// normalization, dropout and the fixed sinusoidal positional encoding. All
// layers are constructed once at model-build time and hold their parameters
// for the model lifetime; Forward methods never mutate layer state, so a
// constructed layer is safe for concurrent forward calls.

// Linear is a learned affine map y = x @ W + b applied position-wise.
// It accepts 2D input (rows, in) or 3D input (batch, seq, in); 3D input is
// flattened to (batch*seq, in) for the matmul and reshaped back.
type Linear struct {
	in, out int
	w       *Tensor // (in, out)
	b       *Tensor // (out)
	dev     *Device
}

// NewLinear creates a linear layer with Xavier-uniform weights and zero bias.
func NewLinear(in, out int, dev *Device) *Linear {
	return &Linear{
		in:  in,
		out: out,
		w:   NewTensorXavier(in, out, in, out),
		b:   NewTensor(out),
		dev: dev,
	}
}

// Forward applies the affine map. Panics if the trailing dimension of x does
// not equal the layer's input size.
func (l *Linear) Forward(x *Tensor) *Tensor {
	shape := x.Shape()
	last := shape[len(shape)-1]
	if last != l.in {
		panic(fmt.Sprintf("linear: input features %d, layer expects %d", last, l.in))
	}

	rows := x.Size() / l.in
	flat := x.Reshape(rows, l.in)
	out := l.dev.MatMul(flat, l.w)

	// Broadcast bias across rows
	for r := 0; r < rows; r++ {
		row := out.data[r*l.out : (r+1)*l.out]
		for j := range row {
			row[j] += l.b.data[j]
		}
	}

	outShape := append(shape[:len(shape)-1], l.out)
	return out.Reshape(outShape...)
}

// LayerNorm normalizes activations across the feature axis for each position
// independently: y = gamma * (x - mean) / sqrt(var + eps) + beta.
type LayerNorm struct {
	dim   int
	eps   float64
	gamma *Tensor // Scale parameter, init 1
	beta  *Tensor // Shift parameter, init 0
}

// NewLayerNorm creates a layer normalization layer over the trailing
// dimension of size dim.
func NewLayerNorm(dim int, eps float64) *LayerNorm {
	gamma := NewTensor(dim)
	for i := range gamma.data {
		gamma.data[i] = 1.0
	}

	return &LayerNorm{
		dim:   dim,
		eps:   eps,
		gamma: gamma,
		beta:  NewTensor(dim),
	}
}

// Forward normalizes the trailing axis of x. Accepts any rank whose last
// dimension equals the layer dim.
func (ln *LayerNorm) Forward(x *Tensor) *Tensor {
	shape := x.Shape()
	if shape[len(shape)-1] != ln.dim {
		panic(fmt.Sprintf("layernorm: features %d, layer expects %d", shape[len(shape)-1], ln.dim))
	}

	rows := x.Size() / ln.dim
	out := NewTensor(shape...)

	for r := 0; r < rows; r++ {
		in := x.data[r*ln.dim : (r+1)*ln.dim]
		o := out.data[r*ln.dim : (r+1)*ln.dim]

		mean := 0.0
		for _, v := range in {
			mean += v
		}
		mean /= float64(ln.dim)

		variance := 0.0
		for _, v := range in {
			diff := v - mean
			variance += diff * diff
		}
		variance /= float64(ln.dim)

		invStd := 1.0 / math.Sqrt(variance+ln.eps)
		for j, v := range in {
			o[j] = (v-mean)*invStd*ln.gamma.data[j] + ln.beta.data[j]
		}
	}

	return out
}

// Dropout zeroes elements with probability p during training and rescales the
// survivors by 1/(1-p) (inverted dropout), so evaluation needs no scaling.
// In evaluation mode it is the identity, which is what makes eval-mode
// forward passes bit-reproducible.
type Dropout struct {
	p float64
}

// NewDropout creates a dropout layer with drop probability p.
func NewDropout(p float64) *Dropout {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("dropout: probability must be in [0,1), got %g", p))
	}
	return &Dropout{p: p}
}

// Forward applies dropout when training is true, otherwise returns x
// unchanged (same tensor, no copy).
func (d *Dropout) Forward(x *Tensor, training bool) *Tensor {
	if !training || d.p == 0 {
		return x
	}

	out := NewTensor(x.shape...)
	keep := 1.0 - d.p
	scale := 1.0 / keep
	for i, v := range x.data {
		if rand.Float64() < keep {
			out.data[i] = v * scale
		}
	}
	return out
}

// PositionalEncoding is the fixed sinusoidal encoding from "Attention Is All
// You Need": even feature indices carry sin(pos/10000^(2i/d)), odd indices
// the matching cosine. The table is a buffer, not a learned parameter; only
// the dropout applied on top is stochastic.
type PositionalEncoding struct {
	pe      *Tensor // (maxLen, dim), precomputed once
	maxLen  int
	dim     int
	dropout *Dropout
}

// NewPositionalEncoding precomputes the sinusoidal table for maxLen positions.
func NewPositionalEncoding(dim, maxLen int, dropoutProb float64) *PositionalEncoding {
	pe := NewTensor(maxLen, dim)
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dim; i += 2 {
			angle := float64(pos) * math.Exp(-math.Log(10000.0)*float64(i)/float64(dim))
			pe.Set(math.Sin(angle), pos, i)
			if i+1 < dim {
				pe.Set(math.Cos(angle), pos, i+1)
			}
		}
	}

	return &PositionalEncoding{
		pe:      pe,
		maxLen:  maxLen,
		dim:     dim,
		dropout: NewDropout(dropoutProb),
	}
}

// Forward returns the encoding for the first seqLen positions as a
// (seqLen, dim) tensor, with dropout applied in training mode. Panics when
// seqLen exceeds the precomputed table, mirroring the model-wide rule that
// sequences longer than MaxPositionEmbeddings are rejected at call time.
func (p *PositionalEncoding) Forward(seqLen int, training bool) *Tensor {
	if seqLen > p.maxLen {
		panic(fmt.Sprintf("positional encoding: sequence length %d exceeds maximum %d", seqLen, p.maxLen))
	}

	out := NewTensor(seqLen, p.dim)
	copy(out.data, p.pe.data[:seqLen*p.dim])
	return p.dropout.Forward(out, training)
}
