package docformer

import (
	"fmt"

	"github.com/x448/float16"
)

// Embedding is a learned lookup table mapping integer ids to dense rows.
//
// Rows normally live in a float64 tensor. Because a document model carries
// 32 separate geometry tables of Max2DPositionEmbeddings rows each, the
// table can optionally be compressed to IEEE 754 half precision after
// construction (or after training): lookups then decode on the fly. Half
// precision costs ~3 decimal digits, which is well inside what these
// embeddings need, and quarters the resident size versus float64.
type Embedding struct {
	numEmbeddings int
	dim           int
	padIdx        int // -1 when no padding row

	weight *Tensor             // nil once compressed
	half   []float16.Float16   // non-nil once compressed, same row-major layout
}

// NewEmbedding creates an embedding table with scaled-normal init.
// padIdx < 0 means no padding row; otherwise that row is zeroed and stays
// zero, the convention for pad tokens.
func NewEmbedding(numEmbeddings, dim, padIdx int) *Embedding {
	if padIdx >= numEmbeddings {
		panic(fmt.Sprintf("embedding: pad index %d outside table of %d rows", padIdx, numEmbeddings))
	}

	w := NewTensorRand(numEmbeddings, dim)
	if padIdx >= 0 {
		for j := 0; j < dim; j++ {
			w.Set(0, padIdx, j)
		}
	}

	return &Embedding{
		numEmbeddings: numEmbeddings,
		dim:           dim,
		padIdx:        padIdx,
		weight:        w,
	}
}

// Dim returns the embedding dimension.
func (e *Embedding) Dim() int { return e.dim }

// Rows returns the number of rows in the table.
func (e *Embedding) Rows() int { return e.numEmbeddings }

// Compressed reports whether the table is stored in half precision.
func (e *Embedding) Compressed() bool { return e.half != nil }

// Compress converts the table to half-precision storage in place, dropping
// the float64 copy. Idempotent.
func (e *Embedding) Compress() {
	if e.half != nil {
		return
	}
	e.half = make([]float16.Float16, len(e.weight.data))
	for i, v := range e.weight.data {
		e.half[i] = float16.Fromfloat32(float32(v))
	}
	e.weight = nil
}

// rowInto writes row idx of the table into dst, decoding from half precision
// when the table is compressed. Panics when idx is outside the table, which
// is how an out-of-range geometric bucket or token id surfaces.
func (e *Embedding) rowInto(dst []float64, idx int) {
	if idx < 0 || idx >= e.numEmbeddings {
		panic(fmt.Sprintf("embedding: index %d out of range [0,%d)", idx, e.numEmbeddings))
	}

	if e.half != nil {
		row := e.half[idx*e.dim : (idx+1)*e.dim]
		for j, h := range row {
			dst[j] = float64(h.Float32())
		}
		return
	}
	copy(dst, e.weight.data[idx*e.dim:(idx+1)*e.dim])
}

// Forward looks up a (batch, seq) grid of ids, returning (batch, seq, dim).
func (e *Embedding) Forward(ids [][]int) *Tensor {
	batch := len(ids)
	if batch == 0 {
		panic("embedding: empty batch")
	}
	seqLen := len(ids[0])

	out := NewTensor(batch, seqLen, e.dim)
	for b, row := range ids {
		if len(row) != seqLen {
			panic(fmt.Sprintf("embedding: ragged batch, row 0 has %d ids, row %d has %d", seqLen, b, len(row)))
		}
		for s, id := range row {
			offset := (b*seqLen + s) * e.dim
			e.rowInto(out.data[offset:offset+e.dim], id)
		}
	}

	return out
}
