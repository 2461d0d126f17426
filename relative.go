package docformer

import "fmt"

// RelativePosition produces learned embeddings for clipped 1D relative
// distances between query and key positions (Shaw et al., "Self-Attention
// with Relative Position Representations").
//
// The index table entry [q][k] = clip(k-q, -max, +max) + max is precomputed
// once for the maximum sequence length, so a lookup is a pure slice of the
// learned (2*max+1, numUnits) parameter table. All distances at or beyond
// the clip bound collapse onto the two boundary rows, which is what lets a
// small table generalize across sequence lengths.
type RelativePosition struct {
	numUnits    int
	maxRelative int
	maxLength   int

	embeddings *Tensor // (2*maxRelative+1, numUnits), learned
	indexTable [][]int // (maxLength, maxLength), fixed at construction
}

// NewRelativePosition precomputes the index table for sequences up to
// maxSeqLength and allocates the embedding table with Xavier-uniform init.
func NewRelativePosition(numUnits, maxRelativePosition, maxSeqLength int) *RelativePosition {
	if numUnits <= 0 || maxRelativePosition <= 0 || maxSeqLength <= 0 {
		panic(fmt.Sprintf("relative position: invalid sizes units=%d max=%d len=%d",
			numUnits, maxRelativePosition, maxSeqLength))
	}

	rows := 2*maxRelativePosition + 1
	table := make([][]int, maxSeqLength)
	for q := 0; q < maxSeqLength; q++ {
		table[q] = make([]int, maxSeqLength)
		for k := 0; k < maxSeqLength; k++ {
			dist := k - q
			if dist < -maxRelativePosition {
				dist = -maxRelativePosition
			} else if dist > maxRelativePosition {
				dist = maxRelativePosition
			}
			table[q][k] = dist + maxRelativePosition
		}
	}

	return &RelativePosition{
		numUnits:    numUnits,
		maxRelative: maxRelativePosition,
		maxLength:   maxSeqLength,
		embeddings:  NewTensorXavier(rows, numUnits, rows, numUnits),
		indexTable:  table,
	}
}

// Lookup returns the embeddings for the (lengthQ, lengthK) upper-left slice
// of the distance table as a (lengthQ, lengthK, numUnits) tensor. Panics when
// either length exceeds the precomputed maximum; distances past the table are
// simply not defined.
func (r *RelativePosition) Lookup(lengthQ, lengthK int) *Tensor {
	if lengthQ > r.maxLength || lengthK > r.maxLength {
		panic(fmt.Sprintf("relative position: lengths (%d,%d) exceed table bound %d",
			lengthQ, lengthK, r.maxLength))
	}

	out := NewTensor(lengthQ, lengthK, r.numUnits)
	for q := 0; q < lengthQ; q++ {
		for k := 0; k < lengthK; k++ {
			row := r.indexTable[q][k]
			offset := (q*lengthK + k) * r.numUnits
			copy(out.data[offset:offset+r.numUnits], r.embeddings.data[row*r.numUnits:(row+1)*r.numUnits])
		}
	}

	return out
}
