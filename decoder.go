package docformer

import "fmt"

// ShallowDecoder reconstructs the document image from the fused hidden
// state for the image-reconstruction pretraining objective. A linear layer
// first squares up the hidden axis (hiddenSize -> 512) so the sequence can
// be treated as a one-channel image, then a stack of small valid-padding
// convolutions shrinks it down; with the standard 512-position sequence the
// output lands exactly on (batch, 3, 224, 224). Sigmoid squashes pixels
// into (0, 1).
//
// Every convolution owns a batch norm constructed once here; nothing is
// rebuilt per forward call.
type ShallowDecoder struct {
	linear1 *Linear
	bnIn    *BatchNorm2D

	convs []*Conv2D
	norms []*BatchNorm2D
}

// NewShallowDecoder builds the decoder for the given hidden size.
func NewShallowDecoder(hiddenSize int, dev *Device) *ShallowDecoder {
	const eps = 1e-5

	// Kernel/stride ladder: 512 -> 510 -> 508 -> 504 -> 250 -> 244 -> 238
	// -> 232 -> 226 -> 224 on both spatial axes.
	convs := []*Conv2D{
		NewConv2D(1, 3, 3, 1),
		NewConv2D(3, 3, 3, 1),
		NewConv2D(3, 3, 5, 1),
		NewConv2D(3, 3, 5, 2),
		NewConv2D(3, 3, 7, 1),
		NewConv2D(3, 3, 7, 1),
		NewConv2D(3, 3, 7, 1),
		NewConv2D(3, 3, 7, 1),
		NewConv2D(3, 3, 3, 1),
	}

	norms := make([]*BatchNorm2D, len(convs))
	for i := range norms {
		norms[i] = NewBatchNorm2D(3, eps)
	}

	return &ShallowDecoder{
		linear1: NewLinear(hiddenSize, 512, dev),
		bnIn:    NewBatchNorm2D(1, eps),
		convs:   convs,
		norms:   norms,
	}
}

// OutputSize returns the spatial output size for a given sequence length.
// Panics if the convolution stack would shrink the input below one pixel.
func (d *ShallowDecoder) OutputSize(seqLen int) int {
	size := seqLen
	for i, conv := range d.convs {
		size = conv.outSize(size)
		if size <= 0 {
			panic(fmt.Sprintf("decoder: sequence length %d collapses at conv %d", seqLen, i+1))
		}
	}
	return size
}

// Forward maps the fused hidden state (batch, seqLen, hiddenSize) to a
// reconstructed image (batch, 3, out, out).
func (d *ShallowDecoder) Forward(hidden *Tensor) *Tensor {
	if hidden.Dims() != 3 {
		panic(fmt.Sprintf("decoder: input must be (batch, seq, hidden), got %v", hidden.shape))
	}
	shape := hidden.Shape()
	batch, seqLen := shape[0], shape[1]
	d.OutputSize(seqLen) // fail fast before any conv work

	// (batch, seq, hidden) -> linear -> (batch, 1, seq, 512)
	x := d.linear1.Forward(hidden).Reshape(batch, 1, seqLen, 512)
	x = ReLU(d.bnIn.Forward(x))

	for i, conv := range d.convs {
		x = ReLU(d.norms[i].Forward(conv.Forward(x)))
	}

	return Sigmoid(x)
}
