package docformer

// ===========================================================================
// ENCODER STACK
// ===========================================================================
//
// Pre-norm transformer blocks (Xiong et al., "On Layer Normalization in the
// Transformer Architecture") around the multimodal attention. Two details
// distinguish this stack from a vanilla encoder:
//
//  1. The attention skip connection is the elementwise sum of all four RAW
//     inputs (text + image + text-spatial + image-spatial), not the usual
//     single-stream residual.
//  2. Only the text stream is threaded between layers: the fused block
//     output becomes the next layer's text input, while the image and both
//     spatial tensors remain the original embeddings at every depth.
//
// EncoderState makes the threading explicit. It is passed by value and only
// the Text field is ever replaced, so the static streams cannot be aliased
// or mutated by accident.

// EncoderState carries the four input streams through the stack.
// Invariant: between layers only Text changes; Image, TextSpatial and
// ImageSpatial keep their initial values for every layer.
type EncoderState struct {
	Text         *Tensor
	Image        *Tensor
	TextSpatial  *Tensor
	ImageSpatial *Tensor
}

// FeedForward is the position-wise two-layer MLP:
// linear -> GELU -> dropout -> linear -> dropout.
type FeedForward struct {
	fc1, fc2 *Linear
	drop1    *Dropout
	drop2    *Dropout
}

// NewFeedForward creates a feed-forward block dim -> hiddenDim -> dim.
func NewFeedForward(dim, hiddenDim int, dropout float64, dev *Device) *FeedForward {
	return &FeedForward{
		fc1:   NewLinear(dim, hiddenDim, dev),
		fc2:   NewLinear(hiddenDim, dim, dev),
		drop1: NewDropout(dropout),
		drop2: NewDropout(dropout),
	}
}

// Forward applies the MLP to (batch, seq, dim).
func (ff *FeedForward) Forward(x *Tensor, training bool) *Tensor {
	h := ff.drop1.Forward(GELU(ff.fc1.Forward(x)), training)
	return ff.drop2.Forward(ff.fc2.Forward(h), training)
}

// encoderBlock is one attention + feed-forward unit. All four pre-attention
// layer norms and the feed-forward norm are distinct learned parameters,
// constructed once here and reused every forward call.
type encoderBlock struct {
	normText        *LayerNorm
	normImage       *LayerNorm
	normTextSpatial *LayerNorm
	normImgSpatial  *LayerNorm
	attn            *MultiModalAttention

	normFF *LayerNorm
	ff     *FeedForward
}

func newEncoderBlock(cfg Config, dev *Device) *encoderBlock {
	return &encoderBlock{
		normText:        NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEps),
		normImage:       NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEps),
		normTextSpatial: NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEps),
		normImgSpatial:  NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEps),
		attn: NewMultiModalAttention(
			cfg.HiddenSize,
			cfg.NumAttentionHeads,
			cfg.MaxRelativePositions,
			cfg.MaxPositionEmbeddings,
			cfg.HiddenDropoutProb,
			dev,
		),
		normFF: NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEps),
		ff: NewFeedForward(
			cfg.HiddenSize,
			cfg.HiddenSize*cfg.IntermediateFFSizeFactor,
			cfg.HiddenDropoutProb,
			dev,
		),
	}
}

// forward applies one block and returns the fused output.
func (blk *encoderBlock) forward(st EncoderState, training bool) *Tensor {
	// Skip connection over the attention: sum of the four raw inputs.
	skip := Add(Add(st.Text, st.Image), Add(st.TextSpatial, st.ImageSpatial))

	attended := blk.attn.Forward(
		blk.normText.Forward(st.Text),
		blk.normImage.Forward(st.Image),
		blk.normTextSpatial.Forward(st.TextSpatial),
		blk.normImgSpatial.Forward(st.ImageSpatial),
		training,
	)
	x := Add(attended, skip)

	// Feed-forward with the standard single-stream residual.
	return Add(blk.ff.Forward(blk.normFF.Forward(x), training), x)
}

// Encoder stacks NumHiddenLayers identical blocks and threads the fused
// state through them.
type Encoder struct {
	blocks []*encoderBlock
}

// NewEncoder builds the stack. Panics on an invalid config.
func NewEncoder(cfg Config, dev *Device) *Encoder {
	cfg.mustValidate()

	blocks := make([]*encoderBlock, cfg.NumHiddenLayers)
	for i := range blocks {
		blocks[i] = newEncoderBlock(cfg, dev)
	}
	return &Encoder{blocks: blocks}
}

// Forward runs the stack and returns the final contextualized representation
// (batch, seqLen, hiddenSize). Each layer's fused output replaces st.Text for
// the next layer; the other three streams stay fixed throughout.
func (e *Encoder) Forward(st EncoderState, training bool) *Tensor {
	var out *Tensor
	for _, blk := range e.blocks {
		out = blk.forward(st, training)
		st.Text = out
	}
	return out
}
