package docformer

import (
	"fmt"
	"math"
)

// ===========================================================================
// MULTIMODAL RELATIVE-POSITION SELF-ATTENTION
// ===========================================================================
//
// The fused attention block at the center of the model. Text and image run
// structurally identical self-attention in parallel, but each modality's
// score matrix is the sum of four additive components per head:
//
//	score = content·content + relative-key + relative-query + spatial·spatial
//
// The content term is the usual scaled dot product of that modality's Q and
// K. The two relative terms inject clipped 1D token/patch distances (Shaw
// style). The spatial term is a second dot-product attention computed from
// the modality's fused layout embedding through Q/K projections *shared*
// between text and image - layout geometry is modality-neutral, so both
// modalities read it through the same lens.
//
// After softmax and value weighting, the two modality contexts merge by
// elementwise addition (not concatenation); a single output projection then
// mixes the fused context. This additive fusion is where text and image
// information becomes one representation.

// MultiModalAttention computes one multi-head self-attention update over the
// text and image streams plus their spatial embeddings.
type MultiModalAttention struct {
	embedDim int
	nHeads   int
	headDim  int
	scale    float64 // sqrt(embedDim); applied to content and spatial dots

	// relText holds the learned relative-distance embeddings. relImage is
	// the same table: the image branch deliberately reads the text table
	// for its relative terms, matching the reference weights. Keep the
	// shared reference; do not give the image branch its own table.
	relText  *RelativePosition
	relImage *RelativePosition

	qText, kText, vText *Linear
	qImg, kImg, vImg    *Linear

	// Spatial Q/K are shared between modalities.
	qSpatial, kSpatial *Linear

	attnDropout *Dropout
	outProj     *Linear
	outDropout  *Dropout
}

// NewMultiModalAttention creates the attention block. Panics unless embedDim
// is divisible by nHeads.
func NewMultiModalAttention(embedDim, nHeads, maxRelativePosition, maxSeqLength int, dropout float64, dev *Device) *MultiModalAttention {
	if embedDim%nHeads != 0 {
		panic(fmt.Sprintf("attention: embedDim (%d) must be divisible by nHeads (%d)", embedDim, nHeads))
	}
	headDim := embedDim / nHeads

	rel := NewRelativePosition(headDim, maxRelativePosition, maxSeqLength)

	return &MultiModalAttention{
		embedDim: embedDim,
		nHeads:   nHeads,
		headDim:  headDim,
		scale:    math.Sqrt(float64(embedDim)),

		relText:  rel,
		relImage: rel,

		qText: NewLinear(embedDim, embedDim, dev),
		kText: NewLinear(embedDim, embedDim, dev),
		vText: NewLinear(embedDim, embedDim, dev),

		qImg: NewLinear(embedDim, embedDim, dev),
		kImg: NewLinear(embedDim, embedDim, dev),
		vImg: NewLinear(embedDim, embedDim, dev),

		qSpatial: NewLinear(embedDim, embedDim, dev),
		kSpatial: NewLinear(embedDim, embedDim, dev),

		attnDropout: NewDropout(dropout),
		outProj:     NewLinear(embedDim, embedDim, dev),
		outDropout:  NewDropout(dropout),
	}
}

// Forward runs the fused attention. All four inputs must share the shape
// (batch, seqLen, embedDim); the output has the same shape. Every position
// attends to every position - there is no masking.
func (a *MultiModalAttention) Forward(textFeat, imgFeat, textSpatialFeat, imgSpatialFeat *Tensor, training bool) *Tensor {
	a.checkInput("text", textFeat)
	a.checkInput("image", imgFeat)
	a.checkInput("text spatial", textSpatialFeat)
	a.checkInput("image spatial", imgSpatialFeat)

	shape := textFeat.Shape()
	batch, seqLen := shape[0], shape[1]
	for _, t := range []*Tensor{imgFeat, textSpatialFeat, imgSpatialFeat} {
		if !shapeEqual(t.shape, textFeat.shape) {
			panic(fmt.Sprintf("attention: input shapes %v and %v disagree", textFeat.shape, t.shape))
		}
	}

	// Relative-distance embeddings: (seqLen, seqLen, headDim). The image
	// branch uses the text table by design (see field docs).
	relText := a.relText.Lookup(seqLen, seqLen)
	relImg := a.relImage.Lookup(seqLen, seqLen)

	textCtx := a.modalityContext(
		a.qText.Forward(textFeat), a.kText.Forward(textFeat), a.vText.Forward(textFeat),
		textSpatialFeat, relText, training)

	imgCtx := a.modalityContext(
		a.qImg.Forward(imgFeat), a.kImg.Forward(imgFeat), a.vImg.Forward(imgFeat),
		imgSpatialFeat, relImg, training)

	// Fused context: elementwise sum across modalities.
	fused := Add(textCtx, imgCtx)

	merged := mergeHeads(fused, batch, seqLen, a.nHeads, a.headDim)
	out := a.outProj.Forward(merged)
	return a.outDropout.Forward(out, training)
}

// modalityContext runs one modality's attention end to end: scores from the
// four components, softmax over keys, dropout, and the value-weighted sum.
// q, k, v are (batch, seqLen, embedDim); the returned context is
// (heads, batch, seqLen, headDim).
func (a *MultiModalAttention) modalityContext(q, k, v, spatialFeat, relEmbed *Tensor, training bool) *Tensor {
	shape := q.Shape()
	batch, seqLen := shape[0], shape[1]

	qh := splitHeads(q, a.nHeads, a.headDim)
	kh := splitHeads(k, a.nHeads, a.headDim)
	vh := splitHeads(v, a.nHeads, a.headDim)

	// Content score: scaled per-head dot product.
	scores := a.scaledDots(qh, kh)

	// Relative-position scores. Neither term is rescaled; only the
	// dot-product components carry the 1/sqrt(embedDim) factor.
	a.addRelativeKey(scores, kh, relEmbed)
	a.addRelativeQuery(scores, qh, relEmbed)

	// Spatial cross-term through the shared projections.
	sq := splitHeads(a.qSpatial.Forward(spatialFeat), a.nHeads, a.headDim)
	sk := splitHeads(a.kSpatial.Forward(spatialFeat), a.nHeads, a.headDim)
	AddInPlace(scores, a.scaledDots(sq, sk))

	probs := a.attnDropout.Forward(SoftmaxLastDim(scores), training)

	// Context: attention-weighted sum of values.
	ctx := NewTensor(a.nHeads, batch, seqLen, a.headDim)
	for h := 0; h < a.nHeads; h++ {
		for b := 0; b < batch; b++ {
			for l := 0; l < seqLen; l++ {
				for t := 0; t < seqLen; t++ {
					p := probs.At(h, b, l, t)
					if p == 0 {
						continue
					}
					for d := 0; d < a.headDim; d++ {
						ctx.data[ctx.flatIndex([]int{h, b, l, d})] += p * vh.At(h, b, t, d)
					}
				}
			}
		}
	}

	return ctx
}

// scaledDots computes per-head content scores
// (heads, batch, qLen, kLen) = q·kᵀ / sqrt(embedDim).
//
// The divisor is sqrt(embedDim), not sqrt(headDim): this matches the
// reference weights and must not be "corrected".
func (a *MultiModalAttention) scaledDots(qh, kh *Tensor) *Tensor {
	batch, qLen := qh.shape[1], qh.shape[2]
	kLen := kh.shape[2]

	out := NewTensor(a.nHeads, batch, qLen, kLen)
	inv := 1.0 / a.scale
	for h := 0; h < a.nHeads; h++ {
		for b := 0; b < batch; b++ {
			for l := 0; l < qLen; l++ {
				for t := 0; t < kLen; t++ {
					sum := 0.0
					for d := 0; d < a.headDim; d++ {
						sum += qh.At(h, b, l, d) * kh.At(h, b, t, d)
					}
					out.Set(sum*inv, h, b, l, t)
				}
			}
		}
	}
	return out
}

// addRelativeKey accumulates the relative-key term into scores:
// scores[h,b,l,r] += k[h,b,r,·] · rel[l,r,·].
func (a *MultiModalAttention) addRelativeKey(scores, kh, rel *Tensor) {
	batch, qLen := kh.shape[1], rel.shape[0]
	kLen := rel.shape[1]

	for h := 0; h < a.nHeads; h++ {
		for b := 0; b < batch; b++ {
			for l := 0; l < qLen; l++ {
				for r := 0; r < kLen; r++ {
					sum := 0.0
					for d := 0; d < a.headDim; d++ {
						sum += kh.At(h, b, r, d) * rel.At(l, r, d)
					}
					scores.data[scores.flatIndex([]int{h, b, l, r})] += sum
				}
			}
		}
	}
}

// addRelativeQuery accumulates the relative-query term into scores:
// scores[h,b,l,r] += q[h,b,l,·] · rel[l,r,·].
func (a *MultiModalAttention) addRelativeQuery(scores, qh, rel *Tensor) {
	batch, qLen := qh.shape[1], rel.shape[0]
	kLen := rel.shape[1]

	for h := 0; h < a.nHeads; h++ {
		for b := 0; b < batch; b++ {
			for l := 0; l < qLen; l++ {
				for r := 0; r < kLen; r++ {
					sum := 0.0
					for d := 0; d < a.headDim; d++ {
						sum += qh.At(h, b, l, d) * rel.At(l, r, d)
					}
					scores.data[scores.flatIndex([]int{h, b, l, r})] += sum
				}
			}
		}
	}
}

func (a *MultiModalAttention) checkInput(name string, t *Tensor) {
	if t == nil {
		panic(fmt.Sprintf("attention: nil %s input", name))
	}
	if t.Dims() != 3 || t.shape[2] != a.embedDim {
		panic(fmt.Sprintf("attention: %s input must be (batch, seq, %d), got %v", name, a.embedDim, t.shape))
	}
}

// splitHeads reshapes (batch, seq, embedDim) into (heads, batch, seq, headDim):
// the embedding axis is cut into nHeads contiguous head slices.
func splitHeads(x *Tensor, nHeads, headDim int) *Tensor {
	batch, seqLen := x.shape[0], x.shape[1]
	out := NewTensor(nHeads, batch, seqLen, headDim)

	for b := 0; b < batch; b++ {
		for s := 0; s < seqLen; s++ {
			src := (b*seqLen + s) * nHeads * headDim
			for h := 0; h < nHeads; h++ {
				dst := ((h*batch+b)*seqLen + s) * headDim
				copy(out.data[dst:dst+headDim], x.data[src+h*headDim:src+(h+1)*headDim])
			}
		}
	}

	return out
}

// mergeHeads is the inverse of splitHeads:
// (heads, batch, seq, headDim) -> (batch, seq, heads*headDim).
func mergeHeads(x *Tensor, batch, seqLen, nHeads, headDim int) *Tensor {
	out := NewTensor(batch, seqLen, nHeads*headDim)

	for h := 0; h < nHeads; h++ {
		for b := 0; b < batch; b++ {
			for s := 0; s < seqLen; s++ {
				src := ((h*batch+b)*seqLen + s) * headDim
				dst := (b*seqLen+s)*nHeads*headDim + h*headDim
				copy(out.data[dst:dst+headDim], x.data[src:src+headDim])
			}
		}
	}

	return out
}
