package docformer

import "fmt"

// ===========================================================================
// FEATURE FUSION FRONT
// ===========================================================================
//
// Producers for the four tensors the encoder consumes: visual features,
// text features, and the two fused spatial embeddings. The heavy lifting
// (a pretrained convolutional trunk, a real tokenizer) lives outside this
// repo; the front only defines the boundary and enough default machinery to
// run the model end to end.

// Encoding is one preprocessed batch at the model boundary. Geometry comes
// in already bucketed into [0, Max2DPositionEmbeddings); token ids are
// (batch, seq); the image tensor is (batch, channels, height, width).
type Encoding struct {
	Image           *Tensor
	DistractorImage *Tensor // Optional, used by the text-describes-image task
	InputIDs        [][]int
	XFeatures       GeometricFeatures
	YFeatures       GeometricFeatures
}

// VisualBackbone maps an image tensor to a (batch, seq, embedDim) visual
// feature sequence. The production trunk (a pretrained convolutional
// extractor plus learned re-projection) satisfies this from outside; the
// model treats whatever is plugged in as opaque.
type VisualBackbone interface {
	Forward(image *Tensor) *Tensor
}

// GridPoolBackbone is the default in-repo backbone: it average-pools the
// image over a gridSize x gridSize grid per channel, projects channels up to
// embedDim, then re-projects the gridSize² patch sequence to targetSeq with
// a learned linear map over the sequence axis - the same sequence
// re-projection the production trunk applies after its final feature map.
//
// It exists so the model runs without pretrained weights; it is not meant to
// compete with a real convolutional trunk.
type GridPoolBackbone struct {
	gridSize  int
	targetSeq int
	embedDim  int

	channelProj *Linear // channels -> embedDim, per patch
	seqProj     *Linear // gridSize² -> targetSeq, over the sequence axis
}

// NewGridPoolBackbone creates the default backbone.
func NewGridPoolBackbone(gridSize, targetSeq, channels, embedDim int, dev *Device) *GridPoolBackbone {
	if gridSize <= 0 || targetSeq <= 0 || channels <= 0 {
		panic(fmt.Sprintf("backbone: invalid sizes grid=%d seq=%d channels=%d", gridSize, targetSeq, channels))
	}
	return &GridPoolBackbone{
		gridSize:    gridSize,
		targetSeq:   targetSeq,
		embedDim:    embedDim,
		channelProj: NewLinear(channels, embedDim, dev),
		seqProj:     NewLinear(gridSize*gridSize, targetSeq, dev),
	}
}

// Forward maps (batch, channels, height, width) to (batch, targetSeq, embedDim).
func (g *GridPoolBackbone) Forward(image *Tensor) *Tensor {
	if image.Dims() != 4 {
		panic(fmt.Sprintf("backbone: image must be (batch, channels, height, width), got %v", image.shape))
	}
	shape := image.Shape()
	batch, channels, height, width := shape[0], shape[1], shape[2], shape[3]
	if height < g.gridSize || width < g.gridSize {
		panic(fmt.Sprintf("backbone: image %dx%d smaller than %dx%d grid", height, width, g.gridSize, g.gridSize))
	}

	patches := g.gridSize * g.gridSize
	pooled := NewTensor(batch, patches, channels)

	cellH := height / g.gridSize
	cellW := width / g.gridSize
	for b := 0; b < batch; b++ {
		for gy := 0; gy < g.gridSize; gy++ {
			for gx := 0; gx < g.gridSize; gx++ {
				patch := gy*g.gridSize + gx
				for c := 0; c < channels; c++ {
					sum := 0.0
					for y := gy * cellH; y < (gy+1)*cellH; y++ {
						for x := gx * cellW; x < (gx+1)*cellW; x++ {
							sum += image.At(b, c, y, x)
						}
					}
					pooled.Set(sum/float64(cellH*cellW), b, patch, c)
				}
			}
		}
	}

	// Per-patch channel projection: (batch, patches, embedDim).
	feat := g.channelProj.Forward(pooled)

	// Sequence re-projection runs over the patch axis, so transpose to
	// (batch, embedDim, patches), project to targetSeq, transpose back.
	out := NewTensor(batch, g.targetSeq, g.embedDim)
	for b := 0; b < batch; b++ {
		slab := NewTensor(g.embedDim, patches)
		for p := 0; p < patches; p++ {
			for e := 0; e < g.embedDim; e++ {
				slab.Set(feat.At(b, p, e), e, p)
			}
		}
		projected := g.seqProj.Forward(slab) // (embedDim, targetSeq)
		for s := 0; s < g.targetSeq; s++ {
			for e := 0; e < g.embedDim; e++ {
				out.Set(projected.At(e, s), b, s, e)
			}
		}
	}

	return out
}

// LanguageFeatureExtractor is the plain token embedding lookup.
type LanguageFeatureExtractor struct {
	embedding *Embedding
}

// NewLanguageFeatureExtractor creates the token embedding table with the pad
// row zeroed.
func NewLanguageFeatureExtractor(vocabSize, hiddenDim, padTokenID int) *LanguageFeatureExtractor {
	return &LanguageFeatureExtractor{
		embedding: NewEmbedding(vocabSize, hiddenDim, padTokenID),
	}
}

// Forward maps (batch, seq) token ids to (batch, seq, hiddenDim). Token ids
// outside the vocabulary panic.
func (l *LanguageFeatureExtractor) Forward(inputIDs [][]int) *Tensor {
	return l.embedding.Forward(inputIDs)
}

// FeatureExtractor bundles the three producers into the front the model
// drives: visual features, language features and the two spatial streams.
type FeatureExtractor struct {
	Visual   VisualBackbone
	Language *LanguageFeatureExtractor
	Spatial  *SpatialEmbeddings
}

// NewFeatureExtractor builds the front. backbone may be nil, in which case
// the default grid-pooling backbone targeting MaxPositionEmbeddings
// positions is used.
func NewFeatureExtractor(cfg Config, backbone VisualBackbone, dev *Device) *FeatureExtractor {
	cfg.mustValidate()

	if backbone == nil {
		backbone = NewGridPoolBackbone(7, cfg.MaxPositionEmbeddings, 3, cfg.HiddenSize, dev)
	}
	return &FeatureExtractor{
		Visual:   backbone,
		Language: NewLanguageFeatureExtractor(cfg.VocabSize, cfg.HiddenSize, cfg.PadTokenID),
		Spatial:  NewSpatialEmbeddings(cfg),
	}
}

// Forward produces (vBar, tBar, vBarS, tBarS). When useTDI is set the
// distractor image feeds the backbone in place of the document image, which
// is how the text-describes-image pretraining objective constructs its
// negative pairs.
func (f *FeatureExtractor) Forward(enc *Encoding, useTDI, training bool) (vBar, tBar, vBarS, tBarS *Tensor) {
	image := enc.Image
	if useTDI {
		if enc.DistractorImage == nil {
			panic("features: TDI forward requested without a distractor image")
		}
		image = enc.DistractorImage
	}

	vBar = f.Visual.Forward(image)
	tBar = f.Language.Forward(enc.InputIDs)
	vBarS, tBarS = f.Spatial.Forward(enc.XFeatures, enc.YFeatures, training)
	return vBar, tBar, vBarS, tBarS
}
