package docformer

import "fmt"

// Config holds the hyperparameters of the multimodal document model.
// All fields are required; Validate reports anything inconsistent.
type Config struct {
	VocabSize               int     // Size of vocabulary
	HiddenSize              int     // Embedding dimension (d_model)
	PadTokenID              int     // Token id reserved for padding
	MaxPositionEmbeddings   int     // Maximum sequence length (context window)
	Max2DPositionEmbeddings int     // Bucket count for layout geometry features
	CoordinateSize          int     // Embedding dim of coordinate features (top-left, bottom-right)
	ShapeSize               int     // Embedding dim of shape/distance features
	LayerNormEps            float64 // Epsilon inside layer normalization
	HiddenDropoutProb       float64 // Dropout probability used throughout
	NumHiddenLayers         int     // Number of encoder blocks
	NumAttentionHeads       int     // Number of attention heads
	MaxRelativePositions    int     // Clip bound for 1D relative distances
	IntermediateFFSizeFactor int    // Feed-forward hidden dim = HiddenSize * factor
}

// numGeometricFeatures is the number of bucketed layout features per axis:
// top-left, bottom-right, width/height, four distance-to-previous variants,
// and centroid distance. The hidden dimension is sliced into this many
// sub-bands, one per feature.
const numGeometricFeatures = 8

// BaseConfig returns the base-sized configuration: 768 hidden, 12 layers,
// 12 heads, BERT vocabulary.
func BaseConfig() Config {
	return Config{
		VocabSize:                30522,
		HiddenSize:               768,
		PadTokenID:               0,
		MaxPositionEmbeddings:    512,
		Max2DPositionEmbeddings:  1024,
		CoordinateSize:           96,
		ShapeSize:                96,
		LayerNormEps:             1e-12,
		HiddenDropoutProb:        0.1,
		NumHiddenLayers:          12,
		NumAttentionHeads:        12,
		MaxRelativePositions:     8,
		IntermediateFFSizeFactor: 4,
	}
}

// Validate checks the structural invariants the model depends on.
// Constructors call it and panic on failure: a bad config is a programming
// error, caught before any parameter is allocated.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return fmt.Errorf("config: VocabSize must be positive, got %d", c.VocabSize)
	case c.HiddenSize <= 0:
		return fmt.Errorf("config: HiddenSize must be positive, got %d", c.HiddenSize)
	case c.PadTokenID < 0 || c.PadTokenID >= c.VocabSize:
		return fmt.Errorf("config: PadTokenID %d outside vocabulary [0,%d)", c.PadTokenID, c.VocabSize)
	case c.MaxPositionEmbeddings <= 0:
		return fmt.Errorf("config: MaxPositionEmbeddings must be positive, got %d", c.MaxPositionEmbeddings)
	case c.Max2DPositionEmbeddings <= 0:
		return fmt.Errorf("config: Max2DPositionEmbeddings must be positive, got %d", c.Max2DPositionEmbeddings)
	case c.NumHiddenLayers <= 0:
		return fmt.Errorf("config: NumHiddenLayers must be positive, got %d", c.NumHiddenLayers)
	case c.NumAttentionHeads <= 0:
		return fmt.Errorf("config: NumAttentionHeads must be positive, got %d", c.NumAttentionHeads)
	case c.MaxRelativePositions <= 0:
		return fmt.Errorf("config: MaxRelativePositions must be positive, got %d", c.MaxRelativePositions)
	case c.IntermediateFFSizeFactor <= 0:
		return fmt.Errorf("config: IntermediateFFSizeFactor must be positive, got %d", c.IntermediateFFSizeFactor)
	case c.HiddenDropoutProb < 0 || c.HiddenDropoutProb >= 1:
		return fmt.Errorf("config: HiddenDropoutProb must be in [0,1), got %g", c.HiddenDropoutProb)
	case c.LayerNormEps <= 0:
		return fmt.Errorf("config: LayerNormEps must be positive, got %g", c.LayerNormEps)
	}

	if c.HiddenSize%c.NumAttentionHeads != 0 {
		return fmt.Errorf("config: HiddenSize (%d) must be divisible by NumAttentionHeads (%d)",
			c.HiddenSize, c.NumAttentionHeads)
	}
	if c.HiddenSize%numGeometricFeatures != 0 {
		return fmt.Errorf("config: HiddenSize (%d) must be divisible by %d for spatial sub-band slicing",
			c.HiddenSize, numGeometricFeatures)
	}

	// Every geometric feature embedding is written into a hidden/8 sub-band,
	// so the per-feature embedding dims must equal the sub-band width.
	subDim := c.HiddenSize / numGeometricFeatures
	if c.CoordinateSize != subDim {
		return fmt.Errorf("config: CoordinateSize (%d) must equal HiddenSize/%d (%d)",
			c.CoordinateSize, numGeometricFeatures, subDim)
	}
	if c.ShapeSize != subDim {
		return fmt.Errorf("config: ShapeSize (%d) must equal HiddenSize/%d (%d)",
			c.ShapeSize, numGeometricFeatures, subDim)
	}

	return nil
}

// mustValidate panics on an invalid config. Model constructors use it so a
// misconfigured model can never be built half-way.
func (c Config) mustValidate() {
	if err := c.Validate(); err != nil {
		panic(err.Error())
	}
}
