package docformer

import "fmt"

// GeometricFeatures holds bucketed layout geometry for one axis, indexed
// [batch][position][feature]. The fixed-size inner array enforces the
// invariant that every element carries exactly eight features per axis:
//
//	0 - top-left coordinate
//	1 - bottom-right coordinate
//	2 - width (x axis) or height (y axis)
//	3 - top-left distance to previous element
//	4 - bottom-left distance to previous element
//	5 - top-right distance to previous element
//	6 - bottom-right distance to previous element
//	7 - centroid distance to previous element
//
// Every value is a bucket index in [0, Max2DPositionEmbeddings).
type GeometricFeatures [][][numGeometricFeatures]int

// NewGeometricFeatures allocates a zeroed feature grid.
func NewGeometricFeatures(batch, seqLen int) GeometricFeatures {
	g := make(GeometricFeatures, batch)
	for b := range g {
		g[b] = make([][numGeometricFeatures]int, seqLen)
	}
	return g
}

func (g GeometricFeatures) dims() (batch, seqLen int) {
	batch = len(g)
	if batch == 0 {
		panic("spatial: empty feature batch")
	}
	seqLen = len(g[0])
	for b := range g {
		if len(g[b]) != seqLen {
			panic(fmt.Sprintf("spatial: ragged batch, row 0 has %d positions, row %d has %d",
				seqLen, b, len(g[b])))
		}
	}
	return batch, seqLen
}

// spatialStream is one copy of the spatial embedding pipeline. Two streams
// exist with independent parameters: one feeding the visual side of the
// encoder, one feeding the text side.
//
// Each of the eight feature indices owns a distinct x-axis and y-axis table,
// held in fixed-size arrays indexed directly by feature number. Features 0-1
// embed into CoordinateSize, features 2-7 into ShapeSize; Config.Validate
// pins both to HiddenSize/8, the width of one sub-band.
type spatialStream struct {
	hiddenSize int
	subDim     int
	x          [numGeometricFeatures]*Embedding
	y          [numGeometricFeatures]*Embedding
	pos        *PositionalEncoding
}

func newSpatialStream(cfg Config) *spatialStream {
	s := &spatialStream{
		hiddenSize: cfg.HiddenSize,
		subDim:     cfg.HiddenSize / numGeometricFeatures,
		pos:        NewPositionalEncoding(cfg.HiddenSize, cfg.MaxPositionEmbeddings, cfg.HiddenDropoutProb),
	}

	for i := 0; i < numGeometricFeatures; i++ {
		dim := cfg.ShapeSize
		if i < 2 {
			dim = cfg.CoordinateSize
		}
		s.x[i] = NewEmbedding(cfg.Max2DPositionEmbeddings, dim, -1)
		s.y[i] = NewEmbedding(cfg.Max2DPositionEmbeddings, dim, -1)
	}

	return s
}

// forward builds the fused spatial embedding (batch, seqLen, hiddenSize):
// each feature's x- and y-embedding is written into its 1/8 slice of the
// hidden dimension, the x and y results are summed elementwise, and the
// sinusoidal positional encoding is added broadcast over the batch.
func (s *spatialStream) forward(xFeat, yFeat GeometricFeatures, training bool) *Tensor {
	batch, seqLen := xFeat.dims()
	if yb, ys := yFeat.dims(); yb != batch || ys != seqLen {
		panic(fmt.Sprintf("spatial: x features (%d,%d) and y features (%d,%d) disagree",
			batch, seqLen, yb, ys))
	}

	xEmb := NewTensor(batch, seqLen, s.hiddenSize)
	yEmb := NewTensor(batch, seqLen, s.hiddenSize)

	for b := 0; b < batch; b++ {
		for pos := 0; pos < seqLen; pos++ {
			base := (b*seqLen + pos) * s.hiddenSize
			for i := 0; i < numGeometricFeatures; i++ {
				band := base + i*s.subDim
				s.x[i].rowInto(xEmb.data[band:band+s.subDim], xFeat[b][pos][i])
				s.y[i].rowInto(yEmb.data[band:band+s.subDim], yFeat[b][pos][i])
			}
		}
	}

	out := Add(xEmb, yEmb)

	pe := s.pos.Forward(seqLen, training) // (seqLen, hiddenSize)
	for b := 0; b < batch; b++ {
		for pos := 0; pos < seqLen; pos++ {
			base := (b*seqLen + pos) * s.hiddenSize
			row := pe.data[pos*s.hiddenSize : (pos+1)*s.hiddenSize]
			for j, v := range row {
				out.data[base+j] += v
			}
		}
	}

	return out
}

// SpatialEmbeddings turns bucketed box geometry into the two fused spatial
// tensors the encoder consumes: one for the visual stream, one for the text
// stream, each with its own parameter set.
type SpatialEmbeddings struct {
	visual *spatialStream
	text   *spatialStream
}

// NewSpatialEmbeddings builds both spatial streams. Panics on an invalid
// config; in particular a hidden size not divisible by eight must fail here,
// never silently truncate a sub-band.
func NewSpatialEmbeddings(cfg Config) *SpatialEmbeddings {
	cfg.mustValidate()
	return &SpatialEmbeddings{
		visual: newSpatialStream(cfg),
		text:   newSpatialStream(cfg),
	}
}

// Forward returns (visualSpatial, textSpatial), each (batch, seqLen, hidden).
func (se *SpatialEmbeddings) Forward(xFeat, yFeat GeometricFeatures, training bool) (*Tensor, *Tensor) {
	vBarS := se.visual.forward(xFeat, yFeat, training)
	tBarS := se.text.forward(xFeat, yFeat, training)
	return vBarS, tBarS
}

// Compress converts all thirty-two geometry tables to half-precision storage.
func (se *SpatialEmbeddings) Compress() {
	for _, stream := range []*spatialStream{se.visual, se.text} {
		for i := 0; i < numGeometricFeatures; i++ {
			stream.x[i].Compress()
			stream.y[i].Compress()
		}
	}
}
