package docformer

import "fmt"

// ===========================================================================
// MODEL SURFACES
// ===========================================================================
//
// DocFormer is the base model: feature front + encoder, producing the fused
// hidden state. The heads wrap it for the downstream tasks: document
// classification, and the masked-language-modeling + image-reconstruction
// pretraining pair.

// DocFormer is the base multimodal document model.
type DocFormer struct {
	cfg      Config
	dev      *Device
	features *FeatureExtractor
	encoder  *Encoder
	dropout  *Dropout

	training bool
}

// NewDocFormer builds the base model. backbone may be nil to use the default
// grid-pooling backbone; dev may be nil to use the default CPU device.
// Panics on an invalid config.
func NewDocFormer(cfg Config, backbone VisualBackbone, dev *Device) *DocFormer {
	cfg.mustValidate()
	if dev == nil {
		dev = CPU()
	}

	return &DocFormer{
		cfg:      cfg,
		dev:      dev,
		features: NewFeatureExtractor(cfg, backbone, dev),
		encoder:  NewEncoder(cfg, dev),
		dropout:  NewDropout(cfg.HiddenDropoutProb),
	}
}

// Config returns the model configuration.
func (m *DocFormer) Config() Config { return m.cfg }

// Train switches dropout on. Eval (the default) switches it off, making
// forward passes deterministic.
func (m *DocFormer) Train() { m.training = true }

// Eval switches the model to evaluation mode.
func (m *DocFormer) Eval() { m.training = false }

// Training reports whether the model is in training mode.
func (m *DocFormer) Training() bool { return m.training }

// Forward runs the full pipeline on a preprocessed batch and returns the
// fused hidden state (batch, seqLen, hiddenSize). Panics when the sequence
// length exceeds MaxPositionEmbeddings or any feature index is out of range.
func (m *DocFormer) Forward(enc *Encoding) *Tensor {
	return m.forward(enc, false)
}

// ForwardTDI runs the pipeline with the distractor image feeding the visual
// backbone, for the text-describes-image objective.
func (m *DocFormer) ForwardTDI(enc *Encoding) *Tensor {
	return m.forward(enc, true)
}

func (m *DocFormer) forward(enc *Encoding, useTDI bool) *Tensor {
	vBar, tBar, vBarS, tBarS := m.features.Forward(enc, useTDI, m.training)
	out := m.ForwardFeatures(EncoderState{
		Text:         tBar,
		Image:        vBar,
		TextSpatial:  tBarS,
		ImageSpatial: vBarS,
	})
	return m.dropout.Forward(out, m.training)
}

// ForwardFeatures runs only the encoder on already-extracted features, for
// callers that produce the four streams themselves.
func (m *DocFormer) ForwardFeatures(st EncoderState) *Tensor {
	seqLen := st.Text.Shape()[1]
	if seqLen > m.cfg.MaxPositionEmbeddings {
		panic(fmt.Sprintf("docformer: sequence length %d exceeds maximum %d",
			seqLen, m.cfg.MaxPositionEmbeddings))
	}
	return m.encoder.Forward(st, m.training)
}

// CompressEmbeddings converts the geometry and vocabulary embedding tables
// to half-precision storage, roughly quartering parameter memory for the
// lookup-heavy part of the model. Attention quality is unaffected at these
// magnitudes; call once after weights are final.
func (m *DocFormer) CompressEmbeddings() {
	m.features.Spatial.Compress()
	m.features.Language.embedding.Compress()
}

// DocFormerForClassification adds a linear classifier over the fused hidden
// state, producing per-position class logits.
type DocFormerForClassification struct {
	*DocFormer
	classifier *Linear
}

// NewDocFormerForClassification builds a classification model with
// numClasses output classes.
func NewDocFormerForClassification(cfg Config, numClasses int, backbone VisualBackbone, dev *Device) *DocFormerForClassification {
	if numClasses <= 0 {
		panic(fmt.Sprintf("docformer: numClasses must be positive, got %d", numClasses))
	}
	base := NewDocFormer(cfg, backbone, dev)
	return &DocFormerForClassification{
		DocFormer:  base,
		classifier: NewLinear(cfg.HiddenSize, numClasses, base.dev),
	}
}

// Forward returns class logits (batch, seqLen, numClasses).
func (m *DocFormerForClassification) Forward(enc *Encoding) *Tensor {
	return m.classifier.Forward(m.DocFormer.Forward(enc))
}

// PretrainingOutput bundles the two pretraining predictions.
type PretrainingOutput struct {
	// MLMLogits holds masked-language-model logits (batch, seqLen, vocabSize).
	MLMLogits *Tensor
	// Reconstruction holds the decoded image (batch, 3, 224, 224).
	Reconstruction *Tensor
}

// DocFormerForPretraining pairs the MLM head with the shallow image
// reconstruction decoder.
type DocFormerForPretraining struct {
	*DocFormer
	mlmHead *Linear
	decoder *ShallowDecoder
}

// NewDocFormerForPretraining builds the pretraining model.
func NewDocFormerForPretraining(cfg Config, backbone VisualBackbone, dev *Device) *DocFormerForPretraining {
	base := NewDocFormer(cfg, backbone, dev)
	return &DocFormerForPretraining{
		DocFormer: base,
		mlmHead:   NewLinear(cfg.HiddenSize, cfg.VocabSize, base.dev),
		decoder:   NewShallowDecoder(cfg.HiddenSize, base.dev),
	}
}

// Forward runs both pretraining heads on the fused hidden state.
func (m *DocFormerForPretraining) Forward(enc *Encoding) *PretrainingOutput {
	hidden := m.DocFormer.Forward(enc)
	return &PretrainingOutput{
		MLMLogits:      m.mlmHead.Forward(hidden),
		Reconstruction: m.decoder.Forward(hidden),
	}
}
