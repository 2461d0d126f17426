package docformer

import (
	"strings"
	"testing"
)

// testConfig is a small but fully valid configuration used across the test
// suite: 16 hidden units slice into eight 2-wide sub-bands and four heads.
func testConfig() Config {
	return Config{
		VocabSize:                50,
		HiddenSize:               16,
		PadTokenID:               0,
		MaxPositionEmbeddings:    8,
		Max2DPositionEmbeddings:  16,
		CoordinateSize:           2,
		ShapeSize:                2,
		LayerNormEps:             1e-12,
		HiddenDropoutProb:        0.1,
		NumHiddenLayers:          2,
		NumAttentionHeads:        4,
		MaxRelativePositions:     4,
		IntermediateFFSizeFactor: 2,
	}
}

func TestConfigValidate(t *testing.T) {
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("test config should validate, got %v", err)
	}
	if err := BaseConfig().Validate(); err != nil {
		t.Fatalf("base config should validate, got %v", err)
	}
}

func TestConfigRejectsBadDivisibility(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "hidden not divisible by heads",
			mutate: func(c *Config) { c.NumAttentionHeads = 5 },
			want:   "divisible by NumAttentionHeads",
		},
		{
			name: "hidden not divisible by sub-band count",
			mutate: func(c *Config) {
				c.HiddenSize = 20 // divisible by heads (4) but not by 8
				c.CoordinateSize = 5
				c.ShapeSize = 5
			},
			want: "sub-band",
		},
		{
			name:   "coordinate size off sub-band width",
			mutate: func(c *Config) { c.CoordinateSize = 4 },
			want:   "CoordinateSize",
		},
		{
			name:   "shape size off sub-band width",
			mutate: func(c *Config) { c.ShapeSize = 4 },
			want:   "ShapeSize",
		},
		{
			name:   "pad token outside vocabulary",
			mutate: func(c *Config) { c.PadTokenID = 50 },
			want:   "PadTokenID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestInvalidConfigFailsConstruction(t *testing.T) {
	cfg := testConfig()
	cfg.HiddenSize = 20 // breaks the sub-band invariant
	cfg.CoordinateSize = 5
	cfg.ShapeSize = 5

	defer func() {
		if recover() == nil {
			t.Fatal("constructing a model with an invalid config should panic")
		}
	}()
	NewSpatialEmbeddings(cfg)
}
