package docformer

import (
	"fmt"
	"math"
)

// Conv2D is a learned 2D convolution with square kernels, valid padding and
// a single stride for both axes. Only the reconstruction decoder uses it, so
// it stays deliberately minimal: no padding modes, no dilation, no groups.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernel      int
	stride      int

	w *Tensor // (outChannels, inChannels, kernel, kernel)
	b *Tensor // (outChannels)
}

// NewConv2D creates a convolution layer with Xavier-uniform weights.
func NewConv2D(inChannels, outChannels, kernel, stride int) *Conv2D {
	if kernel <= 0 || stride <= 0 {
		panic(fmt.Sprintf("conv: kernel %d and stride %d must be positive", kernel, stride))
	}

	fan := inChannels * kernel * kernel
	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernel:      kernel,
		stride:      stride,
		w:           NewTensorXavier(fan, outChannels*kernel*kernel, outChannels, inChannels, kernel, kernel),
		b:           NewTensor(outChannels),
	}
}

// outSize returns the spatial output size for a given input size.
func (c *Conv2D) outSize(in int) int {
	return (in-c.kernel)/c.stride + 1
}

// Forward maps (batch, inChannels, H, W) to (batch, outChannels, H', W')
// with H' = (H-kernel)/stride + 1 and likewise for W'.
func (c *Conv2D) Forward(x *Tensor) *Tensor {
	if x.Dims() != 4 || x.shape[1] != c.inChannels {
		panic(fmt.Sprintf("conv: input must be (batch, %d, H, W), got %v", c.inChannels, x.shape))
	}
	shape := x.Shape()
	batch, height, width := shape[0], shape[2], shape[3]
	outH, outW := c.outSize(height), c.outSize(width)
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("conv: input %dx%d too small for kernel %d", height, width, c.kernel))
	}

	out := NewTensor(batch, c.outChannels, outH, outW)
	for b := 0; b < batch; b++ {
		for oc := 0; oc < c.outChannels; oc++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					sum := c.b.data[oc]
					for ic := 0; ic < c.inChannels; ic++ {
						for ky := 0; ky < c.kernel; ky++ {
							for kx := 0; kx < c.kernel; kx++ {
								sum += x.At(b, ic, oy*c.stride+ky, ox*c.stride+kx) *
									c.w.At(oc, ic, ky, kx)
							}
						}
					}
					out.Set(sum, b, oc, oy, ox)
				}
			}
		}
	}

	return out
}

// BatchNorm2D normalizes each channel by statistics computed over the
// current batch and both spatial axes, then applies a learned scale and
// shift. Layers are constructed once at model-build time alongside their
// convolutions, so the gamma/beta parameters persist and train correctly.
type BatchNorm2D struct {
	channels int
	eps      float64
	gamma    *Tensor // init 1
	beta     *Tensor // init 0
}

// NewBatchNorm2D creates a batch normalization layer for the given channel
// count.
func NewBatchNorm2D(channels int, eps float64) *BatchNorm2D {
	gamma := NewTensor(channels)
	for i := range gamma.data {
		gamma.data[i] = 1.0
	}
	return &BatchNorm2D{
		channels: channels,
		eps:      eps,
		gamma:    gamma,
		beta:     NewTensor(channels),
	}
}

// Forward normalizes (batch, channels, H, W) per channel.
func (bn *BatchNorm2D) Forward(x *Tensor) *Tensor {
	if x.Dims() != 4 || x.shape[1] != bn.channels {
		panic(fmt.Sprintf("batchnorm: input must be (batch, %d, H, W), got %v", bn.channels, x.shape))
	}
	shape := x.Shape()
	batch, height, width := shape[0], shape[2], shape[3]
	plane := height * width
	n := float64(batch * plane)

	out := NewTensor(shape...)
	for c := 0; c < bn.channels; c++ {
		mean := 0.0
		for b := 0; b < batch; b++ {
			base := (b*bn.channels + c) * plane
			for i := 0; i < plane; i++ {
				mean += x.data[base+i]
			}
		}
		mean /= n

		variance := 0.0
		for b := 0; b < batch; b++ {
			base := (b*bn.channels + c) * plane
			for i := 0; i < plane; i++ {
				diff := x.data[base+i] - mean
				variance += diff * diff
			}
		}
		variance /= n

		invStd := 1.0 / math.Sqrt(variance+bn.eps)
		g, bta := bn.gamma.data[c], bn.beta.data[c]
		for b := 0; b < batch; b++ {
			base := (b*bn.channels + c) * plane
			for i := 0; i < plane; i++ {
				out.data[base+i] = (x.data[base+i]-mean)*invStd*g + bta
			}
		}
	}

	return out
}
