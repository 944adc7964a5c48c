// Package tensor implements the native transformer runtime used for the
// reference side of the model comparison. It runs llama-family safetensors
// checkpoints (RMSNorm, grouped-query attention, RoPE, SwiGLU) on the CPU.
package tensor

import (
	"fmt"
	"math"
)

// Tensor is a dense float32 tensor in row-major order
type Tensor struct {
	Data  []float32
	Shape []int
}

// NewTensor creates a zero-filled tensor with the given shape
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Tensor{
		Data:  make([]float32, size),
		Shape: shape,
	}
}

// Size returns the total number of elements
func (t *Tensor) Size() int {
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// Reshape returns a view of the tensor with a new shape
func (t *Tensor) Reshape(shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	if size != t.Size() {
		panic(fmt.Sprintf("cannot reshape %v to %v", t.Shape, shape))
	}
	return &Tensor{Data: t.Data, Shape: shape}
}

// SliceLastDim returns a copy of t[..., start:end] for a 2D tensor
func (t *Tensor) SliceLastDim(start, end int) *Tensor {
	rows := t.Shape[0]
	cols := t.Shape[1]
	width := end - start

	result := NewTensor(rows, width)
	for i := 0; i < rows; i++ {
		copy(result.Data[i*width:(i+1)*width], t.Data[i*cols+start:i*cols+end])
	}
	return result
}

// MatMul computes a @ b for 2D tensors [m, k] x [k, n] -> [m, n]
func MatMul(a, b *Tensor) *Tensor {
	m := a.Shape[0]
	k := a.Shape[1]
	n := b.Shape[1]

	result := NewTensor(m, n)
	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			av := a.Data[i*k+l]
			if av == 0 {
				continue
			}
			bRow := b.Data[l*n : (l+1)*n]
			out := result.Data[i*n : (i+1)*n]
			for j := 0; j < n; j++ {
				out[j] += av * bRow[j]
			}
		}
	}
	return result
}

// Add computes elementwise a + b
func Add(a, b *Tensor) *Tensor {
	result := NewTensor(a.Shape...)
	for i := range a.Data {
		result.Data[i] = a.Data[i] + b.Data[i]
	}
	return result
}

// Transpose transposes a 2D tensor
func Transpose(t *Tensor) *Tensor {
	rows := t.Shape[0]
	cols := t.Shape[1]

	result := NewTensor(cols, rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result.Data[j*rows+i] = t.Data[i*cols+j]
		}
	}
	return result
}

// Softmax applies softmax along the last dimension of a 2D tensor
func Softmax(t *Tensor) *Tensor {
	rows := t.Shape[0]
	cols := t.Shape[1]

	result := NewTensor(rows, cols)
	for i := 0; i < rows; i++ {
		row := t.Data[i*cols : (i+1)*cols]
		out := result.Data[i*cols : (i+1)*cols]

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		sum := float32(0)
		for j, v := range row {
			out[j] = float32(math.Exp(float64(v - maxVal)))
			sum += out[j]
		}
		for j := range out {
			out[j] /= sum
		}
	}
	return result
}

// SiLU applies x * sigmoid(x) elementwise
func SiLU(t *Tensor) *Tensor {
	result := NewTensor(t.Shape...)
	for i, v := range t.Data {
		result.Data[i] = v / (1 + float32(math.Exp(float64(-v))))
	}
	return result
}

// RMSNorm applies root-mean-square normalization over the last dimension of a
// [batch, seq, hidden] tensor and scales by weight
func RMSNorm(t *Tensor, weight *Tensor, eps float32) *Tensor {
	hidden := t.Shape[len(t.Shape)-1]
	rows := t.Size() / hidden

	result := NewTensor(t.Shape...)
	for i := 0; i < rows; i++ {
		row := t.Data[i*hidden : (i+1)*hidden]
		out := result.Data[i*hidden : (i+1)*hidden]

		sumSq := float32(0)
		for _, v := range row {
			sumSq += v * v
		}
		inv := float32(1.0 / math.Sqrt(float64(sumSq/float32(hidden)+eps)))

		for j, v := range row {
			out[j] = v * inv * weight.Data[j]
		}
	}
	return result
}

// Concatenate joins two 4D tensors along the sequence dimension (dim 2).
// Used to extend the KV cache during generation.
func Concatenate(a, b *Tensor, dim int) *Tensor {
	if dim != 2 || len(a.Shape) != 4 {
		panic("Concatenate supports dim=2 on 4D tensors only")
	}

	batch := a.Shape[0]
	heads := a.Shape[1]
	aSeq := a.Shape[2]
	bSeq := b.Shape[2]
	headDim := a.Shape[3]

	result := NewTensor(batch, heads, aSeq+bSeq, headDim)
	for bi := 0; bi < batch; bi++ {
		for h := 0; h < heads; h++ {
			dst := result.Data[(bi*heads+h)*(aSeq+bSeq)*headDim:]
			srcA := a.Data[(bi*heads+h)*aSeq*headDim:]
			srcB := b.Data[(bi*heads+h)*bSeq*headDim:]
			copy(dst[:aSeq*headDim], srcA[:aSeq*headDim])
			copy(dst[aSeq*headDim:(aSeq+bSeq)*headDim], srcB[:bSeq*headDim])
		}
	}
	return result
}
