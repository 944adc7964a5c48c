package tensor

import (
	"math"
	"testing"
)

func TestMatMul(t *testing.T) {
	a := &Tensor{Data: []float32{1, 2, 3, 4, 5, 6}, Shape: []int{2, 3}}
	b := &Tensor{Data: []float32{7, 8, 9, 10, 11, 12}, Shape: []int{3, 2}}

	c := MatMul(a, b)

	want := []float32{58, 64, 139, 154}
	if c.Shape[0] != 2 || c.Shape[1] != 2 {
		t.Fatalf("unexpected shape %v", c.Shape)
	}
	for i, v := range want {
		if c.Data[i] != v {
			t.Errorf("c[%d] = %f, want %f", i, c.Data[i], v)
		}
	}
}

func TestTranspose(t *testing.T) {
	a := &Tensor{Data: []float32{1, 2, 3, 4, 5, 6}, Shape: []int{2, 3}}
	at := Transpose(a)

	if at.Shape[0] != 3 || at.Shape[1] != 2 {
		t.Fatalf("unexpected shape %v", at.Shape)
	}
	want := []float32{1, 4, 2, 5, 3, 6}
	for i, v := range want {
		if at.Data[i] != v {
			t.Errorf("at[%d] = %f, want %f", i, at.Data[i], v)
		}
	}
}

func TestTransposeRoundTrip(t *testing.T) {
	a := &Tensor{Data: []float32{1, 2, 3, 4, 5, 6}, Shape: []int{2, 3}}
	back := Transpose(Transpose(a))
	for i, v := range a.Data {
		if back.Data[i] != v {
			t.Errorf("round trip changed element %d: %f", i, back.Data[i])
		}
	}
}

func TestSoftmaxRows(t *testing.T) {
	a := &Tensor{Data: []float32{1, 2, 3, 1, 1, 1}, Shape: []int{2, 3}}
	s := Softmax(a)

	for i := 0; i < 2; i++ {
		sum := float32(0)
		for j := 0; j < 3; j++ {
			sum += s.Data[i*3+j]
		}
		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Errorf("row %d sums to %f", i, sum)
		}
	}

	// Uniform logits give uniform probabilities.
	for j := 0; j < 3; j++ {
		if math.Abs(float64(s.Data[3+j]-1.0/3.0)) > 1e-5 {
			t.Errorf("uniform row element %d = %f", j, s.Data[3+j])
		}
	}
	// Larger logits get larger probabilities.
	if !(s.Data[2] > s.Data[1] && s.Data[1] > s.Data[0]) {
		t.Errorf("softmax not monotone: %v", s.Data[:3])
	}
}

func TestRMSNorm(t *testing.T) {
	x := &Tensor{Data: []float32{3, 4}, Shape: []int{1, 1, 2}}
	weight := &Tensor{Data: []float32{1, 1}, Shape: []int{2}}

	out := RMSNorm(x, weight, 0)

	// rms = sqrt((9+16)/2), so the outputs are 3/rms and 4/rms.
	rms := float32(math.Sqrt(12.5))
	if math.Abs(float64(out.Data[0]-3/rms)) > 1e-5 {
		t.Errorf("out[0] = %f", out.Data[0])
	}
	if math.Abs(float64(out.Data[1]-4/rms)) > 1e-5 {
		t.Errorf("out[1] = %f", out.Data[1])
	}
}

func TestSiLU(t *testing.T) {
	x := &Tensor{Data: []float32{0, 1, -1}, Shape: []int{3}}
	out := SiLU(x)

	if out.Data[0] != 0 {
		t.Errorf("silu(0) = %f", out.Data[0])
	}
	want1 := 1.0 / (1.0 + math.Exp(-1.0))
	if math.Abs(float64(out.Data[1])-want1) > 1e-5 {
		t.Errorf("silu(1) = %f, want %f", out.Data[1], want1)
	}
	if out.Data[2] >= 0 {
		t.Errorf("silu(-1) = %f, want negative", out.Data[2])
	}
}

func TestReshapePanicsOnSizeMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewTensor(2, 3).Reshape(4, 2)
}

func TestConcatenateSeqDim(t *testing.T) {
	a := NewTensor(1, 2, 1, 2)
	b := NewTensor(1, 2, 2, 2)
	for i := range a.Data {
		a.Data[i] = float32(i + 1)
	}
	for i := range b.Data {
		b.Data[i] = float32(10 + i)
	}

	c := Concatenate(a, b, 2)

	if c.Shape[2] != 3 {
		t.Fatalf("unexpected shape %v", c.Shape)
	}
	// Head 0: a positions then b positions.
	want := []float32{1, 2, 10, 11, 12, 13}
	for i, v := range want {
		if c.Data[i] != v {
			t.Errorf("c[%d] = %f, want %f", i, c.Data[i], v)
		}
	}
	// Head 1 starts after head 0's 3 positions.
	if c.Data[6] != 3 || c.Data[8] != 14 {
		t.Errorf("head 1 misplaced: %v", c.Data[6:12])
	}
}
