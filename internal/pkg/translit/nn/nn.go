// Package nn holds the inference-only building blocks of the recurrent
// transliteration models: embeddings, affine layers and GRU cells laid out
// the way PyTorch stores them, evaluated with gonum.
package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

type Embedding struct {
	Weight *mat.Dense
}

func NewEmbedding(weight *mat.Dense) *Embedding {
	return &Embedding{Weight: weight}
}

func (e *Embedding) NumEmbeddings() int {
	r, _ := e.Weight.Dims()
	return r
}

func (e *Embedding) Dim() int {
	_, c := e.Weight.Dims()
	return c
}

// Lookup returns the row for id. Ids outside the table resolve to row 0,
// the padding slot.
func (e *Embedding) Lookup(id int) mat.Vector {
	if id < 0 || id >= e.NumEmbeddings() {
		id = 0
	}
	return e.Weight.RowView(id)
}

// Linear computes y = Wx + b with W stored as (out, in). Bias may be nil.
type Linear struct {
	Weight *mat.Dense
	Bias   *mat.VecDense
}

func NewLinear(weight *mat.Dense, bias *mat.VecDense) (*Linear, error) {
	out, _ := weight.Dims()
	if bias != nil && bias.Len() != out {
		return nil, fmt.Errorf("linear: bias has %d elements, weight has %d rows", bias.Len(), out)
	}
	return &Linear{Weight: weight, Bias: bias}, nil
}

func (l *Linear) In() int {
	_, c := l.Weight.Dims()
	return c
}

func (l *Linear) Out() int {
	r, _ := l.Weight.Dims()
	return r
}

func (l *Linear) Forward(x mat.Vector) *mat.VecDense {
	y := mat.NewVecDense(l.Out(), nil)
	y.MulVec(l.Weight, x)
	if l.Bias != nil {
		y.AddVec(y, l.Bias)
	}
	return y
}

// GRUCell is a single GRU layer step with PyTorch gate order (reset,
// update, new) stacked along the rows of the weight matrices.
type GRUCell struct {
	WeightIH *mat.Dense
	WeightHH *mat.Dense
	BiasIH   *mat.VecDense
	BiasHH   *mat.VecDense

	hidden int
}

func NewGRUCell(wih, whh *mat.Dense, bih, bhh *mat.VecDense) (*GRUCell, error) {
	rows, _ := whh.Dims()
	if rows%3 != 0 {
		return nil, fmt.Errorf("gru: weight_hh has %d rows, want a multiple of 3", rows)
	}
	hidden := rows / 3
	if r, c := whh.Dims(); c != hidden {
		return nil, fmt.Errorf("gru: weight_hh is %dx%d, want %dx%d", r, c, 3*hidden, hidden)
	}
	if r, _ := wih.Dims(); r != 3*hidden {
		return nil, fmt.Errorf("gru: weight_ih has %d rows, want %d", r, 3*hidden)
	}
	if bih == nil || bhh == nil {
		return nil, fmt.Errorf("gru: biases are required")
	}
	if bih.Len() != 3*hidden || bhh.Len() != 3*hidden {
		return nil, fmt.Errorf("gru: biases have %d and %d elements, want %d", bih.Len(), bhh.Len(), 3*hidden)
	}
	return &GRUCell{WeightIH: wih, WeightHH: whh, BiasIH: bih, BiasHH: bhh, hidden: hidden}, nil
}

func (c *GRUCell) InputSize() int {
	_, cols := c.WeightIH.Dims()
	return cols
}

func (c *GRUCell) HiddenSize() int {
	return c.hidden
}

// Step advances the hidden state h by one input x:
//
//	r  = σ(W_ir x + b_ir + W_hr h + b_hr)
//	z  = σ(W_iz x + b_iz + W_hz h + b_hz)
//	n  = tanh(W_in x + b_in + r ⊙ (W_hn h + b_hn))
//	h' = (1 - z) ⊙ n + z ⊙ h
func (c *GRUCell) Step(x, h mat.Vector) *mat.VecDense {
	hs := c.hidden

	gi := mat.NewVecDense(3*hs, nil)
	gi.MulVec(c.WeightIH, x)
	gi.AddVec(gi, c.BiasIH)

	gh := mat.NewVecDense(3*hs, nil)
	gh.MulVec(c.WeightHH, h)
	gh.AddVec(gh, c.BiasHH)

	i := gi.RawVector().Data
	g := gh.RawVector().Data
	out := make([]float64, hs)
	for j := 0; j < hs; j++ {
		r := Sigmoid(i[j] + g[j])
		z := Sigmoid(i[hs+j] + g[hs+j])
		n := math.Tanh(i[2*hs+j] + r*g[2*hs+j])
		out[j] = (1-z)*n + z*h.AtVec(j)
	}
	return mat.NewVecDense(hs, out)
}

func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func TanhInPlace(v *mat.VecDense) *mat.VecDense {
	data := v.RawVector().Data
	for i, x := range data {
		data[i] = math.Tanh(x)
	}
	return v
}

// Concat joins vectors end to end. It panics if the result is empty.
func Concat(vs ...mat.Vector) *mat.VecDense {
	n := 0
	for _, v := range vs {
		n += v.Len()
	}
	out := make([]float64, 0, n)
	for _, v := range vs {
		for i := 0; i < v.Len(); i++ {
			out = append(out, v.AtVec(i))
		}
	}
	return mat.NewVecDense(n, out)
}

func Zeros(n int) *mat.VecDense {
	return mat.NewVecDense(n, nil)
}

// Softmax returns the normalized exponentials of xs, shifted by the maximum
// for numerical stability. An empty input yields an empty result.
func Softmax(xs []float64) []float64 {
	if len(xs) == 0 {
		return []float64{}
	}
	maxv := math.Inf(-1)
	for _, x := range xs {
		if x > maxv {
			maxv = x
		}
	}
	out := make([]float64, len(xs))
	var sum float64
	for i, x := range xs {
		out[i] = math.Exp(x - maxv)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest element; ties resolve to the
// lowest index and NaNs never win. It returns -1 for an empty vector.
func Argmax(v mat.Vector) int {
	best := -1
	bestVal := math.Inf(-1)
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) {
			continue
		}
		if best == -1 || x > bestVal {
			best, bestVal = i, x
		}
	}
	return best
}
