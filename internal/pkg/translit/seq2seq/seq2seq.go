// Package seq2seq implements the recurrent encoder/decoder pairs used for
// transliteration and the greedy decoding loop that drives them.
package seq2seq

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"translit/internal/pkg/translit/nn"
)

// EncoderState is the result of encoding one word: one output vector per
// input position and the summary state handed to the decoder.
type EncoderState struct {
	Outputs []*mat.VecDense
	Hidden  *mat.VecDense
}

type Encoder interface {
	Encode(ids []int) (*EncoderState, error)
}

// StepResult carries the output of one decoder step. Attention is nil for
// decoders that do not attend over the encoder outputs.
type StepResult struct {
	Logits    *mat.VecDense
	Hidden    *mat.VecDense
	Attention []float64
}

type Decoder interface {
	Step(token int, hidden *mat.VecDense, enc *EncoderState) (*StepResult, error)
	// NeedsContext reports whether Step reads enc.Outputs.
	NeedsContext() bool
}

// PlainEncoder embeds each index and runs a unidirectional GRU.
type PlainEncoder struct {
	Embedding *nn.Embedding
	RNN       *nn.GRUCell
}

func (e *PlainEncoder) Encode(ids []int) (*EncoderState, error) {
	h := nn.Zeros(e.RNN.HiddenSize())
	outputs := make([]*mat.VecDense, 0, len(ids))
	for _, id := range ids {
		h = e.RNN.Step(e.Embedding.Lookup(id), h)
		outputs = append(outputs, h)
	}
	return &EncoderState{Outputs: outputs, Hidden: h}, nil
}

// BiEncoder runs a bidirectional GRU. Outputs concatenate the forward and
// backward states per position; the two final states are projected back to
// the decoder width through FC and tanh.
type BiEncoder struct {
	Embedding *nn.Embedding
	Forward   *nn.GRUCell
	Backward  *nn.GRUCell
	FC        *nn.Linear
}

func (e *BiEncoder) Encode(ids []int) (*EncoderState, error) {
	n := len(ids)
	embedded := make([]mat.Vector, n)
	for i, id := range ids {
		embedded[i] = e.Embedding.Lookup(id)
	}

	fwd := make([]*mat.VecDense, n)
	hf := nn.Zeros(e.Forward.HiddenSize())
	for t := 0; t < n; t++ {
		hf = e.Forward.Step(embedded[t], hf)
		fwd[t] = hf
	}

	bwd := make([]*mat.VecDense, n)
	hb := nn.Zeros(e.Backward.HiddenSize())
	for t := n - 1; t >= 0; t-- {
		hb = e.Backward.Step(embedded[t], hb)
		bwd[t] = hb
	}

	outputs := make([]*mat.VecDense, n)
	for t := 0; t < n; t++ {
		outputs[t] = nn.Concat(fwd[t], bwd[t])
	}

	hidden := nn.TanhInPlace(e.FC.Forward(nn.Concat(hf, hb)))
	return &EncoderState{Outputs: outputs, Hidden: hidden}, nil
}

// Attention scores every encoder position against the decoder state with
// v · tanh(W [hidden ; output] + b).
type Attention struct {
	Attn *nn.Linear
	V    *nn.Linear
}

// Weights returns a distribution over the encoder positions. It is empty
// when there are no positions.
func (a *Attention) Weights(hidden mat.Vector, outputs []*mat.VecDense) []float64 {
	scores := make([]float64, len(outputs))
	for s, out := range outputs {
		energy := nn.TanhInPlace(a.Attn.Forward(nn.Concat(hidden, out)))
		scores[s] = a.V.Forward(energy).AtVec(0)
	}
	return nn.Softmax(scores)
}

// Context is the weighted sum of outputs; width is used when there are no
// positions to sum.
func Context(weights []float64, outputs []*mat.VecDense, width int) *mat.VecDense {
	ctx := nn.Zeros(width)
	for s, w := range weights {
		ctx.AddScaledVec(ctx, w, outputs[s])
	}
	return ctx
}

// PlainDecoder embeds the previous token, advances the GRU one step and
// projects the new state onto the target vocabulary.
type PlainDecoder struct {
	Embedding *nn.Embedding
	RNN       *nn.GRUCell
	FC        *nn.Linear
}

func (d *PlainDecoder) NeedsContext() bool { return false }

func (d *PlainDecoder) Step(token int, hidden *mat.VecDense, _ *EncoderState) (*StepResult, error) {
	if hidden == nil || hidden.Len() != d.RNN.HiddenSize() {
		return nil, fmt.Errorf("decoder: hidden state width mismatch")
	}
	h := d.RNN.Step(d.Embedding.Lookup(token), hidden)
	return &StepResult{Logits: d.FC.Forward(h), Hidden: h}, nil
}

// AttentionDecoder feeds the GRU with the token embedding concatenated with
// the attention context computed from the incoming hidden state.
type AttentionDecoder struct {
	Embedding *nn.Embedding
	Attention *Attention
	RNN       *nn.GRUCell
	FC        *nn.Linear
}

func (d *AttentionDecoder) NeedsContext() bool { return true }

func (d *AttentionDecoder) contextWidth() int {
	return d.RNN.InputSize() - d.Embedding.Dim()
}

func (d *AttentionDecoder) Step(token int, hidden *mat.VecDense, enc *EncoderState) (*StepResult, error) {
	if enc == nil {
		return nil, fmt.Errorf("decoder: attention requires encoder outputs")
	}
	if hidden == nil || hidden.Len() != d.RNN.HiddenSize() {
		return nil, fmt.Errorf("decoder: hidden state width mismatch")
	}
	for _, out := range enc.Outputs {
		if out.Len() != d.contextWidth() {
			return nil, fmt.Errorf("decoder: encoder output width %d, want %d", out.Len(), d.contextWidth())
		}
	}

	weights := d.Attention.Weights(hidden, enc.Outputs)
	ctx := Context(weights, enc.Outputs, d.contextWidth())

	h := d.RNN.Step(nn.Concat(d.Embedding.Lookup(token), ctx), hidden)
	return &StepResult{Logits: d.FC.Forward(h), Hidden: h, Attention: weights}, nil
}
