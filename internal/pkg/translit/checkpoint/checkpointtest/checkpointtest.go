// Package checkpointtest builds small checkpoints with hand-set weights for
// tests. The decoders they describe ignore the input word and behave as a
// lookup table from the previous target token to the next one, which makes
// decoding results predictable for both architectures.
package checkpointtest

import (
	"math"
	"path/filepath"
	"testing"

	"translit/internal/pkg/translit/checkpoint"
	"translit/internal/pkg/translit/vocab"
)

var (
	InputWords  = []string{"namaste", "ghar"}
	TargetWords = []string{"नमस्ते", "घर"}
)

const (
	gateScale = 10
	// keeps the GRU update gate closed so the new state depends only on
	// the current input
	updateBias = -30
)

type Fixture struct {
	Checkpoint *checkpoint.Checkpoint
	Embedding  int
	Hidden     int
}

// Plain returns a unidirectional encoder / plain decoder checkpoint whose
// decoder follows transitions (keys and values are target tokens). Tokens
// without a transition lead to the end marker.
func Plain(t testing.TB, transitions map[string]string) Fixture {
	t.Helper()
	return build(t, transitions, false)
}

// Attention is Plain for the bidirectional encoder and attention decoder.
func Attention(t testing.TB, transitions map[string]string) Fixture {
	t.Helper()
	return build(t, transitions, true)
}

// Save writes the fixture into dir and returns the archive path.
func Save(t testing.TB, dir, name string, f Fixture) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := checkpoint.Save(p, f.Checkpoint); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	return p
}

func build(t testing.TB, transitions map[string]string, attention bool) Fixture {
	input := vocab.Build(InputWords, vocab.PadToken)
	target := vocab.Build(TargetWords, vocab.PadToken, vocab.SOSToken, vocab.EOSToken)
	c := checkpoint.New(input, target)

	v := target.Size()
	e, h := v, v
	vin := input.Size()

	index := func(tok string) int {
		id, ok := target.Index(tok)
		if !ok {
			t.Fatalf("token %q not in target vocabulary", tok)
		}
		return id
	}

	eos := index(vocab.EOSToken)
	next := make([]int, v)
	for i := range next {
		next[i] = eos
	}
	for from, to := range transitions {
		next[index(from)] = index(to)
	}

	put := func(name string, shape []int, data []float32) {
		if err := c.Put(name, shape, data); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}

	put("encoder.embedding.weight", []int{vin, e}, noise(vin*e, 1))
	put("encoder.rnn.weight_ih_l0", []int{3 * h, e}, noise(3*h*e, 2))
	put("encoder.rnn.weight_hh_l0", []int{3 * h, h}, noise(3*h*h, 3))
	put("encoder.rnn.bias_ih_l0", []int{3 * h}, noise(3*h, 4))
	put("encoder.rnn.bias_hh_l0", []int{3 * h}, noise(3*h, 5))

	decInput := e
	if attention {
		decInput = e + 2*h
		put("encoder.rnn.weight_ih_l0_reverse", []int{3 * h, e}, noise(3*h*e, 6))
		put("encoder.rnn.weight_hh_l0_reverse", []int{3 * h, h}, noise(3*h*h, 7))
		put("encoder.rnn.bias_ih_l0_reverse", []int{3 * h}, noise(3*h, 8))
		put("encoder.rnn.bias_hh_l0_reverse", []int{3 * h}, noise(3*h, 9))
		put("encoder.fc.weight", []int{h, 2 * h}, noise(2*h*h, 10))
		put("encoder.fc.bias", []int{h}, noise(h, 11))
		put("decoder.attention.attn.weight", []int{h, 3 * h}, noise(3*h*h, 12))
		put("decoder.attention.attn.bias", []int{h}, noise(h, 13))
		put("decoder.attention.v.weight", []int{1, h}, noise(h, 14))
	}

	put("decoder.embedding.weight", []int{v, e}, identity(v, e))

	wih := make([]float32, 3*h*decInput)
	for prev, nxt := range next {
		// new-gate rows start at 2h; only the embedding columns are used
		wih[(2*h+nxt)*decInput+prev] = gateScale
	}
	bih := make([]float32, 3*h)
	for j := h; j < 2*h; j++ {
		bih[j] = updateBias
	}
	put("decoder.rnn.weight_ih_l0", []int{3 * h, decInput}, wih)
	put("decoder.rnn.weight_hh_l0", []int{3 * h, h}, make([]float32, 3*h*h))
	put("decoder.rnn.bias_ih_l0", []int{3 * h}, bih)
	put("decoder.rnn.bias_hh_l0", []int{3 * h}, make([]float32, 3*h))
	put("decoder.fc.weight", []int{v, h}, identity(v, h))
	put("decoder.fc.bias", []int{v}, make([]float32, v))

	return Fixture{Checkpoint: c, Embedding: e, Hidden: h}
}

func identity(rows, cols int) []float32 {
	out := make([]float32, rows*cols)
	for i := 0; i < rows && i < cols; i++ {
		out[i*cols+i] = 1
	}
	return out
}

// noise is a deterministic stand-in for trained weights.
func noise(n int, seed int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(float64(i+1)*0.37+float64(seed)))
	}
	return out
}
