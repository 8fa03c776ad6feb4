package seq2seq

import (
	"errors"
	"math"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"translit/internal/pkg/translit/checkpoint"
	"translit/internal/pkg/translit/checkpoint/checkpointtest"
	"translit/internal/pkg/translit/nn"
	"translit/internal/pkg/translit/vocab"
)

// namaste spells नमस्ते one target character per step.
var namaste = map[string]string{
	vocab.SOSToken: "न",
	"न":            "म",
	"म":            "स",
	"स":            "्",
	"्":            "त",
	"त":            "े",
}

var cycle = map[string]string{
	vocab.SOSToken: "न",
	"न":            "म",
	"म":            "न",
}

type stubEncoder struct {
	got    [][]int
	hidden int
}

func (e *stubEncoder) Encode(ids []int) (*EncoderState, error) {
	e.got = append(e.got, ids)
	return &EncoderState{Hidden: nn.Zeros(e.hidden)}, nil
}

// scriptDecoder emits a one-hot logit for script[step] regardless of input.
type scriptDecoder struct {
	vocabSize int
	script    []int
	inputs    []int
}

func (d *scriptDecoder) NeedsContext() bool { return false }

func (d *scriptDecoder) Step(token int, hidden *mat.VecDense, _ *EncoderState) (*StepResult, error) {
	d.inputs = append(d.inputs, token)
	logits := nn.Zeros(d.vocabSize)
	step := len(d.inputs) - 1
	if step < len(d.script) {
		logits.SetVec(d.script[step], 1)
	} else {
		logits.SetVec(5, 1)
	}
	return &StepResult{Logits: logits, Hidden: hidden}, nil
}

func TestGreedyStopsAtEndMarker(t *testing.T) {
	enc := &stubEncoder{hidden: 2}
	dec := &scriptDecoder{vocabSize: 6, script: []int{3, 4, 2, 5}}

	trace, err := Greedy(enc, dec, []int{1, 2}, Options{SOS: 1, EOS: 2})
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4}, trace.Tokens)
	assert.True(t, trace.Terminated)
	assert.Equal(t, 3, trace.Steps)
	assert.Equal(t, []int{1, 3, 4}, dec.inputs, "selected tokens are fed back starting from SOS")
	assert.Equal(t, [][]int{{1, 2}}, enc.got, "encoder runs once")
}

func TestGreedyTruncatesAtMaxLength(t *testing.T) {
	dec := &scriptDecoder{vocabSize: 6}

	trace, err := Greedy(&stubEncoder{hidden: 1}, dec, nil, Options{SOS: 1, EOS: 2})
	require.NoError(t, err)
	assert.Len(t, trace.Tokens, DefaultMaxLength)
	assert.False(t, trace.Terminated)

	dec = &scriptDecoder{vocabSize: 6}
	trace, err = Greedy(&stubEncoder{hidden: 1}, dec, nil, Options{SOS: 1, EOS: 2, MaxLength: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 5, 5}, trace.Tokens)
}

func TestGreedySilentTokensAreFedBackButNotEmitted(t *testing.T) {
	dec := &scriptDecoder{vocabSize: 6, script: []int{0, 3, 1, 4, 2}}

	trace, err := Greedy(&stubEncoder{hidden: 1}, dec, []int{}, Options{SOS: 1, EOS: 2, Silent: []int{0, 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, trace.Tokens)
	assert.Equal(t, []int{1, 0, 3, 1, 4}, dec.inputs)
}

type nanDecoder struct{}

func (nanDecoder) NeedsContext() bool { return false }

func (nanDecoder) Step(_ int, hidden *mat.VecDense, _ *EncoderState) (*StepResult, error) {
	return &StepResult{Logits: mat.NewVecDense(2, []float64{math.NaN(), math.NaN()}), Hidden: hidden}, nil
}

func TestGreedyRejectsNonFiniteLogits(t *testing.T) {
	_, err := Greedy(&stubEncoder{hidden: 1}, nanDecoder{}, []int{1}, Options{SOS: 1, EOS: 0})
	require.Error(t, err)
}

func newTransliterator(t *testing.T, f checkpointtest.Fixture, attention bool) *Transliterator {
	t.Helper()
	dims := Dims{Embedding: f.Embedding, Hidden: f.Hidden}

	var (
		enc Encoder
		dec Decoder
	)
	if attention {
		e, d, err := BuildAttention(f.Checkpoint, dims)
		require.NoError(t, err)
		enc, dec = e, d
	} else {
		e, d, err := BuildPlain(f.Checkpoint, dims)
		require.NoError(t, err)
		enc, dec = e, d
	}

	tr, err := NewTransliterator(enc, dec, f.Checkpoint.Input, f.Checkpoint.Target, DefaultMaxLength)
	require.NoError(t, err)
	return tr
}

func TestTransliterateBothArchitectures(t *testing.T) {
	for _, tc := range []struct {
		name      string
		attention bool
	}{
		{name: "plain"},
		{name: "attention", attention: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var f checkpointtest.Fixture
			if tc.attention {
				f = checkpointtest.Attention(t, namaste)
			} else {
				f = checkpointtest.Plain(t, namaste)
			}
			tr := newTransliterator(t, f, tc.attention)

			res, err := tr.Transliterate("namaste")
			require.NoError(t, err)
			assert.Equal(t, "नमस्ते", res.Output)
			assert.False(t, res.Truncated)
			assert.Empty(t, res.Unknown)
			assert.Equal(t, 7, res.Steps)

			again, err := tr.Transliterate("namaste")
			require.NoError(t, err)
			assert.Equal(t, res, again, "decoding is deterministic")
		})
	}
}

func TestTransliterateOutputUsesOnlyTargetCharacters(t *testing.T) {
	f := checkpointtest.Attention(t, cycle)
	tr := newTransliterator(t, f, true)

	res, err := tr.Transliterate("ghar")
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, DefaultMaxLength, utf8.RuneCountInString(res.Output))

	for _, r := range res.Output {
		tok := string(r)
		_, ok := f.Checkpoint.Target.Index(tok)
		assert.True(t, ok, "%q is a target character", tok)
		assert.NotContains(t, []string{vocab.PadToken, vocab.SOSToken, vocab.EOSToken}, tok)
	}
}

func TestTransliterateUnknownCharactersUsePadding(t *testing.T) {
	tr := newTransliterator(t, checkpointtest.Plain(t, namaste), false)

	res, err := tr.Transliterate("nam@ste!")
	require.NoError(t, err)
	assert.Equal(t, []rune{'@', '!'}, res.Unknown)
	assert.Equal(t, "नमस्ते", res.Output)
}

func TestTransliterateEmptyWord(t *testing.T) {
	for _, attention := range []bool{false, true} {
		var f checkpointtest.Fixture
		if attention {
			f = checkpointtest.Attention(t, nil)
		} else {
			f = checkpointtest.Plain(t, nil)
		}
		tr := newTransliterator(t, f, attention)

		res, err := tr.Transliterate("")
		require.NoError(t, err)
		assert.Empty(t, res.Output)
		assert.False(t, res.Truncated)
	}
}

func TestAttentionWeightsAreDistributions(t *testing.T) {
	tr := newTransliterator(t, checkpointtest.Attention(t, namaste), true)

	_, trace, err := tr.Trace("namaste")
	require.NoError(t, err)
	require.Len(t, trace.Attention, trace.Steps)

	for step, weights := range trace.Attention {
		require.Len(t, weights, len("namaste"))
		sum := 0.0
		for _, w := range weights {
			assert.GreaterOrEqual(t, w, 0.0)
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "step %d", step)
	}
}

func TestBiEncoderShapes(t *testing.T) {
	f := checkpointtest.Attention(t, nil)
	enc, _, err := BuildAttention(f.Checkpoint, Dims{Embedding: f.Embedding, Hidden: f.Hidden})
	require.NoError(t, err)

	ids, _ := f.Checkpoint.Input.Encode("ghar")
	state, err := enc.Encode(ids)
	require.NoError(t, err)
	require.Len(t, state.Outputs, 4)
	for _, out := range state.Outputs {
		assert.Equal(t, 2*f.Hidden, out.Len())
	}
	assert.Equal(t, f.Hidden, state.Hidden.Len())

	empty, err := enc.Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Outputs)
	bias, err := f.Checkpoint.Vector("encoder.fc.bias", f.Hidden)
	require.NoError(t, err)
	for i := 0; i < f.Hidden; i++ {
		assert.InDelta(t, math.Tanh(bias.AtVec(i)), empty.Hidden.AtVec(i), 1e-12)
	}
}

func TestAttentionDecoderRequiresEncoderState(t *testing.T) {
	f := checkpointtest.Attention(t, nil)
	_, dec, err := BuildAttention(f.Checkpoint, Dims{Embedding: f.Embedding, Hidden: f.Hidden})
	require.NoError(t, err)
	assert.True(t, dec.NeedsContext())

	_, err = dec.Step(1, nn.Zeros(f.Hidden), nil)
	require.Error(t, err)

	res, err := dec.Step(1, nn.Zeros(f.Hidden), &EncoderState{})
	require.NoError(t, err)
	assert.Empty(t, res.Attention)
}

func TestBuildRejectsMismatchedDims(t *testing.T) {
	f := checkpointtest.Plain(t, namaste)

	_, _, err := BuildPlain(f.Checkpoint, Dims{Embedding: 64, Hidden: 256})
	var shapeErr *checkpoint.ShapeError
	require.True(t, errors.As(err, &shapeErr))

	_, _, err = BuildAttention(f.Checkpoint, Dims{Embedding: f.Embedding, Hidden: f.Hidden})
	require.ErrorIs(t, err, checkpoint.ErrMissingTensor, "plain checkpoints lack reverse weights")

	_, _, err = BuildPlain(f.Checkpoint, Dims{})
	require.Error(t, err)
}

func TestNewTransliteratorRequiresMarkers(t *testing.T) {
	f := checkpointtest.Plain(t, nil)
	enc, dec, err := BuildPlain(f.Checkpoint, Dims{Embedding: f.Embedding, Hidden: f.Hidden})
	require.NoError(t, err)

	_, err = NewTransliterator(enc, dec, f.Checkpoint.Input, vocab.Build([]string{"घर"}, vocab.PadToken), 0)
	require.ErrorIs(t, err, ErrMissingMarker)
}
