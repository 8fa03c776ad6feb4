package seq2seq

import (
	"errors"
	"fmt"
	"strings"

	"translit/internal/pkg/translit/vocab"
)

var ErrMissingMarker = errors.New("seq2seq: target vocabulary lacks a boundary marker")

type Result struct {
	Output string
	// Unknown lists input characters that were encoded as padding.
	Unknown   []rune
	Truncated bool
	Steps     int
}

// Transliterator binds an encoder/decoder pair to its vocabularies and
// turns one word into one word.
type Transliterator struct {
	Encoder Encoder
	Decoder Decoder
	Input   *vocab.Vocabulary
	Target  *vocab.Vocabulary

	opts Options
}

func NewTransliterator(enc Encoder, dec Decoder, input, target *vocab.Vocabulary, maxLength int) (*Transliterator, error) {
	sos, ok := target.Index(vocab.SOSToken)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingMarker, vocab.SOSToken)
	}
	eos, ok := target.Index(vocab.EOSToken)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingMarker, vocab.EOSToken)
	}

	silent := []int{sos}
	if pad, ok := target.Index(vocab.PadToken); ok {
		silent = append(silent, pad)
	}

	return &Transliterator{
		Encoder: enc,
		Decoder: dec,
		Input:   input,
		Target:  target,
		opts: Options{
			SOS:       sos,
			EOS:       eos,
			MaxLength: maxLength,
			Silent:    silent,
		},
	}, nil
}

func (t *Transliterator) MaxLength() int {
	if t.opts.MaxLength <= 0 {
		return DefaultMaxLength
	}
	return t.opts.MaxLength
}

func (t *Transliterator) Transliterate(word string) (Result, error) {
	res, _, err := t.run(word, false)
	return res, err
}

// Trace is Transliterate that also returns the raw decoding trace with the
// attention weights of every step.
func (t *Transliterator) Trace(word string) (Result, *Trace, error) {
	return t.run(word, true)
}

func (t *Transliterator) run(word string, record bool) (Result, *Trace, error) {
	ids, unknown := t.Input.Encode(word)

	opts := t.opts
	opts.RecordAttention = record
	trace, err := Greedy(t.Encoder, t.Decoder, ids, opts)
	if err != nil {
		return Result{}, nil, err
	}

	var sb strings.Builder
	for _, id := range trace.Tokens {
		tok, _ := t.Target.Token(id)
		sb.WriteString(tok)
	}

	return Result{
		Output:    sb.String(),
		Unknown:   unknown,
		Truncated: !trace.Terminated,
		Steps:     trace.Steps,
	}, trace, nil
}
