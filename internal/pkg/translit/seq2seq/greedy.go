package seq2seq

import (
	"fmt"
	"slices"

	"translit/internal/pkg/translit/nn"
)

const DefaultMaxLength = 20

type Options struct {
	SOS       int
	EOS       int
	MaxLength int
	// Silent lists indices that are fed back to the decoder but never
	// emitted, such as padding and the start marker.
	Silent []int
	// RecordAttention keeps the per-step attention weights in the trace.
	RecordAttention bool
}

type Trace struct {
	Tokens     []int
	Steps      int
	Terminated bool
	Attention  [][]float64
}

// Greedy encodes ids once and then decodes from opts.SOS, always taking
// the highest scoring token, until opts.EOS is produced or MaxLength steps
// have run. The end marker is never part of Tokens.
func Greedy(enc Encoder, dec Decoder, ids []int, opts Options) (*Trace, error) {
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	state, err := enc.Encode(ids)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	trace := &Trace{}
	hidden := state.Hidden
	token := opts.SOS

	for trace.Steps < maxLength {
		step, err := dec.Step(token, hidden, state)
		if err != nil {
			return nil, fmt.Errorf("decode step %d: %w", trace.Steps, err)
		}
		trace.Steps++
		if opts.RecordAttention && step.Attention != nil {
			trace.Attention = append(trace.Attention, step.Attention)
		}

		next := nn.Argmax(step.Logits)
		if next < 0 {
			return nil, fmt.Errorf("decode step %d: no finite logits", trace.Steps-1)
		}
		if next == opts.EOS {
			trace.Terminated = true
			break
		}
		if !slices.Contains(opts.Silent, next) {
			trace.Tokens = append(trace.Tokens, next)
		}

		hidden = step.Hidden
		token = next
	}

	return trace, nil
}
