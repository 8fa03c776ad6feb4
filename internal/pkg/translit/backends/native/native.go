// Package native runs transliteration checkpoints with the pure Go
// recurrent implementation in seq2seq.
package native

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"translit/internal/pkg/translit/checkpoint"
	"translit/internal/pkg/translit/engine"
	"translit/internal/pkg/translit/seq2seq"
)

const Name = "native"

func init() {
	engine.Register(Name, "pure Go GRU inference over the checkpoint weights", New)
}

type Engine struct {
	tr   *seq2seq.Transliterator
	info engine.EngineInfo
}

func New(cfg engine.EngineConfig) (engine.Engine, error) {
	variant, err := engine.VariantFor(cfg.ModelID)
	if err != nil {
		return nil, err
	}

	c, err := checkpoint.Load(cfg.CheckpointPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrCheckpoint, err)
	}

	dims, err := engine.ResolveDims(cfg, c.Meta, variant)
	if err != nil {
		return nil, err
	}

	var (
		enc seq2seq.Encoder
		dec seq2seq.Decoder
	)
	switch variant {
	case engine.VariantPlain:
		e, d, berr := seq2seq.BuildPlain(c, dims)
		enc, dec, err = e, d, berr
	case engine.VariantAttention:
		e, d, berr := seq2seq.BuildAttention(c, dims)
		enc, dec, err = e, d, berr
	}
	if err != nil {
		return nil, classify(cfg.CheckpointPath, err)
	}

	tr, err := seq2seq.NewTransliterator(enc, dec, c.Input, c.Target, cfg.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", engine.ErrCheckpoint, cfg.CheckpointPath, err)
	}

	return &Engine{
		tr: tr,
		info: engine.EngineInfo{
			Backend:    Name,
			ModelID:    cfg.ModelID,
			Variant:    variant,
			Checkpoint: cfg.CheckpointPath,
			InputSize:  c.Input.Size(),
			TargetSize: c.Target.Size(),
			MaxLength:  tr.MaxLength(),
		},
	}, nil
}

// classify maps build failures onto the engine error kinds: absent tensors
// mean a broken checkpoint, anything else means the configured shapes do
// not fit it.
func classify(p string, err error) error {
	if errors.Is(err, checkpoint.ErrMissingTensor) {
		return fmt.Errorf("%w: %s: %w", engine.ErrCheckpoint, p, err)
	}
	return fmt.Errorf("%w: %s: %w", engine.ErrMisconfigured, p, err)
}

func (e *Engine) Transliterate(word string) (seq2seq.Result, error) {
	res, err := e.tr.Transliterate(word)
	if err != nil {
		return res, err
	}
	if len(res.Unknown) > 0 {
		log.Debug().
			Str("word", word).
			Str("unknown", string(res.Unknown)).
			Int("model_id", e.info.ModelID).
			Msg("Unknown characters encoded as padding")
	}
	if res.Truncated {
		log.Debug().Str("word", word).Int("max_length", e.info.MaxLength).Msg("Decoding hit the length cap")
	}
	return res, nil
}

// Trace exposes the decoding trace, including attention weights for the
// attention variant.
func (e *Engine) Trace(word string) (seq2seq.Result, *seq2seq.Trace, error) {
	return e.tr.Trace(word)
}

func (e *Engine) Info() engine.EngineInfo {
	return e.info
}

func (e *Engine) Close() error {
	return nil
}
