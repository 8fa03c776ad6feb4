package engine

import (
	"fmt"

	"translit/internal/pkg/translit/checkpoint"
	"translit/internal/pkg/translit/seq2seq"
)

// ResolveDims merges the configured hyperparameters with the ones recorded
// in the checkpoint. Zero config values defer to the checkpoint; values set
// on both sides must agree, as must the recorded architecture.
func ResolveDims(cfg EngineConfig, meta *checkpoint.Meta, variant Variant) (seq2seq.Dims, error) {
	dims := seq2seq.Dims{Embedding: cfg.EmbeddingSize, Hidden: cfg.HiddenSize}
	if meta == nil {
		return dims, nil
	}

	if meta.Architecture != "" {
		arch, err := ParseVariant(meta.Architecture)
		if err != nil {
			return dims, fmt.Errorf("%w: %w", ErrCheckpoint, err)
		}
		if arch != variant {
			return dims, fmt.Errorf("%w: model %d expects a %s checkpoint, got %s", ErrMisconfigured, cfg.ModelID, variant, arch)
		}
	}

	merge := func(name string, have *int, recorded int) error {
		switch {
		case recorded == 0:
		case *have == 0:
			*have = recorded
		case *have != recorded:
			return fmt.Errorf("%w: %s is %d but the checkpoint was trained with %d", ErrMisconfigured, name, *have, recorded)
		}
		return nil
	}
	if err := merge("embedding_size", &dims.Embedding, meta.EmbeddingSize); err != nil {
		return dims, err
	}
	if err := merge("hidden_size", &dims.Hidden, meta.HiddenSize); err != nil {
		return dims, err
	}
	return dims, nil
}
