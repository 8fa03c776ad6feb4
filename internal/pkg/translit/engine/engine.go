// Package engine defines the transliteration engine contract shared by the
// inference backends. It maps the public model ids onto architecture
// variants, keeps the registry through which backends make themselves
// available, and caches one loaded engine per model.
package engine

import (
	"errors"
	"fmt"

	"translit/internal/pkg/translit/seq2seq"
)

var (
	ErrUnknownModel = errors.New("engine: unknown model id")
	// ErrCheckpoint marks a missing, unreadable or incomplete checkpoint.
	ErrCheckpoint = errors.New("engine: checkpoint unusable")
	// ErrMisconfigured marks hyperparameters that disagree with the
	// checkpoint they are applied to.
	ErrMisconfigured = errors.New("engine: misconfigured")
)

type Engine interface {
	Transliterate(word string) (seq2seq.Result, error)
	Info() EngineInfo
	Close() error
}

type EngineInfo struct {
	Backend    string
	ModelID    int
	Variant    Variant
	Checkpoint string
	InputSize  int
	TargetSize int
	MaxLength  int
}

type EngineConfig struct {
	CheckpointPath string
	ModelID        int
	EmbeddingSize  int
	HiddenSize     int
	MaxLength      int
	Backend        string
	RuntimeLibPath string
}

type Variant int

const (
	VariantPlain Variant = iota + 1
	VariantAttention
)

// VariantFor maps a public model id onto an architecture.
func VariantFor(modelID int) (Variant, error) {
	switch modelID {
	case 1:
		return VariantPlain, nil
	case 2:
		return VariantAttention, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownModel, modelID)
}

func (v Variant) String() string {
	switch v {
	case VariantPlain:
		return "plain"
	case VariantAttention:
		return "attention"
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// ParseVariant accepts the architecture names stored in checkpoint metadata.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "plain", "v1":
		return VariantPlain, nil
	case "attention", "v2":
		return VariantAttention, nil
	}
	return 0, fmt.Errorf("unknown architecture %q", s)
}

// Models lists the model ids VariantFor accepts.
func Models() []int {
	return []int{1, 2}
}
