package native

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translit/internal/pkg/translit/checkpoint"
	"translit/internal/pkg/translit/checkpoint/checkpointtest"
	"translit/internal/pkg/translit/engine"
	"translit/internal/pkg/translit/seq2seq"
	"translit/internal/pkg/translit/vocab"
)

var ghar = map[string]string{
	vocab.SOSToken: "घ",
	"घ":            "र",
}

func config(f checkpointtest.Fixture, p string, modelID int) engine.EngineConfig {
	return engine.EngineConfig{
		CheckpointPath: p,
		ModelID:        modelID,
		EmbeddingSize:  f.Embedding,
		HiddenSize:     f.Hidden,
		MaxLength:      seq2seq.DefaultMaxLength,
	}
}

func TestNativeEngine(t *testing.T) {
	for _, tc := range []struct {
		name    string
		modelID int
		fixture func(testing.TB, map[string]string) checkpointtest.Fixture
		variant engine.Variant
	}{
		{name: "v1", modelID: 1, fixture: checkpointtest.Plain, variant: engine.VariantPlain},
		{name: "v2", modelID: 2, fixture: checkpointtest.Attention, variant: engine.VariantAttention},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := tc.fixture(t, ghar)
			p := checkpointtest.Save(t, t.TempDir(), "model.npz", f)

			eng, err := engine.New(Name, config(f, p, tc.modelID))
			require.NoError(t, err)
			defer eng.Close()

			res, err := eng.Transliterate("ghar")
			require.NoError(t, err)
			assert.Equal(t, "घर", res.Output)

			info := eng.Info()
			assert.Equal(t, Name, info.Backend)
			assert.Equal(t, tc.variant, info.Variant)
			assert.Equal(t, f.Checkpoint.Target.Size(), info.TargetSize)
			assert.Equal(t, f.Checkpoint.Input.Size(), info.InputSize)
			assert.Equal(t, seq2seq.DefaultMaxLength, info.MaxLength)
		})
	}
}

func TestNativeTraceRecordsAttention(t *testing.T) {
	f := checkpointtest.Attention(t, ghar)
	p := checkpointtest.Save(t, t.TempDir(), "v2.npz", f)

	eng, err := New(config(f, p, 2))
	require.NoError(t, err)

	_, trace, err := eng.(*Engine).Trace("ghar")
	require.NoError(t, err)
	assert.Len(t, trace.Attention, trace.Steps)
}

func TestNativeLoadFailures(t *testing.T) {
	dir := t.TempDir()
	plain := checkpointtest.Plain(t, ghar)
	plainPath := checkpointtest.Save(t, dir, "v1.npz", plain)

	t.Run("missing file", func(t *testing.T) {
		_, err := New(config(plain, filepath.Join(dir, "absent.npz"), 1))
		assert.ErrorIs(t, err, engine.ErrCheckpoint)
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := New(config(plain, plainPath, 3))
		assert.ErrorIs(t, err, engine.ErrUnknownModel)
	})

	t.Run("hidden size mismatch", func(t *testing.T) {
		cfg := config(plain, plainPath, 1)
		cfg.HiddenSize = 256
		_, err := New(cfg)
		assert.ErrorIs(t, err, engine.ErrMisconfigured)
		var shapeErr *checkpoint.ShapeError
		assert.True(t, errors.As(err, &shapeErr))
	})

	t.Run("plain checkpoint as attention model", func(t *testing.T) {
		_, err := New(config(plain, plainPath, 2))
		assert.ErrorIs(t, err, engine.ErrCheckpoint)
		assert.ErrorIs(t, err, checkpoint.ErrMissingTensor)
	})

	t.Run("target vocabulary without markers", func(t *testing.T) {
		c := checkpoint.New(plain.Checkpoint.Input, vocab.Build(checkpointtest.TargetWords, vocab.PadToken))
		for name, tensor := range plain.Checkpoint.Tensors {
			require.NoError(t, c.Put(name, tensor.Shape, tensor.Data))
		}
		// the decoder tables are sized for the full target vocabulary
		_, err := New(config(plain, checkpointtest.Save(t, dir, "nomarkers.npz", checkpointtest.Fixture{Checkpoint: c}), 1))
		assert.Error(t, err)
	})
}

func TestNativeUsesRecordedDims(t *testing.T) {
	f := checkpointtest.Plain(t, ghar)
	f.Checkpoint.Meta = &checkpoint.Meta{Architecture: "plain", EmbeddingSize: f.Embedding, HiddenSize: f.Hidden}
	p := checkpointtest.Save(t, t.TempDir(), "v1.npz", f)

	eng, err := New(engine.EngineConfig{CheckpointPath: p, ModelID: 1})
	require.NoError(t, err)
	res, err := eng.Transliterate("ghar")
	require.NoError(t, err)
	assert.Equal(t, "घर", res.Output)
}
