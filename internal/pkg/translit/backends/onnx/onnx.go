// Package onnx runs transliteration models exported to ONNX through
// onnxruntime. The encoder and decoder are exported as two graphs next to
// the checkpoint archive, which still supplies the vocabularies; decoding
// uses the same greedy loop as the native backend.
//
// Graph contract:
//
//	<base>.encoder.onnx  input_ids int64[1,S]
//	                     -> outputs float32[1,S,W], hidden float32[1,H]
//	<base>.decoder.onnx  token int64[1], hidden float32[1,H]
//	                     [, encoder_outputs float32[1,S,W]]
//	                     -> logits float32[1,V], hidden float32[1,H]
//	                     [, attention float32[1,S]]
//
// The bracketed tensors exist for the attention variant only. W is 2H for
// the attention variant and H otherwise. Declared names, element types and
// the trailing dimensions of H, W and V are checked when the engine loads.
package onnx

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/mat"

	"translit/internal/pkg/translit/checkpoint"
	"translit/internal/pkg/translit/engine"
	"translit/internal/pkg/translit/seq2seq"
	"translit/internal/pkg/translit/vocab"
)

const Name = "onnx"

func init() {
	engine.Register(Name, "exported encoder and decoder graphs run by onnxruntime", New)
}

// GraphPaths returns the encoder and decoder graph paths that belong to a
// checkpoint archive.
func GraphPaths(checkpointPath string) (string, string) {
	base := strings.TrimSuffix(checkpointPath, ".npz")
	return base + ".encoder.onnx", base + ".decoder.onnx"
}

type Engine struct {
	tr   *seq2seq.Transliterator
	enc  *graphEncoder
	dec  *graphDecoder
	info engine.EngineInfo
}

func New(cfg engine.EngineConfig) (engine.Engine, error) {
	variant, err := engine.VariantFor(cfg.ModelID)
	if err != nil {
		return nil, err
	}

	encPath, decPath := GraphPaths(cfg.CheckpointPath)
	for _, p := range []string{encPath, decPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrCheckpoint, err)
		}
	}

	c, err := checkpoint.Load(cfg.CheckpointPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrCheckpoint, err)
	}
	pad, _ := c.Input.Index(vocab.PadToken)

	dims, err := engine.ResolveDims(cfg, c.Meta, variant)
	if err != nil {
		return nil, err
	}

	if err := acquireEnvironment(cfg.RuntimeLibPath); err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrMisconfigured, err)
	}

	attention := variant == engine.VariantAttention
	if err := validateGraphs(encPath, decPath, dims.Hidden, c.Target.Size(), attention); err != nil {
		releaseEnvironment()
		return nil, err
	}

	enc, err := newGraphEncoder(encPath, pad)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("%w: %w", engine.ErrCheckpoint, err)
	}
	dec, err := newGraphDecoder(decPath, attention)
	if err != nil {
		enc.destroy()
		releaseEnvironment()
		return nil, fmt.Errorf("%w: %w", engine.ErrCheckpoint, err)
	}

	tr, err := seq2seq.NewTransliterator(enc, dec, c.Input, c.Target, cfg.MaxLength)
	if err != nil {
		dec.destroy()
		enc.destroy()
		releaseEnvironment()
		return nil, fmt.Errorf("%w: %w", engine.ErrCheckpoint, err)
	}

	log.Debug().
		Str("encoder", encPath).
		Str("decoder", decPath).
		Stringer("variant", variant).
		Int("hidden_size", dims.Hidden).
		Msg("ONNX sessions created")

	return &Engine{
		tr:  tr,
		enc: enc,
		dec: dec,
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

func (e *Engine) Transliterate(word string) (seq2seq.Result, error) {
	res, err := e.tr.Transliterate(word)
	if err != nil {
		return res, fmt.Errorf("onnx inference: %w", err)
	}
	if len(res.Unknown) > 0 {
		log.Debug().Str("word", word).Str("unknown", string(res.Unknown)).Msg("Unknown characters encoded as padding")
	}
	return res, nil
}

func (e *Engine) Info() engine.EngineInfo {
	return e.info
}

func (e *Engine) Close() error {
	err := errors.Join(e.dec.destroy(), e.enc.destroy())
	return errors.Join(err, releaseEnvironment())
}

// graphEncoder adapts the encoder graph to seq2seq.Encoder.
type graphEncoder struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	pad     int
}

func newGraphEncoder(p string, pad int) (*graphEncoder, error) {
	session, err := ort.NewDynamicAdvancedSession(p,
		[]string{"input_ids"},
		[]string{"outputs", "hidden"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder session: %w", err)
	}
	return &graphEncoder{session: session, pad: pad}, nil
}

func (g *graphEncoder) Encode(ids []int) (*seq2seq.EncoderState, error) {
	empty := len(ids) == 0
	if empty {
		// zero-length sequences are not accepted by exported recurrent
		// graphs; encode a single padding step instead
		ids = []int{g.pad}
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(ids))), toInt64(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer input.Destroy()

	outputs := make([]ort.Value, 2)
	g.mu.Lock()
	err = g.session.Run([]ort.Value{input}, outputs)
	g.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to run encoder: %w", err)
	}
	defer destroyAll(outputs)

	seq, err := floatData(outputs[0], "outputs")
	if err != nil {
		return nil, err
	}
	hidden, err := floatData(outputs[1], "hidden")
	if err != nil {
		return nil, err
	}

	state := &seq2seq.EncoderState{Hidden: toVec(hidden)}
	if empty {
		return state, nil
	}
	if len(seq)%len(ids) != 0 {
		return nil, fmt.Errorf("encoder outputs of length %d do not split into %d positions", len(seq), len(ids))
	}
	width := len(seq) / len(ids)
	for s := range ids {
		state.Outputs = append(state.Outputs, toVec(seq[s*width:(s+1)*width]))
	}
	return state, nil
}

func (g *graphEncoder) destroy() error {
	return g.session.Destroy()
}

// graphDecoder adapts the decoder graph to seq2seq.Decoder.
type graphDecoder struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	attention bool
}

func newGraphDecoder(p string, attention bool) (*graphDecoder, error) {
	inputs := []string{"token", "hidden"}
	outputs := []string{"logits", "hidden"}
	if attention {
		inputs = append(inputs, "encoder_outputs")
		outputs = append(outputs, "attention")
	}
	session, err := ort.NewDynamicAdvancedSession(p, inputs, outputs, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder session: %w", err)
	}
	return &graphDecoder{session: session, attention: attention}, nil
}

func (g *graphDecoder) NeedsContext() bool { return g.attention }

func (g *graphDecoder) Step(token int, hidden *mat.VecDense, enc *seq2seq.EncoderState) (*seq2seq.StepResult, error) {
	if g.attention && enc == nil {
		return nil, fmt.Errorf("decoder: attention requires encoder outputs")
	}

	tokenTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(token)})
	if err != nil {
		return nil, fmt.Errorf("failed to create token tensor: %w", err)
	}
	defer tokenTensor.Destroy()

	hiddenTensor, err := ort.NewTensor(ort.NewShape(1, int64(hidden.Len())), fromVec(hidden))
	if err != nil {
		return nil, fmt.Errorf("failed to create hidden tensor: %w", err)
	}
	defer hiddenTensor.Destroy()

	inputs := []ort.Value{tokenTensor, hiddenTensor}
	outputs := make([]ort.Value, 2)

	if g.attention {
		if len(enc.Outputs) == 0 {
			return g.stepWithoutContext(inputs, hidden)
		}
		width := enc.Outputs[0].Len()
		flat := make([]float32, 0, len(enc.Outputs)*width)
		for _, out := range enc.Outputs {
			flat = append(flat, fromVec(out)...)
		}
		encTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(enc.Outputs)), int64(width)), flat)
		if err != nil {
			return nil, fmt.Errorf("failed to create encoder_outputs tensor: %w", err)
		}
		defer encTensor.Destroy()
		inputs = append(inputs, encTensor)
		outputs = make([]ort.Value, 3)
	}

	g.mu.Lock()
	err = g.session.Run(inputs, outputs)
	g.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to run decoder: %w", err)
	}
	defer destroyAll(outputs)

	logits, err := floatData(outputs[0], "logits")
	if err != nil {
		return nil, err
	}
	next, err := floatData(outputs[1], "hidden")
	if err != nil {
		return nil, err
	}

	res := &seq2seq.StepResult{Logits: toVec(logits), Hidden: toVec(next)}
	if g.attention {
		weights, err := floatData(outputs[2], "attention")
		if err != nil {
			return nil, err
		}
		res.Attention = toFloat64(weights)
	}
	return res, nil
}

// stepWithoutContext handles an attention decoder over an empty encoding by
// feeding a single zero position, which yields the zero context.
func (g *graphDecoder) stepWithoutContext(inputs []ort.Value, hidden *mat.VecDense) (*seq2seq.StepResult, error) {
	zero, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(2*hidden.Len())))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder_outputs tensor: %w", err)
	}
	defer zero.Destroy()

	outputs := make([]ort.Value, 3)
	g.mu.Lock()
	err = g.session.Run(append(inputs, zero), outputs)
	g.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to run decoder: %w", err)
	}
	defer destroyAll(outputs)

	logits, err := floatData(outputs[0], "logits")
	if err != nil {
		return nil, err
	}
	next, err := floatData(outputs[1], "hidden")
	if err != nil {
		return nil, err
	}
	return &seq2seq.StepResult{Logits: toVec(logits), Hidden: toVec(next), Attention: []float64{}}, nil
}

func (g *graphDecoder) destroy() error {
	return g.session.Destroy()
}

func floatData(v ort.Value, name string) ([]float32, error) {
	if v == nil {
		return nil, fmt.Errorf("no %s output from model", name)
	}
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected %s tensor type", name)
	}
	data := t.GetData()
	if len(data) == 0 {
		return nil, fmt.Errorf("empty %s output from model", name)
	}
	return data, nil
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
