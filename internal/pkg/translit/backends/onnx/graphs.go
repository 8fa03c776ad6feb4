package onnx

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"translit/internal/pkg/translit/engine"
)

// tensorSpec is one named tensor a graph must expose. A zero last means the
// trailing dimension is not checked.
type tensorSpec struct {
	name   string
	output bool
	dtype  ort.TensorElementDataType
	last   int64
}

// graphContract lists the tensors of the encoder and decoder graphs for a
// model with the given hidden width and target vocabulary size. A zero
// hidden leaves the hidden dimensions unchecked.
func graphContract(hidden, targetSize int, attention bool) (enc, dec []tensorSpec) {
	h := int64(hidden)
	width := h
	if attention {
		width = 2 * h
	}

	enc = []tensorSpec{
		{name: "input_ids", dtype: ort.TensorElementDataTypeInt64},
		{name: "outputs", output: true, dtype: ort.TensorElementDataTypeFloat, last: width},
		{name: "hidden", output: true, dtype: ort.TensorElementDataTypeFloat, last: h},
	}
	dec = []tensorSpec{
		{name: "token", dtype: ort.TensorElementDataTypeInt64},
		{name: "hidden", dtype: ort.TensorElementDataTypeFloat, last: h},
		{name: "logits", output: true, dtype: ort.TensorElementDataTypeFloat, last: int64(targetSize)},
		{name: "hidden", output: true, dtype: ort.TensorElementDataTypeFloat, last: h},
	}
	if attention {
		dec = append(dec,
			tensorSpec{name: "encoder_outputs", dtype: ort.TensorElementDataTypeFloat, last: width},
			tensorSpec{name: "attention", output: true, dtype: ort.TensorElementDataTypeFloat},
		)
	}
	return enc, dec
}

// checkGraph compares a graph's declared inputs and outputs against want.
// Missing tensors or wrong element types mean a broken export; a trailing
// dimension that disagrees with the configured model is a misconfiguration.
// Dynamic dimensions (reported as -1) always pass.
func checkGraph(kind string, inputs, outputs []ort.InputOutputInfo, want []tensorSpec) error {
	for _, spec := range want {
		list, side := inputs, "input"
		if spec.output {
			list, side = outputs, "output"
		}

		info, ok := findTensor(list, spec.name)
		if !ok {
			return fmt.Errorf("%w: %s graph has no %s %q", engine.ErrCheckpoint, kind, side, spec.name)
		}
		if info.DataType != spec.dtype {
			return fmt.Errorf("%w: %s graph %s %q has element type %v, want %v",
				engine.ErrCheckpoint, kind, side, spec.name, info.DataType, spec.dtype)
		}
		if spec.last <= 0 || len(info.Dimensions) == 0 {
			continue
		}
		got := info.Dimensions[len(info.Dimensions)-1]
		if got > 0 && got != spec.last {
			return fmt.Errorf("%w: %s graph %s %q has shape %v, want trailing dimension %d",
				engine.ErrMisconfigured, kind, side, spec.name, info.Dimensions, spec.last)
		}
	}
	return nil
}

func findTensor(list []ort.InputOutputInfo, name string) (ort.InputOutputInfo, bool) {
	for _, info := range list {
		if info.Name == name {
			return info, true
		}
	}
	return ort.InputOutputInfo{}, false
}

// validateGraphs reads the declared tensors of both graphs and checks them
// against the model. It needs an initialized environment.
func validateGraphs(encPath, decPath string, hidden, targetSize int, attention bool) error {
	encWant, decWant := graphContract(hidden, targetSize, attention)
	for _, g := range []struct {
		kind string
		path string
		want []tensorSpec
	}{
		{kind: "encoder", path: encPath, want: encWant},
		{kind: "decoder", path: decPath, want: decWant},
	} {
		inputs, outputs, err := ort.GetInputOutputInfo(g.path)
		if err != nil {
			return fmt.Errorf("%w: failed to inspect %s graph %s: %w", engine.ErrCheckpoint, g.kind, g.path, err)
		}
		if err := checkGraph(g.kind, inputs, outputs, g.want); err != nil {
			return fmt.Errorf("%s: %w", g.path, err)
		}
	}
	return nil
}
