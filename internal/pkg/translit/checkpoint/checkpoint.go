// Package checkpoint reads and writes the archives that carry a trained
// transliteration model: a zip file in NPZ layout holding one .npy entry per
// learned parameter, the vocabularies as vocab.json and optional model
// metadata as meta.yaml.
package checkpoint

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"translit/internal/pkg/translit/vocab"
)

const (
	VocabEntry = "vocab.json"
	MetaEntry  = "meta.yaml"
)

var ErrMissingTensor = errors.New("checkpoint: missing tensor")

// ShapeError reports a parameter whose stored shape disagrees with the
// architecture being instantiated.
type ShapeError struct {
	Name string
	Want []int
	Got  []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("checkpoint: tensor %s has shape %v, want %v", e.Name, e.Got, e.Want)
}

type Tensor struct {
	Shape []int
	Data  []float32
}

type Meta struct {
	Architecture  string `yaml:"architecture"`
	EmbeddingSize int    `yaml:"embedding_size"`
	HiddenSize    int    `yaml:"hidden_size"`
}

type vocabFile struct {
	InputSTOI  map[string]int    `json:"input_stoi"`
	TargetSTOI map[string]int    `json:"target_stoi"`
	InputITOS  map[string]string `json:"input_itos,omitempty"`
	TargetITOS map[string]string `json:"target_itos,omitempty"`
}

type Checkpoint struct {
	Input   *vocab.Vocabulary
	Target  *vocab.Vocabulary
	Meta    *Meta
	Tensors map[string]*Tensor
}

func New(input, target *vocab.Vocabulary) *Checkpoint {
	return &Checkpoint{
		Input:   input,
		Target:  target,
		Tensors: make(map[string]*Tensor),
	}
}

func Load(p string) (*Checkpoint, error) {
	r, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer r.Close()

	c, err := read(&r.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", p, err)
	}
	return c, nil
}

func Read(ra io.ReaderAt, size int64) (*Checkpoint, error) {
	r, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	return read(r)
}

func read(r *zip.Reader) (*Checkpoint, error) {
	c := &Checkpoint{Tensors: make(map[string]*Tensor)}
	var sawVocab bool

	for _, f := range r.File {
		name := path.Base(f.Name)
		switch {
		case name == VocabEntry:
			if err := c.readVocab(f); err != nil {
				return nil, err
			}
			sawVocab = true
		case name == MetaEntry:
			if err := c.readMeta(f); err != nil {
				return nil, err
			}
		case strings.HasSuffix(name, ".npy"):
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
			}
			data, shape, err := readNpy(rc, f.UncompressedSize64)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
			}
			c.Tensors[strings.TrimSuffix(name, ".npy")] = &Tensor{Shape: shape, Data: data}
		}
	}

	if !sawVocab {
		return nil, fmt.Errorf("missing %s", VocabEntry)
	}
	return c, nil
}

func (c *Checkpoint) readVocab(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	var vf vocabFile
	if err := json.NewDecoder(rc).Decode(&vf); err != nil {
		return fmt.Errorf("failed to parse %s: %w", f.Name, err)
	}

	if c.Input, err = vocab.FromMaps(vf.InputSTOI, vf.InputITOS); err != nil {
		return fmt.Errorf("input vocabulary: %w", err)
	}
	if c.Target, err = vocab.FromMaps(vf.TargetSTOI, vf.TargetITOS); err != nil {
		return fmt.Errorf("target vocabulary: %w", err)
	}
	return nil
}

func (c *Checkpoint) readMeta(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	var m Meta
	if err := yaml.NewDecoder(rc).Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse %s: %w", f.Name, err)
	}
	c.Meta = &m
	return nil
}

// Put stores a tensor under name, replacing any previous one.
func (c *Checkpoint) Put(name string, shape []int, data []float32) error {
	total := 1
	for _, d := range shape {
		total *= d
	}
	if total != len(data) {
		return fmt.Errorf("checkpoint: tensor %s has %d values for shape %v", name, len(data), shape)
	}
	c.Tensors[name] = &Tensor{Shape: slices.Clone(shape), Data: data}
	return nil
}

func (c *Checkpoint) Names() []string {
	names := make([]string, 0, len(c.Tensors))
	for name := range c.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *Checkpoint) Has(name string) bool {
	_, ok := c.Tensors[name]
	return ok
}

func (c *Checkpoint) lookup(name string, want ...int) (*Tensor, error) {
	t, ok := c.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTensor, name)
	}
	if !slices.Equal(t.Shape, want) {
		return nil, &ShapeError{Name: name, Want: want, Got: slices.Clone(t.Shape)}
	}
	return t, nil
}

// Dense returns the named 2-D parameter as a rows x cols matrix.
func (c *Checkpoint) Dense(name string, rows, cols int) (*mat.Dense, error) {
	t, err := c.lookup(name, rows, cols)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(rows, cols, widen(t.Data)), nil
}

// Vector returns the named 1-D parameter.
func (c *Checkpoint) Vector(name string, n int) (*mat.VecDense, error) {
	t, err := c.lookup(name, n)
	if err != nil {
		return nil, err
	}
	return mat.NewVecDense(n, widen(t.Data)), nil
}

func widen(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

func Save(p string, c *Checkpoint) error {
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	if err := Write(f, c); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func Write(w io.Writer, c *Checkpoint) error {
	if c.Input == nil || c.Target == nil {
		return fmt.Errorf("checkpoint: both vocabularies are required")
	}

	zw := zip.NewWriter(w)

	var raw bytes.Buffer
	if err := WriteVocab(&raw, c.Input, c.Target); err != nil {
		return err
	}
	if err := writeEntry(zw, VocabEntry, raw.Bytes()); err != nil {
		return err
	}

	if c.Meta != nil {
		raw, err := yaml.Marshal(c.Meta)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		if err := writeEntry(zw, MetaEntry, raw); err != nil {
			return err
		}
	}

	for _, name := range c.Names() {
		t := c.Tensors[name]
		var buf bytes.Buffer
		if err := writeNpy(&buf, t.Shape, t.Data); err != nil {
			return fmt.Errorf("failed to encode %s: %w", name, err)
		}
		if err := writeEntry(zw, name+".npy", buf.Bytes()); err != nil {
			return err
		}
	}

	return zw.Close()
}

// WriteVocab encodes both vocabularies in the vocab.json layout.
func WriteVocab(w io.Writer, input, target *vocab.Vocabulary) error {
	vf := vocabFile{
		InputSTOI:  input.Map(),
		TargetSTOI: target.Map(),
		InputITOS:  input.InverseMap(),
		TargetITOS: target.InverseMap(),
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(vf); err != nil {
		return fmt.Errorf("failed to encode vocabulary: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
