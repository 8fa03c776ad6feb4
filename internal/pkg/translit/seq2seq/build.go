package seq2seq

import (
	"fmt"

	"translit/internal/pkg/translit/checkpoint"
	"translit/internal/pkg/translit/nn"
)

// Dims are the hyperparameters the checkpoint was trained with. The
// vocabulary sizes come from the checkpoint itself.
type Dims struct {
	Embedding int
	Hidden    int
}

func (d Dims) validate() error {
	if d.Embedding <= 0 || d.Hidden <= 0 {
		return fmt.Errorf("seq2seq: embedding and hidden sizes must be positive, got %d and %d", d.Embedding, d.Hidden)
	}
	return nil
}

// BuildPlain instantiates the unidirectional encoder and plain decoder from
// parameters named after the PyTorch modules they were trained as.
func BuildPlain(c *checkpoint.Checkpoint, d Dims) (*PlainEncoder, *PlainDecoder, error) {
	if err := d.validate(); err != nil {
		return nil, nil, err
	}

	encEmb, err := loadEmbedding(c, "encoder.embedding.weight", c.Input.Size(), d.Embedding)
	if err != nil {
		return nil, nil, err
	}
	encRNN, err := loadGRU(c, "encoder.rnn", "", d.Embedding, d.Hidden)
	if err != nil {
		return nil, nil, err
	}

	decEmb, err := loadEmbedding(c, "decoder.embedding.weight", c.Target.Size(), d.Embedding)
	if err != nil {
		return nil, nil, err
	}
	decRNN, err := loadGRU(c, "decoder.rnn", "", d.Embedding, d.Hidden)
	if err != nil {
		return nil, nil, err
	}
	decFC, err := loadLinear(c, "decoder.fc", c.Target.Size(), d.Hidden, true)
	if err != nil {
		return nil, nil, err
	}

	return &PlainEncoder{Embedding: encEmb, RNN: encRNN},
		&PlainDecoder{Embedding: decEmb, RNN: decRNN, FC: decFC},
		nil
}

// BuildAttention instantiates the bidirectional encoder and the attention
// decoder.
func BuildAttention(c *checkpoint.Checkpoint, d Dims) (*BiEncoder, *AttentionDecoder, error) {
	if err := d.validate(); err != nil {
		return nil, nil, err
	}

	encEmb, err := loadEmbedding(c, "encoder.embedding.weight", c.Input.Size(), d.Embedding)
	if err != nil {
		return nil, nil, err
	}
	fwd, err := loadGRU(c, "encoder.rnn", "", d.Embedding, d.Hidden)
	if err != nil {
		return nil, nil, err
	}
	bwd, err := loadGRU(c, "encoder.rnn", "_reverse", d.Embedding, d.Hidden)
	if err != nil {
		return nil, nil, err
	}
	encFC, err := loadLinear(c, "encoder.fc", d.Hidden, 2*d.Hidden, true)
	if err != nil {
		return nil, nil, err
	}

	decEmb, err := loadEmbedding(c, "decoder.embedding.weight", c.Target.Size(), d.Embedding)
	if err != nil {
		return nil, nil, err
	}
	attn, err := loadLinear(c, "decoder.attention.attn", d.Hidden, 3*d.Hidden, true)
	if err != nil {
		return nil, nil, err
	}
	v, err := loadLinear(c, "decoder.attention.v", 1, d.Hidden, false)
	if err != nil {
		return nil, nil, err
	}
	decRNN, err := loadGRU(c, "decoder.rnn", "", d.Embedding+2*d.Hidden, d.Hidden)
	if err != nil {
		return nil, nil, err
	}
	decFC, err := loadLinear(c, "decoder.fc", c.Target.Size(), d.Hidden, true)
	if err != nil {
		return nil, nil, err
	}

	return &BiEncoder{Embedding: encEmb, Forward: fwd, Backward: bwd, FC: encFC},
		&AttentionDecoder{
			Embedding: decEmb,
			Attention: &Attention{Attn: attn, V: v},
			RNN:       decRNN,
			FC:        decFC,
		},
		nil
}

func loadEmbedding(c *checkpoint.Checkpoint, name string, rows, dim int) (*nn.Embedding, error) {
	w, err := c.Dense(name, rows, dim)
	if err != nil {
		return nil, err
	}
	return nn.NewEmbedding(w), nil
}

func loadGRU(c *checkpoint.Checkpoint, prefix, suffix string, input, hidden int) (*nn.GRUCell, error) {
	wih, err := c.Dense(prefix+".weight_ih_l0"+suffix, 3*hidden, input)
	if err != nil {
		return nil, err
	}
	whh, err := c.Dense(prefix+".weight_hh_l0"+suffix, 3*hidden, hidden)
	if err != nil {
		return nil, err
	}
	bih, err := c.Vector(prefix+".bias_ih_l0"+suffix, 3*hidden)
	if err != nil {
		return nil, err
	}
	bhh, err := c.Vector(prefix+".bias_hh_l0"+suffix, 3*hidden)
	if err != nil {
		return nil, err
	}
	return nn.NewGRUCell(wih, whh, bih, bhh)
}

func loadLinear(c *checkpoint.Checkpoint, prefix string, out, in int, bias bool) (*nn.Linear, error) {
	w, err := c.Dense(prefix+".weight", out, in)
	if err != nil {
		return nil, err
	}
	if !bias {
		return nn.NewLinear(w, nil)
	}
	b, err := c.Vector(prefix+".bias", out)
	if err != nil {
		return nil, err
	}
	return nn.NewLinear(w, b)
}
