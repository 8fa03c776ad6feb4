// Command vocabgen builds the vocab.json of a transliteration checkpoint from
// a Dakshina lexicon (native<TAB>latin<TAB>count).
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"translit/internal/pkg/translit/checkpoint"
	"translit/internal/pkg/translit/corpus"
	"translit/internal/pkg/translit/vocab"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("vocabgen failed")
	}
}

func run(args []string, stdout io.Writer) error {
	flagSet := pflag.NewFlagSet("vocabgen", pflag.ContinueOnError)
	output := flagSet.StringP("output", "o", "-", "Where to write vocab.json ('-' for stdout)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() == 0 {
		return fmt.Errorf("usage: vocabgen [-o vocab.json] lexicon.tsv [more.tsv...]")
	}

	var inputs, targets []string
	for _, p := range flagSet.Args() {
		c, err := corpus.LoadDakshina(p)
		if err != nil {
			return err
		}
		log.Info().Str("corpus", p).Int("pairs", len(c.Pairs)).Msg("Corpus loaded")
		inputs = append(inputs, c.Inputs()...)
		targets = append(targets, c.Targets()...)
	}

	input := vocab.Build(inputs, vocab.PadToken)
	target := vocab.Build(targets, vocab.PadToken, vocab.SOSToken, vocab.EOSToken)
	log.Info().Int("input_size", input.Size()).Int("target_size", target.Size()).Msg("Vocabularies built")

	if *output == "-" {
		return checkpoint.WriteVocab(stdout, input, target)
	}

	f, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", *output, err)
	}
	if err := checkpoint.WriteVocab(f, input, target); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
