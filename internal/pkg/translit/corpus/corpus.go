package corpus

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Pair is one aligned (romanized, native) word pair.
type Pair struct {
	Input  string
	Target string
}

type Corpus struct {
	Pairs []Pair
}

// LoadDakshina reads a Dakshina lexicon file: tab separated lines of
// native word, romanization and attestation count.
func LoadDakshina(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer f.Close()

	c, err := ReadDakshina(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus %s: %w", path, err)
	}
	return c, nil
}

// ReadDakshina parses Dakshina lines from r. Lines without exactly three
// fields are skipped. Romanizations are lowercased; native words are kept
// byte for byte, since normalizing them would split precomposed letters
// such as U+095B and shift every later vocabulary index.
func ReadDakshina(r io.Reader) (*Corpus, error) {
	lower := cases.Lower(language.Und)
	c := &Corpus{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		parts := strings.Split(strings.TrimSpace(scanner.Text()), "\t")
		if len(parts) != 3 {
			continue
		}
		native, latin := parts[0], parts[1]
		c.Pairs = append(c.Pairs, Pair{
			Input:  lower.String(latin),
			Target: native,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Corpus) Inputs() []string {
	out := make([]string, len(c.Pairs))
	for i, p := range c.Pairs {
		out[i] = p.Input
	}
	return out
}

func (c *Corpus) Targets() []string {
	out := make([]string, len(c.Pairs))
	for i, p := range c.Pairs {
		out[i] = p.Target
	}
	return out
}
