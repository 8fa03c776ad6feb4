package vocab

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
)

const (
	PadToken = "<pad>"
	SOSToken = "␂"
	EOSToken = "␃"

	PadIndex = 0
)

var ErrInvalidVocabulary = errors.New("vocab: invalid vocabulary")

// Vocabulary is an immutable bijection between tokens and contiguous
// indices 0..Size()-1.
type Vocabulary struct {
	tokenToID map[string]int
	idToToken []string
}

// Build derives a vocabulary from every distinct character in texts. The
// specials take indices 0..len(specials)-1 in the given order and the
// characters follow in code point order, so identical input always yields
// identical indices.
func Build(texts []string, specials ...string) *Vocabulary {
	seen := make(map[rune]struct{})
	for _, text := range texts {
		for _, r := range text {
			seen[r] = struct{}{}
		}
	}

	runes := make([]rune, 0, len(seen))
	for r := range seen {
		runes = append(runes, r)
	}
	slices.Sort(runes)

	v := &Vocabulary{
		tokenToID: make(map[string]int, len(specials)+len(runes)),
		idToToken: make([]string, 0, len(specials)+len(runes)),
	}
	for _, tok := range specials {
		v.add(tok)
	}
	for _, r := range runes {
		v.add(string(r))
	}
	return v
}

func (v *Vocabulary) add(tok string) {
	if _, dup := v.tokenToID[tok]; dup {
		return
	}
	v.tokenToID[tok] = len(v.idToToken)
	v.idToToken = append(v.idToToken, tok)
}

// FromMap rebuilds a vocabulary from a persisted token->index table.
func FromMap(stoi map[string]int) (*Vocabulary, error) {
	if len(stoi) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrInvalidVocabulary)
	}

	idToToken := make([]string, len(stoi))
	filled := make([]bool, len(stoi))
	for tok, id := range stoi {
		if id < 0 || id >= len(stoi) {
			return nil, fmt.Errorf("%w: index %d of %q outside 0..%d", ErrInvalidVocabulary, id, tok, len(stoi)-1)
		}
		if filled[id] {
			return nil, fmt.Errorf("%w: index %d assigned to both %q and %q", ErrInvalidVocabulary, id, idToToken[id], tok)
		}
		idToToken[id] = tok
		filled[id] = true
	}

	tokenToID := make(map[string]int, len(stoi))
	for tok, id := range stoi {
		tokenToID[tok] = id
	}
	return &Vocabulary{tokenToID: tokenToID, idToToken: idToToken}, nil
}

// FromMaps is FromMap plus a consistency check against the inverse table,
// whose keys are decimal indices as written by JSON encoders.
func FromMaps(stoi map[string]int, itos map[string]string) (*Vocabulary, error) {
	v, err := FromMap(stoi)
	if err != nil {
		return nil, err
	}
	if len(itos) == 0 {
		return v, nil
	}
	if len(itos) != len(stoi) {
		return nil, fmt.Errorf("%w: %d forward entries but %d inverse entries", ErrInvalidVocabulary, len(stoi), len(itos))
	}
	for key, tok := range itos {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: inverse key %q: %v", ErrInvalidVocabulary, key, err)
		}
		if got, ok := v.Token(id); !ok || got != tok {
			return nil, fmt.Errorf("%w: inverse entry %d=%q disagrees with forward table", ErrInvalidVocabulary, id, tok)
		}
	}
	return v, nil
}

func (v *Vocabulary) Size() int {
	return len(v.idToToken)
}

func (v *Vocabulary) Index(tok string) (int, bool) {
	id, ok := v.tokenToID[tok]
	return id, ok
}

func (v *Vocabulary) Token(id int) (string, bool) {
	if id < 0 || id >= len(v.idToToken) {
		return "", false
	}
	return v.idToToken[id], true
}

// Tokens returns the tokens ordered by index.
func (v *Vocabulary) Tokens() []string {
	return slices.Clone(v.idToToken)
}

// Map returns a copy of the token->index table.
func (v *Vocabulary) Map() map[string]int {
	m := make(map[string]int, len(v.tokenToID))
	for tok, id := range v.tokenToID {
		m[tok] = id
	}
	return m
}

// InverseMap returns the index->token table keyed by decimal strings.
func (v *Vocabulary) InverseMap() map[string]string {
	m := make(map[string]string, len(v.idToToken))
	for id, tok := range v.idToToken {
		m[strconv.Itoa(id)] = tok
	}
	return m
}

// Encode maps every rune of word to its index. Runes missing from the
// vocabulary map to PadIndex and are returned in order of appearance.
func (v *Vocabulary) Encode(word string) ([]int, []rune) {
	ids := make([]int, 0, len(word))
	var unknown []rune
	for _, r := range word {
		if id, ok := v.tokenToID[string(r)]; ok {
			ids = append(ids, id)
			continue
		}
		ids = append(ids, PadIndex)
		unknown = append(unknown, r)
	}
	return ids, unknown
}
