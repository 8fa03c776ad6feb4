// Package preprocess prepares request text for the transliteration engines.
package preprocess

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

var quoteReplacer = strings.NewReplacer(
	"“", "\"",
	"”", "\"",
	"‘", "'",
	"’", "'",
	"«", "\"",
	"»", "\"",
)

// Preprocessor normalizes input towards the lowercase latin of the training
// corpus. With normalization disabled only whitespace is touched.
type Preprocessor struct {
	normalize bool
}

func NewPreprocessor(normalize bool) *Preprocessor {
	return &Preprocessor{normalize: normalize}
}

func (p *Preprocessor) Process(text string) string {
	if p.normalize {
		text = norm.NFC.String(text)
		// a Caser is stateful, so one is made per call
		text = cases.Lower(language.Und).String(text)
		text = quoteReplacer.Replace(text)
	}
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Word is one whitespace separated token of a request. Raw is what the
// caller sent; Normalized is what the engine sees.
type Word struct {
	Raw        string
	Normalized string
}

// Words splits text on whitespace before normalizing, so every word keeps
// its raw form. Punctuation stays attached to its word.
func (p *Preprocessor) Words(text string) []Word {
	fields := strings.Fields(text)
	words := make([]Word, len(fields))
	for i, f := range fields {
		words[i] = Word{Raw: f, Normalized: p.Process(f)}
	}
	return words
}
