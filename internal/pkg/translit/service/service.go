// Package service transliterates free text word by word on top of the
// cached engines.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"translit/internal/pkg/translit/engine"
	"translit/internal/pkg/translit/preprocess"
)

// Engines hands out the engine for a model id. *engine.Cache implements it.
type Engines interface {
	Get(ctx context.Context, modelID int) (engine.Engine, error)
}

// Observer receives one call per transliterated word.
type Observer interface {
	ObserveWord(ctx context.Context, modelID int, elapsed time.Duration, outcome Outcome)
}

type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeTruncated Outcome = "truncated"
	OutcomeFallback  Outcome = "fallback"
)

type Service struct {
	engines  Engines
	pre      *preprocess.Preprocessor
	observer Observer
}

type Option func(*Service)

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithPreprocessor(p *preprocess.Preprocessor) Option {
	return func(s *Service) { s.pre = p }
}

func New(engines Engines, opts ...Option) *Service {
	s := &Service{
		engines: engines,
		pre:     preprocess.NewPreprocessor(true),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transliterate splits text on whitespace, transliterates every word with
// the engine for modelID and joins the results with single spaces. A word
// that fails is echoed back exactly as sent unless the failure means the engine
// itself is misconfigured.
func (s *Service) Transliterate(ctx context.Context, text string, modelID int) (string, error) {
	eng, err := s.engines.Get(ctx, modelID)
	if err != nil {
		return "", err
	}

	words := s.pre.Words(text)
	out := make([]string, 0, len(words))
	for _, word := range words {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		start := time.Now()
		res, err := eng.Transliterate(word.Normalized)
		outcome := OutcomeOK
		switch {
		case err != nil && errors.Is(err, engine.ErrMisconfigured):
			return "", fmt.Errorf("transliterate %q: %w", word.Raw, err)
		case err != nil:
			log.Warn().Err(err).Str("word", word.Raw).Int("model_id", modelID).Msg("Transliteration failed, keeping word")
			out = append(out, word.Raw)
			outcome = OutcomeFallback
		default:
			out = append(out, res.Output)
			if res.Truncated {
				outcome = OutcomeTruncated
			}
		}

		if s.observer != nil {
			s.observer.ObserveWord(ctx, modelID, time.Since(start), outcome)
		}
	}

	return strings.Join(out, " "), nil
}
