// Package server exposes the transliteration service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"translit/internal/pkg/translit/engine"
	"translit/internal/pkg/translit/metrics"
)

type Transliterator interface {
	Transliterate(ctx context.Context, text string, modelID int) (string, error)
}

type TransliterateRequest struct {
	Text    string `json:"text"`
	ModelID int    `json:"model_id"`
}

type TransliterateResponse struct {
	Output string `json:"output"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Options struct {
	CORSOrigins []string
	BodyLimit   string
	// Metrics is optional; without it /metrics is not served.
	Metrics *metrics.Service
}

type Server struct {
	e     *echo.Echo
	svc   Transliterator
	ready atomic.Bool
}

func New(svc Transliterator, opts Options) *Server {
	s := &Server{e: echo.New(), svc: svc}
	e := s.e
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	e.Use(requestLogger)
	e.Use(middleware.Recover())
	if opts.Metrics != nil {
		e.Use(opts.Metrics.Middleware())
	}
	if len(opts.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: opts.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderContentType},
		}))
	}
	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/readyz", s.readyz)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))
	}
	e.POST("/transliterate", s.transliterate)

	return s
}

func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		res := c.Response()
		start := log.Logger.Info()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		start.
			Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", res.Status).
			Msg("HTTP request")
		return nil
	}
}

// MarkReady flips /readyz to 200, typically after preloading engines.
func (s *Server) MarkReady() {
	s.ready.Store(true)
}

func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start(addr string) error {
	log.Info().Str("listen", addr).Msg("HTTP server listening")
	err := s.e.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) readyz(c echo.Context) error {
	if !s.ready.Load() {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) transliterate(c echo.Context) error {
	var req TransliterateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	out, err := s.svc.Transliterate(c.Request().Context(), req.Text, req.ModelID)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownModel) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		log.Error().Err(err).Int("model_id", req.ModelID).Msg("Transliteration request failed")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, TransliterateResponse{Output: out})
}
