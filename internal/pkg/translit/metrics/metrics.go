// Package metrics exports request and decoding metrics in the Prometheus
// text format through an OpenTelemetry meter.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"translit/internal/pkg/translit/service"
)

const meterName = "translit"

type Service struct {
	registry *prom.Registry
	provider *sdkmetric.MeterProvider

	apiTime  metric.Float64Histogram
	words    metric.Int64Counter
	wordTime metric.Float64Histogram
}

// New bootstraps the OpenTelemetry pipeline on a private Prometheus
// registry. Call Shutdown when done.
func New() (*Service, error) {
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	apiTime, err := meter.Float64Histogram("api_call",
		metric.WithDescription("api calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	words, err := meter.Int64Counter("translit.words",
		metric.WithDescription("words transliterated, by model and outcome"),
	)
	if err != nil {
		return nil, err
	}
	wordTime, err := meter.Float64Histogram("translit.word_duration",
		metric.WithDescription("time spent decoding one word"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		registry: registry,
		provider: provider,
		apiTime:  apiTime,
		words:    words,
		wordTime: wordTime,
	}, nil
}

func (s *Service) ObserveAPICall(method, path string, status int, duration float64) {
	opts := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", strconv.Itoa(status)),
	)
	s.apiTime.Record(context.Background(), duration, opts)
}

// ObserveWord implements service.Observer.
func (s *Service) ObserveWord(ctx context.Context, modelID int, elapsed time.Duration, outcome service.Outcome) {
	model := attribute.Int("model_id", modelID)
	s.words.Add(ctx, 1, metric.WithAttributes(model, attribute.String("outcome", string(outcome))))
	s.wordTime.Record(ctx, elapsed.Seconds(), metric.WithAttributes(model))
}

// Middleware times every request. The route template is used as the path
// label so unmatched URLs do not create new series.
func (s *Service) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			s.ObserveAPICall(c.Request().Method, c.Path(), status, time.Since(start).Seconds())
			return err
		}
	}
}

func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Service) Shutdown(ctx context.Context) error {
	return s.provider.Shutdown(ctx)
}
