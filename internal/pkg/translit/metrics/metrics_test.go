package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translit/internal/pkg/translit/service"
)

func scrape(t *testing.T, s *Service) string {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObserveWord(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	s.ObserveWord(context.Background(), 2, 3*time.Millisecond, service.OutcomeFallback)

	body := scrape(t, s)
	assert.Contains(t, body, "translit_words")
	assert.Contains(t, body, `outcome="fallback"`)
	assert.Contains(t, body, "translit_word_duration")
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	e := echo.New()
	e.Use(s.Middleware())
	e.GET("/items/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	body := scrape(t, s)
	assert.Contains(t, body, "api_call")
	assert.Contains(t, body, `path="/items/:id"`)
	assert.Contains(t, body, `status="204"`)
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	a.ObserveWord(context.Background(), 1, time.Millisecond, service.OutcomeOK)
	assert.NotContains(t, scrape(t, b), "translit_words")
}
