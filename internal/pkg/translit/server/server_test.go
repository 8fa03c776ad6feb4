package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "translit/internal/pkg/translit/backends/native"
	"translit/internal/pkg/translit/checkpoint/checkpointtest"
	"translit/internal/pkg/translit/engine"
	"translit/internal/pkg/translit/metrics"
	"translit/internal/pkg/translit/service"
	"translit/internal/pkg/translit/vocab"
)

type fakeService struct {
	err error
}

func (f fakeService) Transliterate(_ context.Context, text string, modelID int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%d:%s", modelID, text), nil
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/transliterate", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTransliterateHandler(t *testing.T) {
	s := New(fakeService{}, Options{})

	rec := post(t, s.Handler(), `{"text":"mera naam","model_id":2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TransliterateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2:mera naam", resp.Output)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestTransliterateHandlerErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{name: "bad json", body: `{"text":`, want: http.StatusBadRequest},
		{name: "unknown model", err: fmt.Errorf("load: %w", engine.ErrUnknownModel), body: `{"text":"a","model_id":3}`, want: http.StatusBadRequest},
		{name: "misconfigured", err: engine.ErrMisconfigured, body: `{"text":"a","model_id":1}`, want: http.StatusInternalServerError},
		{name: "broken checkpoint", err: engine.ErrCheckpoint, body: `{"text":"a","model_id":1}`, want: http.StatusInternalServerError},
		{name: "other", err: errors.New("boom"), body: `{"text":"a","model_id":1}`, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(fakeService{err: tt.err}, Options{})
			rec := post(t, s.Handler(), tt.body)
			assert.Equal(t, tt.want, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHealthAndReadiness(t *testing.T) {
	s := New(fakeService{}, Options{})

	get := func(path string) int {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/healthz"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))
	s.MarkReady()
	assert.Equal(t, http.StatusOK, get("/readyz"))
	assert.Equal(t, http.StatusNotFound, get("/metrics"))
}

func TestCORSRestrictsOrigins(t *testing.T) {
	s := New(fakeService{}, Options{CORSOrigins: []string{"https://app.example"}})

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/transliterate", nil)
		req.Header.Set(echo.HeaderOrigin, origin)
		req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, "https://app.example", preflight("https://app.example").Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Empty(t, preflight("https://other.example").Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestBodyLimit(t *testing.T) {
	s := New(fakeService{}, Options{BodyLimit: "16B"})
	rec := post(t, s.Handler(), `{"text":"a very long body indeed","model_id":1}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	v1 := checkpointtest.Save(t, dir, "transliteration_model_v1.npz", checkpointtest.Plain(t, map[string]string{
		vocab.SOSToken: "घ",
		"घ":            "र",
	}))
	v2 := checkpointtest.Save(t, dir, "transliteration_model_v2.npz", checkpointtest.Attention(t, map[string]string{
		vocab.SOSToken: "न",
		"न":            "म",
	}))

	f := checkpointtest.Plain(t, nil)
	cache := engine.NewCache(engine.ConfigLoader("native", engine.EngineConfig{
		EmbeddingSize: f.Embedding,
		HiddenSize:    f.Hidden,
	}, map[int]string{1: v1, 2: v2}))
	defer cache.Close()

	m, err := metrics.New()
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	s := New(service.New(cache, service.WithObserver(m)), Options{Metrics: m})

	for _, tc := range []struct {
		body string
		want string
	}{
		{body: `{"text":"Ghar ghar","model_id":1}`, want: "घर घर"},
		{body: `{"text":"namaste","model_id":2}`, want: "नम"},
		{body: `{"text":"","model_id":2}`, want: ""},
	} {
		rec := post(t, s.Handler(), tc.body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp TransliterateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, tc.want, resp.Output)
	}

	rec := post(t, s.Handler(), `{"text":"ghar","model_id":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []int{1, 2}, cache.Loaded())

	metricsRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "translit_words")
}
