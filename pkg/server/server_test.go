package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loadcurve/loadcurve/pkg/meter"
	"github.com/loadcurve/loadcurve/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthz(t *testing.T) {
	s := &Server{bypassAuth: true}
	h := s.setupHandler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	s := &Server{bypassAuth: true}
	h := s.setupHandler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	// the frontend sets its own policy
	assert.Empty(t, w.Header().Get("Content-Security-Policy"))

	t.Run("APICSP", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	})
}

func TestRevisionHeader(t *testing.T) {
	s := &Server{bypassAuth: true, serverName: "loadcurve-00042"}
	h := s.setupHandler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "loadcurve-00042", w.Header().Get("Server"))
}

func TestListProviders(t *testing.T) {
	newMeters := func() *meter.Map {
		m := meter.NewMap()
		visible := &mockProvider{}
		visible.On("Info").Return(types.MeterProviderInfo{ID: "enedis", Name: "Enedis"})
		hidden := &mockProvider{}
		hidden.On("Info").Return(types.MeterProviderInfo{ID: "mock", Name: "Mock", Hidden: true})
		m.SetProvider("enedis", visible)
		m.SetProvider("mock", hidden)
		return m
	}

	t.Run("HidesHiddenProviders", func(t *testing.T) {
		s := &Server{meters: newMeters()}
		req := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
		w := httptest.NewRecorder()
		s.handleListProviders(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "enedis")
		assert.NotContains(t, w.Body.String(), "mock")
	})

	t.Run("ShowHidden", func(t *testing.T) {
		s := &Server{meters: newMeters(), showHidden: true}
		req := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
		w := httptest.NewRecorder()
		s.handleListProviders(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "enedis")
		assert.Contains(t, w.Body.String(), "mock")
	})
}
