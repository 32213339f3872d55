package json

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, Write(w, map[string]any{"isAuthenticated": true}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"isAuthenticated":true}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantError  string
	}{
		{
			name:       "method not allowed",
			write:      func(w http.ResponseWriter) { WriteMethodNotAllowed(w, http.MethodGet, http.MethodPost) },
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  "method_not_allowed",
		},
		{
			name:       "service unavailable",
			write:      func(w http.ResponseWriter) { WriteServiceUnavailable(w, "still loading") },
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "service_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}

	w := httptest.NewRecorder()
	WriteMethodNotAllowed(w, http.MethodGet, http.MethodPost)
	assert.Equal(t, []string{"GET", "POST"}, w.Header().Values("Allow"))
}
