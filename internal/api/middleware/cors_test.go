package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"auction-sync/pkg/logger"

	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func request(h http.Handler, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/hubs/bidChannel", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowList(t *testing.T) {
	h := CORS([]string{"https://bid.example.com"}, logger.NewNop())(okHandler)

	rec := request(h, http.MethodGet, "https://bid.example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://bid.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = request(h, http.MethodGet, "https://evil.example.com")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = request(h, http.MethodGet, "")
	require.Equal(t, http.StatusOK, rec.Code, "same-origin requests pass")
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightAndWildcard(t *testing.T) {
	h := CORS(nil, logger.NewNop())(okHandler)

	rec := request(h, http.MethodOptions, "https://anywhere.example.com")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://anywhere.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	h = CORS([]string{"*"}, logger.NewNop())(okHandler)
	require.Equal(t, http.StatusOK, request(h, http.MethodGet, "https://x.example.com").Code)
}
