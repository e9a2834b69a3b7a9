package pprof

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/darkcyan/pkg/errors"
)

func TestGetProfileData(t *testing.T) {
	b, err := GetProfileData(context.Background(), "goroutine", 0, 1)
	require.NoError(t, err)
	require.Contains(t, string(b), "goroutine profile")

	_, err = GetProfileData(context.Background(), "missing", 0, 0)
	require.ErrorIs(t, err, errors.ErrProfileNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = GetCpuProfileData(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler{}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathPrefix+"heap?debug=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	rec = httptest.NewRecorder()
	Handler{}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathPrefix+"missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
