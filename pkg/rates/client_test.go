package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ferramas/ferramas-backend/pkg/config"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateFetchesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/latest/CLP", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"CLP","rates":{"CLP":1,"USD":0.00105}}`))
	}))
	defer srv.Close()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	client := NewClient(config.RatesConfig{BaseURL: srv.URL, CacheTTL: time.Minute}, WithClock(func() time.Time { return now }))

	rate, err := client.Rate(context.Background(), "clp", "usd")
	require.NoError(t, err)
	assert.Equal(t, "0.00105", rate.String())

	_, err = client.Rate(context.Background(), "CLP", "USD")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Minute)
	_, err = client.Rate(context.Background(), "CLP", "USD")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRateMissingCurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"base":"CLP","rates":{"EUR":0.001}}`))
	}))
	defer srv.Close()

	_, err := NewClient(config.RatesConfig{BaseURL: srv.URL}).Rate(context.Background(), "CLP", "USD")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestRateUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(config.RatesConfig{BaseURL: srv.URL}).Rate(context.Background(), "CLP", "USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
