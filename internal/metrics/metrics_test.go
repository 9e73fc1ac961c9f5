package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Counters(t *testing.T) {
	r := New(nil)

	r.CacheHit()
	r.CacheHit()
	r.CacheMiss()
	r.FetchAttempt("yahoo", PathBatch, nil)
	r.FetchAttempt("yahoo", PathBatch, errors.New("boom"))
	r.FetchRetry("yahoo", PathBatch)
	r.Fallback("yahoo", "batch_failed", 3)
	r.Outcome("matched")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.FetchAttempts.WithLabelValues("yahoo", PathBatch, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.FetchRetries.WithLabelValues("yahoo", PathBatch)))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.FetchFallbacks.WithLabelValues("yahoo", "batch_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Outcomes.WithLabelValues("matched")))
}

func TestRegistry_NilIsSafe(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.CacheHit()
		r.CacheMiss()
		r.FetchAttempt("yahoo", PathSingle, nil)
		r.FetchRetry("yahoo", PathSingle)
		r.Fallback("yahoo", "x", 1)
		r.Outcome("failed")
		r.ScanFinished("sequential", time.Second)
		r.Breaker("yahoo", 2)
	})
}

func TestRegistry_Handler(t *testing.T) {
	r := New(nil)
	r.ScanFinished("as_of", 2*time.Second)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `weekscan_scan_duration_seconds_count{mode="as_of"} 1`))
}
