package analytics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestNoopClient(t *testing.T) {
	c := New("", zaptest.NewLogger(t))
	assert.NotPanics(t, func() {
		c.TeamMetricsViewed("127.0.0.1", "Backend", "default", false)
		c.CacheCleared("127.0.0.1", "all", 3)
		c.Close()
	})

	var zero Client
	assert.NotPanics(t, func() { zero.CacheCleared("x", "all", 0) })
}

func TestEventsFlushedOnClose(t *testing.T) {
	var batches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/batch") {
			batches.Add(1)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New("phc_test", zaptest.NewLogger(t), WithEndpoint(srv.URL))
	c.TeamMetricsViewed("127.0.0.1", "Backend", "quick_month", true)
	c.CacheCleared("127.0.0.1", "Backend", 4)
	c.Close()

	assert.Positive(t, batches.Load())
}
