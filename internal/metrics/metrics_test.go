package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordAndExpose(t *testing.T) {
	m := New()
	m.ObserveEnrichment("generated", time.Second)
	m.ObserveEnrichment("failed", time.Second)
	m.ObserveEnrichment("generated", time.Second)
	m.CountFallback("sentiment")
	m.ObserveBacklog(7)
	m.CountTokens("reply", 120, 40)
	m.CountTokens("reply", 0, 10)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EnrichmentsTotal.WithLabelValues("generated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapabilityFallbacks.WithLabelValues("sentiment")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.BacklogSize))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.ModelTokens.WithLabelValues("reply", "input")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.ModelTokens.WithLabelValues("reply", "output")))

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	response, err := http.Get(server.URL)
	require.NoError(t, err)
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "support_inbox_enrichments_total")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEnrichment("generated", time.Second)
		m.CountFallback("draft")
		m.ObserveHTTP("GET", "/v1/stats", 200, time.Millisecond)
		m.CountTask("enrich_email", "done")
		m.CountTokens("sentiment", 1, 1)
	})
}
