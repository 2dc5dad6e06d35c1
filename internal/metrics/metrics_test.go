package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveRepository("inserted")
	m.ObserveRepository("inserted")
	m.ObserveRepository("conflict")
	m.ObserveVectors(3, 2, 1)
	m.ObserveJob("completed", 1500*time.Millisecond)
	m.ObserveCall("embedding", time.Now(), errors.New("boom"))

	assert.InDelta(t, 2, testutil.ToFloat64(m.repositories.WithLabelValues("inserted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.repositories.WithLabelValues("conflict")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.vectors.WithLabelValues("written")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.jobs.WithLabelValues("completed")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.collaborator))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveRepository("inserted")
		m.ObserveVectors(1, 1, 1)
		m.ObserveJob("error", time.Second)
		m.ObserveCall("summarizer", time.Now(), nil)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRepository("updated")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `gh_stars_sink_repositories_total{outcome="updated"} 1`)
}
