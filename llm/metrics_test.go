package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountsOutcomes(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"choices":[{"text":"ok"}]}`))
	}))
	defer server.Close()

	metrics := NewMetrics(prometheus.NewRegistry())
	client := NewClient(server.URL, WithMetrics(metrics))
	req := Request{Prompt: "p", MaxTokens: 10}

	_, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), req)
	require.NoError(t, err)

	fail.Store(true)
	_, err = client.Complete(context.Background(), req)
	require.Error(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.calls.WithLabelValues(string(OutcomeSuccess))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues(string(OutcomeRejected))))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.inflight))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.observe(OutcomeSuccess, 0)
	m.inflightInc()
	m.inflightDec()
}
