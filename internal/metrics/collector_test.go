package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCollector_Observations(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("ragline", reg, zap.NewNop())

	c.ObserveRetrieval("document", "ok", 7, 120*time.Millisecond)
	c.ObserveRetrieval("web", "degraded", 0, 2*time.Second)
	c.ObserveFusion(3 * time.Millisecond)
	c.ObserveAssembly(1200, 300, 2, true)
	c.ObserveRerankSkip("timeout")
	c.ObserveSummaryFallback()
	c.ObserveCitations(5, 1)
	c.ObserveCache("embedding", true)
	c.ObserveCache("embedding", false)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.retrievalTotal.WithLabelValues("document", "ok")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.retrievalTotal.WithLabelValues("web", "degraded")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.droppedItems))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.truncatedItems))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.rerankSkips.WithLabelValues("timeout")))
	assert.Equal(t, float64(5), testutil.ToFloat64(c.citationsParsed))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.citationsUnresolved))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.cacheHits.WithLabelValues("embedding")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.cacheMisses.WithLabelValues("embedding")))
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// 两个 collector 注册到独立 registry 不应 panic
	assert.NotPanics(t, func() {
		NewCollector("a", prometheus.NewRegistry(), nil)
		NewCollector("a", prometheus.NewRegistry(), nil)
	})
}
