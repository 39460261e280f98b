package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the series of family name whose labels match.
func sample(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			got := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			if !assert.ObjectsAreEqual(labels, got) {
				continue
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("no series %s%v", name, labels)
	return 0
}

func TestRecorder_CountsBySource(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.OrgCrawled("greenhouse")
	r.OrgCrawled("greenhouse")
	r.JobsSeen("greenhouse", 5)
	r.JobInserted("simplify")
	r.JobSkipped("simplify", "hash")
	r.JobSkipped("simplify", "hash")
	r.AdapterFailed("newgrad2026", "discovery")
	r.RunCompleted(3 * time.Second)

	assert.Equal(t, 2.0, sample(t, reg, "jobscout_orgs_crawled_total", map[string]string{"source": "greenhouse"}))
	assert.Equal(t, 5.0, sample(t, reg, "jobscout_jobs_seen_total", map[string]string{"source": "greenhouse"}))
	assert.Equal(t, 1.0, sample(t, reg, "jobscout_jobs_inserted_total", map[string]string{"source": "simplify"}))
	assert.Equal(t, 2.0, sample(t, reg, "jobscout_jobs_skipped_total", map[string]string{"source": "simplify", "reason": "hash"}))
	assert.Equal(t, 1.0, sample(t, reg, "jobscout_adapter_failures_total", map[string]string{"source": "newgrad2026", "kind": "discovery"}))
	assert.Equal(t, 1.0, sample(t, reg, "jobscout_run_duration_seconds", map[string]string{}))
}

func TestNewRecorder_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRecorder(reg)
	assert.Panics(t, func() { NewRecorder(reg) }, "duplicate registration must be caught")
}
