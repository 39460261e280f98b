// Package metrics exposes discovery run counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amishk599/jobscout/internal/discovery"
)

const namespace = "jobscout"

// Recorder implements discovery.Recorder on top of Prometheus collectors.
type Recorder struct {
	orgsCrawled     *prometheus.CounterVec
	jobsSeen        *prometheus.CounterVec
	jobsInserted    *prometheus.CounterVec
	jobsSkipped     *prometheus.CounterVec
	adapterFailures *prometheus.CounterVec
	runDuration     prometheus.Histogram
}

var _ discovery.Recorder = (*Recorder)(nil)

// NewRecorder registers the run collectors with reg, or the default
// registerer when reg is nil.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		orgsCrawled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orgs_crawled_total",
			Help:      "Organizations listed during discovery runs.",
		}, []string{"source"}),
		jobsSeen: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_seen_total",
			Help:      "Postings returned by adapter listings.",
		}, []string{"source"}),
		jobsInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_inserted_total",
			Help:      "Postings ingested into the store.",
		}, []string{"source"}),
		jobsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_skipped_total",
			Help:      "Postings not ingested, by reason.",
		}, []string{"source", "reason"}),
		adapterFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_failures_total",
			Help:      "Adapters that failed during a run, by failure kind.",
		}, []string{"source", "kind"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of discovery runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		}),
	}
}

func (r *Recorder) OrgCrawled(source string) {
	r.orgsCrawled.WithLabelValues(source).Inc()
}

func (r *Recorder) JobsSeen(source string, n int) {
	r.jobsSeen.WithLabelValues(source).Add(float64(n))
}

func (r *Recorder) JobInserted(source string) {
	r.jobsInserted.WithLabelValues(source).Inc()
}

func (r *Recorder) JobSkipped(source, reason string) {
	r.jobsSkipped.WithLabelValues(source, reason).Inc()
}

func (r *Recorder) AdapterFailed(source, kind string) {
	r.adapterFailures.WithLabelValues(source, kind).Inc()
}

func (r *Recorder) RunCompleted(d time.Duration) {
	r.runDuration.Observe(d.Seconds())
}

// Serve exposes gatherer on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
