package idtrack

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors updated by the Pipeline.  A nil
// *Metrics records nothing
type Metrics struct {
	// stageDuration tracks per frame stage latency
	stageDuration *prometheus.HistogramVec
	// tracks is the number of tracks in the last frame by kind
	tracks *prometheus.GaugeVec
	// predicted counts tracks synthesized by the stability filter
	predicted prometheus.Counter
	// reidMatches counts raw IDs mapped onto an existing identity by tier
	reidMatches *prometheus.CounterVec
	// locks counts identities that became locked
	locks prometheus.Counter
	// expired counts identities deleted from the ledger
	expired prometheus.Counter
	// detectionDrops counts detection results overwritten before use
	detectionDrops prometheus.Counter
	// extractionFailures counts failed per person extractions by kind
	extractionFailures *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {

	f := promauto.With(reg)

	return &Metrics{
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idtrack_stage_duration_seconds",
			Help:    "Frame processing stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
		}, []string{"stage"}),
		tracks: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "idtrack_tracks",
			Help: "Tracks in the last processed frame by kind",
		}, []string{"kind"}),
		predicted: f.NewCounter(prometheus.CounterOpts{
			Name: "idtrack_predicted_tracks_total",
			Help: "Tracks synthesized for identities missing from the tracker output",
		}),
		reidMatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idtrack_reid_matches_total",
			Help: "Raw track IDs re-identified as an existing identity by tier",
		}, []string{"tier"}),
		locks: f.NewCounter(prometheus.CounterOpts{
			Name: "idtrack_identity_locks_total",
			Help: "Identities locked after consecutive face revalidations",
		}),
		expired: f.NewCounter(prometheus.CounterOpts{
			Name: "idtrack_identities_expired_total",
			Help: "Identities deleted from the ledger after the expiry window",
		}),
		detectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "idtrack_detection_drops_total",
			Help: "Detection results replaced before the frame loop read them",
		}),
		extractionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idtrack_extraction_failures_total",
			Help: "Failed per person extractions by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) observeTiming(t Timing) {
	if m == nil {
		return
	}

	stages := []struct {
		name string
		d    time.Duration
	}{
		{"detection", t.Detection},
		{"tracking", t.Tracking},
		{"reid", t.ReID},
		{"registry", t.Registry},
		{"neighbors", t.Neighbors},
		{"extraction", t.Extraction},
		{"total", t.Total},
	}

	for _, s := range stages {
		m.stageDuration.WithLabelValues(s.name).Observe(s.d.Seconds())
	}
}

func (m *Metrics) setTracks(total, predicted, selected int) {
	if m == nil {
		return
	}

	m.tracks.WithLabelValues("total").Set(float64(total))
	m.tracks.WithLabelValues("predicted").Set(float64(predicted))
	m.tracks.WithLabelValues("selected").Set(float64(selected))
	m.predicted.Add(float64(predicted))
}

func (m *Metrics) reidMatch(tier string) {
	if m == nil {
		return
	}
	m.reidMatches.WithLabelValues(tier).Inc()
}

func (m *Metrics) locked() {
	if m == nil {
		return
	}
	m.locks.Inc()
}

func (m *Metrics) expiredIDs(n int) {
	if m == nil || n == 0 {
		return
	}
	m.expired.Add(float64(n))
}

func (m *Metrics) detectionDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.detectionDrops.Add(float64(n))
}

func (m *Metrics) extractionFailed(kind string) {
	if m == nil {
		return
	}
	m.extractionFailures.WithLabelValues(kind).Inc()
}
