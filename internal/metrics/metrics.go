package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline holds the scan pipeline collectors.
type Pipeline struct {
	frames        *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	submitLatency prometheus.Histogram
}

// NewPipeline creates and registers the collectors on reg.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qrattend_frames_total",
			Help: "Frames and uploads handed to the QR decoder, by result.",
		}, []string{"source", "result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qrattend_scan_outcomes_total",
			Help: "Scan cycles by final outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qrattend_notifications_total",
			Help: "Parent notification dispatch attempts by result.",
		}, []string{"result"}),
		submitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qrattend_submit_latency_seconds",
			Help:    "Latency of attendance marking requests.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
	reg.MustRegister(p.frames, p.outcomes, p.notifications, p.submitLatency)
	return p
}

// Frame counts one decode attempt.
func (p *Pipeline) Frame(source string, decoded bool) {
	result := "empty"
	if decoded {
		result = "decoded"
	}
	p.frames.WithLabelValues(source, result).Inc()
}

// Outcome counts a finished scan cycle.
func (p *Pipeline) Outcome(outcome string) {
	p.outcomes.WithLabelValues(outcome).Inc()
}

// Submission records the duration of a marking request.
func (p *Pipeline) Submission(d time.Duration) {
	p.submitLatency.Observe(d.Seconds())
}

// Notification counts a dispatch result.
func (p *Pipeline) Notification(result string) {
	p.notifications.WithLabelValues(result).Inc()
}
