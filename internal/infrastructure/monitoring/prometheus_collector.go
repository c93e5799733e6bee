package monitoring

import (
	"strconv"
	"time"

	"skillhub/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	messagesReceived     prometheus.Counter
	duplicatesDropped    prometheus.Counter
	messagesSent         prometheus.Counter
	iceCandidatesDropped prometheus.Counter

	callsStarted    *prometheus.CounterVec
	callsEnded      *prometheus.CounterVec
	signalingErrors *prometheus.CounterVec

	// Histograms
	callDuration prometheus.Histogram
}

// NewPrometheusCollector registers the session metrics on reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "skillhub_messages_received_total",
			Help: "Chat messages appended to the transcript from the relay",
		}),

		duplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "skillhub_messages_duplicate_total",
			Help: "Inbound chat messages discarded because their id was already present",
		}),

		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "skillhub_messages_sent_total",
			Help: "Chat messages handed to the relay",
		}),

		iceCandidatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "skillhub_ice_candidates_dropped_total",
			Help: "Remote ICE candidates received while no peer channel existed",
		}),

		callsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skillhub_calls_started_total",
			Help: "Video calls that began negotiating",
		}, []string{"direction"}),

		callsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skillhub_calls_ended_total",
			Help: "Video calls torn down",
		}, []string{"connected"}),

		signalingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skillhub_signaling_errors_total",
			Help: "Failures while applying or producing session descriptions and candidates",
		}, []string{"stage"}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "skillhub_call_duration_seconds",
			Help:    "Duration of connected video calls",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}
}

func (p *PrometheusCollector) MessageReceived()     { p.messagesReceived.Inc() }
func (p *PrometheusCollector) DuplicateDropped()    { p.duplicatesDropped.Inc() }
func (p *PrometheusCollector) MessageSent()         { p.messagesSent.Inc() }
func (p *PrometheusCollector) ICECandidateDropped() { p.iceCandidatesDropped.Inc() }

func (p *PrometheusCollector) CallStarted(direction domain.CallDirection) {
	p.callsStarted.WithLabelValues(string(direction)).Inc()
}

func (p *PrometheusCollector) CallEnded(reachedActive bool, duration time.Duration) {
	p.callsEnded.WithLabelValues(strconv.FormatBool(reachedActive)).Inc()
	if reachedActive {
		p.callDuration.Observe(duration.Seconds())
	}
}

func (p *PrometheusCollector) SignalingError(stage string) {
	p.signalingErrors.WithLabelValues(stage).Inc()
}
