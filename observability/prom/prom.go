// Package prom wires the observability.Observer interface to
// Prometheus, with every metric under a lipsignal_* prefix.
package prom

import (
	"net/http"
	"time"

	"github.com/lipsignal/lipsignal-go/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer exports server metrics to Prometheus.
type Observer struct {
	connGauge         prometheus.Gauge
	handshakeTotal    *prometheus.CounterVec
	rateLimitBanTotal prometheus.Counter
	authTotal         *prometheus.CounterVec
	signalingTotal    *prometheus.CounterVec
	callsStarted      prometheus.Counter
	callDuration      prometheus.Histogram
	inferenceLatency  *prometheus.HistogramVec
	transcriptLines   *prometheus.CounterVec
}

// NewObserver registers server metrics on the registry.
func NewObserver(reg *prometheus.Registry) *Observer {
	o := &Observer{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lipsignal_connections",
			Help: "Current websocket connection count.",
		}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lipsignal_handshake_total",
			Help: "Handshake attempts by result.",
		}, []string{"result"}),
		rateLimitBanTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lipsignal_rate_limit_bans_total",
			Help: "Remote addresses banned by the rate limiter.",
		}),
		authTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lipsignal_auth_total",
			Help: "Auth operations by type and result.",
		}, []string{"op", "result"}),
		signalingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lipsignal_signaling_total",
			Help: "Signaling messages by type and result.",
		}, []string{"msg_type", "result"}),
		callsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lipsignal_calls_started_total",
			Help: "Calls promoted from pending to a persisted Call row.",
		}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lipsignal_call_duration_seconds",
			Help:    "Call duration from start to finalize.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		inferenceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lipsignal_inference_latency_seconds",
			Help:    "Inference executor call latency by pool.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pool"}),
		transcriptLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lipsignal_transcript_lines_total",
			Help: "Transcript lines appended by source.",
		}, []string{"source"}),
	}
	reg.MustRegister(
		o.connGauge,
		o.handshakeTotal,
		o.rateLimitBanTotal,
		o.authTotal,
		o.signalingTotal,
		o.callsStarted,
		o.callDuration,
		o.inferenceLatency,
		o.transcriptLines,
	)
	return o
}

func (o *Observer) ConnCount(n int64) { o.connGauge.Set(float64(n)) }

func (o *Observer) Handshake(result observability.HandshakeResult) {
	o.handshakeTotal.WithLabelValues(string(result)).Inc()
}

func (o *Observer) RateLimitBan() { o.rateLimitBanTotal.Inc() }

func (o *Observer) Auth(op observability.AuthOp, result observability.AuthResult) {
	o.authTotal.WithLabelValues(string(op), string(result)).Inc()
}

func (o *Observer) Signaling(msgType observability.SignalingMsgType, result observability.SignalingResult) {
	o.signalingTotal.WithLabelValues(string(msgType), string(result)).Inc()
}

func (o *Observer) CallStarted() { o.callsStarted.Inc() }

func (o *Observer) CallEnded(d time.Duration) { o.callDuration.Observe(d.Seconds()) }

func (o *Observer) InferenceLatency(pool observability.InferencePool, d time.Duration) {
	o.inferenceLatency.WithLabelValues(string(pool)).Observe(d.Seconds())
}

func (o *Observer) TranscriptAppended(source string) {
	o.transcriptLines.WithLabelValues(source).Inc()
}
