// Package metrics holds the process-wide Prometheus collectors, modeled as
// explicit package-level state with an init-time registration and a pure
// render function rather than a metrics struct threaded through every
// caller. promauto registers each collector against the default registry
// at init; RenderText walks that registry to produce the exposition text.
// The default registry serializes its own access, so no package-level
// mutex is needed on top of it.
package metrics

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var (
	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_calls_active",
		Help: "Currently active call sessions",
	})

	CallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_calls_total",
		Help: "Total calls accepted or dialed",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_stage_duration_seconds",
		Help:    "Per-stage latency (transcribe, start, commit, synthesize)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	E2EDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_e2e_duration_seconds",
		Help:    "End-to-end latency from the backend start request to first TTS audio",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Error counts by stage and error kind",
	}, []string{"stage", "error_type"})

	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audio_chunks_processed_total",
		Help: "Total audio chunks received on the audio port",
	})

	AudioFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audio_frames_dropped_total",
		Help: "Frames dropped from the audio port's bounded queue on overflow",
	})

	SpeechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_vad_speech_segments_total",
		Help: "Speech segments detected by the streaming VAD processor",
	})

	TTSUndersized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_tts_undersized_total",
		Help: "Synthesized audio shorter than the minimum valid WAV, treated as empty",
	})

	// AdmissionRequestsTotal counts Control REST requests by method and
	// resulting status text (http.StatusText of the response code).
	AdmissionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_admission_requests_total",
		Help: "Control REST requests by method and status",
	}, []string{"method", "status"})

	// AdmissionRequestDuration tracks admission response times with fine
	// buckets below 100ms and coarser ones out to 10s.
	AdmissionRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_admission_request_duration_seconds",
		Help:    "Control REST response time",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1.0, 2.5, 5.0, 7.5, 10.0},
	})

	// AdmissionRequestDurationSummary reports the same latencies as
	// quantiles broken out by method, alongside the histogram.
	AdmissionRequestDurationSummary = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "gateway_admission_request_duration_summary_seconds",
		Help:       "Control REST response time summary by method",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"method"})
)

// RenderText produces the Prometheus text exposition format for the
// process-default registry, used by GET /metrics.
func RenderText() ([]byte, string, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	enc := expfmt.NewEncoder(&buf, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, "", err
		}
	}
	return buf.Bytes(), string(format), nil
}
