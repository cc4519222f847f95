// Package observe provides the OpenTelemetry metric instruments of the voice
// tutor and a Prometheus exporter bridge ([InitProvider]).
//
// All recording methods are nil-safe: a nil *Metrics records nothing, so the
// conversation core runs unchanged when metrics are disabled. Tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all tutor metrics.
const meterName = "github.com/lokutor-ai/voice-tutor"

// Metrics holds the metric instruments of the conversation core.
type Metrics struct {
	// PhaseTransitions counts state machine transitions. Attributes: from, to.
	PhaseTransitions metric.Int64Counter

	// Utterances counts finished recordings. Attribute: outcome
	// (uploaded, no_speech, too_short, failed).
	Utterances metric.Int64Counter

	// PlaybackFailures counts tracks that failed to play. Attribute: kind.
	PlaybackFailures metric.Int64Counter

	// WordChunks counts synthesized word-by-word chunks.
	WordChunks metric.Int64Counter

	// ChannelCloses counts dialogue engine channel closures.
	ChannelCloses metric.Int64Counter

	// ProtocolSteps counts inbound step messages. Attribute: step.
	ProtocolSteps metric.Int64Counter

	// CalibrationThreshold records calibrated VAD thresholds in dB.
	CalibrationThreshold metric.Float64Histogram

	// UtteranceDuration records voiced span length in seconds.
	UtteranceDuration metric.Float64Histogram

	// ActiveSessions tracks live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter
}

var (
	durationBuckets  = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}
	thresholdBuckets = []float64{-90, -80, -70, -60, -50, -40, -30, -20}
)

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PhaseTransitions, err = m.Int64Counter("tutor.phase.transitions",
		metric.WithDescription("Conversation phase transitions by source and target phase."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("tutor.utterances",
		metric.WithDescription("Finished recordings by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFailures, err = m.Int64Counter("tutor.playback.failures",
		metric.WithDescription("Tracks that failed to play, by track kind."),
	); err != nil {
		return nil, err
	}
	if met.WordChunks, err = m.Int64Counter("tutor.word_chunks",
		metric.WithDescription("Word-by-word chunks handed to speech synthesis."),
	); err != nil {
		return nil, err
	}
	if met.ChannelCloses, err = m.Int64Counter("tutor.channel.closes",
		metric.WithDescription("Dialogue engine channel closures."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolSteps, err = m.Int64Counter("tutor.protocol.steps",
		metric.WithDescription("Inbound protocol steps by tag."),
	); err != nil {
		return nil, err
	}
	if met.CalibrationThreshold, err = m.Float64Histogram("tutor.calibration.threshold",
		metric.WithDescription("Calibrated voice activity threshold."),
		metric.WithUnit("dB"),
		metric.WithExplicitBucketBoundaries(thresholdBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("tutor.utterance.duration",
		metric.WithDescription("Voiced span of finished recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("tutor.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordTransition counts a phase change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.PhaseTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordUtterance counts a finished recording and its voiced span.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string, voiced time.Duration) {
	if m == nil {
		return
	}
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if voiced > 0 {
		m.UtteranceDuration.Record(ctx, voiced.Seconds())
	}
}

func (m *Metrics) RecordPlaybackFailure(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.PlaybackFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordWordChunk(ctx context.Context) {
	if m == nil {
		return
	}
	m.WordChunks.Add(ctx, 1)
}

func (m *Metrics) RecordChannelClose(ctx context.Context) {
	if m == nil {
		return
	}
	m.ChannelCloses.Add(ctx, 1)
}

// RecordStep counts an inbound step. Unknown tags are recorded as "unknown".
func (m *Metrics) RecordStep(ctx context.Context, step string) {
	if m == nil {
		return
	}
	m.ProtocolSteps.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

func (m *Metrics) RecordCalibration(ctx context.Context, thresholdDB float64) {
	if m == nil {
		return
	}
	m.CalibrationThreshold.Record(ctx, thresholdDB)
}

// SessionStarted and SessionEnded move the active session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
