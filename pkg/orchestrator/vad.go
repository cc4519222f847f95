package orchestrator

import (
	"math"
	"time"
)

// Activity is the voice activity class of one amplitude sample.
type Activity int

const (
	Silence Activity = iota
	Voice
)

func (a Activity) String() string {
	if a == Voice {
		return "voice"
	}
	return "silence"
}

// Classify reports Voice when amplitudeDb is above thresholdDb.
func Classify(amplitudeDb, thresholdDb float64) Activity {
	if amplitudeDb > thresholdDb {
		return Voice
	}
	return Silence
}

// CalibrationEvent is reported by Calibrator.Observe at most once each.
type CalibrationEvent int

const (
	CalibrationPending CalibrationEvent = iota
	// CalibrationDone means the threshold was just computed.
	CalibrationDone
	// CalibrationMeteringBroken means no level above the noise floor was seen
	// during the probe window.
	CalibrationMeteringBroken
)

// Calibrator derives the voice threshold of one recording session from the
// peak level seen shortly after the recording starts. It is not safe for
// concurrent use and must not be shared between recordings.
type Calibrator struct {
	cfg     CalibrationConfig
	started time.Time

	calibrated bool
	peak       float64
	threshold  float64

	probed    bool
	probePeak float64
}

func NewCalibrator(cfg CalibrationConfig, started time.Time) *Calibrator {
	return &Calibrator{
		cfg:       cfg,
		started:   started,
		peak:      math.Inf(-1),
		probePeak: math.Inf(-1),
		threshold: cfg.DefaultThresholdDB,
	}
}

// Observe feeds one amplitude sample taken at now and returns the threshold
// to classify it against.
func (c *Calibrator) Observe(amplitudeDb float64, now time.Time) (float64, CalibrationEvent) {
	if !c.cfg.Enabled {
		return c.threshold, CalibrationPending
	}
	elapsed := now.Sub(c.started)
	event := CalibrationPending

	if !c.calibrated {
		if elapsed < c.cfg.Window {
			c.peak = math.Max(c.peak, amplitudeDb)
		} else {
			c.threshold = math.Max(c.peak-c.cfg.OffsetDB, c.cfg.MinThresholdDB)
			c.calibrated = true
			event = CalibrationDone
		}
	}

	if !c.probed {
		if elapsed < c.cfg.ProbeWindow {
			c.probePeak = math.Max(c.probePeak, amplitudeDb)
		} else {
			c.probed = true
			if c.probePeak <= c.cfg.NoiseFloorDB {
				event = CalibrationMeteringBroken
			}
		}
	}

	return c.threshold, event
}

// Calibrated reports whether the threshold has been computed.
func (c *Calibrator) Calibrated() bool { return c.calibrated }

// Threshold returns the current threshold in dB.
func (c *Calibrator) Threshold() float64 { return c.threshold }

// Peak returns the highest level seen during the calibration window.
func (c *Calibrator) Peak() float64 { return c.peak }
