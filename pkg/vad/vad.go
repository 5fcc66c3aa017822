// Package vad defines the contract for streaming voice activity detection.
//
// A detector consumes raw PCM chunks delivered by an upstream capture
// source and classifies the stream into speech and silence intervals.
// State-change notifications are published on a broadcast stream so that
// downstream consumers (utterance segmenters, barge-in controllers) can
// react to speech onset and offset without polling.
//
// Detection is synchronous by design: ProcessChunk returns immediately
// with an optional transition event, making it suitable for low-latency
// pipeline stages. The current instant is supplied by the caller rather
// than sampled internally, so hangover timing is fully deterministic
// under test.
//
// A Detector is driven by exactly one goroutine at a time; callers with
// multiple producers must serialize access to ProcessChunk themselves.
// Subscribe and Close are safe to call concurrently with in-flight
// subscriber notification.
package vad

import (
	"errors"
	"fmt"
	"time"
)

// Default detector parameters, used when the corresponding Config field
// is left at its zero value by the configuration layer.
const (
	// DefaultSilenceThreshold is the normalized RMS energy above which a
	// chunk is classified as speech.
	DefaultSilenceThreshold = 0.01

	// DefaultSilenceHangover is the minimum continuous sub-threshold time
	// required before a Speech→Silence transition fires.
	DefaultSilenceHangover = 800 * time.Millisecond
)

// ErrDetectorClosed is returned by ProcessChunk and Subscribe after the
// detector has been closed. Feeding a closed detector is a caller logic
// bug; failing fast keeps it from being masked as silence.
var ErrDetectorClosed = errors.New("vad: detector is closed")

// Config holds the parameters for a detector, fixed at construction.
type Config struct {
	// SilenceThreshold is the minimum normalized RMS energy classified as
	// speech. Range: [0.0, 1.0]. A chunk whose energy is exactly equal to
	// the threshold counts as silence. Typical: 0.01.
	SilenceThreshold float64

	// SilenceHangover is the minimum continuous sub-threshold duration
	// required before a Speech→Silence transition is declared. Brief dips
	// below the threshold mid-utterance shorter than this window do not
	// end the speech segment. Speech onset has no symmetric delay.
	SilenceHangover time.Duration
}

// Validate reports whether cfg contains a coherent set of values.
func (c Config) Validate() error {
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		return fmt.Errorf("vad: silence threshold %.4f is out of range [0, 1]", c.SilenceThreshold)
	}
	if c.SilenceHangover < 0 {
		return fmt.Errorf("vad: silence hangover %s is negative", c.SilenceHangover)
	}
	return nil
}

// WithDefaults returns a copy of c with zero-valued fields replaced by
// the package defaults. The configuration layer calls this after
// decoding so that an empty detector section yields a working detector;
// engines do not apply defaults themselves, keeping an explicit zero
// hangover configurable.
func (c Config) WithDefaults() Config {
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.SilenceHangover == 0 {
		c.SilenceHangover = DefaultSilenceHangover
	}
	return c
}

// Detector is a stateful voice activity detector for a single audio
// stream. Implementations maintain the hysteresis state machine between
// ProcessChunk calls.
type Detector interface {
	// ProcessChunk classifies a single chunk of 16-bit signed little-endian
	// mono PCM. now is the capture instant of the chunk; it drives the
	// hangover timer, so callers must supply monotonically non-decreasing
	// instants. Returns a non-nil event only when a state transition fired
	// for this chunk. Returns ErrDetectorClosed after Close.
	//
	// Empty or truncated chunks are not errors: they measure as zero
	// energy and are classified as silence.
	ProcessChunk(chunk []byte, now time.Time) (*ActivityEvent, error)

	// Subscribe registers a new event stream. Every event published after
	// the call is delivered on the returned channel in publication order;
	// there is no replay of earlier events. The cancel function removes
	// the subscription and closes the channel; it is idempotent.
	// Returns ErrDetectorClosed after Close.
	Subscribe() (events <-chan ActivityEvent, cancel func(), err error)

	// State returns the current activity state.
	State() ActivityState

	// Reset forces the detector back to StateSilence and clears the
	// hangover timer and diagnostic counters. It does not publish an
	// event — a forced reset is not an observed transition — and it
	// leaves existing subscriptions intact.
	Reset()

	// Close releases the event stream, closing all subscriber channels.
	// Subsequent ProcessChunk and Subscribe calls fail with
	// ErrDetectorClosed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for detectors. It is the top-level interface
// implemented by each detection backend, so that pipelines can be tested
// against mocks and alternative detectors can be swapped in.
type Engine interface {
	// NewDetector creates a detector with the given configuration. The
	// detector starts in StateSilence and is immediately ready to accept
	// chunks. Returns an error if the configuration is invalid.
	NewDetector(cfg Config) (Detector, error)
}
