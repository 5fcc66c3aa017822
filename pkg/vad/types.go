package vad

import "time"

// ActivityState is the detector's classification of the audio stream.
type ActivityState int

const (
	// StateSilence indicates no speech is currently detected. This is the
	// initial state of every detector.
	StateSilence ActivityState = iota

	// StateSpeech indicates an active speech segment.
	StateSpeech
)

// String returns the human-readable name of the state.
func (s ActivityState) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateSpeech:
		return "speech"
	default:
		return "unknown"
	}
}

// ActivityEvent records a single state transition. Events are produced
// only when the state changes, never on a no-op update. Subscribers may
// retain copies; the detector does not reuse event values.
type ActivityEvent struct {
	// State is the state the detector transitioned into.
	State ActivityState

	// Timestamp is the caller-supplied instant of the chunk that caused
	// the transition.
	Timestamp time.Time
}
