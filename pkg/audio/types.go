// Package audio provides the frame type and PCM utilities used to feed
// the voice activity detector: stereo downmix, sample-rate conversion,
// and a per-stream format normalizer.
package audio

import "time"

// AudioFrame represents a single chunk of audio data flowing through the
// detection pipeline. Frames are the atomic unit of audio transport —
// produced by an upstream capture source, normalized to the detector's
// format, classified by the detector, and buffered by the segmenter.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 48000 from typical capture sources, 16000
	// for downstream speech processing).
	SampleRate int

	// Channels: 1 for mono (the detector's contract), 2 for stereo input
	// awaiting downmix.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
