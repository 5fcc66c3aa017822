// Package energy implements a voice activity detector based on RMS
// energy thresholding with a silence hangover.
//
// Raw energy thresholding alone flickers at utterance boundaries: brief
// dips below the threshold mid-word would end the speech segment. The
// detector therefore requires a sustained sub-threshold duration (the
// hangover) before declaring silence. Speech onset is immediate — a
// single super-threshold chunk flips the state — since delaying onset
// costs latency and there is no flicker risk in that direction.
package energy

import "math"

// fullScale is the normalization divisor for 16-bit signed PCM samples.
// Dividing by 32768 maps the sample range onto [-1.0, 1.0).
const fullScale = 32768.0

// Energy returns the root-mean-square amplitude of chunk, interpreted as
// 16-bit signed little-endian mono PCM, normalized into [0, 1]. A
// trailing odd byte is ignored. Chunks with fewer than one full sample
// measure as 0.0, as does an all-zero chunk.
//
// Energy is a pure function with no hidden state.
func Energy(chunk []byte) float64 {
	samples := len(chunk) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples*2; i += 2 {
		s := int16(chunk[i]) | int16(chunk[i+1])<<8
		v := float64(s) / fullScale
		sum += v * v
	}
	return math.Sqrt(sum / float64(samples))
}
