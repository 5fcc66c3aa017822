package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Normalizer converts AudioFrames to the mono format the detector
// consumes. It logs a warning on the first format mismatch and validates
// PCM data alignment. Create one per stream; not designed for shared use
// across goroutines.
type Normalizer struct {
	// TargetRate is the sample rate frames are resampled to. Zero means
	// keep the source rate (downmix only).
	TargetRate int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Normalize converts a frame to mono at TargetRate. If the source already
// matches, the frame is returned unchanged (zero allocation). Downmix
// happens before resampling so that stereo data is never resampled.
// Frames with an odd byte count are corrupt int16 PCM and come back with
// empty data.
func (n *Normalizer) Normalize(frame AudioFrame) AudioFrame {
	targetRate := n.TargetRate
	if targetRate == 0 {
		targetRate = frame.SampleRate
	}

	if len(frame.Data)%2 != 0 {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio normalizer: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return AudioFrame{
			SampleRate: targetRate,
			Channels:   1,
			Timestamp:  frame.Timestamp,
		}
	}

	// Fast path: already mono at the target rate.
	if frame.Channels == 1 && frame.SampleRate == targetRate {
		return frame
	}

	n.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: normalizing",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(targetRate, 1),
		)
	})

	pcm := frame.Data
	if frame.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	if frame.SampleRate != targetRate {
		pcm = ResampleMono16(pcm, frame.SampleRate, targetRate)
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: targetRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}

// NormalizeStream wraps an input channel with a normalization goroutine.
// It closes the returned channel when in closes. Uses cap(in) for the
// output channel buffer. Frames with empty data (e.g. from odd byte
// count) are dropped.
func NormalizeStream(in <-chan AudioFrame, targetRate int) <-chan AudioFrame {
	out := make(chan AudioFrame, cap(in))
	go func() {
		defer close(out)
		norm := Normalizer{TargetRate: targetRate}
		for frame := range in {
			converted := norm.Normalize(frame)
			if len(converted.Data) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to int16
// range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples.
// If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and
// channel count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
