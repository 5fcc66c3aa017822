// Package segment turns the detector's speech/silence transitions into
// discrete utterances: bounded PCM buffers covering one speech segment
// each, with a configurable pre-roll of audio captured before onset so
// that the first phoneme is not clipped.
package segment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/pkg/audio"
	"github.com/voxgate/voxgate/pkg/vad"
)

// Utterance is one contiguous speech segment cut from the input stream.
type Utterance struct {
	// ID uniquely identifies the utterance.
	ID uuid.UUID

	// PCM is the mono 16-bit little-endian audio of the segment,
	// including the pre-roll.
	PCM []byte

	// Start is the instant of the chunk that triggered speech onset.
	Start time.Time

	// End is the instant the detector declared silence (or the last
	// frame, for a segment cut by MaxUtterance or end of stream).
	End time.Time
}

// Config holds the segmenter parameters.
type Config struct {
	// PreRoll is how much audio captured before speech onset is included
	// at the start of each utterance.
	PreRoll time.Duration

	// MaxUtterance caps a single utterance; speech running longer is
	// split into consecutive utterances. Zero means no cap.
	MaxUtterance time.Duration

	// Epoch is the instant of stream start; frame timestamps are offsets
	// from it. The zero value works — only differences matter.
	Epoch time.Time
}

// Segmenter drives a detector over a frame stream and assembles
// utterances. It is the single ProcessChunk caller for its detector;
// other consumers observe the detector through its event subscription.
type Segmenter struct {
	cfg Config
	det vad.Detector

	// Metrics, if non-nil, receives transition and utterance recordings.
	Metrics *observe.Metrics

	// preRoll holds recent frames while silent, newest last, trimmed to
	// cfg.PreRoll of total audio.
	preRoll []audio.AudioFrame

	// current accumulates the active utterance, nil while silent.
	current *building
}

// building is an utterance under construction.
type building struct {
	pcm   []byte
	start time.Time
	last  time.Time
}

// New creates a Segmenter that feeds det.
func New(det vad.Detector, cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg, det: det}
}

// Run consumes frames until in closes or ctx is cancelled, sending
// completed utterances on out. Frames must be mono PCM (normalize
// upstream with [audio.NormalizeStream]). A speech segment still open
// when the stream ends is flushed as a final utterance. Run closes out
// on return.
func (s *Segmenter) Run(ctx context.Context, in <-chan audio.AudioFrame, out chan<- Utterance) error {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-in:
			if !ok {
				// End of stream: flush a speech segment in progress.
				if s.current != nil {
					if err := s.emit(ctx, out, s.current.last); err != nil {
						return err
					}
				}
				return nil
			}
			if err := s.process(ctx, frame, out); err != nil {
				return err
			}
		}
	}
}

// process feeds one frame to the detector and advances the utterance
// assembly state machine.
func (s *Segmenter) process(ctx context.Context, frame audio.AudioFrame, out chan<- Utterance) error {
	now := s.cfg.Epoch.Add(frame.Timestamp)

	ev, err := s.det.ProcessChunk(frame.Data, now)
	if err != nil {
		return fmt.Errorf("segment: process chunk: %w", err)
	}
	if ev != nil && s.Metrics != nil {
		s.Metrics.RecordTransition(ctx, ev.State)
	}

	switch {
	case ev != nil && ev.State == vad.StateSpeech:
		// Onset: seed the utterance with the pre-roll, then this frame.
		b := &building{start: ev.Timestamp}
		for _, pf := range s.preRoll {
			b.pcm = append(b.pcm, pf.Data...)
		}
		s.preRoll = s.preRoll[:0]
		b.pcm = append(b.pcm, frame.Data...)
		b.last = now
		s.current = b

	case ev != nil && ev.State == vad.StateSilence:
		// Offset: the hangover tail is part of the utterance. A nil
		// current means the detector entered speech before Run started;
		// there is nothing buffered to emit.
		if s.current != nil {
			s.current.pcm = append(s.current.pcm, frame.Data...)
			if err := s.emit(ctx, out, ev.Timestamp); err != nil {
				return err
			}
		}

	case s.current != nil:
		// Mid-utterance (speech or within the hangover window).
		s.current.pcm = append(s.current.pcm, frame.Data...)
		s.current.last = now
		if s.cfg.MaxUtterance > 0 && now.Sub(s.current.start) >= s.cfg.MaxUtterance {
			if err := s.emit(ctx, out, now); err != nil {
				return err
			}
			// Keep assembling: the speaker has not stopped.
			s.current = &building{start: now, last: now}
		}

	default:
		// Silent: remember the frame for pre-roll.
		s.pushPreRoll(frame)
	}

	return nil
}

// emit finalises the current utterance, sends it, and returns to the
// silent assembly state.
func (s *Segmenter) emit(ctx context.Context, out chan<- Utterance, end time.Time) error {
	u := Utterance{
		ID:    uuid.New(),
		PCM:   s.current.pcm,
		Start: s.current.start,
		End:   end,
	}
	s.current = nil

	if s.Metrics != nil {
		s.Metrics.RecordUtterance(ctx, end.Sub(u.Start))
	}

	select {
	case out <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pushPreRoll appends frame to the pre-roll buffer and trims it from the
// front so its total duration stays within cfg.PreRoll.
func (s *Segmenter) pushPreRoll(frame audio.AudioFrame) {
	if s.cfg.PreRoll <= 0 {
		return
	}
	s.preRoll = append(s.preRoll, frame)

	total := time.Duration(0)
	for _, f := range s.preRoll {
		total += frameDuration(f)
	}
	for len(s.preRoll) > 1 && total > s.cfg.PreRoll {
		total -= frameDuration(s.preRoll[0])
		s.preRoll = s.preRoll[1:]
	}
}

// frameDuration returns the audio duration of a mono frame.
func frameDuration(f audio.AudioFrame) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.Data) / 2
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
