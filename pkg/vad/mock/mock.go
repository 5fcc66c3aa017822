// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that detectors are created with the expected
// Config. Use Detector to inject transition events and inspect the
// chunks that were submitted for processing.
//
// Example:
//
//	det := &mock.Detector{
//	    EventResult: &vad.ActivityEvent{State: vad.StateSpeech},
//	}
//	eng := &mock.Engine{Detector: det}
//	d, _ := eng.NewDetector(cfg)
package mock

import (
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/vad"
)

// NewDetectorCall records a single invocation of Engine.NewDetector.
type NewDetectorCall struct {
	// Cfg is the Config passed to NewDetector.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Detector is returned by NewDetector. If nil, NewDetector returns a
	// new default Detector.
	Detector vad.Detector

	// NewDetectorErr, if non-nil, is returned as the error from NewDetector.
	NewDetectorErr error

	// NewDetectorCalls records every call to NewDetector in order.
	NewDetectorCalls []NewDetectorCall
}

// NewDetector records the call and returns Detector, NewDetectorErr.
func (e *Engine) NewDetector(cfg vad.Config) (vad.Detector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewDetectorCalls = append(e.NewDetectorCalls, NewDetectorCall{Cfg: cfg})
	if e.NewDetectorErr != nil {
		return nil, e.NewDetectorErr
	}
	if e.Detector != nil {
		return e.Detector, nil
	}
	return &Detector{}, nil
}

// ResetCalls clears all recorded calls. Thread-safe.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewDetectorCalls = nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// ProcessChunkCall records a single invocation of Detector.ProcessChunk.
type ProcessChunkCall struct {
	// Chunk is a copy of the bytes passed to ProcessChunk.
	Chunk []byte

	// Now is the instant passed to ProcessChunk.
	Now time.Time
}

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// EventResult is returned by every ProcessChunk call. A nil value
	// means no transition.
	EventResult *vad.ActivityEvent

	// ProcessChunkErr, if non-nil, is returned by every ProcessChunk call.
	ProcessChunkErr error

	// StateResult is returned by State.
	StateResult vad.ActivityState

	// SubscribeErr, if non-nil, is returned by Subscribe.
	SubscribeErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Events is the channel handed to subscribers. Lazily created on the
	// first Subscribe call; tests publish on it via Publish.
	Events chan vad.ActivityEvent

	// --- Call records ---

	// ProcessChunkCalls records every call to ProcessChunk in order.
	ProcessChunkCalls []ProcessChunkCall

	// SubscribeCallCount is the number of times Subscribe was called.
	SubscribeCallCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// ProcessChunk records the call and returns EventResult, ProcessChunkErr.
func (d *Detector) ProcessChunk(chunk []byte, now time.Time) (*vad.ActivityEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	d.ProcessChunkCalls = append(d.ProcessChunkCalls, ProcessChunkCall{Chunk: cp, Now: now})
	return d.EventResult, d.ProcessChunkErr
}

// Subscribe records the call and returns the shared Events channel. All
// subscribers of a mock Detector receive the same channel.
func (d *Detector) Subscribe() (<-chan vad.ActivityEvent, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SubscribeCallCount++
	if d.SubscribeErr != nil {
		return nil, nil, d.SubscribeErr
	}
	if d.Events == nil {
		d.Events = make(chan vad.ActivityEvent, 16)
	}
	return d.Events, func() {}, nil
}

// Publish sends ev on the Events channel, creating it if needed. Tests
// use this to drive subscribers of the mock.
func (d *Detector) Publish(ev vad.ActivityEvent) {
	d.mu.Lock()
	if d.Events == nil {
		d.Events = make(chan vad.ActivityEvent, 16)
	}
	ch := d.Events
	d.mu.Unlock()
	ch <- ev
}

// State returns StateResult.
func (d *Detector) State() vad.ActivityState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.StateResult
}

// Reset records the call by incrementing ResetCallCount.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCallCount++
}

// Close records the call, closes the Events channel if present, and
// returns CloseErr.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	if d.CloseCallCount == 1 {
		if d.Events == nil {
			d.Events = make(chan vad.ActivityEvent)
		}
		close(d.Events)
	}
	return d.CloseErr
}

// ResetCalls clears all recorded call history. Thread-safe.
func (d *Detector) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ProcessChunkCalls = nil
	d.SubscribeCallCount = 0
	d.ResetCallCount = 0
	d.CloseCallCount = 0
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)
