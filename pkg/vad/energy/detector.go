package energy

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/vad"
)

// diagnosticInterval controls how often per-chunk classification details
// are logged at debug level. Sampling keeps the hot path quiet at normal
// chunk cadences (~50 chunks/s) while still surfacing threshold tuning
// information.
const diagnosticInterval = 25

// subscriberBuffer is the capacity of each subscriber's event channel.
// Transitions are rare relative to chunks, so a small buffer absorbs
// normal consumer jitter; see Detector.publish for the overflow policy.
const subscriberBuffer = 16

// Observer receives per-chunk measurements for observability purposes.
// It is invoked synchronously from ProcessChunk and must not block.
// Observers have no effect on state transitions.
type Observer func(energy float64, state vad.ActivityState, speechFrame bool)

// DropHandler is notified when an event could not be delivered to a
// subscriber because its buffer was full.
type DropHandler func(ev vad.ActivityEvent)

// SubscriptionHook is notified when the number of live subscriptions
// changes: +1 on Subscribe, -1 when a subscription is cancelled or the
// detector is closed. It is invoked with the detector lock held and
// must not call back into the detector.
type SubscriptionHook func(delta int)

// Engine creates energy-based detectors. The zero value is ready to use.
type Engine struct {
	// Observer, if non-nil, is installed on every detector this engine
	// creates.
	Observer Observer

	// OnDrop, if non-nil, is installed on every detector this engine
	// creates and called once per subscriber per dropped event.
	OnDrop DropHandler

	// OnSubscription, if non-nil, is installed on every detector this
	// engine creates and called whenever the live subscription count
	// changes.
	OnSubscription SubscriptionHook
}

// NewDetector creates a detector with the given configuration. Defaults
// are the configuration layer's concern; cfg is used exactly as given.
func (e *Engine) NewDetector(cfg vad.Config) (vad.Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:            cfg,
		observer:       e.Observer,
		onDrop:         e.OnDrop,
		onSubscription: e.OnSubscription,
		subs:           make(map[uint64]*subscriber),
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

// subscriber is a single registered event stream.
type subscriber struct {
	ch     chan vad.ActivityEvent
	warned bool
}

// Detector is the energy/hysteresis implementation of [vad.Detector].
//
// ProcessChunk must be driven by a single goroutine; Subscribe, Reset,
// and Close may be called concurrently with it.
type Detector struct {
	cfg            vad.Config
	observer       Observer
	onDrop         DropHandler
	onSubscription SubscriptionHook

	mu sync.Mutex

	state vad.ActivityState

	// silenceStartedAt marks the first sub-threshold chunk after speech.
	// Zero whenever the state machine is not counting down the hangover;
	// in particular it is never set while the state is already silence.
	silenceStartedAt time.Time

	frameCount uint64
	closed     bool

	subs      map[uint64]*subscriber
	nextSubID uint64
}

// NewDetector creates a detector with no observability hooks. It is a
// convenience for callers that do not need an [Engine].
func NewDetector(cfg vad.Config) (*Detector, error) {
	d, err := (&Engine{}).NewDetector(cfg)
	if err != nil {
		return nil, err
	}
	return d.(*Detector), nil
}

// ProcessChunk implements [vad.Detector]. It computes the chunk's RMS
// energy, advances the hysteresis state machine using the caller-supplied
// instant, and publishes a transition event when one fires.
func (d *Detector) ProcessChunk(chunk []byte, now time.Time) (*vad.ActivityEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, vad.ErrDetectorClosed
	}

	e := Energy(chunk)
	speechFrame := e > d.cfg.SilenceThreshold

	d.frameCount++
	if d.frameCount%diagnosticInterval == 0 {
		slog.Debug("vad chunk sample",
			"energy", e,
			"threshold", d.cfg.SilenceThreshold,
			"state", d.state,
			"speech_frame", speechFrame,
		)
	}
	if d.observer != nil {
		d.observer(e, d.state, speechFrame)
	}

	var ev *vad.ActivityEvent
	switch {
	case speechFrame:
		d.silenceStartedAt = time.Time{}
		if d.state != vad.StateSpeech {
			d.state = vad.StateSpeech
			ev = &vad.ActivityEvent{State: vad.StateSpeech, Timestamp: now}
		}

	case d.state == vad.StateSpeech:
		if d.silenceStartedAt.IsZero() {
			d.silenceStartedAt = now
		}
		if now.Sub(d.silenceStartedAt) >= d.cfg.SilenceHangover {
			d.state = vad.StateSilence
			d.silenceStartedAt = time.Time{}
			ev = &vad.ActivityEvent{State: vad.StateSilence, Timestamp: now}
		}

	default:
		// Already silent: nothing to time, nothing to emit.
	}

	if ev != nil {
		d.publish(*ev)
	}
	return ev, nil
}

// publish fans ev out to all subscribers. Delivery to each subscriber
// preserves publication order. A subscriber whose buffer is full loses
// the event rather than stalling the audio path; the first drop per
// subscriber is logged. Callers must hold d.mu.
func (d *Detector) publish(ev vad.ActivityEvent) {
	for _, s := range d.subs {
		select {
		case s.ch <- ev:
		default:
			if !s.warned {
				s.warned = true
				slog.Warn("vad: slow subscriber, dropping events",
					"state", ev.State,
					"buffer", subscriberBuffer,
				)
			}
			if d.onDrop != nil {
				d.onDrop(ev)
			}
		}
	}
}

// Subscribe implements [vad.Detector].
func (d *Detector) Subscribe() (<-chan vad.ActivityEvent, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, nil, vad.ErrDetectorClosed
	}

	id := d.nextSubID
	d.nextSubID++
	s := &subscriber{ch: make(chan vad.ActivityEvent, subscriberBuffer)}
	d.subs[id] = s
	if d.onSubscription != nil {
		d.onSubscription(1)
	}

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if sub, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(sub.ch)
			if d.onSubscription != nil {
				d.onSubscription(-1)
			}
		}
	}
	return s.ch, cancel, nil
}

// State implements [vad.Detector].
func (d *Detector) State() vad.ActivityState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reset implements [vad.Detector]. It returns the state machine to
// silence without publishing an event and without disturbing
// subscriptions.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = vad.StateSilence
	d.silenceStartedAt = time.Time{}
	d.frameCount = 0
}

// Close implements [vad.Detector]. All subscriber channels are closed;
// further ProcessChunk and Subscribe calls fail with
// [vad.ErrDetectorClosed]. Close is idempotent.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, s := range d.subs {
		delete(d.subs, id)
		close(s.ch)
		if d.onSubscription != nil {
			d.onSubscription(-1)
		}
	}
	return nil
}

var _ vad.Detector = (*Detector)(nil)
