package energy_test

import (
	"errors"
	"testing"
	"time"

	"github.com/voxgate/voxgate/pkg/vad"
	"github.com/voxgate/voxgate/pkg/vad/energy"
)

// Test signal chunks: loud is well above the default 0.01 threshold,
// quiet is silence.
var (
	loudChunk  = constantChunk(16384, 160) // RMS 0.5
	quietChunk = constantChunk(0, 160)     // RMS 0.0
)

// at returns a deterministic test instant offset from a fixed base.
func at(ms int) time.Time {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(ms) * time.Millisecond)
}

// newDetector creates a detector with the given threshold and hangover,
// failing the test on error.
func newDetector(t *testing.T, threshold float64, hangover time.Duration) *energy.Detector {
	t.Helper()
	d, err := energy.NewDetector(vad.Config{
		SilenceThreshold: threshold,
		SilenceHangover:  hangover,
	})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

// process feeds a chunk and fails the test on error.
func process(t *testing.T, d *energy.Detector, chunk []byte, now time.Time) *vad.ActivityEvent {
	t.Helper()
	ev, err := d.ProcessChunk(chunk, now)
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	return ev
}

func TestDetector_InitialStateIsSilence(t *testing.T) {
	d := newDetector(t, 0.01, 800*time.Millisecond)
	defer d.Close()

	if got := d.State(); got != vad.StateSilence {
		t.Errorf("initial state = %v, want silence", got)
	}
}

func TestDetector_ImmediateSpeechOnset(t *testing.T) {
	// A single super-threshold chunk flips the state regardless of the
	// hangover configuration.
	for _, hangover := range []time.Duration{0, 100 * time.Millisecond, 5 * time.Second} {
		d := newDetector(t, 0.01, hangover)

		ev := process(t, d, loudChunk, at(0))
		if ev == nil {
			t.Fatalf("hangover %v: no event on speech onset", hangover)
		}
		if ev.State != vad.StateSpeech {
			t.Errorf("hangover %v: event state = %v, want speech", hangover, ev.State)
		}
		if !ev.Timestamp.Equal(at(0)) {
			t.Errorf("hangover %v: event timestamp = %v, want %v", hangover, ev.Timestamp, at(0))
		}
		d.Close()
	}
}

func TestDetector_SilentIdempotence(t *testing.T) {
	// Sub-threshold chunks while already silent never produce events.
	d := newDetector(t, 0.01, 800*time.Millisecond)
	defer d.Close()

	for i := range 10 {
		if ev := process(t, d, quietChunk, at(i*20)); ev != nil {
			t.Fatalf("chunk %d: unexpected event %+v while silent", i, ev)
		}
	}
	if got := d.State(); got != vad.StateSilence {
		t.Errorf("state = %v, want silence", got)
	}
}

func TestDetector_EqualToThresholdIsSilence(t *testing.T) {
	// Classification uses strict inequality: energy == threshold is not speech.
	d := newDetector(t, 0.5, 800*time.Millisecond)
	defer d.Close()

	half := constantChunk(16384, 160) // RMS exactly 0.5
	if ev := process(t, d, half, at(0)); ev != nil {
		t.Errorf("energy equal to threshold produced event %+v", ev)
	}
	if got := d.State(); got != vad.StateSilence {
		t.Errorf("state = %v, want silence", got)
	}
}

func TestDetector_HangoverAbsorbsBriefDips(t *testing.T) {
	// A dip below threshold shorter than the hangover never ends speech.
	d := newDetector(t, 0.01, 800*time.Millisecond)
	defer d.Close()

	if ev := process(t, d, loudChunk, at(0)); ev == nil || ev.State != vad.StateSpeech {
		t.Fatalf("onset event = %+v, want speech", ev)
	}

	if ev := process(t, d, quietChunk, at(100)); ev != nil {
		t.Fatalf("dip start produced event %+v", ev)
	}
	// Back above threshold 400ms into the 800ms window.
	if ev := process(t, d, loudChunk, at(500)); ev != nil {
		t.Fatalf("speech resume produced event %+v (already speaking)", ev)
	}
	if got := d.State(); got != vad.StateSpeech {
		t.Errorf("state = %v, want speech", got)
	}

	// The dip must not have left a stale timer: silence declared only
	// after a full fresh hangover.
	if ev := process(t, d, quietChunk, at(600)); ev != nil {
		t.Fatalf("fresh dip produced event %+v", ev)
	}
	if ev := process(t, d, quietChunk, at(1300)); ev != nil {
		t.Fatalf("700ms of silence produced event %+v, want none before 800ms", ev)
	}
	ev := process(t, d, quietChunk, at(1400))
	if ev == nil || ev.State != vad.StateSilence {
		t.Fatalf("800ms of silence produced %+v, want silence event", ev)
	}
}

func TestDetector_OffsetFiresExactlyOnce(t *testing.T) {
	// Continuous silence after speech emits exactly one event, at the
	// first chunk whose elapsed sub-threshold time reaches the hangover.
	d := newDetector(t, 0.01, 800*time.Millisecond)
	defer d.Close()

	process(t, d, loudChunk, at(0))

	var events []vad.ActivityEvent
	for ms := 20; ms <= 2000; ms += 20 {
		if ev := process(t, d, quietChunk, at(ms)); ev != nil {
			events = append(events, *ev)
		}
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want exactly 1: %+v", len(events), events)
	}
	if events[0].State != vad.StateSilence {
		t.Errorf("event state = %v, want silence", events[0].State)
	}
	// Timer starts at the first quiet chunk (t=20); 800ms elapse at t=820,
	// and the first processed chunk at or after that is t=820.
	if want := at(820); !events[0].Timestamp.Equal(want) {
		t.Errorf("event timestamp = %v, want %v", events[0].Timestamp, want)
	}
}

func TestDetector_SpecScenario(t *testing.T) {
	// threshold=0.01, hangover=800ms:
	//   loud@0 → speech; quiet@100 → none; quiet@950 → silence (850 ≥ 800);
	//   quiet@1000 → none (already silent).
	d := newDetector(t, 0.01, 800*time.Millisecond)
	defer d.Close()

	ev := process(t, d, loudChunk, at(0))
	if ev == nil || ev.State != vad.StateSpeech || !ev.Timestamp.Equal(at(0)) {
		t.Fatalf("step 1: got %+v, want speech@0", ev)
	}
	if ev := process(t, d, quietChunk, at(100)); ev != nil {
		t.Fatalf("step 2: got %+v, want no event", ev)
	}
	ev = process(t, d, quietChunk, at(950))
	if ev == nil || ev.State != vad.StateSilence || !ev.Timestamp.Equal(at(950)) {
		t.Fatalf("step 3: got %+v, want silence@950", ev)
	}
	if ev := process(t, d, quietChunk, at(1000)); ev != nil {
		t.Fatalf("step 4: got %+v, want no event", ev)
	}
}

func TestDetector_ZeroHangoverTransitionsImmediately(t *testing.T) {
	// With a zero hangover the first sub-threshold chunk after speech
	// satisfies elapsed >= hangover immediately.
	d := newDetector(t, 0.01, 0)
	defer d.Close()

	process(t, d, loudChunk, at(0))
	ev := process(t, d, quietChunk, at(1))
	if ev == nil || ev.State != vad.StateSilence {
		t.Fatalf("got %+v, want immediate silence with zero hangover", ev)
	}
}

func TestDetector_EmptyChunkIsSilence(t *testing.T) {
	d := newDetector(t, 0.01, 100*time.Millisecond)
	defer d.Close()

	process(t, d, loudChunk, at(0))
	if ev := process(t, d, nil, at(50)); ev != nil {
		t.Fatalf("empty chunk produced event %+v before hangover", ev)
	}
	ev := process(t, d, []byte{0x01}, at(200))
	if ev == nil || ev.State != vad.StateSilence {
		t.Fatalf("degenerate chunks should classify as silence, got %+v", ev)
	}
}

func TestDetector_Reset(t *testing.T) {
	d := newDetector(t, 0.01, 800*time.Millisecond)
	defer d.Close()

	events, cancel, err := d.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	process(t, d, loudChunk, at(0))
	process(t, d, quietChunk, at(100)) // hangover timer running

	d.Reset()

	if got := d.State(); got != vad.StateSilence {
		t.Errorf("state after reset = %v, want silence", got)
	}

	// Reset publishes nothing: only the onset event is on the stream.
	if got := len(events); got != 1 {
		t.Errorf("subscriber has %d buffered events after reset, want 1 (onset only)", got)
	}

	// The cleared timer must not carry into the next speech segment:
	// a fresh onset then silence needs a full hangover again.
	process(t, d, loudChunk, at(200))
	if ev := process(t, d, quietChunk, at(950)); ev != nil {
		t.Errorf("stale hangover timer survived reset: %+v", ev)
	}
}

func TestDetector_UseAfterClose(t *testing.T) {
	d := newDetector(t, 0.01, 800*time.Millisecond)

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := d.ProcessChunk(loudChunk, at(0)); !errors.Is(err, vad.ErrDetectorClosed) {
		t.Errorf("ProcessChunk after close: err = %v, want ErrDetectorClosed", err)
	}
	if _, _, err := d.Subscribe(); !errors.Is(err, vad.ErrDetectorClosed) {
		t.Errorf("Subscribe after close: err = %v, want ErrDetectorClosed", err)
	}
}

func TestDetector_CloseTerminatesSubscribers(t *testing.T) {
	d := newDetector(t, 0.01, 800*time.Millisecond)

	events, cancel, err := d.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Error("received event after close, want closed channel")
		}
	case <-time.After(time.Second):
		t.Error("subscriber channel not closed after Close")
	}

	// Cancelling after close must not panic (double close guard).
	cancel()
}

func TestDetector_SubscribersReceiveEventsInOrder(t *testing.T) {
	d := newDetector(t, 0.01, 100*time.Millisecond)
	defer d.Close()

	first, cancel1, err := d.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel1()
	second, cancel2, err := d.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel2()

	// Three transitions: speech, silence, speech.
	process(t, d, loudChunk, at(0))
	process(t, d, quietChunk, at(200))
	process(t, d, loudChunk, at(400))

	want := []vad.ActivityState{vad.StateSpeech, vad.StateSilence, vad.StateSpeech}
	for name, ch := range map[string]<-chan vad.ActivityEvent{"first": first, "second": second} {
		for i, ws := range want {
			select {
			case ev := <-ch:
				if ev.State != ws {
					t.Errorf("%s subscriber event %d: state = %v, want %v", name, i, ev.State, ws)
				}
			case <-time.After(time.Second):
				t.Fatalf("%s subscriber: missing event %d", name, i)
			}
		}
	}
}

func TestDetector_LateSubscriberGetsNoReplay(t *testing.T) {
	d := newDetector(t, 0.01, 100*time.Millisecond)
	defer d.Close()

	process(t, d, loudChunk, at(0)) // onset before anyone subscribes

	events, cancel, err := d.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if got := len(events); got != 0 {
		t.Fatalf("late subscriber has %d historical events buffered, want 0", got)
	}

	process(t, d, quietChunk, at(200))
	select {
	case ev := <-events:
		if ev.State != vad.StateSilence {
			t.Errorf("event state = %v, want silence", ev.State)
		}
	case <-time.After(time.Second):
		t.Error("late subscriber missed the post-subscription event")
	}
}

func TestDetector_CancelUnsubscribes(t *testing.T) {
	d := newDetector(t, 0.01, 100*time.Millisecond)
	defer d.Close()

	events, cancel, err := d.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()
	cancel() // idempotent

	if _, ok := <-events; ok {
		t.Error("received event on cancelled subscription, want closed channel")
	}

	// Publishing with no subscribers must not panic.
	process(t, d, loudChunk, at(0))
}

func TestDetector_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	var dropped int
	eng := &energy.Engine{
		OnDrop: func(vad.ActivityEvent) { dropped++ },
	}
	det, err := eng.NewDetector(vad.Config{
		SilenceThreshold: 0.01,
		SilenceHangover:  0,
	})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	defer det.Close()

	events, cancel, err := det.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	// Never read from events: alternate loud/quiet so every chunk after
	// the first transitions, overflowing the subscriber buffer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 40 {
			chunk := loudChunk
			if i%2 == 1 {
				chunk = quietChunk
			}
			if _, err := det.ProcessChunk(chunk, at(i*20)); err != nil {
				t.Errorf("ProcessChunk %d: %v", i, err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessChunk blocked on a slow subscriber")
	}

	if dropped == 0 {
		t.Error("expected dropped events for a stuck subscriber, got none")
	}
	if got := len(events); got+dropped != 40 {
		t.Errorf("buffered %d + dropped %d events, want 40 total", got, dropped)
	}
}

func TestDetector_SubscriptionHookTracksLifecycle(t *testing.T) {
	var active int
	eng := &energy.Engine{
		OnSubscription: func(delta int) { active += delta },
	}
	det, err := eng.NewDetector(vad.Config{SilenceThreshold: 0.01})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	_, cancel1, err := det.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, _, err := det.Subscribe(); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if active != 2 {
		t.Errorf("after two subscriptions: active = %d, want 2", active)
	}

	cancel1()
	cancel1() // idempotent: must not decrement twice
	if active != 1 {
		t.Errorf("after cancel: active = %d, want 1", active)
	}

	// Close releases the remaining subscription.
	if err := det.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if active != 0 {
		t.Errorf("after close: active = %d, want 0", active)
	}
}

func TestDetector_ObserverSeesEveryChunk(t *testing.T) {
	var calls int
	var lastEnergy float64
	var lastSpeech bool
	eng := &energy.Engine{
		Observer: func(e float64, _ vad.ActivityState, speech bool) {
			calls++
			lastEnergy = e
			lastSpeech = speech
		},
	}
	det, err := eng.NewDetector(vad.Config{SilenceThreshold: 0.01})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	defer det.Close()

	for i := range 5 {
		if _, err := det.ProcessChunk(quietChunk, at(i*20)); err != nil {
			t.Fatalf("ProcessChunk: %v", err)
		}
	}
	if _, err := det.ProcessChunk(loudChunk, at(120)); err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}

	if calls != 6 {
		t.Errorf("observer called %d times, want 6", calls)
	}
	if lastEnergy != 0.5 || !lastSpeech {
		t.Errorf("observer saw energy=%v speech=%v, want 0.5/true", lastEnergy, lastSpeech)
	}
}

func TestNewDetector_Validation(t *testing.T) {
	invalid := []vad.Config{
		{SilenceThreshold: -0.1},
		{SilenceThreshold: 1.5},
		{SilenceThreshold: 0.01, SilenceHangover: -time.Second},
	}
	for _, cfg := range invalid {
		if _, err := energy.NewDetector(cfg); err == nil {
			t.Errorf("NewDetector(%+v): expected validation error", cfg)
		}
	}
}
