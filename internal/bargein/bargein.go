// Package bargein implements conversational turn-taking over detector
// events: when the user starts speaking while synthesized audio is still
// playing, the controller interrupts playback and yields the floor.
package bargein

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voxgate/voxgate/pkg/vad"
)

// Reason identifies why playback was cut short. It is passed to
// [Player.Interrupt] so that the player can apply reason-specific
// behaviour (e.g., fade-out vs. hard cut).
type Reason int

const (
	// UserBargeIn indicates the user started speaking while playback was
	// active. The player should yield the floor immediately.
	UserBargeIn Reason = iota

	// OperatorOverride indicates playback was stopped programmatically,
	// typically to inject a priority announcement.
	OperatorOverride
)

// String returns the human-readable name of the interrupt reason.
func (r Reason) String() string {
	switch r {
	case UserBargeIn:
		return "USER_BARGE_IN"
	case OperatorOverride:
		return "OPERATOR_OVERRIDE"
	default:
		return "UNKNOWN"
	}
}

// Player is the playback surface the controller supervises.
// Implementations must be safe for concurrent use: Playing and Interrupt
// are called from the controller's goroutine.
type Player interface {
	// Playing reports whether audio output is currently active.
	Playing() bool

	// Interrupt stops the current output. Called at most once per
	// detected barge-in.
	Interrupt(reason Reason)
}

// Controller subscribes to a detector and interrupts the player on
// speech onset during active playback.
type Controller struct {
	det    vad.Detector
	player Player
}

// New creates a Controller supervising player with events from det.
func New(det vad.Detector, player Player) *Controller {
	return &Controller{det: det, player: player}
}

// Run subscribes to the detector and processes events until ctx is
// cancelled or the detector closes its event stream. Only Speech
// transitions while the player is active trigger an interrupt; Silence
// transitions and speech into an idle player are ignored.
func (c *Controller) Run(ctx context.Context) error {
	events, cancel, err := c.det.Subscribe()
	if err != nil {
		return fmt.Errorf("bargein: subscribe: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.State != vad.StateSpeech {
				continue
			}
			if !c.player.Playing() {
				continue
			}
			slog.Info("barge-in: interrupting playback",
				"reason", UserBargeIn,
				"at", ev.Timestamp,
			)
			c.player.Interrupt(UserBargeIn)
		}
	}
}
