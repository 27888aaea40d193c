package call

import (
	"time"
)

// countdown tracks the call deadline, the single extension, the
// agent-facing warning, and the post-deadline grace window. It is a
// synchronous state machine advanced by tick(now) from the event loop;
// it owns no goroutines and no real timers, so tests drive it with a
// fake clock.
type countdown struct {
	cfg Config

	deadline         time.Time
	started          bool
	extensionUsed    bool
	warningFired     bool
	goodbyeRequested bool
	graceDeadline    time.Time

	// explorationActive reports whether narrated content is playing;
	// the deadline is pushed while it is, so a countdown never expires
	// mid-content.
	explorationActive func() bool

	onWarning func(remaining time.Duration)
	onExpiry  func()
	onForce   func()
}

func newCountdown(cfg Config, explorationActive func() bool) *countdown {
	return &countdown{cfg: cfg, explorationActive: explorationActive}
}

func (cd *countdown) start(now time.Time) {
	cd.deadline = now.Add(cd.cfg.BaseDuration)
	cd.started = true
}

// extend pushes the deadline by the configured increment and re-arms the
// warning. It succeeds at most once per call.
func (cd *countdown) extend(now time.Time) bool {
	if !cd.started || cd.extensionUsed || cd.goodbyeRequested {
		return false
	}
	cd.extensionUsed = true
	cd.warningFired = false
	cd.deadline = cd.deadline.Add(cd.cfg.Extension)
	return true
}

func (cd *countdown) remaining(now time.Time) time.Duration {
	if !cd.started {
		return cd.cfg.BaseDuration
	}
	return cd.deadline.Sub(now)
}

// tick advances the countdown. Once the goodbye has been requested, the
// only remaining transition is grace expiry; nothing resets it.
func (cd *countdown) tick(now time.Time) {
	if !cd.started {
		return
	}

	if cd.goodbyeRequested {
		if !now.Before(cd.graceDeadline) && cd.onForce != nil {
			cd.onForce()
		}
		return
	}

	if cd.explorationActive != nil && cd.explorationActive() {
		// Content is playing; keep the deadline ahead of it and let
		// the warning fire again afterward.
		min := now.Add(cd.cfg.ContentDeadlinePush)
		if cd.deadline.Before(min) {
			cd.deadline = min
			cd.warningFired = false
		}
		return
	}

	remaining := cd.deadline.Sub(now)
	if remaining <= cd.cfg.WarningThreshold && remaining > 0 && !cd.warningFired {
		cd.warningFired = true
		if cd.onWarning != nil {
			cd.onWarning(remaining)
		}
		return
	}

	if remaining <= 0 {
		cd.goodbyeRequested = true
		cd.graceDeadline = now.Add(cd.cfg.GraceDuration)
		if cd.onExpiry != nil {
			cd.onExpiry()
		}
	}
}
