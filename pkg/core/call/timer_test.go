package call

import (
	"testing"
	"time"
)

func countdownForTest(exploring *bool) (*countdown, *struct {
	warnings int
	expiries int
	forces   int
}) {
	cfg := Config{
		BaseDuration:        300 * time.Millisecond,
		Extension:           200 * time.Millisecond,
		WarningThreshold:    100 * time.Millisecond,
		GraceDuration:       80 * time.Millisecond,
		ContentDeadlinePush: 150 * time.Millisecond,
	}
	counts := &struct {
		warnings int
		expiries int
		forces   int
	}{}
	cd := newCountdown(cfg, func() bool { return exploring != nil && *exploring })
	cd.onWarning = func(time.Duration) { counts.warnings++ }
	cd.onExpiry = func() { counts.expiries++ }
	cd.onForce = func() { counts.forces++ }
	return cd, counts
}

func TestCountdownWarningFiresOnce(t *testing.T) {
	cd, counts := countdownForTest(nil)
	start := time.Unix(1000, 0)
	cd.start(start)

	// Before the threshold: nothing.
	cd.tick(start.Add(100 * time.Millisecond))
	if counts.warnings != 0 {
		t.Fatal("warned too early")
	}

	// Inside the threshold: exactly one warning across repeated ticks.
	cd.tick(start.Add(210 * time.Millisecond))
	cd.tick(start.Add(220 * time.Millisecond))
	cd.tick(start.Add(230 * time.Millisecond))
	if counts.warnings != 1 {
		t.Fatalf("warnings = %d, want 1", counts.warnings)
	}
	if counts.expiries != 0 {
		t.Fatal("expired while time remained")
	}
}

func TestCountdownExpiryThenForcedTermination(t *testing.T) {
	cd, counts := countdownForTest(nil)
	start := time.Unix(1000, 0)
	cd.start(start)

	cd.tick(start.Add(300 * time.Millisecond))
	if counts.expiries != 1 {
		t.Fatalf("expiries = %d, want 1", counts.expiries)
	}
	if !cd.goodbyeRequested {
		t.Fatal("goodbyeRequested not set at deadline")
	}

	// Inside grace: no force yet, and no second expiry.
	cd.tick(start.Add(350 * time.Millisecond))
	if counts.forces != 0 || counts.expiries != 1 {
		t.Fatalf("forces = %d, expiries = %d inside grace", counts.forces, counts.expiries)
	}

	// Grace elapsed: forced.
	cd.tick(start.Add(400 * time.Millisecond))
	if counts.forces != 1 {
		t.Fatalf("forces = %d, want 1", counts.forces)
	}
}

func TestCountdownGoodbyeIsMonotonic(t *testing.T) {
	cd, counts := countdownForTest(nil)
	start := time.Unix(1000, 0)
	cd.start(start)
	cd.tick(start.Add(300 * time.Millisecond))
	if !cd.goodbyeRequested {
		t.Fatal("not expired")
	}

	// No tool traffic can claw the call back: extension is refused and
	// forced termination still arrives.
	if cd.extend(start.Add(310 * time.Millisecond)) {
		t.Fatal("extend succeeded after goodbye was requested")
	}
	cd.tick(start.Add(500 * time.Millisecond))
	if counts.forces != 1 {
		t.Fatalf("forces = %d, want 1", counts.forces)
	}
}

func TestCountdownSingleExtension(t *testing.T) {
	cd, counts := countdownForTest(nil)
	start := time.Unix(1000, 0)
	cd.start(start)

	deadlineBefore := cd.deadline
	if !cd.extend(start.Add(50 * time.Millisecond)) {
		t.Fatal("first extension refused")
	}
	if got := cd.deadline.Sub(deadlineBefore); got != 200*time.Millisecond {
		t.Errorf("deadline moved %v, want 200ms", got)
	}

	deadlineAfterFirst := cd.deadline
	if cd.extend(start.Add(60 * time.Millisecond)) {
		t.Fatal("second extension granted")
	}
	if cd.deadline != deadlineAfterFirst {
		t.Error("deadline moved on refused extension")
	}

	// Extension re-arms the warning.
	cd.warningFired = true
	cd2, _ := countdownForTest(nil)
	cd2.start(start)
	cd2.tick(start.Add(210 * time.Millisecond))
	if !cd2.warningFired {
		t.Fatal("warning did not fire")
	}
	if !cd2.extend(start.Add(220 * time.Millisecond)) {
		t.Fatal("extension refused before deadline")
	}
	if cd2.warningFired {
		t.Error("warning flag not reset by extension")
	}
	_ = counts
}

func TestDeadlineWindsDownThenForcesTermination(t *testing.T) {
	tc := startTestCall(t, func(cfg *Config, deps *Deps) {
		cfg.BaseDuration = 120 * time.Millisecond
		cfg.WarningThreshold = 60 * time.Millisecond
		cfg.GraceDuration = 80 * time.Millisecond
	})

	waitFor(t, "time warning", func() bool {
		return len(tc.sink.ofType("time.warning")) == 1
	})
	waitFor(t, "winding down", func() bool { return tc.c.Mode() == ModeWindingDown })
	if tc.c.State() != StateActive {
		t.Error("call left active before grace expired")
	}

	// The agent ignores the farewell instruction entirely; the grace
	// window still ends the call.
	waitFor(t, "forced termination", func() bool { return tc.c.State() == StateEnding })

	ended := tc.sink.ofType("call.ended")
	waitFor(t, "ended event", func() bool {
		ended = tc.sink.ofType("call.ended")
		return len(ended) == 1
	})
	if ev := ended[0].(*CallEndedEvent); ev.Reason != "timeout" {
		t.Errorf("ended reason = %q, want timeout", ev.Reason)
	}
}

func TestCountdownPushedWhileContentPlays(t *testing.T) {
	exploring := true
	cd, counts := countdownForTest(&exploring)
	start := time.Unix(1000, 0)
	cd.start(start)
	cd.warningFired = true

	// Deadline reached mid-content: pushed forward, no winding down, and
	// the warning is re-armed for afterwards.
	at := start.Add(300 * time.Millisecond)
	cd.tick(at)
	if counts.expiries != 0 {
		t.Fatal("expired while content was playing")
	}
	if cd.warningFired {
		t.Error("warning flag not reset during content push")
	}
	if want := at.Add(150 * time.Millisecond); cd.deadline.Before(want) {
		t.Errorf("deadline = %v, want pushed to at least %v", cd.deadline, want)
	}

	// Content over: the countdown resumes and eventually expires.
	exploring = false
	cd.tick(at.Add(200 * time.Millisecond))
	if counts.expiries != 1 {
		t.Fatalf("expiries = %d after content ended, want 1", counts.expiries)
	}
}
