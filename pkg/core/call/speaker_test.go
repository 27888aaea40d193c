package call

import (
	"testing"
	"time"

	"github.com/dialkit/dialkit/pkg/core/protocol"
)

// trigger fires one of the three commit paths against a coordinator.
type trigger struct {
	name string
	fire func(sc *speakerCoordinator)
}

func commitTriggers() []trigger {
	return []trigger{
		{"transcript", func(sc *speakerCoordinator) { sc.onTranscriptDelta("item-new") }},
		{"audio_onset", func(sc *speakerCoordinator) { sc.onAudioOnset() }},
		{"fallback_timer", func(sc *speakerCoordinator) { sc.tryCommit(sc.generation, "fallback_timer") }},
	}
}

func TestSpeakerCommitExclusivity(t *testing.T) {
	triggers := commitTriggers()
	for _, first := range triggers {
		for _, second := range triggers {
			if first.name == second.name {
				continue
			}
			t.Run(first.name+"_then_"+second.name, func(t *testing.T) {
				var commits []int
				sc := newSpeakerCoordinator(func(target int, trigger string) {
					commits = append(commits, target)
				})
				sc.schedule = func(d time.Duration, fn func()) *time.Timer {
					// Fallback armed but inert; triggers fire by hand.
					return time.AfterFunc(time.Hour, fn)
				}
				sc.request(12, "item-old", time.Hour, func(fn func()) { fn() })

				first.fire(sc)
				second.fire(sc)

				if len(commits) != 1 {
					t.Fatalf("commits = %v, want exactly one", commits)
				}
				if commits[0] != 12 {
					t.Errorf("committed %d, want 12", commits[0])
				}
			})
		}
	}
}

func TestSpeakerTranscriptOnRequestItemDoesNotCommit(t *testing.T) {
	var commits int
	sc := newSpeakerCoordinator(func(int, string) { commits++ })
	sc.schedule = func(d time.Duration, fn func()) *time.Timer {
		return time.AfterFunc(time.Hour, fn)
	}
	sc.request(12, "item-old", time.Hour, func(fn func()) { fn() })

	// A delta on the item that was already streaming when the switch was
	// requested is the old turn, not the new one.
	sc.onTranscriptDelta("item-old")
	if commits != 0 {
		t.Fatal("committed on the requesting turn's own item")
	}
	sc.onTranscriptDelta("item-new")
	if commits != 1 {
		t.Fatalf("commits = %d, want 1", commits)
	}
}

func TestSpeakerStaleFallbackCannotCommitNewRequest(t *testing.T) {
	var commits []int
	sc := newSpeakerCoordinator(func(target int, _ string) { commits = append(commits, target) })
	sc.schedule = func(d time.Duration, fn func()) *time.Timer {
		return time.AfterFunc(time.Hour, fn)
	}
	post := func(fn func()) { fn() }

	sc.request(12, "item-a", time.Hour, post)
	staleGen := sc.generation
	sc.request(31, "item-b", time.Hour, post)

	// The superseded request's timer firing late must be a no-op.
	sc.tryCommit(staleGen, "fallback_timer")
	if len(commits) != 0 {
		t.Fatalf("stale fallback committed %v", commits)
	}

	sc.onAudioOnset()
	if len(commits) != 1 || commits[0] != 31 {
		t.Fatalf("commits = %v, want [31]", commits)
	}
}

func TestSpeakerFallbackTimerCommits(t *testing.T) {
	var commits []int
	var triggers []string
	sc := newSpeakerCoordinator(func(target int, trigger string) {
		commits = append(commits, target)
		triggers = append(triggers, trigger)
	})
	sc.request(12, "item-a", 10*time.Millisecond, func(fn func()) { fn() })

	waitFor(t, "fallback commit", func() bool { return len(commits) == 1 })
	if commits[0] != 12 || triggers[0] != "fallback_timer" {
		t.Fatalf("commit = %v via %v, want 12 via fallback_timer", commits, triggers)
	}
}

func TestSwitchSpeakerEndToEnd(t *testing.T) {
	tc := startTestCall(t, nil)

	if ack := tc.toolCall(t, "add_to_call", `{"targets":[12]}`); ack["success"] != true {
		t.Fatalf("add_to_call ack = %v", ack)
	}
	waitFor(t, "conference mode", func() bool { return tc.c.Mode() == ModeConference })

	// Attribution must not flip on the request alone.
	tc.signal.inject(protocol.ResponseCreated{ResponseID: "r-sw"})
	tc.signal.inject(protocol.OutputAudioStarted{ResponseID: "r-sw", ItemID: "item-current"})
	if ack := tc.toolCall(t, "switch_speaker", `{"target":12}`); ack["success"] != true {
		t.Fatalf("switch_speaker ack = %v", ack)
	}
	if got := tc.c.CurrentSpeaker(); got == 12 {
		t.Fatal("speaker committed before any confirmation signal")
	}

	// A transcript delta on a fresh item confirms the new turn.
	tc.signal.inject(protocol.TranscriptDelta{ItemID: "item-next", Role: "assistant", Delta: "Well"})
	waitFor(t, "speaker commit", func() bool { return tc.c.CurrentSpeaker() == 12 })

	// A late second signal is a no-op.
	tc.signal.inject(protocol.TranscriptDelta{ItemID: "item-next2", Role: "assistant", Delta: "then"})
	time.Sleep(30 * time.Millisecond)
	if got := len(tc.sink.ofType("speaker.changed")); got != 1 {
		t.Errorf("speaker.changed events = %d, want 1", got)
	}
}

func TestSwitchSpeakerIgnoresHumanTranscript(t *testing.T) {
	tc := startTestCall(t, func(cfg *Config, deps *Deps) {
		cfg.SpeakerFallback = time.Hour
	})

	if ack := tc.toolCall(t, "add_to_call", `{"targets":[12]}`); ack["success"] != true {
		t.Fatalf("add_to_call ack = %v", ack)
	}
	waitFor(t, "conference mode", func() bool { return tc.c.Mode() == ModeConference })

	if ack := tc.toolCall(t, "switch_speaker", `{"target":12}`); ack["success"] != true {
		t.Fatalf("switch_speaker ack = %v", ack)
	}

	// The human side gets transcribed too; their speech says nothing about
	// who talks next.
	tc.signal.inject(protocol.TranscriptDelta{ItemID: "item-human", Role: "user", Delta: "hello?"})
	time.Sleep(30 * time.Millisecond)
	if got := tc.c.CurrentSpeaker(); got == 12 {
		t.Fatal("human transcript committed the pending switch")
	}

	// Agent speech on a fresh item does confirm it.
	tc.signal.inject(protocol.TranscriptDelta{ItemID: "item-agent", Role: "assistant", Delta: "Well"})
	waitFor(t, "speaker commit", func() bool { return tc.c.CurrentSpeaker() == 12 })
}

func TestSwitchSpeakerRejectsNonRosterTarget(t *testing.T) {
	tc := startTestCall(t, nil)
	if ack := tc.toolCall(t, "add_to_call", `{"targets":[12]}`); ack["success"] != true {
		t.Fatalf("add_to_call ack = %v", ack)
	}
	ack := tc.toolCall(t, "switch_speaker", `{"target":31}`)
	if ack["success"] != false {
		t.Fatalf("ack = %v, want failure for off-roster target", ack)
	}
}
