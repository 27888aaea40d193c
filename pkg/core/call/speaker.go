package call

import (
	"time"
)

// speakerCoordinator resolves "who is currently speaking" during a
// conference. Three independent signals can confirm a switch request: a
// transcript delta opening a new item, an acoustic silence-to-speech
// transition on the output signal, or a bounded fallback timer. The first
// signal to land commits the attribution; the rest are no-ops for that
// request. A generation counter distinguishes requests so a late timer for
// an old request cannot commit a newer one.
type speakerCoordinator struct {
	pending     int
	hasPending  bool
	generation  uint64
	requestItem string // transcript item current at request time

	fallback *time.Timer
	commit   func(target int, trigger string)
	schedule func(d time.Duration, fn func()) *time.Timer
}

func newSpeakerCoordinator(commit func(target int, trigger string)) *speakerCoordinator {
	return &speakerCoordinator{
		commit:   commit,
		schedule: time.AfterFunc,
	}
}

// request queues a pending attribution and arms the fallback timer. A new
// request while one is pending replaces it; the superseded request's
// triggers are invalidated by the generation bump. post must route fn back
// onto the call's event loop.
func (sc *speakerCoordinator) request(target int, currentItem string, fallbackAfter time.Duration, post func(func())) {
	sc.cancelFallback()
	sc.generation++
	gen := sc.generation
	sc.pending = target
	sc.hasPending = true
	sc.requestItem = currentItem
	sc.fallback = sc.schedule(fallbackAfter, func() {
		post(func() { sc.tryCommit(gen, "fallback_timer") })
	})
}

// onTranscriptDelta commits when a delta arrives on an item other than the
// one that was current when the switch was requested (a new turn).
func (sc *speakerCoordinator) onTranscriptDelta(itemID string) {
	if !sc.hasPending || itemID == "" || itemID == sc.requestItem {
		return
	}
	sc.tryCommit(sc.generation, "transcript")
}

// onAudioOnset commits on a silence-to-speech transition of the output.
func (sc *speakerCoordinator) onAudioOnset() {
	if !sc.hasPending {
		return
	}
	sc.tryCommit(sc.generation, "audio_onset")
}

func (sc *speakerCoordinator) tryCommit(gen uint64, trigger string) {
	if !sc.hasPending || gen != sc.generation {
		return
	}
	target := sc.pending
	sc.hasPending = false
	sc.requestItem = ""
	sc.cancelFallback()
	sc.generation++
	sc.commit(target, trigger)
}

// clear drops any pending request without committing.
func (sc *speakerCoordinator) clear() {
	sc.hasPending = false
	sc.requestItem = ""
	sc.cancelFallback()
	sc.generation++
}

func (sc *speakerCoordinator) cancelFallback() {
	if sc.fallback != nil {
		sc.fallback.Stop()
		sc.fallback = nil
	}
}
