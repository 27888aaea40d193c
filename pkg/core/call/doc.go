// Package call implements the session controller for a live voice call
// between a human participant and a tool-calling conversational agent.
//
// A Call owns a mode-based state machine that decides, at any moment,
// which instructions and which tools the agent may use, dispatches and
// acknowledges tool invocations, reconciles audio playback with symbolic
// events, and manages the call lifecycle end to end.
//
// # Architecture
//
// The package provides several cooperating components:
//
//   - Call: the aggregate; one event loop serializes every mutation
//   - modeMachine: mode transitions with a single saved previous mode
//   - synchronizer: defers tool effects until agent speech has finished
//     (or truncates it when resuming content)
//   - speakerCoordinator: commits conference speaker attribution on the
//     first of three racing confirmation signals
//   - countdown: call deadline, single extension, warning, grace window
//   - HistoryStore: cross-call records feeding continuity context
//
// # Lifecycle
//
//	idle → ringing → active → {ending | transferring | error}
//
// Within active, the mode machine moves between answering, familiarizing,
// default, conference, exploration, game, winding_down and hanging_up.
//
// # Concurrency
//
// All Call state is mutated only from the internal event loop. Timers and
// the audio-level monitor enqueue tasks onto the loop rather than touching
// fields; after teardown, enqueueing is a no-op, so no callback can
// observe a dead call.
//
// # Usage
//
//	c := call.New(call.DefaultConfig(), call.Deps{
//	    Signal:    ch,
//	    Media:     mediaSurface,
//	    Directory: directory,
//	    Scenario:  scenario,
//	}, callee)
//
//	answer, err := c.Start(ctx, offer)
//	if err != nil {
//	    // classified *CallError; Code.Retryable() says whether to retry
//	}
//
//	for ev := range c.Events() {
//	    switch e := ev.(type) {
//	    case *call.SpeakerChangedEvent:
//	        ui.SetSpeaker(e.Speaker)
//	    case *call.CallEndedEvent:
//	        ui.ShowSummary(e.Record)
//	    }
//	}
package call
