package call

import "time"

// Event is a notification emitted by a Call to its owner (typically a UI
// surface). Events are delivered on the channel returned by Events and
// never block the call's internal loop; slow consumers drop the oldest.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent reports a lifecycle state transition.
type StateChangedEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// ModeChangedEvent reports a mode transition.
type ModeChangedEvent struct {
	From Mode `json:"from"`
	To   Mode `json:"to"`
}

func (e *ModeChangedEvent) EventType() string { return "mode.changed" }

// SpeakerChangedEvent reports a committed speaker attribution.
type SpeakerChangedEvent struct {
	Speaker int    `json:"speaker"`
	Trigger string `json:"trigger"`
}

func (e *SpeakerChangedEvent) EventType() string { return "speaker.changed" }

// RosterChangedEvent reports parties joining or leaving.
type RosterChangedEvent struct {
	Roster []int `json:"roster"`
}

func (e *RosterChangedEvent) EventType() string { return "roster.changed" }

// ExplorationEvent reports playback control of visual content.
// Action is one of "started", "paused", "resumed", "seeked", "ended".
type ExplorationEvent struct {
	Action    string `json:"action"`
	ContentID string `json:"content_id,omitempty"`
	Segment   int    `json:"segment,omitempty"`
}

func (e *ExplorationEvent) EventType() string { return "exploration." + e.Action }

// GameStartedEvent reports a game beginning.
type GameStartedEvent struct {
	GameID string `json:"game_id"`
}

func (e *GameStartedEvent) EventType() string { return "game.started" }

// GameEndedEvent reports a game ending.
type GameEndedEvent struct {
	GameID string `json:"game_id"`
	State  any    `json:"state,omitempty"`
}

func (e *GameEndedEvent) EventType() string { return "game.ended" }

// CallerIdentifiedEvent reports a resolved participant profile.
type CallerIdentifiedEvent struct {
	Profile Profile `json:"profile"`
}

func (e *CallerIdentifiedEvent) EventType() string { return "caller.identified" }

// ViewportEvent asks the UI to navigate its viewport to a target.
type ViewportEvent struct {
	Target string `json:"target"`
}

func (e *ViewportEvent) EventType() string { return "viewport.navigate" }

// IndicateEvent asks the UI to highlight a target.
type IndicateEvent struct {
	Target string `json:"target"`
	Style  string `json:"style,omitempty"`
}

func (e *IndicateEvent) EventType() string { return "viewport.indicate" }

// ToolInvokedEvent reports the agent invoking a tool, before the handler
// runs. Outcomes surface through the tool's own follow-up events.
type ToolInvokedEvent struct {
	Tool string `json:"tool"`
}

func (e *ToolInvokedEvent) EventType() string { return "tool.invoked" }

// StoryEvolvedEvent reports completion of an asynchronous story
// generation request.
type StoryEvolvedEvent struct {
	Direction string `json:"direction"`
	Result    string `json:"result,omitempty"`
	Err       string `json:"error,omitempty"`
}

func (e *StoryEvolvedEvent) EventType() string { return "story.evolved" }

// TranscriptEvent mirrors a completed transcript line upward.
type TranscriptEvent struct {
	Speaker int       `json:"speaker"`
	Role    string    `json:"role"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

func (e *TranscriptEvent) EventType() string { return "transcript.line" }

// TimeExtendedEvent reports a granted deadline extension.
type TimeExtendedEvent struct {
	ExtendedBy time.Duration `json:"extended_by_ms"`
}

func (e *TimeExtendedEvent) EventType() string { return "time.extended" }

// TimeWarningEvent reports that the agent was warned time is short. It is
// informational for the owner; the human party is never told directly.
type TimeWarningEvent struct {
	Remaining time.Duration `json:"remaining_ms"`
}

func (e *TimeWarningEvent) EventType() string { return "time.warning" }

// CallEndedEvent is the final event before the events channel closes.
type CallEndedEvent struct {
	Reason string      `json:"reason"`
	Err    *CallError  `json:"error,omitempty"`
	Record *CallRecord `json:"record,omitempty"`
}

func (e *CallEndedEvent) EventType() string { return "call.ended" }

// TransferEvent reports that the call is being handed off to another
// number. The owner is expected to redial after the configured delay.
type TransferEvent struct {
	Target int `json:"target"`
}

func (e *TransferEvent) EventType() string { return "call.transfer" }
