package call

import (
	"fmt"
	"strings"
)

// Mode is one behavioral configuration controlling the agent's instructions
// and permitted tools. Exactly one mode is active per call.
type Mode int

const (
	ModeAnswering Mode = iota
	ModeFamiliarizing
	ModeDefault
	ModeConference
	ModeExploration
	ModeGame
	ModeWindingDown
	ModeHangingUp
)

func (m Mode) String() string {
	switch m {
	case ModeAnswering:
		return "answering"
	case ModeFamiliarizing:
		return "familiarizing"
	case ModeDefault:
		return "default"
	case ModeConference:
		return "conference"
	case ModeExploration:
		return "exploration"
	case ModeGame:
		return "game"
	case ModeWindingDown:
		return "winding_down"
	case ModeHangingUp:
		return "hanging_up"
	default:
		return "unknown"
	}
}

// allModes is used by totality checks.
var allModes = []Mode{
	ModeAnswering, ModeFamiliarizing, ModeDefault, ModeConference,
	ModeExploration, ModeGame, ModeWindingDown, ModeHangingUp,
}

// modeMachine tracks the active mode and a single saved previous mode.
// Exiting restores the saved previous when present, else falls back to
// default. Nesting deeper than one level collapses to last-entered-wins;
// tool handlers reject re-entry where that would lose a restoration target.
type modeMachine struct {
	current     Mode
	previous    Mode
	hasPrevious bool
}

// enter activates target. The prior mode is recorded as previous only when
// savePrevious is set and the mode actually changes.
func (mm *modeMachine) enter(target Mode, savePrevious bool) bool {
	if target == mm.current {
		return false
	}
	if savePrevious {
		mm.previous = mm.current
		mm.hasPrevious = true
	}
	mm.current = target
	return true
}

// exit restores the saved previous mode, or default when none was saved.
func (mm *modeMachine) exit() Mode {
	if mm.hasPrevious {
		mm.current = mm.previous
		mm.hasPrevious = false
	} else {
		mm.current = ModeDefault
	}
	return mm.current
}

// instructionsFor computes the agent instructions for a mode as a pure
// function of the context snapshot.
func instructionsFor(mode Mode, ctx Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, reachable at number %d, on a live voice call.\n", displayName(ctx.Callee), ctx.Callee.Number)
	if ctx.Callee.Persona != "" {
		fmt.Fprintf(&b, "Character: %s\n", ctx.Callee.Persona)
	}
	if ctx.Scenario != nil {
		fmt.Fprintf(&b, "Scenario: %s — %s\n", ctx.Scenario.Title, ctx.Scenario.Premise)
	}
	if ctx.Profile != nil {
		fmt.Fprintf(&b, "You are speaking with %s.\n", ctx.Profile.Name)
		if ctx.Profile.Notes != "" {
			fmt.Fprintf(&b, "Notes about them: %s\n", ctx.Profile.Notes)
		}
	}
	if len(ctx.PriorCalls) > 0 {
		fmt.Fprintf(&b, "You have spoken with this caller %d time(s) before; you may reference earlier conversations naturally.\n", len(ctx.PriorCalls))
	}

	switch mode {
	case ModeAnswering:
		b.WriteString("The phone just connected. Answer it in character with a short greeting and wait for the caller to speak.")
	case ModeFamiliarizing:
		b.WriteString("You do not yet know who is calling. Work their name into conversation naturally, then call identify_caller. Do not interrogate; one gentle question at a time.")
	case ModeDefault:
		b.WriteString("Carry the conversation in character. Keep replies short and spoken-word natural. Use your tools when the caller asks for something they enable.")
	case ModeConference:
		fmt.Fprintf(&b, "This is now a conference call with %d parties on the line: %s. ", len(ctx.Roster), formatRoster(ctx))
		if ctx.CurrentSpeaker != 0 {
			fmt.Fprintf(&b, "Number %d is speaking right now. ", ctx.CurrentSpeaker)
		}
		b.WriteString("Voice each party distinctly. Call switch_speaker before a different party takes over; never switch mid-sentence.")
	case ModeExploration:
		b.WriteString("Visual content is on screen. Introduce it in at most two sentences, then call resume_exploration and stay quiet while it plays. Use pause_exploration before commenting at length.")
	case ModeGame:
		b.WriteString("A game is in progress. Play fairly, keep the pace up, and use the game's tools to act. End with end_game when the caller is done.")
	case ModeWindingDown:
		b.WriteString("Time is up. Say a warm, in-character goodbye in one or two sentences, then call hang_up. Do not start new topics.")
	case ModeHangingUp:
		b.WriteString("The call is ending now. Say nothing further.")
	}

	return b.String()
}

func displayName(id Identity) string {
	if id.Name != "" {
		return id.Name
	}
	return fmt.Sprintf("number %d", id.Number)
}

func formatRoster(ctx Context) string {
	names := make([]string, 0, len(ctx.Roster))
	for _, n := range ctx.Roster {
		name := fmt.Sprintf("%d", n)
		for _, id := range ctx.Known {
			if id.Number == n && id.Name != "" {
				name = fmt.Sprintf("%s (%d)", id.Name, n)
				break
			}
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

// toolNamesFor lists the built-in tools permitted in a mode. Game-mode tool
// sets are augmented by the active game handler in updateSession.
func toolNamesFor(mode Mode, ctx Context) []string {
	switch mode {
	case ModeAnswering:
		return []string{"hang_up"}
	case ModeFamiliarizing:
		return []string{"identify_caller", "hang_up"}
	case ModeDefault, ModeConference:
		names := []string{
			"hang_up", "transfer_call", "add_to_call",
			"start_exploration", "start_game",
			"look_at", "indicate", "evolve_story",
		}
		if ctx.ExtensionAvailable {
			names = append(names, "request_more_time")
		}
		if ctx.Profile == nil {
			names = append(names, "identify_caller")
		}
		if mode == ModeConference {
			names = append(names, "switch_speaker")
		}
		return names
	case ModeExploration:
		return []string{
			"pause_exploration", "resume_exploration", "seek_exploration",
			"end_exploration", "look_at", "indicate", "hang_up",
		}
	case ModeGame:
		return []string{"end_game", "look_at", "indicate", "hang_up"}
	case ModeWindingDown, ModeHangingUp:
		// Restricted tooling near termination: only ending the call.
		return []string{"hang_up"}
	default:
		return nil
	}
}
