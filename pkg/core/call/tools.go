package call

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dialkit/dialkit/pkg/core/protocol"
)

// builtinTools maps tool names to their wire definitions. Mode tool sets
// are filtered views of this registry; game tool packs are layered on top
// at session-update time.
var builtinTools = map[string]protocol.ToolDef{
	"hang_up": protocol.NewToolDef("hang_up",
		"End the call politely after your goodbye.",
		objSchema(nil, nil)),
	"transfer_call": protocol.NewToolDef("transfer_call",
		"Hand the caller off to another number you know.",
		objSchema(map[string]string{"target": "integer"}, []string{"target"})),
	"add_to_call": protocol.NewToolDef("add_to_call",
		"Bring one or more known numbers onto this call as a conference.",
		json.RawMessage(`{"type":"object","properties":{"targets":{"type":"array","items":{"type":"integer"}}},"required":["targets"]}`)),
	"switch_speaker": protocol.NewToolDef("switch_speaker",
		"Announce that a different conference party is about to speak.",
		objSchema(map[string]string{"target": "integer"}, []string{"target"})),
	"start_exploration": protocol.NewToolDef("start_exploration",
		"Put a piece of visual content on screen for the caller.",
		objSchema(map[string]string{"content_id": "string"}, []string{"content_id"})),
	"pause_exploration": protocol.NewToolDef("pause_exploration",
		"Pause the playing content so you can talk.",
		objSchema(nil, nil)),
	"resume_exploration": protocol.NewToolDef("resume_exploration",
		"Stop talking and let the content continue playing.",
		objSchema(nil, nil)),
	"seek_exploration": protocol.NewToolDef("seek_exploration",
		"Jump the content to a specific segment (1-based).",
		objSchema(map[string]string{"segment": "integer"}, []string{"segment"})),
	"end_exploration": protocol.NewToolDef("end_exploration",
		"Take the content off screen and return to conversation.",
		objSchema(nil, nil)),
	"request_more_time": protocol.NewToolDef("request_more_time",
		"Quietly extend the call when the conversation deserves it. Works once.",
		objSchema(nil, nil)),
	"identify_caller": protocol.NewToolDef("identify_caller",
		"Report the caller's name once you have learned it.",
		objSchema(map[string]string{"name": "string"}, []string{"name"})),
	"start_game": protocol.NewToolDef("start_game",
		"Start a game with the caller.",
		objSchema(map[string]string{"game_id": "string"}, []string{"game_id"})),
	"end_game": protocol.NewToolDef("end_game",
		"Wrap up the current game.",
		objSchema(nil, nil)),
	"look_at": protocol.NewToolDef("look_at",
		"Point the caller's view at something you are describing.",
		objSchema(map[string]string{"target": "string"}, []string{"target"})),
	"indicate": protocol.NewToolDef("indicate",
		"Highlight something on screen for the caller.",
		objSchema(map[string]string{"target": "string", "style": "string"}, []string{"target"})),
	"evolve_story": protocol.NewToolDef("evolve_story",
		"Push the ongoing story in a new direction.",
		objSchema(map[string]string{"direction": "string"}, []string{"direction"})),
}

func objSchema(props map[string]string, required []string) json.RawMessage {
	var b strings.Builder
	b.WriteString(`{"type":"object","properties":{`)
	first := true
	for name, typ := range props {
		if !first {
			b.WriteString(",")
		}
		first = false
		fmt.Fprintf(&b, `%q:{"type":%q}`, name, typ)
	}
	b.WriteString("}")
	if len(required) > 0 {
		req, _ := json.Marshal(required)
		b.WriteString(`,"required":`)
		b.Write(req)
	}
	b.WriteString("}")
	return json.RawMessage(b.String())
}

func builtinToolDefs(names []string) []protocol.ToolDef {
	defs := make([]protocol.ToolDef, 0, len(names))
	for _, name := range names {
		if def, ok := builtinTools[name]; ok {
			defs = append(defs, def)
		}
	}
	return defs
}

// toolModeTransition gives the statically known mode entered when a tool
// succeeds. ok=false means no transition (including tools whose exit
// target depends on the saved previous mode).
func toolModeTransition(mode Mode, tool string) (Mode, bool) {
	switch tool {
	case "hang_up", "transfer_call":
		return ModeHangingUp, true
	case "add_to_call":
		return ModeConference, true
	case "start_exploration":
		return ModeExploration, true
	case "start_game":
		return ModeGame, true
	case "identify_caller":
		if mode == ModeFamiliarizing {
			return ModeDefault, true
		}
		return mode, false
	default:
		return mode, false
	}
}

// --- dispatch ---

// dispatchToolCall routes a completed tool call. An active game's tool
// pack is consulted first so games can shadow generic tools; built-in
// handlers cover the rest. Argument errors acknowledge failure to the
// agent and never escalate.
func (c *Call) dispatchToolCall(e protocol.ToolCallDone) {
	c.logger.Debug("tool call", "name", e.Name, "call_id", e.CallID)
	c.emit(&ToolInvokedEvent{Tool: e.Name})

	if c.game != nil && gameHasTool(c.game, e.Name) {
		payload, err := c.game.Invoke(e.Name, e.Arguments)
		if err != nil {
			c.ackFailure(e.CallID, err.Error())
			return
		}
		c.ackSuccess(e.CallID, payload)
		c.updateSession()
		return
	}

	switch e.Name {
	case "hang_up":
		c.toolHangUp(e)
	case "transfer_call":
		c.toolTransferCall(e)
	case "add_to_call":
		c.toolAddToCall(e)
	case "switch_speaker":
		c.toolSwitchSpeaker(e)
	case "start_exploration":
		c.toolStartExploration(e)
	case "pause_exploration":
		c.toolPauseExploration(e)
	case "resume_exploration":
		c.toolResumeExploration(e)
	case "seek_exploration":
		c.toolSeekExploration(e)
	case "end_exploration":
		c.toolEndExploration(e)
	case "request_more_time":
		c.toolRequestMoreTime(e)
	case "identify_caller":
		c.toolIdentifyCaller(e)
	case "start_game":
		c.toolStartGame(e)
	case "end_game":
		c.toolEndGame(e)
	case "look_at":
		c.toolLookAt(e)
	case "indicate":
		c.toolIndicate(e)
	case "evolve_story":
		c.toolEvolveStory(e)
	default:
		c.ackFailure(e.CallID, fmt.Sprintf("unknown tool %q", e.Name))
	}
}

func gameHasTool(g Game, name string) bool {
	for _, def := range g.Tools() {
		if def.Name == name {
			return true
		}
	}
	return false
}

func (c *Call) ackSuccess(callID string, extra map[string]any) {
	out := map[string]any{"success": true}
	for k, v := range extra {
		out[k] = v
	}
	data, _ := json.Marshal(out)
	c.send(protocol.FunctionCallOutput{CallID: callID, Output: string(data)})
}

func (c *Call) ackFailure(callID, msg string) {
	data, _ := json.Marshal(map[string]any{"success": false, "error": msg})
	c.send(protocol.FunctionCallOutput{CallID: callID, Output: string(data)})
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// --- handlers ---

func (c *Call) toolHangUp(e protocol.ToolCallDone) {
	c.ackSuccess(e.CallID, nil)
	c.setMode(ModeHangingUp, false)
	// Let the goodbye finish playing out before the line drops.
	c.waitQuietThen(c.cfg.FarewellMaxWait, func() {
		c.teardown("ended", nil)
	})
}

func (c *Call) toolTransferCall(e protocol.ToolCallDone) {
	var args struct {
		Target int `json:"target"`
	}
	if err := decodeArgs(e.Arguments, &args); err != nil {
		c.ackFailure(e.CallID, "bad arguments: "+err.Error())
		return
	}
	if args.Target == c.callee.Number {
		c.ackFailure(e.CallID, "cannot transfer to yourself")
		return
	}
	if _, ok := c.lookupIdentity(args.Target); !ok {
		c.ackFailure(e.CallID, fmt.Sprintf("unknown number %d", args.Target))
		return
	}
	target := args.Target
	c.ackSuccess(e.CallID, map[string]any{"target": target})
	c.emit(&TransferEvent{Target: target})
	c.setMode(ModeHangingUp, false)
	c.waitQuietThen(c.cfg.FarewellMaxWait, func() {
		c.teardown("transfer", nil)
		// Fires after teardown because it touches only the owner
		// callback, never call state.
		if c.deps.Redial != nil {
			delay := c.cfg.TransferDelay
			redial := c.deps.Redial
			time.AfterFunc(delay, func() { redial(target) })
		}
	})
}

func (c *Call) toolAddToCall(e protocol.ToolCallDone) {
	var args struct {
		Targets []int `json:"targets"`
	}
	if err := decodeArgs(e.Arguments, &args); err != nil {
		c.ackFailure(e.CallID, "bad arguments: "+err.Error())
		return
	}

	var added []Identity
	seen := map[int]bool{}
	for _, n := range args.Targets {
		if seen[n] || rosterContains(c.roster, n) {
			continue
		}
		seen[n] = true
		id, ok := c.lookupIdentity(n)
		if !ok {
			c.ackFailure(e.CallID, fmt.Sprintf("unknown number %d", n))
			return
		}
		added = append(added, id)
	}
	if len(added) == 0 {
		// Everyone requested is already on the line; a no-op still
		// succeeds and changes nothing.
		c.ackSuccess(e.CallID, map[string]any{"roster": c.Roster()})
		return
	}

	c.mu.Lock()
	for _, id := range added {
		c.roster = append(c.roster, id.Number)
	}
	c.mu.Unlock()

	// The ack lands before the introduction turn so the tool result
	// exists in the conversation when that turn is generated.
	c.ackSuccess(e.CallID, map[string]any{"roster": c.Roster()})
	c.emit(&RosterChangedEvent{Roster: c.Roster()})
	if c.mode.current == ModeConference {
		c.updateSession()
	} else {
		c.setMode(ModeConference, false)
	}

	names := make([]string, len(added))
	for i, id := range added {
		names[i] = displayName(id)
	}
	c.systemNote(fmt.Sprintf("%s just joined the call. Have them introduce themselves briefly.", strings.Join(names, " and ")))
	c.awaitResponse()
}

func (c *Call) toolSwitchSpeaker(e protocol.ToolCallDone) {
	var args struct {
		Target int `json:"target"`
	}
	if err := decodeArgs(e.Arguments, &args); err != nil {
		c.ackFailure(e.CallID, "bad arguments: "+err.Error())
		return
	}
	if !rosterContains(c.roster, args.Target) {
		c.ackFailure(e.CallID, fmt.Sprintf("number %d is not on this call", args.Target))
		return
	}
	// Attribution flips when one of the confirmation signals lands, not
	// here.
	c.speaker.request(args.Target, c.currentItemID, c.cfg.SpeakerFallback, c.post)
	c.ackSuccess(e.CallID, nil)
}

func (c *Call) toolStartExploration(e protocol.ToolCallDone) {
	var args struct {
		ContentID string `json:"content_id"`
	}
	if err := decodeArgs(e.Arguments, &args); err != nil {
		c.ackFailure(e.CallID, "bad arguments: "+err.Error())
		return
	}
	content, ok := c.contentByID[args.ContentID]
	if !ok {
		c.ackFailure(e.CallID, fmt.Sprintf("unknown content %q", args.ContentID))
		return
	}

	c.activeContent = content
	c.currentSegment = 1
	c.contentPaused = true
	c.contentLaunched++
	c.tourTerminal = content.Kind == ContentTour
	if !c.tourTerminal {
		c.setMode(ModeExploration, true)
	}
	// Playback waits for the agent to stop introducing it.
	c.sync.defer_(deferredAction{kind: deferredStart, contentID: content.ID})
	c.ackSuccess(e.CallID, map[string]any{"content_id": content.ID, "title": content.Title})
}

func (c *Call) toolPauseExploration(e protocol.ToolCallDone) {
	if c.activeContent == nil {
		c.ackFailure(e.CallID, "no content is playing")
		return
	}
	c.contentPaused = true
	c.narrationPlaying = false
	c.deps.Media.SetOutputMuted(false)
	c.emit(&ExplorationEvent{Action: "paused", ContentID: c.activeContent.ID, Segment: c.currentSegment})
	c.ackSuccess(e.CallID, nil)
}

func (c *Call) toolResumeExploration(e protocol.ToolCallDone) {
	if c.activeContent == nil {
		c.ackFailure(e.CallID, "no content is playing")
		return
	}
	// Resuming is time-sensitive: the turn in flight gets truncated when
	// it completes rather than waited out.
	c.sync.defer_(deferredAction{kind: deferredResume})
	c.ackSuccess(e.CallID, nil)
}

func (c *Call) toolSeekExploration(e protocol.ToolCallDone) {
	var args struct {
		Segment int `json:"segment"`
	}
	if err := decodeArgs(e.Arguments, &args); err != nil {
		c.ackFailure(e.CallID, "bad arguments: "+err.Error())
		return
	}
	if c.activeContent == nil {
		c.ackFailure(e.CallID, "no content is playing")
		return
	}
	if args.Segment < 1 || (c.activeContent.Segments > 0 && args.Segment > c.activeContent.Segments) {
		c.ackFailure(e.CallID, fmt.Sprintf("segment %d out of range", args.Segment))
		return
	}
	c.currentSegment = args.Segment
	c.emit(&ExplorationEvent{Action: "seeked", ContentID: c.activeContent.ID, Segment: args.Segment})
	c.ackSuccess(e.CallID, map[string]any{"segment": args.Segment})
}

func (c *Call) toolEndExploration(e protocol.ToolCallDone) {
	if c.activeContent == nil {
		c.ackFailure(e.CallID, "no content is playing")
		return
	}
	content := c.activeContent
	c.finishContent()
	c.tourTerminal = false
	c.emit(&ExplorationEvent{Action: "ended", ContentID: content.ID})
	if c.mode.current == ModeExploration {
		c.exitMode()
	}
	c.ackSuccess(e.CallID, nil)
}

func (c *Call) toolRequestMoreTime(e protocol.ToolCallDone) {
	if !c.timer.extend(c.now()) {
		c.ackFailure(e.CallID, "extension_exhausted")
		return
	}
	c.logger.Info("deadline extended", "by", c.cfg.Extension)
	c.emit(&TimeExtendedEvent{ExtendedBy: c.cfg.Extension})
	c.ackSuccess(e.CallID, map[string]any{"extended_by_seconds": int(c.cfg.Extension.Seconds())})
	// The tool disappears from the set now that the extension is spent.
	c.updateSession()
}

func (c *Call) toolIdentifyCaller(e protocol.ToolCallDone) {
	var args struct {
		Name string `json:"name"`
	}
	if err := decodeArgs(e.Arguments, &args); err != nil || strings.TrimSpace(args.Name) == "" {
		c.ackFailure(e.CallID, "a name is required")
		return
	}
	if c.deps.IdentifyCaller == nil {
		c.ackFailure(e.CallID, "identification unavailable")
		return
	}
	name := strings.TrimSpace(args.Name)
	callID := e.CallID
	ctx := c.loopCtx
	go func() {
		profile, err := c.deps.IdentifyCaller(ctx, name)
		c.post(func() {
			if err != nil {
				c.logger.Warn("caller identification failed", "name", name, "error", err)
				c.ackFailure(callID, "could not identify caller")
				return
			}
			c.mu.Lock()
			c.profile = profile
			c.mu.Unlock()
			c.emit(&CallerIdentifiedEvent{Profile: *profile})
			c.ackSuccess(callID, map[string]any{"name": profile.Name})
			if c.mode.current == ModeFamiliarizing {
				c.setMode(ModeDefault, false)
			} else {
				c.updateSession()
			}
		})
	}()
}

func (c *Call) toolStartGame(e protocol.ToolCallDone) {
	var args struct {
		GameID string `json:"game_id"`
	}
	if err := decodeArgs(e.Arguments, &args); err != nil {
		c.ackFailure(e.CallID, "bad arguments: "+err.Error())
		return
	}
	if c.game != nil {
		c.ackFailure(e.CallID, "a game is already in progress")
		return
	}
	if c.deps.Games == nil {
		c.ackFailure(e.CallID, "no games available")
		return
	}
	game, err := c.deps.Games.New(args.GameID)
	if err != nil {
		c.ackFailure(e.CallID, err.Error())
		return
	}
	opening := game.Start()
	c.game = game
	c.gameID = args.GameID
	c.gamesPlayed++
	c.setMode(ModeGame, true)
	c.emit(&GameStartedEvent{GameID: args.GameID})
	c.ackSuccess(e.CallID, map[string]any{"game_id": args.GameID})
	c.systemNote(opening)
	c.awaitResponse()
}

func (c *Call) toolEndGame(e protocol.ToolCallDone) {
	if c.game == nil {
		c.ackFailure(e.CallID, "no game in progress")
		return
	}
	c.emit(&GameEndedEvent{GameID: c.gameID, State: c.game.State()})
	c.game = nil
	c.gameID = ""
	if c.mode.current == ModeGame {
		c.exitMode()
	}
	c.ackSuccess(e.CallID, nil)
}

func (c *Call) toolLookAt(e protocol.ToolCallDone) {
	var args struct {
		Target string `json:"target"`
	}
	if err := decodeArgs(e.Arguments, &args); err != nil || strings.TrimSpace(args.Target) == "" {
		c.ackFailure(e.CallID, "a target is required")
		return
	}
	c.emit(&ViewportEvent{Target: args.Target})
	c.ackSuccess(e.CallID, nil)
}

func (c *Call) toolIndicate(e protocol.ToolCallDone) {
	var args struct {
		Target string `json:"target"`
		Style  string `json:"style"`
	}
	if err := decodeArgs(e.Arguments, &args); err != nil || strings.TrimSpace(args.Target) == "" {
		c.ackFailure(e.CallID, "a target is required")
		return
	}
	c.emit(&IndicateEvent{Target: args.Target, Style: args.Style})
	c.ackSuccess(e.CallID, nil)
}

func (c *Call) toolEvolveStory(e protocol.ToolCallDone) {
	var args struct {
		Direction string `json:"direction"`
	}
	if err := decodeArgs(e.Arguments, &args); err != nil || strings.TrimSpace(args.Direction) == "" {
		c.ackFailure(e.CallID, "a direction is required")
		return
	}
	if c.deps.EvolveStory == nil {
		c.ackFailure(e.CallID, "story evolution unavailable")
		return
	}
	direction := args.Direction
	callID := e.CallID
	ctx := c.loopCtx
	go func() {
		result, err := c.deps.EvolveStory(ctx, direction)
		c.post(func() {
			if err != nil {
				c.logger.Warn("story evolution failed", "error", err)
				c.emit(&StoryEvolvedEvent{Direction: direction, Err: err.Error()})
				c.ackFailure(callID, "story evolution failed")
				return
			}
			c.mu.Lock()
			if c.scenario == nil {
				c.scenario = &Scenario{}
			}
			if c.scenario.Premise != "" {
				c.scenario.Premise += "\n"
			}
			c.scenario.Premise += result
			c.mu.Unlock()
			c.emit(&StoryEvolvedEvent{Direction: direction, Result: result})
			c.ackSuccess(callID, map[string]any{"result": result})
			c.updateSession()
		})
	}()
}
