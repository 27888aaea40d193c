package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dialkit/dialkit/pkg/core/media"
	"github.com/dialkit/dialkit/pkg/core/protocol"
	"github.com/dialkit/dialkit/pkg/core/signal"
)

// State is the lifecycle state of a call.
type State int

const (
	StateIdle State = iota
	StateRinging
	StateActive
	StateEnding
	StateTransferring
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRinging:
		return "ringing"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateTransferring:
		return "transferring"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions are possible.
func (s State) terminal() bool {
	return s == StateEnding || s == StateTransferring || s == StateError
}

// Deps are the collaborators a Call drives. Signal and Media are required;
// the rest have working zero-value behavior.
type Deps struct {
	Signal  signal.Channel
	Media   media.Capability
	History *HistoryStore
	Games   *GameRegistry

	// Directory lists identities the agent may transfer to or conference
	// in. Content lists the visual content available to start_exploration.
	Directory []Identity
	Content   []Content

	Scenario *Scenario
	Profile  *Profile

	// IdentifyCaller resolves a spoken name to a profile. EvolveStory
	// requests asynchronous narrative generation. Both run off the loop
	// and report back via posted tasks.
	IdentifyCaller func(ctx context.Context, name string) (*Profile, error)
	EvolveStory    func(ctx context.Context, direction string) (string, error)

	// Redial is invoked after a transfer teardown completes, once the
	// configured transfer delay elapses.
	Redial func(target int)

	Logger *slog.Logger
}

// Call is one active voice session. All state is mutated only from the
// internal event loop; timers and monitors enqueue tasks rather than
// touching fields directly.
type Call struct {
	id     string
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu             sync.RWMutex
	state          State
	mode           modeMachine
	callee         Identity
	scenario       *Scenario
	profile        *Profile
	roster         []int
	currentSpeaker int
	known          []Identity

	gameID      string
	game        Game
	gamesPlayed int

	activeContent    *Content
	currentSegment   int
	contentPaused    bool
	narrationPlaying bool
	tourTerminal     bool
	contentLaunched  int
	contentByID      map[string]*Content

	lastInstructions string
	transcript       *transcriptRing
	startedAt        time.Time
	famTurns         int

	currentResponseID string
	currentItemID     string
	turnStartedAt     time.Time
	expectedTurns     int

	sync    *synchronizer
	speaker *speakerCoordinator
	timer   *countdown
	monitor *media.LevelMonitor
	ducker  *media.Ducker

	loopCtx    context.Context
	loopCancel context.CancelFunc
	tasks      chan func()
	events     chan Event
	done       chan struct{}
	closed     atomic.Bool
	started    bool
	tornDown   bool
	farewell   *time.Timer
}

// New builds a call in the idle state. Start must be called to go active.
func New(cfg Config, deps Deps, callee Identity) *Call {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.History == nil {
		deps.History = NewHistoryStore()
	}
	c := &Call{
		id:          uuid.NewString(),
		cfg:         cfg,
		deps:        deps,
		now:         time.Now,
		callee:      callee,
		scenario:    deps.Scenario,
		profile:     deps.Profile,
		roster:      []int{callee.Number},
		known:       append([]Identity{callee}, deps.Directory...),
		transcript:  newTranscriptRing(cfg.TranscriptCap),
		contentByID: make(map[string]*Content),
		tasks:       make(chan func(), 128),
		events:      make(chan Event, 64),
		done:        make(chan struct{}),
	}
	c.logger = logger.With("call_id", c.id, "callee", callee.Number)
	for i := range deps.Content {
		c.contentByID[deps.Content[i].ID] = &deps.Content[i]
	}
	c.mode = modeMachine{current: ModeAnswering}
	c.sync = newSynchronizer(cfg, c.quietFor, c.post)
	c.sync.now = func() time.Time { return c.now() }
	c.sync.execStart = c.execContentStart
	c.sync.execResume = c.execContentResume
	c.speaker = newSpeakerCoordinator(c.commitSpeaker)
	c.timer = newCountdown(cfg, c.explorationActive)
	c.timer.onWarning = c.onTimeWarning
	c.timer.onExpiry = c.onDeadline
	c.timer.onForce = func() { c.teardown("timeout", nil) }
	return c
}

func (c *Call) ID() string { return c.id }

func (c *Call) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Call) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode.current
}

func (c *Call) Roster() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int, len(c.roster))
	copy(out, c.roster)
	return out
}

func (c *Call) CurrentSpeaker() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentSpeaker
}

// Events returns the owner-facing event stream. It is closed after the
// final CallEndedEvent.
func (c *Call) Events() <-chan Event { return c.events }

// Start negotiates media, goes active, and launches the event loop. On any
// setup failure every partially acquired resource is released before the
// classified error is returned.
func (c *Call) Start(ctx context.Context, offer []byte) ([]byte, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, &CallError{Code: CodeSessionError, Message: "call already started"}
	}
	c.state = StateRinging
	c.mu.Unlock()

	answer, err := c.deps.Media.Negotiate(ctx, offer)
	if err != nil {
		c.releaseSetup()
		cerr := classifyNegotiate(err)
		c.mu.Lock()
		c.state = StateError
		c.mu.Unlock()
		return nil, cerr
	}

	c.mu.Lock()
	c.state = StateActive
	c.started = true
	c.startedAt = c.now()
	c.mu.Unlock()

	c.loopCtx, c.loopCancel = context.WithCancel(context.Background())
	c.timer.start(c.now())
	c.startMonitor()
	go c.run()

	c.emit(&StateChangedEvent{From: StateRinging, To: StateActive})
	c.post(func() {
		c.updateSession()
		c.awaitResponse()
	})
	c.logger.Info("call active", "scenario", scenarioTitle(c.scenario))
	return answer, nil
}

func scenarioTitle(s *Scenario) string {
	if s == nil {
		return ""
	}
	return s.Title
}

// releaseSetup tears down partially acquired resources on a setup failure.
func (c *Call) releaseSetup() {
	if err := c.deps.Media.Close(); err != nil {
		c.logger.Warn("media close during setup failure", "error", err)
	}
	if c.deps.Signal != nil {
		_ = c.deps.Signal.Close()
	}
}

func (c *Call) startMonitor() {
	c.monitor = media.NewLevelMonitor(c.cfg.Monitor, c.deps.Media.RemoteLevel)
	if c.cfg.EchoDucking {
		c.ducker = media.NewDucker(c.cfg.Ducker, c.deps.Media.SetInputGain)
	}
	c.monitor.SetCallbacks(
		func() { c.post(c.onAgentAudioOnset) },
		nil,
		func(level float64) {
			if c.ducker != nil {
				c.ducker.Process(level)
			}
		},
	)
	c.monitor.Start()
}

// run is the single event loop. Every externally observed signal is
// serialized here; handlers own the Call for their synchronous extent.
func (c *Call) run() {
	ticker := time.NewTicker(c.cfg.TimerTick)
	defer ticker.Stop()
	for {
		select {
		case fn := <-c.tasks:
			fn()
		case ev, ok := <-c.deps.Signal.Events():
			if !ok {
				c.teardown("connection_lost", &CallError{Code: CodeConnectionError, Message: "signaling channel closed"})
				return
			}
			c.handleSignalEvent(ev)
		case <-ticker.C:
			c.timer.tick(c.now())
		case <-c.done:
			return
		}
	}
}

// post enqueues fn onto the event loop. After teardown it is a no-op, so a
// stale timer can never mutate a dead call.
func (c *Call) post(fn func()) {
	if c.closed.Load() {
		return
	}
	select {
	case c.tasks <- fn:
	case <-c.done:
	}
}

func (c *Call) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event dropped", "type", ev.EventType())
	}
}

// --- signaling ---

func (c *Call) send(msg protocol.ClientMessage) {
	if err := c.deps.Signal.Send(msg); err != nil {
		c.logger.Error("send failed", "kind", msg.MessageKind(), "error", err)
		c.post(func() {
			c.teardown("connection_lost", &CallError{Code: CodeConnectionError, Message: "send failed", Err: err})
		})
	}
}

// updateSession pushes the current mode's instructions and tool set.
func (c *Call) updateSession() {
	snap := c.snapshot()
	instructions := instructionsFor(c.mode.current, snap)
	if c.mode.current == ModeGame && c.game != nil {
		instructions += "\n" + c.game.Instructions()
	}
	tools := builtinToolDefs(toolNamesFor(c.mode.current, snap))
	if c.mode.current == ModeGame && c.game != nil {
		tools = append(c.game.Tools(), tools...)
	}
	c.mu.Lock()
	c.lastInstructions = instructions
	c.mu.Unlock()
	c.send(protocol.SessionUpdate{Session: protocol.SessionConfig{
		Instructions: instructions,
		Tools:        tools,
	}})
}

func (c *Call) requestResponse() {
	c.send(protocol.NewResponseCreate())
}

func (c *Call) systemNote(text string) {
	c.send(protocol.SystemItem(text))
}

func (c *Call) setMode(target Mode, savePrevious bool) {
	from := c.mode.current
	c.mu.Lock()
	changed := c.mode.enter(target, savePrevious)
	c.mu.Unlock()
	if changed {
		c.emit(&ModeChangedEvent{From: from, To: target})
		c.updateSession()
	}
}

func (c *Call) exitMode() {
	from := c.mode.current
	c.mu.Lock()
	to := c.mode.exit()
	c.mu.Unlock()
	if to != from {
		c.emit(&ModeChangedEvent{From: from, To: to})
		c.updateSession()
	}
}

// --- server event handling ---

func (c *Call) handleSignalEvent(ev protocol.ServerEvent) {
	switch e := ev.(type) {
	case protocol.ResponseCreated:
		c.onResponseCreated(e)
	case protocol.ResponseDone:
		c.onResponseDone(e)
	case protocol.OutputAudioStarted:
		c.currentItemID = e.ItemID
		if c.turnStartedAt.IsZero() {
			c.turnStartedAt = c.now()
		}
	case protocol.OutputAudioStopped:
		// Acoustic end is tracked by the level monitor, not this event.
	case protocol.TranscriptDelta:
		// Only agent speech confirms a pending speaker switch; a human
		// input transcription says nothing about who talks next.
		if e.Role == "assistant" {
			c.speaker.onTranscriptDelta(e.ItemID)
		}
	case protocol.TranscriptDone:
		c.onTranscriptDone(e)
	case protocol.ToolCallDone:
		c.dispatchToolCall(e)
	case protocol.ErrorEvent:
		c.onSignalError(e)
	default:
		c.logger.Debug("unhandled signal event", "kind", ev.EventKind())
	}
}

func (c *Call) onResponseCreated(e protocol.ResponseCreated) {
	// A turn the controller did not ask for while narration plays is
	// captured narration audio, not the human. Cancel it, unless the
	// content already finished on its own.
	if c.narrationPlaying && c.expectedTurns == 0 {
		if c.activeContent == nil {
			c.narrationPlaying = false
			c.deps.Media.SetOutputMuted(false)
			c.exitMode()
		} else {
			c.send(protocol.ResponseCancel{ResponseID: e.ResponseID})
			return
		}
	}
	if c.expectedTurns > 0 {
		c.expectedTurns--
	}
	c.currentResponseID = e.ResponseID
	c.currentItemID = ""
	c.turnStartedAt = c.now()
}

func (c *Call) onResponseDone(e protocol.ResponseDone) {
	if e.ResponseID == c.currentResponseID {
		c.currentResponseID = ""
	}
	c.sync.onTurnComplete()

	switch c.mode.current {
	case ModeAnswering:
		// Greeting finished; either we know the caller or we go find out.
		if c.profile != nil {
			c.setMode(ModeDefault, false)
		} else {
			c.setMode(ModeFamiliarizing, false)
		}
	case ModeFamiliarizing:
		c.famTurns++
		if c.famTurns >= c.cfg.FamiliarizeTurnLimit {
			c.logger.Info("familiarizing turn limit reached")
			c.setMode(ModeDefault, false)
		}
	}
}

func (c *Call) onTranscriptDone(e protocol.TranscriptDone) {
	speaker := 0
	if e.Role == "assistant" {
		speaker = c.callee.Number
		if c.currentSpeaker != 0 {
			speaker = c.currentSpeaker
		}
	} else if c.profile != nil {
		speaker = c.profile.Number
	}
	line := TranscriptLine{Speaker: speaker, Role: e.Role, Text: e.Transcript, At: c.now()}
	c.transcript.add(line)
	c.emit(&TranscriptEvent{Speaker: speaker, Role: e.Role, Text: e.Transcript, At: line.At})
}

func (c *Call) onSignalError(e protocol.ErrorEvent) {
	code := ClassifySignalCode(e.Code)
	switch {
	case isBenignSignalCode(e.Code):
		// Expected noise from deferred execution: cancels and truncates
		// that raced with the stream. Not a failure.
		c.logger.Debug("benign signal error", "code", e.Code)
	case isFatalSignalCode(e.Code):
		c.teardown("error", &CallError{Code: code, Message: e.Message})
	default:
		c.logger.Warn("signal error", "code", e.Code, "message", e.Message)
	}
}

// --- audio / speaker coordination ---

func (c *Call) onAgentAudioOnset() {
	c.speaker.onAudioOnset()
}

func (c *Call) commitSpeaker(target int, trigger string) {
	c.mu.Lock()
	c.currentSpeaker = target
	c.mu.Unlock()
	c.emit(&SpeakerChangedEvent{Speaker: target, Trigger: trigger})
	c.updateSession()
	c.logger.Debug("speaker committed", "speaker", target, "trigger", trigger)
}

func (c *Call) quietFor(d time.Duration) bool {
	if c.monitor == nil {
		return true
	}
	return c.monitor.QuietFor(d)
}

// waitQuietThen runs fn once the output has been quiet for the configured
// minimum, or once maxWait elapses, whichever comes first.
func (c *Call) waitQuietThen(maxWait time.Duration, fn func()) {
	deadline := c.now().Add(maxWait)
	var step func()
	step = func() {
		if c.tornDown {
			return
		}
		if c.quietFor(c.cfg.MinQuiet) || !c.now().Before(deadline) {
			fn()
			return
		}
		c.farewell = time.AfterFunc(c.cfg.QuietPollInterval, func() { c.post(step) })
	}
	step()
}

// --- exploration execution (resolved deferred actions) ---

func (c *Call) execContentStart(contentID string) {
	content, ok := c.contentByID[contentID]
	if !ok || c.activeContent == nil || c.activeContent.ID != contentID {
		return
	}
	c.narrationPlaying = true
	c.contentPaused = false
	c.deps.Media.SetOutputMuted(true)
	c.emit(&ExplorationEvent{Action: "started", ContentID: content.ID, Segment: c.currentSegment})
	c.logger.Info("content started", "content", content.ID, "kind", content.Kind)
}

func (c *Call) execContentResume() {
	if c.activeContent == nil {
		return
	}
	if c.currentItemID != "" && !c.turnStartedAt.IsZero() {
		elapsed := c.now().Sub(c.turnStartedAt).Milliseconds()
		if elapsed < 0 {
			elapsed = 0
		}
		c.send(protocol.ItemTruncate{
			ItemID:       c.currentItemID,
			ContentIndex: 0,
			AudioEndMS:   int(elapsed),
		})
	}
	c.narrationPlaying = true
	c.contentPaused = false
	c.deps.Media.SetOutputMuted(true)
	c.emit(&ExplorationEvent{Action: "resumed", ContentID: c.activeContent.ID, Segment: c.currentSegment})
}

func (c *Call) explorationActive() bool {
	return c.activeContent != nil && c.narrationPlaying && !c.contentPaused
}

// ContentEnded tells the call that the active content finished playing.
// Safe to invoke from any goroutine.
func (c *Call) ContentEnded() {
	c.post(func() {
		if c.activeContent == nil {
			return
		}
		content := c.activeContent
		c.finishContent()
		if c.tourTerminal {
			// A tour is the send-off; the call ends with it.
			c.teardown("ended", nil)
			return
		}
		c.emit(&ExplorationEvent{Action: "ended", ContentID: content.ID})
		c.exitMode()
		c.systemNote("The content just finished playing. React to it briefly, in character.")
		c.awaitResponse()
	})
}

func (c *Call) finishContent() {
	c.activeContent = nil
	c.narrationPlaying = false
	c.contentPaused = false
	c.currentSegment = 0
	c.sync.cancel()
	c.deps.Media.SetOutputMuted(false)
}

// awaitResponse requests a turn the controller expects, so the narration
// guard does not cancel it.
func (c *Call) awaitResponse() {
	c.expectedTurns++
	c.requestResponse()
}

// PartyLeft removes a party from the roster. Safe from any goroutine.
func (c *Call) PartyLeft(number int) {
	c.post(func() {
		if number == c.callee.Number {
			return
		}
		kept := make([]int, 0, len(c.roster))
		removed := false
		for _, n := range c.roster {
			if n == number {
				removed = true
				continue
			}
			kept = append(kept, n)
		}
		if !removed {
			return
		}
		c.mu.Lock()
		c.roster = kept
		if c.currentSpeaker == number {
			c.currentSpeaker = c.callee.Number
		}
		c.mu.Unlock()
		c.speaker.clear()
		c.emit(&RosterChangedEvent{Roster: c.Roster()})
		if len(kept) == 1 && c.mode.current == ModeConference {
			c.setMode(ModeDefault, false)
		} else {
			c.updateSession()
		}
		c.systemNote(fmt.Sprintf("Number %d has left the call.", number))
	})
}

// --- timer callbacks (invoked from the loop's tick) ---

func (c *Call) onTimeWarning(remaining time.Duration) {
	c.systemNote(fmt.Sprintf(
		"Time is running short on this call (about %d seconds left). Begin steering toward a natural close. Do not tell the caller about any time limit.",
		int(remaining.Seconds())))
	c.emit(&TimeWarningEvent{Remaining: remaining})
	c.logger.Info("time warning issued", "remaining", remaining)
}

func (c *Call) onDeadline() {
	c.setMode(ModeWindingDown, false)
	c.systemNote("The call must end now. Give a short, warm, in-character goodbye and then call hang_up.")
	c.awaitResponse()
	c.logger.Info("deadline reached, farewell requested", "grace", c.cfg.GraceDuration)
}

// --- teardown ---

// Close ends the call. Idempotent and safe from any goroutine.
func (c *Call) Close() {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		if c.closed.Swap(true) {
			return
		}
		c.releaseSetup()
		c.mu.Lock()
		if !c.state.terminal() {
			c.state = StateEnding
		}
		c.mu.Unlock()
		close(c.events)
		return
	}
	c.post(func() { c.teardown("closed", nil) })
}

// teardown releases everything exactly once. Loop-only. The reason picks
// the terminal state: errors land in StateError, transfers in
// StateTransferring, everything else in StateEnding.
func (c *Call) teardown(reason string, cerr *CallError) {
	if c.tornDown {
		return
	}
	c.tornDown = true
	c.closed.Store(true)

	c.sync.cancel()
	c.speaker.clear()
	if c.monitor != nil {
		c.monitor.Stop()
	}
	if c.farewell != nil {
		c.farewell.Stop()
		c.farewell = nil
	}
	if c.loopCancel != nil {
		c.loopCancel()
	}
	if err := c.deps.Signal.Close(); err != nil {
		c.logger.Debug("signal close", "error", err)
	}
	if err := c.deps.Media.Close(); err != nil {
		c.logger.Debug("media close", "error", err)
	}

	record := &CallRecord{
		CallID:     c.id,
		Number:     c.callee.Number,
		Roster:     c.Roster(),
		Transcript: c.transcript.snapshot(),
		EndedAt:    c.now(),
	}
	if c.scenario != nil {
		record.Scenario = c.scenario.Title
	}
	c.deps.History.Append(*record)

	from := c.State()
	to := StateEnding
	switch {
	case cerr != nil || reason == "error":
		to = StateError
	case reason == "transfer":
		to = StateTransferring
	}
	c.mu.Lock()
	c.state = to
	c.mu.Unlock()

	c.emit(&StateChangedEvent{From: from, To: to})
	c.emit(&CallEndedEvent{Reason: reason, Err: cerr, Record: record})
	close(c.events)
	close(c.done)

	if cerr != nil {
		c.logger.Error("call ended", "reason", reason, "code", cerr.Code, "error", cerr.Message)
	} else {
		c.logger.Info("call ended", "reason", reason, "duration", c.now().Sub(c.startedAt))
	}
}
