package call

// Identity is one reachable party in the call world.
type Identity struct {
	Number  int
	Name    string
	Persona string
}

// Profile is what the system knows about the human participant.
type Profile struct {
	Number int
	Name   string
	Notes  string
}

// Scenario is the narrative payload driving the callee's behavior.
type Scenario struct {
	Title   string
	Premise string
}

// ContentKind distinguishes exploration content behavior.
type ContentKind string

const (
	// ContentTour is a pre-rendered send-off: once launched the call ends
	// when it finishes.
	ContentTour ContentKind = "tour"

	// ContentInteractive starts paused; the agent introduces it then resumes
	// playback and narrates alongside.
	ContentInteractive ContentKind = "interactive"
)

// Content is one launchable exploration item.
type Content struct {
	ID       string
	Title    string
	Kind     ContentKind
	Segments int
}

// Context is the immutable-per-read snapshot a mode reads when computing
// instructions and tools. It is rebuilt from session refs on every
// updateSession and never stored as a source of truth.
type Context struct {
	Callee             Identity
	Scenario           *Scenario
	Profile            *Profile
	Roster             []int
	CurrentSpeaker     int
	GameID             string
	GameState          any
	Known              []Identity
	LastInstructions   string
	GamesPlayed        int
	ContentLaunched    int
	ExtensionAvailable bool
	PriorCalls         []CallRecord
}

// snapshot assembles a fresh Context from the call's current refs.
func (c *Call) snapshot() Context {
	roster := make([]int, len(c.roster))
	copy(roster, c.roster)

	var prior []CallRecord
	if c.deps.History != nil {
		prior = c.deps.History.ForNumber(c.callee.Number)
	}

	var gameState any
	if c.game != nil {
		gameState = c.game.State()
	}

	return Context{
		Callee:             c.callee,
		Scenario:           c.scenario,
		Profile:            c.profile,
		Roster:             roster,
		CurrentSpeaker:     c.currentSpeaker,
		GameID:             c.gameID,
		GameState:          gameState,
		Known:              c.known,
		LastInstructions:   c.lastInstructions,
		GamesPlayed:        c.gamesPlayed,
		ContentLaunched:    c.contentLaunched,
		ExtensionAvailable: !c.timer.extensionUsed && !c.timer.goodbyeRequested,
		PriorCalls:         prior,
	}
}

// lookupIdentity resolves a number against the known-identities list.
func (c *Call) lookupIdentity(number int) (Identity, bool) {
	for _, id := range c.deps.Directory {
		if id.Number == number {
			return id, true
		}
	}
	return Identity{}, false
}

func rosterContains(roster []int, number int) bool {
	for _, n := range roster {
		if n == number {
			return true
		}
	}
	return false
}
