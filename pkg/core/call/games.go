package call

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dialkit/dialkit/pkg/core/protocol"
)

// Game supplies the extra instructions and tools layered on top of game
// mode while it is active. Implementations hold their own round state and
// are driven entirely from the call's event loop, so they need no locking
// of their own.
type Game interface {
	ID() string
	// Start resets round state and returns the opening instructions
	// fragment appended to the game-mode prompt.
	Start() string
	// Instructions returns the current-state fragment; called on every
	// session update while the game is active.
	Instructions() string
	// Tools lists the game-specific tool definitions to expose.
	Tools() []protocol.ToolDef
	// Invoke handles a game tool call. The returned payload is merged
	// into the success ack. Unknown names return an error.
	Invoke(name string, args json.RawMessage) (map[string]any, error)
	// State returns a serializable snapshot for context assembly.
	State() any
}

// GameRegistry maps game ids to constructors. Registration happens at
// wiring time; lookups happen on the event loop.
type GameRegistry struct {
	mu    sync.RWMutex
	ctors map[string]func() Game
}

func NewGameRegistry() *GameRegistry {
	return &GameRegistry{ctors: make(map[string]func() Game)}
}

func (r *GameRegistry) Register(id string, ctor func() Game) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[id] = ctor
}

func (r *GameRegistry) New(id string) (Game, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown game %q", id)
	}
	return ctor(), nil
}

func (r *GameRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.ctors))
	for id := range r.ctors {
		ids = append(ids, id)
	}
	return ids
}

// guessNumber is a built-in demonstration game: the agent thinks of a
// number and the caller guesses. It exists so the registry and game-mode
// plumbing are exercised without an external game pack.
type guessNumber struct {
	target  int
	guesses int
	done    bool
}

func NewGuessNumber(target int) Game {
	return &guessNumber{target: target}
}

func (g *guessNumber) ID() string { return "guess_number" }

func (g *guessNumber) Start() string {
	g.guesses = 0
	g.done = false
	return "Game: the caller guesses your secret number between 1 and 100. When they guess, call record_guess with their number. Give only higher/lower hints."
}

func (g *guessNumber) Instructions() string {
	if g.done {
		return fmt.Sprintf("The caller found the number %d after %d guesses. Congratulate them and wrap up with end_game.", g.target, g.guesses)
	}
	return fmt.Sprintf("Guesses so far: %d. Do not reveal the number.", g.guesses)
}

func (g *guessNumber) Tools() []protocol.ToolDef {
	return []protocol.ToolDef{
		protocol.NewToolDef("record_guess",
			"Record the caller's latest numeric guess.",
			json.RawMessage(`{"type":"object","properties":{"guess":{"type":"integer"}},"required":["guess"]}`)),
	}
}

func (g *guessNumber) Invoke(name string, args json.RawMessage) (map[string]any, error) {
	if name != "record_guess" {
		return nil, fmt.Errorf("unknown game tool %q", name)
	}
	var in struct {
		Guess int `json:"guess"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("record_guess: %w", err)
	}
	g.guesses++
	switch {
	case in.Guess == g.target:
		g.done = true
		return map[string]any{"result": "correct", "guesses": g.guesses}, nil
	case in.Guess < g.target:
		return map[string]any{"result": "higher"}, nil
	default:
		return map[string]any{"result": "lower"}, nil
	}
}

func (g *guessNumber) State() any {
	return map[string]any{"guesses": g.guesses, "done": g.done}
}
