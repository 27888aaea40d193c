package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dialkit/dialkit/pkg/core/call"
)

// consoleMessage is one inbound frame from the console client.
type consoleMessage struct {
	Type string `json:"type"`

	// call.offer
	Offer     string          `json:"offer,omitempty"`
	Callee    *call.Identity  `json:"callee,omitempty"`
	Directory []call.Identity `json:"directory,omitempty"`
	Content   []call.Content  `json:"content,omitempty"`
	Scenario  *call.Scenario  `json:"scenario,omitempty"`
	Profile   *call.Profile   `json:"profile,omitempty"`

	// audio.level
	Level float64 `json:"level,omitempty"`

	// party.left
	Number int `json:"number,omitempty"`
}

// consoleFrame is one outbound frame to the console client.
type consoleFrame struct {
	Type    string     `json:"type"`
	CallID  string     `json:"call_id,omitempty"`
	Answer  string     `json:"answer,omitempty"`
	Target  int        `json:"target,omitempty"`
	Message string     `json:"message,omitempty"`
	Event   call.Event `json:"event,omitempty"`
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.ConsoleMaxMessageSize)

	sess := &consoleSession{srv: s, conn: conn}
	sess.run(r.Context())
}

// consoleSession owns one console connection and at most one call.
type consoleSession struct {
	srv  *Server
	conn *websocket.Conn

	writeMu sync.Mutex

	c         *call.Call
	media     *consoleMedia
	startedAt time.Time
}

func (cs *consoleSession) run(ctx context.Context) {
	var first consoleMessage
	if err := cs.conn.ReadJSON(&first); err != nil {
		return
	}
	if first.Type != "call.offer" || first.Callee == nil || first.Offer == "" {
		cs.writeError("the first message must be a call.offer with a callee")
		return
	}

	if !cs.srv.tryAcquire() {
		cs.writeError("call capacity reached")
		return
	}
	defer cs.srv.release()

	if err := cs.startCall(ctx, first); err != nil {
		cs.writeError(err.Error())
		return
	}
	cs.srv.metrics.RecordCallStart()

	pumpDone := make(chan struct{})
	go cs.pumpEvents(pumpDone)

	cs.readLoop()
	cs.c.Close()
	<-pumpDone
}

func (cs *consoleSession) startCall(ctx context.Context, offer consoleMessage) error {
	sig, err := cs.srv.dialSignal(ctx)
	if err != nil {
		return fmt.Errorf("agent unavailable: %w", err)
	}

	media := newConsoleMedia()
	deps := call.Deps{
		Signal:         sig,
		Media:          media,
		History:        cs.srv.history,
		Games:          cs.srv.games,
		Directory:      offer.Directory,
		Content:        offer.Content,
		Scenario:       offer.Scenario,
		Profile:        offer.Profile,
		IdentifyCaller: directoryResolver(offer.Directory),
		Redial: func(target int) {
			cs.writeFrame(consoleFrame{Type: "call.redial", Target: target})
		},
		Logger: cs.srv.logger,
	}

	c := call.New(cs.srv.cfg.CallConfig(), deps, *offer.Callee)
	answer, err := c.Start(ctx, []byte(offer.Offer))
	if err != nil {
		sig.Close()
		return err
	}

	cs.c = c
	cs.media = media
	cs.startedAt = time.Now()
	cs.writeFrame(consoleFrame{Type: "call.answer", CallID: c.ID(), Answer: string(answer)})
	return nil
}

// readLoop applies console frames to the call until the connection drops or
// the client hangs up.
func (cs *consoleSession) readLoop() {
	for {
		var msg consoleMessage
		if err := cs.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "audio.level":
			cs.media.setLevel(msg.Level)
		case "party.left":
			cs.c.PartyLeft(msg.Number)
		case "content.ended":
			cs.c.ContentEnded()
		case "call.close":
			return
		default:
			cs.writeError(fmt.Sprintf("unknown message type %q", msg.Type))
		}
	}
}

// pumpEvents relays call events to the console and feeds gateway metrics.
// It exits when the call closes its event stream.
func (cs *consoleSession) pumpEvents(done chan<- struct{}) {
	defer close(done)
	for ev := range cs.c.Events() {
		switch e := ev.(type) {
		case *call.ModeChangedEvent:
			cs.srv.metrics.RecordModeChange(e.To.String())
		case *call.ToolInvokedEvent:
			cs.srv.metrics.RecordTool(e.Tool)
		case *call.TranscriptEvent:
			cs.srv.metrics.RecordTranscriptLine()
		case *call.TimeExtendedEvent:
			cs.srv.metrics.RecordExtension()
		case *call.CallEndedEvent:
			cs.srv.metrics.RecordCallEnd(e.Reason, time.Since(cs.startedAt))
			if e.Err != nil {
				cs.srv.metrics.RecordSignalError(string(e.Err.Code))
			}
		}
		cs.writeFrame(consoleFrame{Type: ev.EventType(), Event: ev})
	}
}

func (cs *consoleSession) writeFrame(f consoleFrame) {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	if d := cs.srv.cfg.ConsoleWriteTimeout; d > 0 {
		cs.conn.SetWriteDeadline(time.Now().Add(d))
	}
	if err := cs.conn.WriteJSON(f); err != nil {
		cs.srv.logger.Debug("console write failed", "error", err)
	}
}

func (cs *consoleSession) writeError(msg string) {
	cs.writeFrame(consoleFrame{Type: "error", Message: msg})
}

// directoryResolver identifies callers by spoken name against the per-call
// directory.
func directoryResolver(directory []call.Identity) func(context.Context, string) (*call.Profile, error) {
	return func(_ context.Context, name string) (*call.Profile, error) {
		want := strings.ToLower(strings.TrimSpace(name))
		for _, id := range directory {
			if strings.ToLower(id.Name) == want {
				return &call.Profile{Number: id.Number, Name: id.Name, Notes: id.Persona}, nil
			}
		}
		return nil, errors.New("no matching identity")
	}
}

func randTarget() int {
	return rand.Intn(100) + 1
}
