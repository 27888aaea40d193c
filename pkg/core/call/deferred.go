package call

import (
	"time"
)

type deferredKind int

const (
	deferredStart deferredKind = iota
	deferredResume
)

func (k deferredKind) String() string {
	if k == deferredResume {
		return "resume"
	}
	return "start"
}

// deferredAction is a tool effect delayed until the agent's current speech
// has audibly finished or been forcibly truncated.
type deferredAction struct {
	kind      deferredKind
	contentID string
}

// synchronizer reconciles tool effects with audio playback. At most one
// action is pending; a new request overwrites it. On turn completion a
// start action waits for a sustained quiet interval (bounded by a max
// wait) before executing, while a resume action truncates the finished
// turn's audio and executes immediately.
type synchronizer struct {
	cfg Config

	pending    *deferredAction
	generation uint64
	waitTimer  *time.Timer

	quietFor func(d time.Duration) bool

	now      func() time.Time
	schedule func(d time.Duration, fn func()) *time.Timer
	post     func(func())

	execStart  func(contentID string)
	execResume func()
}

func newSynchronizer(cfg Config, quietFor func(time.Duration) bool, post func(func())) *synchronizer {
	return &synchronizer{
		cfg:      cfg,
		quietFor: quietFor,
		now:      time.Now,
		schedule: time.AfterFunc,
		post:     post,
	}
}

// defer_ records an action to run after the current turn. Overwrites any
// outstanding action and cancels an in-flight quiet wait.
func (s *synchronizer) defer_(a deferredAction) {
	s.cancelWait()
	s.pending = &a
}

// hasPending reports whether an action is waiting for turn completion.
func (s *synchronizer) hasPending() bool { return s.pending != nil }

// onTurnComplete resolves the pending action, if any.
func (s *synchronizer) onTurnComplete() {
	if s.pending == nil {
		return
	}
	a := *s.pending
	s.pending = nil

	switch a.kind {
	case deferredResume:
		if s.execResume != nil {
			s.execResume()
		}
	case deferredStart:
		s.beginQuietWait(a.contentID, s.now())
	}
}

// beginQuietWait polls the output level until it has been quiet for the
// configured minimum, executing anyway once the max wait elapses.
func (s *synchronizer) beginQuietWait(contentID string, started time.Time) {
	s.cancelWait()
	s.generation++
	gen := s.generation
	deadline := started.Add(s.cfg.DeferredMaxWait)

	var step func()
	step = func() {
		if gen != s.generation {
			return
		}
		if s.quietFor(s.cfg.MinQuiet) || !s.now().Before(deadline) {
			s.waitTimer = nil
			if s.execStart != nil {
				s.execStart(contentID)
			}
			return
		}
		s.waitTimer = s.schedule(s.cfg.QuietPollInterval, func() {
			s.post(step)
		})
	}
	step()
}

// cancel drops the pending action and any in-flight wait.
func (s *synchronizer) cancel() {
	s.pending = nil
	s.cancelWait()
}

func (s *synchronizer) cancelWait() {
	s.generation++
	if s.waitTimer != nil {
		s.waitTimer.Stop()
		s.waitTimer = nil
	}
}
