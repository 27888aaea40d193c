package server

import (
	"context"
	"errors"
	"math"
	"sync/atomic"

	"github.com/google/uuid"
)

// consoleMedia adapts the console's reported audio surface to the call's
// media capability. The console streams level samples over the websocket;
// mute and gain changes are bookkeeping the console reads back if it cares.
type consoleMedia struct {
	negotiated  atomic.Bool
	closed      atomic.Bool
	level       atomic.Uint64
	outputMuted atomic.Bool
	outputGain  atomic.Uint64
	inputGain   atomic.Uint64
}

func newConsoleMedia() *consoleMedia {
	m := &consoleMedia{}
	m.outputGain.Store(math.Float64bits(1))
	m.inputGain.Store(math.Float64bits(1))
	return m
}

func (m *consoleMedia) Negotiate(_ context.Context, offer []byte) ([]byte, error) {
	if m.closed.Load() {
		return nil, errors.New("media closed")
	}
	if len(offer) == 0 {
		return nil, errors.New("empty offer")
	}
	m.negotiated.Store(true)
	return []byte("answer:" + uuid.NewString()), nil
}

func (m *consoleMedia) RemoteLevel() float64 {
	return math.Float64frombits(m.level.Load())
}

func (m *consoleMedia) SetOutputMuted(muted bool) {
	m.outputMuted.Store(muted)
}

func (m *consoleMedia) SetOutputGain(gain float64) {
	m.outputGain.Store(math.Float64bits(clamp01(gain)))
}

func (m *consoleMedia) SetInputGain(gain float64) {
	m.inputGain.Store(math.Float64bits(clamp01(gain)))
}

func (m *consoleMedia) Close() error {
	m.closed.Store(true)
	m.negotiated.Store(false)
	return nil
}

func (m *consoleMedia) setLevel(v float64) {
	m.level.Store(math.Float64bits(clamp01(v)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
