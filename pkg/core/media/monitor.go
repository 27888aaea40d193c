package media

import (
	"sync"
	"time"
)

// MonitorConfig tunes the level monitor.
type MonitorConfig struct {
	// SampleInterval is how often the remote level is sampled.
	SampleInterval time.Duration

	// SpeechThreshold is the level at or above which the agent counts as
	// audible.
	SpeechThreshold float64

	// SilenceHold is how long the level must stay below threshold before an
	// end-of-speech transition fires. Filters inter-word dips.
	SilenceHold time.Duration
}

// DefaultMonitorConfig returns monitor defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval:  50 * time.Millisecond,
		SpeechThreshold: 0.02,
		SilenceHold:     300 * time.Millisecond,
	}
}

// LevelMonitor samples a level source on a fixed cadence and tracks
// silence <-> speaking transitions. It observes the raw output signal, so
// muting the speaker does not blind it. Callbacks fire on the monitor's
// goroutine; wire them to post into an event loop, not to mutate state.
type LevelMonitor struct {
	cfg    MonitorConfig
	source func() float64

	mu         sync.Mutex
	audible    bool
	quietSince time.Time
	belowSince time.Time
	started    bool
	stop       chan struct{}

	onSpeechStart func()
	onSpeechEnd   func()
	onSample      func(level float64)
}

// NewLevelMonitor creates a monitor over the given level source.
func NewLevelMonitor(cfg MonitorConfig, source func() float64) *LevelMonitor {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultMonitorConfig().SampleInterval
	}
	if cfg.SilenceHold <= 0 {
		cfg.SilenceHold = DefaultMonitorConfig().SilenceHold
	}
	return &LevelMonitor{
		cfg:        cfg,
		source:     source,
		quietSince: time.Now(),
	}
}

// SetCallbacks registers transition callbacks. Call before Start.
func (m *LevelMonitor) SetCallbacks(onSpeechStart, onSpeechEnd func(), onSample func(level float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSpeechStart = onSpeechStart
	m.onSpeechEnd = onSpeechEnd
	m.onSample = onSample
}

// Start launches the sampling loop. No-op if already running.
func (m *LevelMonitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	go m.loop(stop)
}

// Stop halts the sampling loop. Safe to call twice.
func (m *LevelMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stop)
}

// Audible reports whether the agent's voice is currently audible on the raw
// output signal.
func (m *LevelMonitor) Audible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audible
}

// QuietFor reports whether the signal has been continuously inaudible for at
// least d.
func (m *LevelMonitor) QuietFor(d time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audible {
		return false
	}
	return time.Since(m.quietSince) >= d
}

func (m *LevelMonitor) loop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sample(m.source())
		}
	}
}

func (m *LevelMonitor) sample(level float64) {
	m.mu.Lock()
	now := time.Now()
	var started, ended bool

	if level >= m.cfg.SpeechThreshold {
		m.belowSince = time.Time{}
		if !m.audible {
			m.audible = true
			started = true
		}
	} else if m.audible {
		if m.belowSince.IsZero() {
			m.belowSince = now
		}
		if now.Sub(m.belowSince) >= m.cfg.SilenceHold {
			m.audible = false
			m.quietSince = m.belowSince
			ended = true
		}
	}

	onStart := m.onSpeechStart
	onEnd := m.onSpeechEnd
	onSample := m.onSample
	m.mu.Unlock()

	if onSample != nil {
		onSample(level)
	}
	if started && onStart != nil {
		onStart()
	}
	if ended && onEnd != nil {
		onEnd()
	}
}

// DuckerConfig tunes software echo suppression.
type DuckerConfig struct {
	// LoudThreshold is the remote level above which capture is attenuated.
	LoudThreshold float64

	// DuckedGain is the input gain applied while the agent is loud.
	DuckedGain float64

	// RestoreDelay is how long the remote signal must stay quiet before the
	// capture gain is restored.
	RestoreDelay time.Duration
}

// DefaultDuckerConfig returns ducking defaults.
func DefaultDuckerConfig() DuckerConfig {
	return DuckerConfig{
		LoudThreshold: 0.05,
		DuckedGain:    0.25,
		RestoreDelay:  400 * time.Millisecond,
	}
}

// Ducker attenuates capture gain while agent audio is loud to suppress
// acoustic echo, restoring full gain after a quiet delay. Feed it level
// samples from the monitor's onSample callback.
type Ducker struct {
	cfg     DuckerConfig
	setGain func(float64)

	mu         sync.Mutex
	ducked     bool
	quietSince time.Time
}

// NewDucker creates a ducker that drives the given input-gain setter.
func NewDucker(cfg DuckerConfig, setGain func(float64)) *Ducker {
	if cfg.RestoreDelay <= 0 {
		cfg.RestoreDelay = DefaultDuckerConfig().RestoreDelay
	}
	return &Ducker{cfg: cfg, setGain: setGain}
}

// Process consumes one remote level sample.
func (d *Ducker) Process(level float64) {
	d.mu.Lock()
	now := time.Now()
	var apply float64
	change := false

	if level >= d.cfg.LoudThreshold {
		d.quietSince = time.Time{}
		if !d.ducked {
			d.ducked = true
			apply = d.cfg.DuckedGain
			change = true
		}
	} else if d.ducked {
		if d.quietSince.IsZero() {
			d.quietSince = now
		}
		if now.Sub(d.quietSince) >= d.cfg.RestoreDelay {
			d.ducked = false
			apply = 1.0
			change = true
		}
	}
	setGain := d.setGain
	d.mu.Unlock()

	if change && setGain != nil {
		setGain(apply)
	}
}

// Ducked reports whether capture is currently attenuated.
func (d *Ducker) Ducked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ducked
}
