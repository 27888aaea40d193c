package media

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"
)

func TestRMSEnergy(t *testing.T) {
	silence := make([]byte, 200)
	if got := RMSEnergy(silence); got != 0 {
		t.Errorf("silence RMS = %v, want 0", got)
	}

	loud := make([]byte, 200)
	for i := 0; i+1 < len(loud); i += 2 {
		binary.LittleEndian.PutUint16(loud[i:], uint16(int16(16000)))
	}
	if got := RMSEnergy(loud); got < 0.4 || got > 0.6 {
		t.Errorf("loud RMS = %v, want ~0.49", got)
	}

	if got := RMSEnergy(nil); got != 0 {
		t.Errorf("empty RMS = %v, want 0", got)
	}
}

func TestPeakAmplitude(t *testing.T) {
	pcm := make([]byte, 8)
	minSample := int16(-32768)
	binary.LittleEndian.PutUint16(pcm[4:], uint16(minSample))
	if got := PeakAmplitude(pcm); got != 1.0 {
		t.Errorf("peak = %v, want 1.0", got)
	}
}

func TestLevelMonitor_Transitions(t *testing.T) {
	var mu sync.Mutex
	level := 0.0
	setLevel := func(v float64) {
		mu.Lock()
		level = v
		mu.Unlock()
	}

	cfg := MonitorConfig{
		SampleInterval:  5 * time.Millisecond,
		SpeechThreshold: 0.02,
		SilenceHold:     30 * time.Millisecond,
	}
	m := NewLevelMonitor(cfg, func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return level
	})

	starts := 0
	ends := 0
	m.SetCallbacks(
		func() {
			mu.Lock()
			starts++
			mu.Unlock()
		},
		func() {
			mu.Lock()
			ends++
			mu.Unlock()
		},
		nil,
	)

	m.Start()
	defer m.Stop()

	if m.Audible() {
		t.Error("should start inaudible")
	}

	setLevel(0.2)
	time.Sleep(30 * time.Millisecond)
	if !m.Audible() {
		t.Error("expected audible after loud samples")
	}

	setLevel(0.0)
	time.Sleep(80 * time.Millisecond)
	if m.Audible() {
		t.Error("expected inaudible after sustained silence")
	}
	if !m.QuietFor(20 * time.Millisecond) {
		t.Error("expected QuietFor to report sustained quiet")
	}

	mu.Lock()
	s, e := starts, ends
	mu.Unlock()
	if s != 1 || e != 1 {
		t.Errorf("starts=%d ends=%d, want 1 and 1", s, e)
	}
}

func TestLevelMonitor_BriefDipDoesNotEndSpeech(t *testing.T) {
	var mu sync.Mutex
	level := 0.2
	cfg := MonitorConfig{
		SampleInterval:  5 * time.Millisecond,
		SpeechThreshold: 0.02,
		SilenceHold:     100 * time.Millisecond,
	}
	m := NewLevelMonitor(cfg, func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return level
	})
	m.Start()
	defer m.Stop()

	time.Sleep(20 * time.Millisecond)

	// Dip below threshold for less than the hold window.
	mu.Lock()
	level = 0.0
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	level = 0.2
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)

	if !m.Audible() {
		t.Error("brief dip should not end speech")
	}
}

func TestLevelMonitor_StopIsIdempotent(t *testing.T) {
	m := NewLevelMonitor(DefaultMonitorConfig(), func() float64 { return 0 })
	m.Start()
	m.Stop()
	m.Stop()
	m.Start() // restart after stop is allowed
	m.Stop()
}

func TestDucker(t *testing.T) {
	var mu sync.Mutex
	var gains []float64
	d := NewDucker(DuckerConfig{
		LoudThreshold: 0.05,
		DuckedGain:    0.25,
		RestoreDelay:  20 * time.Millisecond,
	}, func(g float64) {
		mu.Lock()
		gains = append(gains, g)
		mu.Unlock()
	})

	d.Process(0.01)
	if d.Ducked() {
		t.Error("quiet sample should not duck")
	}

	d.Process(0.2)
	if !d.Ducked() {
		t.Error("loud sample should duck")
	}

	// Still quiet but within restore delay: stays ducked.
	d.Process(0.0)
	if !d.Ducked() {
		t.Error("should remain ducked inside restore delay")
	}

	time.Sleep(30 * time.Millisecond)
	d.Process(0.0)
	if d.Ducked() {
		t.Error("should restore after quiet delay")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gains) != 2 || gains[0] != 0.25 || gains[1] != 1.0 {
		t.Errorf("gains = %v, want [0.25 1]", gains)
	}
}
