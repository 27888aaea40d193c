// Package media abstracts the platform's real-time audio surface: connection
// negotiation, the observable remote output level, and gain controls for both
// directions. The transport itself is supplied by the host platform.
package media

import (
	"context"
	"math"
)

// Capability is the provided audio capture/playback surface.
type Capability interface {
	// Negotiate performs connection setup against the given offer and returns
	// the answer. It acquires the capture device; a failed negotiation must
	// leave nothing acquired.
	Negotiate(ctx context.Context, offer []byte) ([]byte, error)

	// RemoteLevel reports the instantaneous remote (agent) output level in
	// the range 0..1. It reads the raw signal, before output muting, so
	// audibility stays observable while narration mutes the speaker.
	RemoteLevel() float64

	// SetOutputMuted mutes or unmutes agent audio at the speaker.
	SetOutputMuted(muted bool)

	// SetOutputGain adjusts agent playback volume, 0..1.
	SetOutputGain(gain float64)

	// SetInputGain adjusts capture gain, 0..1. Used for echo ducking.
	SetInputGain(gain float64)

	// Close releases the capture device and tears down the connection.
	// Must be safe to call twice and on a never-negotiated capability.
	Close() error
}

// RMSEnergy computes the root-mean-square energy of 16-bit little-endian PCM,
// normalized to 0..1. Platforms that expose raw frames instead of a level
// signal can feed this into the monitor.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute sample amplitude, 0..1.
func PeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var maxAbs float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs / 32768.0
}
