package audio

import "math"

// Limiter is a stereo-linked peak limiter for the master bus. It keeps the
// tone and a clip summed during a crossfade from hitting the hard clamp.
type Limiter struct {
	ceiling float32
	attack  float32 // coefficient
	release float32 // coefficient
	env     float32
}

// NewLimiter creates a limiter.
// ceilingDB: output ceiling in dBFS (e.g., -1)
// attackMs, releaseMs: envelope follower times
func NewLimiter(sampleRate int, ceilingDB, attackMs, releaseMs float64) *Limiter {
	sr := float64(sampleRate)
	return &Limiter{
		ceiling: float32(math.Pow(10, ceilingDB/20)),
		attack:  float32(1.0 - math.Exp(-1.0/(attackMs*sr/1000.0))),
		release: float32(1.0 - math.Exp(-1.0/(releaseMs*sr/1000.0))),
	}
}

// Process limits interleaved stereo samples in place.
func (l *Limiter) Process(buf []float32) {
	for i := 0; i+1 < len(buf); i += 2 {
		peak := abs32(buf[i])
		if r := abs32(buf[i+1]); r > peak {
			peak = r
		}
		if peak > l.env {
			l.env += l.attack * (peak - l.env)
		} else {
			l.env += l.release * (peak - l.env)
		}
		if l.env > l.ceiling {
			g := l.ceiling / l.env
			buf[i] *= g
			buf[i+1] *= g
		}
	}
}

// Gain is the current gain reduction factor in (0,1].
func (l *Limiter) Gain() float32 {
	if l.env <= l.ceiling {
		return 1
	}
	return l.ceiling / l.env
}

func (l *Limiter) Reset() { l.env = 0 }

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
