package envelope

import "math"

// Ramp is a linear per-sample volume envelope: current value, target and the
// number of samples left to reach it. It is owned by a single signal source.
type Ramp struct {
	value     float64
	target    float64
	step      float64
	remaining int
}

// Set moves toward target over the given duration. A non-positive duration jumps.
func (r *Ramp) Set(target, seconds, sampleRate float64) {
	n := int(math.Round(seconds * sampleRate))
	if n <= 0 || target == r.value {
		r.Jump(target)
		return
	}
	r.target = target
	r.step = (target - r.value) / float64(n)
	r.remaining = n
}

// Jump sets value and target immediately.
func (r *Ramp) Jump(v float64) {
	r.value = v
	r.target = v
	r.step = 0
	r.remaining = 0
}

// Next advances one sample and returns the new value.
func (r *Ramp) Next() float64 {
	if r.remaining > 0 {
		r.remaining--
		if r.remaining == 0 {
			r.value = r.target
		} else {
			r.value += r.step
		}
	}
	return r.value
}

func (r *Ramp) Value() float64  { return r.value }
func (r *Ramp) Target() float64 { return r.target }

// Settled reports whether the ramp has reached its target.
func (r *Ramp) Settled() bool { return r.remaining == 0 }
