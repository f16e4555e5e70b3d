package audio

import "sync"

// Slot identifies a source position in the output graph. Normally one slot
// is active; during a crossfade the tone and clip slots play together, each
// with its own volume owned by the source.
type Slot int

const (
	SlotTone Slot = iota
	SlotClip
	slotCount
)

func (s Slot) String() string {
	switch s {
	case SlotTone:
		return "tone"
	case SlotClip:
		return "clip"
	default:
		return "unknown"
	}
}

type slotState struct {
	source     SampleSource
	paused     bool
	onFinished func()
}

// Mixer sums the active slots into one stereo stream. It implements
// SampleSource and is the single shared resource of the output graph.
type Mixer struct {
	mu      sync.Mutex
	slots   [slotCount]slotState
	limiter *Limiter
	scratch []float32
}

func NewMixer() *Mixer {
	return &Mixer{}
}

// Attach plugs src into slot, replacing whatever was there. When src is a
// FinishingSource, onFinished runs once after it reports finished and it is
// detached. onFinished runs on the audio thread and must not block.
func (m *Mixer) Attach(slot Slot, src SampleSource, onFinished func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot] = slotState{source: src, onFinished: onFinished}
}

// Detach empties slot.
func (m *Mixer) Detach(slot Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot] = slotState{}
}

// DetachSource empties slot only if src is still the source plugged into it.
func (m *Mixer) DetachSource(slot Slot, src SampleSource) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slots[slot].source != src {
		return false
	}
	m.slots[slot] = slotState{}
	return true
}

// SetLimiter installs a master-bus limiter applied before the hard clamp.
// nil removes it.
func (m *Mixer) SetLimiter(l *Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiter = l
}

func (m *Mixer) SetPaused(slot Slot, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slots[slot].source != nil {
		m.slots[slot].paused = paused
	}
}

func (m *Mixer) Paused(slot Slot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[slot].paused
}

func (m *Mixer) Source(slot Slot) SampleSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[slot].source
}

func (m *Mixer) Process(dst []float32) {
	var finished [slotCount]func()
	m.mu.Lock()
	for i := range dst {
		dst[i] = 0
	}
	if cap(m.scratch) < len(dst) {
		m.scratch = make([]float32, len(dst))
	}
	scratch := m.scratch[:len(dst)]
	for i := range m.slots {
		s := &m.slots[i]
		if s.source == nil || s.paused {
			continue
		}
		s.source.Process(scratch)
		for j, v := range scratch {
			dst[j] += v
		}
		if fs, ok := s.source.(FinishingSource); ok && fs.Finished() {
			finished[i] = s.onFinished
			*s = slotState{}
		}
	}
	if m.limiter != nil {
		m.limiter.Process(dst)
	}
	for i, v := range dst {
		if v > 1 {
			dst[i] = 1
		} else if v < -1 {
			dst[i] = -1
		}
	}
	m.mu.Unlock()
	for _, f := range finished {
		if f != nil {
			f()
		}
	}
}
