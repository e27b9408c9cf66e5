package ugen

import (
	"math"
	"math/rand"
)

// Gain scales the sum of its default port. Anything connected to its "gain"
// port is added to the gain.
type Gain struct {
	base
	gain float64
}

func NewGain(gain float64) *Gain { return &Gain{gain: gain} }

func (n *Gain) Tick(g *Graph) {
	n.last = g.Sum(n, DefaultPort) * (n.gain + g.Sum(n, "gain"))
}

func (n *Gain) Field(name string) (any, bool) {
	if name == "gain" {
		return n.gain, true
	}
	return n.base.Field(name)
}

func (n *Gain) SetField(name string, v any) error {
	if name != "gain" {
		return noField("Gain", name)
	}
	f, err := number("Gain", name, v)
	if err != nil {
		return err
	}
	n.gain = f
	return nil
}

// Step holds whatever was last written to next
type Step struct {
	base
	next float64
}

func NewStep(next float64) *Step { return &Step{next: next} }

func (n *Step) Tick(*Graph) { n.last = n.next }

// Set writes next directly, for callers outside scripts
func (n *Step) Set(v float64) { n.next = v }

func (n *Step) Field(name string) (any, bool) {
	if name == "next" {
		return n.next, true
	}
	return n.base.Field(name)
}

func (n *Step) SetField(name string, v any) error {
	if name != "next" {
		return noField("Step", name)
	}
	f, err := number("Step", name, v)
	if err != nil {
		return err
	}
	n.next = f
	return nil
}

// Impulse emits next for a single frame, then zero
type Impulse struct {
	base
	next float64
}

func NewImpulse() *Impulse { return &Impulse{} }

func (n *Impulse) Tick(*Graph) {
	n.last = n.next
	n.next = 0
}

func (n *Impulse) Field(name string) (any, bool) {
	if name == "next" {
		return n.next, true
	}
	return n.base.Field(name)
}

func (n *Impulse) SetField(name string, v any) error {
	if name != "next" {
		return noField("Impulse", name)
	}
	f, err := number("Impulse", name, v)
	if err != nil {
		return err
	}
	n.next = f
	return nil
}

// Noise is uniform white noise in [-1, 1)
type Noise struct {
	base
	rng *rand.Rand
}

func NewNoise(seed int64) *Noise {
	return &Noise{rng: rand.New(rand.NewSource(seed))}
}

func (n *Noise) Tick(*Graph) { n.last = n.rng.Float64()*2 - 1 }

func (n *Noise) SetField(name string, _ any) error { return noField("Noise", name) }

// Delay outputs its input from len frames ago; a zero length passes the
// input straight through
type Delay struct {
	base
	buf []float64
	pos int
}

func NewDelay(length int) *Delay {
	if length < 0 {
		length = 0
	}
	return &Delay{buf: make([]float64, length+1)}
}

// Len returns the delay in frames
func (n *Delay) Len() int { return len(n.buf) - 1 }

func (n *Delay) Tick(g *Graph) {
	n.buf[n.pos] = g.Sum(n, DefaultPort)
	n.pos++
	if n.pos == len(n.buf) {
		n.pos = 0
	}
	n.last = n.buf[n.pos]
}

func (n *Delay) Field(name string) (any, bool) {
	if name == "len" {
		return float64(n.Len()), true
	}
	return n.base.Field(name)
}

// SetField resizes the line; the buffered history is dropped
func (n *Delay) SetField(name string, v any) error {
	if name != "len" {
		return noField("Delay", name)
	}
	f, err := number("Delay", name, v)
	if err != nil {
		return err
	}
	if f < 0 {
		return badValue("Delay", name, f)
	}
	n.buf = make([]float64, int(math.Ceil(f))+1)
	n.pos = 0
	return nil
}

// Follower tracks the amplitude envelope of its input
type Follower struct {
	base
	halfLife float64
	decay    float64
}

func NewFollower(halfLife float64) *Follower {
	n := &Follower{}
	n.setHalfLife(halfLife)
	return n
}

func (n *Follower) setHalfLife(h float64) {
	n.halfLife = h
	n.decay = math.Exp(math.Log(0.5) / h)
}

func (n *Follower) Tick(g *Graph) {
	in := math.Abs(g.Sum(n, DefaultPort))
	n.last *= n.decay
	if in > n.last {
		n.last = in
	}
}

func (n *Follower) Field(name string) (any, bool) {
	switch name {
	case "half_life":
		return n.halfLife, true
	case "decay":
		return n.decay, true
	}
	return n.base.Field(name)
}

func (n *Follower) SetField(name string, v any) error {
	if name != "half_life" {
		return noField("Follower", name)
	}
	f, err := number("Follower", name, v)
	if err != nil {
		return err
	}
	if !(f > 0) {
		return badValue("Follower", name, f)
	}
	n.setHalfLife(f)
	return nil
}

// Custom wraps a Go function of the summed default input
type Custom struct {
	base
	name string
	fn   func(in float64) float64
}

func NewCustom(name string, fn func(in float64) float64) *Custom {
	return &Custom{name: name, fn: fn}
}

func (n *Custom) Tick(g *Graph) { n.last = n.fn(g.Sum(n, DefaultPort)) }

func (n *Custom) SetField(name string, _ any) error { return noField(n.name, name) }
