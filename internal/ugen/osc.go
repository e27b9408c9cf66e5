package ugen

import "math"

// Shape selects an oscillator waveform
type Shape int

const (
	Sine Shape = iota
	Square
	Saw
	Triangle
	Pulse
)

var shapeNames = [...]string{"SinOsc", "SqrOsc", "SawOsc", "TriOsc", "PulseOsc"}

func (s Shape) String() string {
	if s < 0 || int(s) >= len(shapeNames) {
		return "Osc"
	}
	return shapeNames[s]
}

// Osc is a phase-accumulating oscillator. Its output is computed from the
// phase before it advances, so the first frame of a sine is 0. Anything
// connected to the "freq" port is added to freq.
type Osc struct {
	base
	shape Shape
	sr    float64
	freq  float64
	phase float64
	width float64
}

func NewOsc(shape Shape, sr, freq float64) *Osc {
	return &Osc{shape: shape, sr: sr, freq: freq, width: 0.5}
}

func (o *Osc) Tick(g *Graph) {
	p := o.phase
	switch o.shape {
	case Sine:
		o.last = math.Sin(p * 2 * math.Pi)
	case Square:
		if p < 0.5 {
			o.last = -1
		} else {
			o.last = 1
		}
	case Saw:
		o.last = p
	case Triangle:
		o.last = 4*math.Abs(p-0.5) - 1
	case Pulse:
		if p < o.width {
			o.last = -1
		} else {
			o.last = 1
		}
	}
	f := o.freq + g.Sum(o, "freq")
	o.phase = math.Mod(p+f/o.sr, 1)
	if o.phase < 0 {
		o.phase++
	}
}

func (o *Osc) Field(name string) (any, bool) {
	switch name {
	case "freq":
		return o.freq, true
	case "phase":
		return o.phase, true
	case "width":
		if o.shape == Pulse {
			return o.width, true
		}
	}
	return o.base.Field(name)
}

func (o *Osc) SetField(name string, v any) error {
	if name != "freq" && name != "phase" && (name != "width" || o.shape != Pulse) {
		return noField(o.shape.String(), name)
	}
	f, err := number(o.shape.String(), name, v)
	if err != nil {
		return err
	}
	switch name {
	case "freq":
		o.freq = f
	case "phase":
		o.phase = f - math.Floor(f)
	case "width":
		if f < 0 || f > 1 {
			return badValue(o.shape.String(), name, f)
		}
		o.width = f
	}
	return nil
}
