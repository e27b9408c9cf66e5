package ugen

import (
	"math"
	"math/rand"
	"sort"

	"github.com/alltom/ckv/internal/errors"
)

// Constructor builds a node from script arguments
type Constructor func(args []any) (Node, error)

// Registry maps constructor names, as scripts see them, to constructors
type Registry struct {
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds or replaces a constructor
func (r *Registry) Register(name string, c Constructor) error {
	if name == "" || c == nil {
		return errors.Newf("constructor needs a name and a function").
			Component("ugen").
			Category(errors.CategoryValidation).
			Context("name", name).
			Build()
	}
	r.ctors[name] = c
	return nil
}

// Lookup finds a constructor by name
func (r *Registry) Lookup(name string) (Constructor, bool) {
	c, ok := r.ctors[name]
	return c, ok
}

// Names returns the registered names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func osc(shape Shape, sr float64) Constructor {
	return func(args []any) (Node, error) {
		f, err := arg(shape.String(), args, 0, 440)
		if err != nil {
			return nil, err
		}
		o := NewOsc(shape, sr, f)
		if shape == Pulse && len(args) > 1 {
			if err := o.SetField("width", args[1]); err != nil {
				return nil, err
			}
		}
		return o, nil
	}
}

// Builtins returns a registry holding the standard nodes for sample rate sr
func Builtins(sr float64) *Registry {
	r := NewRegistry()
	gain := func(args []any) (Node, error) {
		g, err := arg("Gain", args, 0, 1)
		if err != nil {
			return nil, err
		}
		return NewGain(g), nil
	}
	r.ctors["Gain"] = gain
	r.ctors["PassThru"] = gain
	r.ctors["Step"] = func(args []any) (Node, error) {
		v, err := arg("Step", args, 0, 0)
		if err != nil {
			return nil, err
		}
		return NewStep(v), nil
	}
	r.ctors["Impulse"] = func([]any) (Node, error) { return NewImpulse(), nil }
	r.ctors["Noise"] = func([]any) (Node, error) { return NewNoise(rand.Int63()), nil }
	r.ctors["SinOsc"] = osc(Sine, sr)
	r.ctors["SqrOsc"] = osc(Square, sr)
	r.ctors["SawOsc"] = osc(Saw, sr)
	r.ctors["TriOsc"] = osc(Triangle, sr)
	r.ctors["PulseOsc"] = osc(Pulse, sr)
	r.ctors["Delay"] = func(args []any) (Node, error) {
		l, err := arg("Delay", args, 0, math.Ceil(sr/10))
		if err != nil {
			return nil, err
		}
		if l < 0 {
			return nil, badValue("Delay", "len", l)
		}
		return NewDelay(int(math.Ceil(l))), nil
	}
	r.ctors["Follower"] = func(args []any) (Node, error) {
		h, err := arg("Follower", args, 0, sr/16)
		if err != nil {
			return nil, err
		}
		if !(h > 0) {
			return nil, badValue("Follower", "half_life", h)
		}
		return NewFollower(h), nil
	}
	r.ctors["SndIn"] = func(args []any) (Node, error) {
		if len(args) < 1 {
			return nil, errors.Newf("SndIn expects a file path").Component("ugen").Category(errors.CategoryValidation).Build()
		}
		path, ok := args[0].(string)
		if !ok {
			return nil, errors.Newf("SndIn expects a file path, got %T", args[0]).Component("ugen").Category(errors.CategoryValidation).Build()
		}
		n, err := OpenSndIn(path, sr)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	return r
}
