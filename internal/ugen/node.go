package ugen

import (
	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/vm"
)

// Node is a unit generator. Tick computes the node's output for the current
// frame from g; Last returns it until the next Tick.
type Node interface {
	Tick(g *Graph)
	Last() float64
	Field(name string) (any, bool)
	SetField(name string, v any) error
}

// base carries the last output every node exposes
type base struct {
	last float64
}

func (b *base) Last() float64 { return b.last }

func (b *base) Field(name string) (any, bool) {
	if name == "last" {
		return b.last, true
	}
	return nil, false
}

func noField(node, name string) error {
	return errors.Newf("%s has no settable field %q", node, name).
		Component("ugen").
		Category(errors.CategoryValidation).
		Build()
}

func badValue(node, name string, v float64) error {
	return errors.Newf("%s.%s cannot be %v", node, name, v).
		Component("ugen").
		Category(errors.CategoryValidation).
		Build()
}

func number(node, name string, v any) (float64, error) {
	f, ok := vm.ToFloat(v)
	if !ok {
		return 0, errors.Newf("%s.%s must be a number, got %T", node, name, v).
			Component("ugen").
			Category(errors.CategoryValidation).
			Build()
	}
	return f, nil
}

// arg returns args[i] as a number, or def if it is missing or nil
func arg(ctor string, args []any, i int, def float64) (float64, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	f, ok := vm.ToFloat(args[i])
	if !ok {
		return 0, errors.Newf("%s: argument %d must be a number, got %T", ctor, i+1, args[i]).
			Component("ugen").
			Category(errors.CategoryValidation).
			Build()
	}
	return f, nil
}
