package script

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/alltom/ckv/internal/vm"
)

// Install registers the script standard library on v. print writes to out.
func Install(v *vm.VM, out io.Writer, seed int64) {
	rng := rand.New(rand.NewSource(seed))

	v.Register("print", vm.Func(func(_ *vm.Shred, args []any) (any, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = ToString(a)
		}
		_, err := fmt.Fprintln(out, strings.Join(parts, " "))
		return nil, err
	}))
	v.Register("tostring", vm.Func(func(_ *vm.Shred, args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("tostring expects 1 argument, got %d", len(args))
		}
		return ToString(args[0]), nil
	}))
	v.Register("type", vm.Func(func(_ *vm.Shred, args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("type expects 1 argument, got %d", len(args))
		}
		return typeName(args[0]), nil
	}))

	for name, fn := range map[string]func(float64) float64{
		"abs":   math.Abs,
		"sin":   math.Sin,
		"cos":   math.Cos,
		"tan":   math.Tan,
		"exp":   math.Exp,
		"log":   math.Log,
		"sqrt":  math.Sqrt,
		"floor": math.Floor,
		"ceil":  math.Ceil,
		"round": math.Round,
		"mtof":  Mtof,
		"ftom":  Ftom,
		"dbtorms": func(db float64) float64 {
			return math.Pow(10, db/20)
		},
		"rmstodb": func(r float64) float64 {
			return 20 * math.Log10(r)
		},
	} {
		v.Register(name, unary(name, fn))
	}

	v.Register("pow", vm.Func(func(_ *vm.Shred, args []any) (any, error) {
		n, err := numbers("pow", args, 2, 2)
		if err != nil {
			return nil, err
		}
		return math.Pow(n[0], n[1]), nil
	}))
	v.Register("min", vm.Func(func(_ *vm.Shred, args []any) (any, error) {
		n, err := numbers("min", args, 1, -1)
		if err != nil {
			return nil, err
		}
		m := n[0]
		for _, x := range n[1:] {
			m = math.Min(m, x)
		}
		return m, nil
	}))
	v.Register("max", vm.Func(func(_ *vm.Shred, args []any) (any, error) {
		n, err := numbers("max", args, 1, -1)
		if err != nil {
			return nil, err
		}
		m := n[0]
		for _, x := range n[1:] {
			m = math.Max(m, x)
		}
		return m, nil
	}))

	// rand() is in [0, 1), rand(n) in [0, n), rand(a, b) in [a, b)
	v.Register("rand", vm.Func(func(_ *vm.Shred, args []any) (any, error) {
		n, err := numbers("rand", args, 0, 2)
		if err != nil {
			return nil, err
		}
		r := rng.Float64()
		switch len(n) {
		case 1:
			return r * n[0], nil
		case 2:
			return n[0] + r*(n[1]-n[0]), nil
		}
		return r, nil
	}))

	v.Register("pi", math.Pi)
}

// Mtof converts a MIDI note number to Hz
func Mtof(m float64) float64 { return 440 * math.Pow(2, (m-69)/12) }

// Ftom converts Hz to a MIDI note number
func Ftom(f float64) float64 { return 69 + 12*math.Log2(f/440) }

// ToString formats a script value the way print shows it
func ToString(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case *vm.Event:
		return "event " + x.Name()
	case *vm.Scheduler:
		return "clock " + x.Name()
	}
	if n, ok := vm.ToFloat(v); ok {
		return strconv.FormatFloat(n, 'g', -1, 64)
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return typeName(v)
}

func unary(name string, fn func(float64) float64) vm.Func {
	return func(_ *vm.Shred, args []any) (any, error) {
		n, err := numbers(name, args, 1, 1)
		if err != nil {
			return nil, err
		}
		return fn(n[0]), nil
	}
}

// numbers converts args, checking there are between lo and hi of them (hi < 0
// means no limit)
func numbers(name string, args []any, lo, hi int) ([]float64, error) {
	if len(args) < lo || (hi >= 0 && len(args) > hi) {
		switch {
		case lo == hi:
			return nil, fmt.Errorf("%s expects %d argument(s), got %d", name, lo, len(args))
		case hi < 0:
			return nil, fmt.Errorf("%s expects at least %d argument(s), got %d", name, lo, len(args))
		}
		return nil, fmt.Errorf("%s expects %d to %d arguments, got %d", name, lo, hi, len(args))
	}
	out := make([]float64, len(args))
	for i, a := range args {
		n, ok := vm.ToFloat(a)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d is %s, not a number", name, i+1, typeName(a))
		}
		out[i] = n
	}
	return out, nil
}
