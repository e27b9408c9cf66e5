// Package script compiles the ckv script language into shred bodies.
//
// A script is a list of line-oriented statements. Names resolve in the
// running shred's namespace, so everything the VM and the audio bridge
// register (yield, connect, SinOsc, dac, ms, ...) is callable as a command:
//
//	let s = SinOsc(220)
//	connect s, dac
//	loop {
//		s.freq = s.freq * 1.5
//		sleep 250ms
//	}
//
// The interpreter runs on the shred's own goroutine, so a yield inside any
// nested statement suspends the whole script where it stands.
package script

import (
	"fmt"
	"math"
	"strings"

	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/logger"
	"github.com/alltom/ckv/internal/ugen"
	"github.com/alltom/ckv/internal/vm"
)

// Compiler implements vm.Compiler
type Compiler struct {
	log logger.Logger
}

var _ vm.Compiler = (*Compiler)(nil)

// Option configures a Compiler
type Option func(*Compiler)

// WithLogger sets the compiler logger
func WithLogger(l logger.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.log = l
		}
	}
}

func New(opts ...Option) *Compiler {
	c := &Compiler{log: logger.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile parses src; the returned body interprets it on a shred
func (c *Compiler) Compile(name, src string) (vm.Body, error) {
	prog, err := parse(src)
	if err != nil {
		return nil, err
	}
	c.log.Debug("compiled", logger.String("script", name), logger.Int("statements", len(prog)))
	return func(sh *vm.Shred) error {
		return (&interp{sh: sh}).exec(prog)
	}, nil
}

// Check parses src without running it
func Check(src string) error {
	_, err := parse(src)
	return err
}

var errBreak = errors.NewStd("break")

type lineError struct {
	line int
	err  error
}

func (e *lineError) Error() string { return fmt.Sprintf("line %d: %v", e.line, e.err) }
func (e *lineError) Unwrap() error { return e.err }

type fielder interface {
	Field(name string) (any, bool)
}

type fieldSetter interface {
	SetField(name string, v any) error
}

type interp struct {
	sh *vm.Shred
}

func (in *interp) exec(body []stmt) error {
	for _, s := range body {
		if err := in.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (in *interp) stmt(s stmt) error {
	err := in.do(s)
	if err == nil || err == errBreak {
		return err
	}
	var le *lineError
	if errors.As(err, &le) {
		return err
	}
	return &lineError{line: s.stmtLine(), err: err}
}

func (in *interp) do(s stmt) error {
	switch s := s.(type) {
	case *letStmt:
		v, err := in.eval(s.x)
		if err != nil {
			return err
		}
		in.sh.Env().Set(s.name, v)
	case *assignStmt:
		v, err := in.eval(s.x)
		if err != nil {
			return err
		}
		switch t := s.target.(type) {
		case *identExpr:
			in.sh.Env().Set(t.name, v)
		case *fieldExpr:
			obj, err := in.eval(t.obj)
			if err != nil {
				return err
			}
			return setField(obj, t.name, v)
		}
	case *commandStmt:
		f, err := in.lookup(s.name)
		if err != nil {
			return err
		}
		args, err := in.evalAll(s.args)
		if err != nil {
			return err
		}
		_, err = in.call(s.name, f, args)
		return err
	case *exprStmt:
		// a bare name bound to a function is a call with no arguments
		if id, ok := s.x.(*identExpr); ok {
			v, err := in.lookup(id.name)
			if err != nil {
				return err
			}
			if f, ok := v.(vm.Func); ok {
				_, err = f(in.sh, nil)
			}
			return err
		}
		_, err := in.eval(s.x)
		return err
	case *forkStmt:
		body := s.body
		// a failed spawn is reported by the VM and the fork skipped
		in.sh.Fork("", func(c *vm.Shred) error {
			return (&interp{sh: c}).exec(body)
		})
	case *loopStmt:
		return in.loop(s)
	case *ifStmt:
		c, err := in.eval(s.cond)
		if err != nil {
			return err
		}
		if truthy(c) {
			return in.exec(s.then)
		}
		return in.exec(s.els)
	case *breakStmt:
		return errBreak
	}
	return nil
}

func (in *interp) loop(s *loopStmt) error {
	count := math.Inf(1)
	if s.count != nil {
		v, err := in.eval(s.count)
		if err != nil {
			return err
		}
		n, ok := vm.ToFloat(v)
		if !ok {
			return fmt.Errorf("repeat expects a number, got %s", typeName(v))
		}
		count = math.Floor(n)
	}
	for i := 0.0; i < count; i++ {
		if s.cond != nil {
			c, err := in.eval(s.cond)
			if err != nil {
				return err
			}
			if !truthy(c) {
				return nil
			}
		}
		if err := in.exec(s.body); err != nil {
			if err == errBreak {
				return nil
			}
			return err
		}
	}
	return nil
}

func (in *interp) lookup(name string) (any, error) {
	v, ok := in.sh.Env().Get(name)
	if !ok {
		return nil, fmt.Errorf("undefined: %s", name)
	}
	if g, ok := v.(vm.Getter); ok {
		return g(in.sh), nil
	}
	return v, nil
}

func (in *interp) call(name string, f any, args []any) (any, error) {
	fn, ok := f.(vm.Func)
	if !ok {
		return nil, fmt.Errorf("%s is not callable (%s)", name, typeName(f))
	}
	return fn(in.sh, args)
}

func (in *interp) evalAll(xs []expr) ([]any, error) {
	out := make([]any, len(xs))
	for i, x := range xs {
		v, err := in.eval(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (in *interp) eval(x expr) (any, error) {
	switch x := x.(type) {
	case *numberExpr:
		if x.unit == "" {
			return x.val, nil
		}
		u, err := in.lookup(x.unit)
		if err != nil {
			return nil, fmt.Errorf("unknown unit %q", x.unit)
		}
		f, ok := vm.ToFloat(u)
		if !ok {
			return nil, fmt.Errorf("%s is not a unit (%s)", x.unit, typeName(u))
		}
		return x.val * f, nil
	case *stringExpr:
		return x.val, nil
	case *literalExpr:
		return x.val, nil
	case *identExpr:
		return in.lookup(x.name)
	case *fieldExpr:
		obj, err := in.eval(x.obj)
		if err != nil {
			return nil, err
		}
		return getField(obj, x.name)
	case *callExpr:
		f, err := in.eval(x.fn)
		if err != nil {
			return nil, err
		}
		args, err := in.evalAll(x.args)
		if err != nil {
			return nil, err
		}
		return in.call(callee(x.fn), f, args)
	case *unaryExpr:
		v, err := in.eval(x.x)
		if err != nil {
			return nil, err
		}
		if x.op == "!" {
			return !truthy(v), nil
		}
		n, ok := vm.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("cannot negate %s", typeName(v))
		}
		return -n, nil
	case *binaryExpr:
		return in.binary(x)
	}
	return nil, fmt.Errorf("cannot evaluate %T", x)
}

func callee(x expr) string {
	switch x := x.(type) {
	case *identExpr:
		return x.name
	case *fieldExpr:
		return callee(x.obj) + "." + x.name
	}
	return "expression"
}

func (in *interp) binary(x *binaryExpr) (any, error) {
	a, err := in.eval(x.x)
	if err != nil {
		return nil, err
	}
	switch x.op {
	case "&&":
		if !truthy(a) {
			return false, nil
		}
		b, err := in.eval(x.y)
		return truthy(b), err
	case "||":
		if truthy(a) {
			return true, nil
		}
		b, err := in.eval(x.y)
		return truthy(b), err
	}
	b, err := in.eval(x.y)
	if err != nil {
		return nil, err
	}
	switch x.op {
	case "==":
		return equal(a, b), nil
	case "!=":
		return !equal(a, b), nil
	}

	_, aStr := a.(string)
	_, bStr := b.(string)
	if x.op == "+" && (aStr || bStr) {
		return ToString(a) + ToString(b), nil
	}
	if aStr && bStr {
		sa, sb := a.(string), b.(string)
		switch x.op {
		case "<":
			return sa < sb, nil
		case "<=":
			return sa <= sb, nil
		case ">":
			return sa > sb, nil
		case ">=":
			return sa >= sb, nil
		}
	}

	na, ok1 := vm.ToFloat(a)
	nb, ok2 := vm.ToFloat(b)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("cannot apply %s to %s and %s", x.op, typeName(a), typeName(b))
	}
	switch x.op {
	case "+":
		return na + nb, nil
	case "-":
		return na - nb, nil
	case "*":
		return na * nb, nil
	case "/":
		return na / nb, nil
	case "%":
		return math.Mod(na, nb), nil
	case "<":
		return na < nb, nil
	case "<=":
		return na <= nb, nil
	case ">":
		return na > nb, nil
	case ">=":
		return na >= nb, nil
	}
	return nil, fmt.Errorf("unknown operator %s", x.op)
}

func getField(obj any, name string) (any, error) {
	switch o := obj.(type) {
	case *vm.Env:
		v, ok := o.Get(name)
		if !ok {
			return nil, fmt.Errorf("undefined: global.%s", name)
		}
		return v, nil
	case fielder:
		v, ok := o.Field(name)
		if !ok {
			return nil, fmt.Errorf("%s has no field %q", typeName(obj), name)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%s has no fields", typeName(obj))
}

func setField(obj any, name string, v any) error {
	switch o := obj.(type) {
	case *vm.Env:
		o.Set(name, v)
		return nil
	case fieldSetter:
		return o.SetField(name, v)
	}
	return fmt.Errorf("cannot set %s on %s", name, typeName(obj))
}

func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	}
	return true
}

func equal(a, b any) bool {
	if na, ok := vm.ToFloat(a); ok {
		nb, ok := vm.ToFloat(b)
		return ok && na == nb
	}
	switch a.(type) {
	case vm.Func, vm.Getter:
		return false // functions are not comparable
	}
	switch b.(type) {
	case vm.Func, vm.Getter:
		return false
	}
	return a == b
}

// typeName is what the type builtin reports
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "boolean"
	case string:
		return "string"
	case vm.Func, vm.Getter:
		return "function"
	case *vm.Event:
		return "event"
	case *vm.Scheduler:
		return "clock"
	case *vm.Env:
		return "namespace"
	case vm.Handle:
		return "shred"
	}
	if _, ok := vm.ToFloat(v); ok {
		return "number"
	}
	if _, ok := v.(ugen.Node); ok {
		return "ugen"
	}
	if _, ok := v.(fielder); ok {
		return "object"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
}
