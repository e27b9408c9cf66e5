package vm

import "fmt"

// Func is a function scripts can call; sh is the calling shred
type Func func(sh *Shred, args []any) (any, error)

// Getter is a name whose value is computed on every read
type Getter func(sh *Shred) any

// Forever is the name of an event nothing broadcasts; waiting on it parks a
// shred for good, which keeps the VM and its audio alive
const Forever = "forever"

func (v *VM) registerCore() {
	v.Register("now", Getter(func(sh *Shred) any { return sh.Now() }))

	yield := Func(func(sh *Shred, args []any) (any, error) {
		return sh.Yield(args...), nil
	})
	v.Register("yield", yield)
	v.Register("y", yield)
	v.Register("sleep", yield)

	v.Register("exit", Func(func(sh *Shred, _ []any) (any, error) {
		sh.Exit()
		return nil, nil
	}))

	v.Register("fork", Func(func(sh *Shred, args []any) (any, error) {
		if len(args) < 1 {
			return nil, fmt.Errorf("fork expects a body")
		}
		var body Body
		switch b := args[0].(type) {
		case Body:
			body = b
		case func(*Shred) error:
			body = b
		default:
			return nil, fmt.Errorf("cannot fork %T", args[0])
		}
		// spawn failures are reported by the VM; the caller carries on
		h, err := sh.Fork("", body)
		if err != nil {
			return nil, nil
		}
		return h, nil
	}))

	v.Register("fork_eval", Func(func(sh *Shred, args []any) (any, error) {
		if len(args) < 1 {
			return nil, fmt.Errorf("fork_eval expects source text")
		}
		src, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("fork_eval expects a string, got %T", args[0])
		}
		// load failures are reported by the VM; the caller carries on
		h, err := sh.ForkEval(src)
		if err != nil {
			return nil, nil
		}
		return h, nil
	}))

	v.Register("Event", Func(func(sh *Shred, args []any) (any, error) {
		name := "event"
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				name = s
			}
		}
		return sh.vm.NewEvent(name), nil
	}))

	v.Register("broadcast", Func(func(sh *Shred, args []any) (any, error) {
		if len(args) < 1 {
			return nil, fmt.Errorf("broadcast expects an event")
		}
		ev, ok := args[0].(*Event)
		if !ok || ev == nil {
			return nil, fmt.Errorf("cannot broadcast %T", args[0])
		}
		return float64(ev.Broadcast()), nil
	}))

	v.Register("Clock", Func(func(sh *Shred, args []any) (any, error) {
		rate := 1.0
		if len(args) > 0 {
			r, ok := ToFloat(args[0])
			if !ok {
				return nil, fmt.Errorf("Clock rate must be a number, got %T", args[0])
			}
			rate = r
		}
		// a bad rate is reported by the VM and yields nil
		s, err := sh.vm.NewScheduler(fmt.Sprintf("clock%d", len(sh.vm.Schedulers())), rate)
		if err != nil {
			return nil, nil
		}
		return s, nil
	}))

	v.Register(Forever, v.NewEvent(Forever))
}
