package vm

import (
	"fmt"
	"runtime"
)

// State of a shred
type State int

const (
	Loaded State = iota
	Scheduled
	Running
	Waiting
	Terminated
	Failed
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Terminated:
		return "terminated"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Body is the code a shred runs. It executes on its own goroutine but only
// while the VM has handed control to it.
type Body func(sh *Shred) error

type yieldKind int

const (
	yieldTime yieldKind = iota
	yieldEvent
	yieldDone
	yieldFail
	yieldBad
	yieldExit
)

type yieldMsg struct {
	kind  yieldKind
	dur   float64
	sched *Scheduler
	ev    *Event
	err   error
}

type resumeMsg struct {
	kill bool
}

// Shred is a cooperatively scheduled execution context
type Shred struct {
	vm     *VM
	handle Handle
	name   string
	body   Body
	env    *Env
	sched  *Scheduler
	state  State

	started bool
	resumec chan resumeMsg
	yieldc  chan yieldMsg
	done    chan struct{}
}

func newShred(v *VM, name string, body Body, env *Env, sched *Scheduler) *Shred {
	return &Shred{
		vm:      v,
		name:    name,
		body:    body,
		env:     env,
		sched:   sched,
		state:   Loaded,
		resumec: make(chan resumeMsg),
		yieldc:  make(chan yieldMsg),
		done:    make(chan struct{}),
	}
}

func (sh *Shred) Name() string          { return sh.name }
func (sh *Shred) Handle() Handle        { return sh.handle }
func (sh *Shred) Env() *Env             { return sh.env }
func (sh *Shred) Scheduler() *Scheduler { return sh.sched }
func (sh *Shred) VM() *VM               { return sh.vm }
func (sh *Shred) State() State          { return sh.state }

// Now returns the owning scheduler's time
func (sh *Shred) Now() float64 { return sh.sched.now }

// Yield suspends the shred. Accepted forms are a duration, a duration and a
// *Scheduler, or an *Event. Anything else is reported and the shred is
// terminated without returning. Yield returns its first argument.
func (sh *Shred) Yield(args ...any) any {
	sh.suspend(classify(args))
	if len(args) > 0 {
		return args[0]
	}
	return nil
}

// Sleep yields d units of the owning scheduler's time
func (sh *Shred) Sleep(d float64) {
	sh.suspend(yieldMsg{kind: yieldTime, dur: d})
}

// SleepOn yields d units of s's time
func (sh *Shred) SleepOn(d float64, s *Scheduler) {
	if s == nil {
		sh.suspend(yieldMsg{kind: yieldBad, err: fmt.Errorf("attempted to yield on a nil scheduler")})
		return
	}
	sh.suspend(yieldMsg{kind: yieldTime, dur: d, sched: s})
}

// Wait parks the shred until ev is broadcast
func (sh *Shred) Wait(ev *Event) {
	if ev == nil {
		sh.suspend(yieldMsg{kind: yieldBad, err: fmt.Errorf("attempted to yield nil")})
		return
	}
	sh.suspend(yieldMsg{kind: yieldEvent, ev: ev})
}

// Exit stops the VM and terminates the calling shred; it does not return
func (sh *Shred) Exit() {
	sh.suspend(yieldMsg{kind: yieldExit})
}

// Fork starts body as a new shred sharing sh's namespace and scheduler. It
// is queued at the scheduler's now and runs once sh next suspends.
func (sh *Shred) Fork(name string, body Body) (Handle, error) {
	if name == "" {
		name = sh.name + "/fork"
	}
	return sh.vm.spawn(name, body, sh.env, sh.sched)
}

// ForkEval compiles src and forks it like Fork
func (sh *Shred) ForkEval(src string) (Handle, error) {
	name := sh.name + "/eval"
	body, err := sh.vm.compile(name, src)
	if err != nil {
		return Handle{}, err
	}
	return sh.vm.spawn(name, body, sh.env, sh.sched)
}

func classify(args []any) yieldMsg {
	if len(args) == 0 || args[0] == nil {
		return yieldMsg{kind: yieldBad, err: fmt.Errorf("attempted to yield nil")}
	}
	if ev, ok := args[0].(*Event); ok {
		if ev == nil {
			return yieldMsg{kind: yieldBad, err: fmt.Errorf("attempted to yield nil")}
		}
		return yieldMsg{kind: yieldEvent, ev: ev}
	}
	d, ok := ToFloat(args[0])
	if !ok {
		return yieldMsg{kind: yieldBad, err: fmt.Errorf("attempted to yield something not an event or duration (%T)", args[0])}
	}
	m := yieldMsg{kind: yieldTime, dur: d}
	if len(args) > 1 && args[1] != nil {
		s, ok := args[1].(*Scheduler)
		if !ok || s == nil {
			return yieldMsg{kind: yieldBad, err: fmt.Errorf("attempted to yield on something not a scheduler (%T)", args[1])}
		}
		m.sched = s
	}
	return m
}

// ToFloat converts Go numeric types to float64
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// goroutine side of the handoff

func (sh *Shred) run() {
	defer close(sh.done)
	if m := <-sh.resumec; m.kill {
		return
	}
	sh.yieldc <- sh.call()
}

func (sh *Shred) call() (m yieldMsg) {
	defer func() {
		if r := recover(); r != nil {
			m = yieldMsg{kind: yieldFail, err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := sh.body(sh); err != nil {
		return yieldMsg{kind: yieldFail, err: err}
	}
	return yieldMsg{kind: yieldDone}
}

func (sh *Shred) suspend(m yieldMsg) {
	sh.yieldc <- m
	if r := <-sh.resumec; r.kill {
		runtime.Goexit()
	}
}

// VM side of the handoff

// resume hands control to sh and blocks until it suspends or ends
func (v *VM) resume(sh *Shred) yieldMsg {
	if !sh.started {
		sh.started = true
		go sh.run()
	}
	sh.state = Running
	sh.resumec <- resumeMsg{}
	return <-sh.yieldc
}

// kill unwinds a suspended shred's goroutine
func (v *VM) kill(sh *Shred) {
	if !sh.started {
		return
	}
	select {
	case <-sh.done:
		return
	default:
	}
	sh.resumec <- resumeMsg{kill: true}
	<-sh.done
}
