// Package vm runs shreds: cooperatively scheduled script contexts advancing
// through virtual time.
//
// Each shred runs on its own goroutine, but only one of them (or the VM
// itself) holds control at any moment. Control passes through an unbuffered
// channel handoff, so a shred runs until it calls Yield (or one of its typed
// forms) and the VM never preempts it.
//
// Time is kept by a chain of schedulers. The master scheduler counts audio
// samples; secondary schedulers run at their own rate, and queued entries are
// compared by their projection onto master time.
package vm

import (
	"fmt"
	"os"

	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/logger"
)

// Compiler turns script source into a Body
type Compiler interface {
	Compile(name, src string) (Body, error)
}

// Observer receives VM counters; see internal/metrics
type Observer interface {
	ShredSpawned()
	ShredFinished(state State)
	Error(category errors.ErrorCategory)
	Shreds(live, parked int)
}

type nopObserver struct{}

func (nopObserver) ShredSpawned()              {}
func (nopObserver) ShredFinished(State)        {}
func (nopObserver) Error(errors.ErrorCategory) {}
func (nopObserver) Shreds(live, parked int)    {}

// ErrorHandler is called for every error the VM reports
type ErrorHandler func(err error)

// VM owns the scheduler chain and the shred arena
type VM struct {
	master  *Scheduler
	shreds  arena
	parked  int
	running bool
	closed  bool

	proto     *Env
	compiler  Compiler
	onError   ErrorHandler
	log       logger.Logger
	observer  Observer
	maxShreds int
}

// Option configures a VM
type Option func(*VM) error

// WithCompiler sets the compiler used by AddThread and ForkEval
func WithCompiler(c Compiler) Option {
	return func(v *VM) error {
		v.compiler = c
		return nil
	}
}

// WithErrorHandler replaces the default handler, which logs
func WithErrorHandler(h ErrorHandler) Option {
	return func(v *VM) error {
		v.onError = h
		return nil
	}
}

// WithLogger sets the VM logger
func WithLogger(l logger.Logger) Option {
	return func(v *VM) error {
		if l == nil {
			return fmt.Errorf("nil logger")
		}
		v.log = l
		return nil
	}
}

// WithObserver attaches a metrics observer
func WithObserver(o Observer) Option {
	return func(v *VM) error {
		if o != nil {
			v.observer = o
		}
		return nil
	}
}

// WithPrototype uses env as the shared prototype namespace
func WithPrototype(env *Env) Option {
	return func(v *VM) error {
		if env == nil {
			return fmt.Errorf("nil prototype")
		}
		v.proto = env
		return nil
	}
}

// WithMaxShreds caps the number of live shreds; 0 means no limit
func WithMaxShreds(n int) Option {
	return func(v *VM) error {
		if n < 0 {
			return fmt.Errorf("negative shred limit %d", n)
		}
		v.maxShreds = n
		return nil
	}
}

// New creates a running VM with the core names registered in its prototype
func New(opts ...Option) (*VM, error) {
	v := &VM{
		running:  true,
		proto:    NewEnv(),
		log:      logger.Discard(),
		observer: nopObserver{},
	}
	v.master = newScheduler(v, "master", 0, 1)
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, errors.New(err).Component("vm").Category(errors.CategoryFatal).Build()
		}
	}
	v.registerCore()
	return v, nil
}

// Prototype is the namespace every top-level shred is derived from
func (v *VM) Prototype() *Env { return v.proto }

// Register binds name in the prototype; shreds added later see it
func (v *VM) Register(name string, value any) { v.proto.Set(name, value) }

// Logger returns the VM logger
func (v *VM) Logger() logger.Logger { return v.log }

// Now is the master time in samples
func (v *VM) Now() float64 { return v.master.now }

// Running reports whether the VM still accepts work
func (v *VM) Running() bool { return v.running }

// Stop clears the running flag; queued shreds stay queued
func (v *VM) Stop() { v.running = false }

// Live returns the number of shreds not yet terminated
func (v *VM) Live() int { return v.shreds.live }

// Parked returns the number of shreds waiting on events
func (v *VM) Parked() int { return v.parked }

// Runnable reports whether any scheduler holds a queued shred
func (v *VM) Runnable() bool {
	for s := v.master; s != nil; s = s.next {
		if !s.queue.Empty() {
			return true
		}
	}
	return false
}

// Lookup returns the live shred for h, if any
func (v *VM) Lookup(h Handle) (*Shred, bool) {
	sh := v.shreds.get(h)
	return sh, sh != nil
}

// AddThread compiles src and schedules it at master now in a fresh namespace
func (v *VM) AddThread(name, src string) (Handle, error) {
	body, err := v.compile(name, src)
	if err != nil {
		return Handle{}, err
	}
	return v.Spawn(name, body)
}

// AddThreadFile reads and adds the script at path
func (v *VM) AddThreadFile(path string) (Handle, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		ee := errors.New(err).
			Component("vm").
			Category(errors.CategoryScriptLoad).
			Context("script", path).
			Build()
		v.report(ee)
		return Handle{}, ee
	}
	return v.AddThread(path, string(src))
}

// Spawn schedules a Go body as a top-level shred
func (v *VM) Spawn(name string, body Body) (Handle, error) {
	return v.spawn(name, body, v.proto.Derive(), v.master)
}

func (v *VM) compile(name, src string) (Body, error) {
	if v.compiler == nil {
		err := errors.Newf("no compiler configured").
			Component("vm").
			Category(errors.CategoryScriptLoad).
			Context("script", name).
			Build()
		v.report(err)
		return nil, err
	}
	body, err := v.compiler.Compile(name, src)
	if err != nil {
		ee := errors.New(err).
			Component("vm").
			Category(errors.CategoryScriptLoad).
			Context("script", name).
			Build()
		v.report(ee)
		return nil, ee
	}
	return body, nil
}

func (v *VM) spawn(name string, body Body, env *Env, sched *Scheduler) (Handle, error) {
	if v.closed {
		return Handle{}, errors.Newf("vm is closed").Component("vm").Category(errors.CategoryAllocation).Build()
	}
	if body == nil {
		err := errors.Newf("nil shred body").Component("vm").Category(errors.CategoryAllocation).Context("shred", name).Build()
		v.report(err)
		return Handle{}, err
	}
	if v.maxShreds > 0 && v.shreds.live >= v.maxShreds {
		err := errors.Newf("could not allocate shred: limit of %d reached", v.maxShreds).
			Component("vm").
			Category(errors.CategoryAllocation).
			Context("shred", name).
			Build()
		v.report(err)
		return Handle{}, err
	}
	sh := newShred(v, name, body, env, sched)
	sh.handle = v.shreds.alloc(sh)
	sh.state = Scheduled
	sched.queue.Insert(sched.now, sh.handle)
	v.observer.ShredSpawned()
	v.gauges()
	return sh.handle, nil
}

// RunOne resumes the earliest queued shred; false if nothing ran
func (v *VM) RunOne() bool {
	if !v.running {
		return false
	}
	s, t, ok := v.next()
	if !ok {
		return false
	}
	h, _ := s.queue.RemoveMin()
	v.advance(t)
	v.dispatch(h)
	return true
}

// RunUntil resumes every shred due at or before deadline, then sets master
// time to exactly deadline. Time never moves backwards.
func (v *VM) RunUntil(deadline float64) {
	for v.running {
		s, t, ok := v.next()
		if !ok || t > deadline {
			break
		}
		h, _ := s.queue.RemoveMin()
		v.advance(t)
		v.dispatch(h)
	}
	v.advance(deadline)
}

// Run drains the VM until no shred is runnable
func (v *VM) Run() {
	for v.RunOne() {
	}
}

func (v *VM) advance(t float64) {
	if t > v.master.now {
		v.fastForward(t)
	}
}

func (v *VM) dispatch(h Handle) {
	sh := v.shreds.get(h)
	if sh == nil {
		return
	}
	v.settle(sh, v.resume(sh))
}

// settle applies the outcome of one resume
func (v *VM) settle(sh *Shred, m yieldMsg) {
	switch m.kind {
	case yieldTime:
		s := m.sched
		if s == nil {
			s = sh.sched
		}
		if s.vm != v {
			v.misuse(sh, "attempted to yield on a scheduler from another vm")
			v.kill(sh)
			v.finish(sh, Terminated)
			return
		}
		d := m.dur
		if !(d > 0) {
			v.misuse(sh, "attempted to yield non-positive time %v", d)
			d = 0
		}
		sh.state = Scheduled
		s.queue.Insert(s.now+d, sh.handle)
	case yieldEvent:
		if m.ev.vm != v {
			v.misuse(sh, "attempted to yield on an event from another vm")
			v.kill(sh)
			v.finish(sh, Terminated)
			return
		}
		m.ev.park(sh)
	case yieldDone:
		v.finish(sh, Terminated)
	case yieldFail:
		v.report(errors.New(m.err).
			Component("vm").
			Category(errors.CategoryScriptRuntime).
			Context("shred", sh.name).
			Context("now", v.master.now).
			Build())
		v.finish(sh, Failed)
	case yieldBad:
		v.misuse(sh, "%v", m.err)
		v.kill(sh)
		v.finish(sh, Terminated)
	case yieldExit:
		v.running = false
		v.kill(sh)
		v.finish(sh, Terminated)
	}
}

// finish drops every trace of sh from the queues and frees its slot
func (v *VM) finish(sh *Shred, state State) {
	for s := v.master; s != nil; s = s.next {
		s.queue.RemoveAll(sh.handle)
	}
	sh.state = state
	v.shreds.release(sh.handle)
	v.observer.ShredFinished(state)
	v.gauges()
}

// Close unwinds every shred goroutine. It must not be called from a shred.
func (v *VM) Close() {
	if v.closed {
		return
	}
	v.closed = true
	v.running = false
	v.shreds.each(func(sh *Shred) {
		v.kill(sh)
		sh.state = Terminated
		v.shreds.release(sh.handle)
	})
	for s := v.master; s != nil; s = s.next {
		for !s.queue.Empty() {
			s.queue.RemoveMin()
		}
	}
	v.parked = 0
	v.gauges()
}

func (v *VM) gauges() {
	v.observer.Shreds(v.shreds.live, v.parked)
}

func (v *VM) misuse(sh *Shred, format string, args ...any) {
	v.report(errors.Newf(format, args...).
		Component("vm").
		Category(errors.CategoryProtocolMisuse).
		Context("shred", sh.name).
		Context("now", v.master.now).
		Build())
}

// report routes err to the handler; it never panics into the caller
func (v *VM) report(err error) {
	cat := errors.CategoryOf(err)
	v.observer.Error(cat)
	if v.onError != nil {
		v.onError(err)
		return
	}
	if cat == errors.CategoryProtocolMisuse {
		v.log.Warn(err.Error(), logger.String("category", string(cat)))
		return
	}
	v.log.Error(err.Error(), logger.String("category", string(cat)))
}

// Report lets collaborators route their errors through the VM handler
func (v *VM) Report(err error) {
	if err != nil {
		v.report(err)
	}
}
