package vm

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alltom/ckv/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type errLog struct {
	errs []error
}

func (l *errLog) handle(err error) { l.errs = append(l.errs, err) }

func (l *errLog) categories() []errors.ErrorCategory {
	var out []errors.ErrorCategory
	for _, e := range l.errs {
		out = append(out, errors.CategoryOf(e))
	}
	return out
}

func newTestVM(t *testing.T, opts ...Option) (*VM, *errLog) {
	t.Helper()
	l := &errLog{}
	v, err := New(append([]Option{WithErrorHandler(l.handle)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v, l
}

func TestLoopResumesOnSchedule(t *testing.T) {
	v, _ := newTestVM(t)
	var resumed []float64
	_, err := v.Spawn("loop", func(sh *Shred) error {
		for {
			sh.Sleep(100)
			resumed = append(resumed, sh.Now())
		}
	})
	require.NoError(t, err)

	v.RunUntil(250)
	assert.Equal(t, []float64{100, 200}, resumed)
	assert.Equal(t, 250.0, v.Now())
	assert.Equal(t, 1, v.Live())
}

func TestRunUntilNeverRewinds(t *testing.T) {
	v, _ := newTestVM(t)
	v.RunUntil(50)
	v.RunUntil(10)
	assert.Equal(t, 50.0, v.Now())
}

func TestYieldDurations(t *testing.T) {
	tests := []struct {
		name   string
		dur    float64
		want   float64
		misuse bool
	}{
		{"positive", 5, 5, false},
		{"negative", -1, 0, true},
		{"zero", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, l := newTestVM(t)
			v.RunUntil(10)
			var at float64
			_, err := v.Spawn(tt.name, func(sh *Shred) error {
				sh.Yield(tt.dur)
				at = sh.Now()
				return nil
			})
			require.NoError(t, err)
			v.Run()
			if at != 10+tt.want {
				t.Errorf("yield(%v) at 10 => resumed at %v, expected %v", tt.dur, at, 10+tt.want)
			}
			if tt.misuse {
				assert.Equal(t, []errors.ErrorCategory{errors.CategoryProtocolMisuse}, l.categories())
			} else {
				assert.Empty(t, l.errs)
			}
			assert.Zero(t, v.Live())
		})
	}
}

func TestBadYieldTerminates(t *testing.T) {
	for _, args := range [][]any{nil, {nil}, {"soon"}, {1.0, "not a scheduler"}, {(*Event)(nil)}} {
		t.Run(fmt.Sprint(args), func(t *testing.T) {
			v, l := newTestVM(t)
			after := false
			cleaned := false
			_, err := v.Spawn("bad", func(sh *Shred) error {
				defer func() { cleaned = true }()
				sh.Yield(args...)
				after = true
				return nil
			})
			require.NoError(t, err)
			v.Run()
			assert.False(t, after, "shred resumed after a bad yield")
			assert.True(t, cleaned, "deferred calls run on unwind")
			assert.Zero(t, v.Live())
			assert.Equal(t, []errors.ErrorCategory{errors.CategoryProtocolMisuse}, l.categories())
		})
	}
}

func TestRuntimeErrorAndPanic(t *testing.T) {
	v, l := newTestVM(t)
	_, err := v.Spawn("fails", func(sh *Shred) error {
		sh.Sleep(1)
		return fmt.Errorf("boom")
	})
	require.NoError(t, err)
	_, err = v.Spawn("panics", func(sh *Shred) error {
		var m map[string]int
		m["x"] = 1
		return nil
	})
	require.NoError(t, err)
	ok := 0
	_, err = v.Spawn("survivor", func(sh *Shred) error {
		sh.Sleep(5)
		ok++
		return nil
	})
	require.NoError(t, err)

	v.Run()
	assert.Equal(t, 1, ok, "other shreds keep running")
	assert.Equal(t, []errors.ErrorCategory{errors.CategoryScriptRuntime, errors.CategoryScriptRuntime}, l.categories())
	assert.Contains(t, l.errs[0].Error(), "panic")
	assert.Contains(t, l.errs[1].Error(), "boom")
	assert.Zero(t, v.Live())
}

func TestForkInheritsSchedulerAndTime(t *testing.T) {
	v, _ := newTestVM(t)
	beat, err := v.NewScheduler("beat", 0.5)
	require.NoError(t, err)

	var order []string
	var childAt float64
	var childOnMaster bool
	var childEnv *Env
	var parentEnv *Env
	_, err = v.Spawn("parent", func(sh *Shred) error {
		sh.SleepOn(2, beat) // to t=4
		parentEnv = sh.Env()
		_, err := sh.Fork("child", func(c *Shred) error {
			order = append(order, "child")
			childAt = c.VM().Now()
			childOnMaster = c.Scheduler().IsMaster()
			childEnv = c.Env()
			return nil
		})
		if err != nil {
			return err
		}
		order = append(order, "parent-after-fork")
		sh.Sleep(1)
		order = append(order, "parent-resumed")
		return nil
	})
	require.NoError(t, err)

	v.Run()
	assert.Equal(t, []string{"parent-after-fork", "child", "parent-resumed"}, order)
	assert.Equal(t, 4.0, childAt)
	assert.True(t, childOnMaster, "yielding on beat does not move the parent off master")
	assert.Same(t, parentEnv, childEnv)
}

func TestForkOnSecondaryScheduler(t *testing.T) {
	v, _ := newTestVM(t)
	beat, err := v.NewScheduler("beat", 2)
	require.NoError(t, err)
	var at []float64
	// a shred owned by beat, built through Fork from a body spawned on it
	sh := newShred(v, "on-beat", func(sh *Shred) error {
		_, err := sh.Fork("child", func(c *Shred) error {
			at = append(at, c.Now(), c.VM().Now())
			return nil
		})
		return err
	}, v.Prototype().Derive(), beat)
	sh.handle = v.shreds.alloc(sh)
	v.RunUntil(3) // beat now 6
	beat.queue.Insert(beat.now, sh.handle)
	v.Run()
	assert.Equal(t, []float64{6, 3}, at)
}

func TestExitStopsVM(t *testing.T) {
	v, _ := newTestVM(t)
	var after bool
	_, err := v.Spawn("quitter", func(sh *Shred) error {
		sh.Sleep(10)
		sh.Exit()
		after = true
		return nil
	})
	require.NoError(t, err)
	_, err = v.Spawn("later", func(sh *Shred) error {
		sh.Sleep(20)
		after = true
		return nil
	})
	require.NoError(t, err)

	v.Run()
	assert.False(t, v.Running())
	assert.False(t, after)
	assert.Equal(t, 1, v.Live(), "the later shred is still queued")
	assert.False(t, v.RunOne())
}

func TestAddThreadUsesCompiler(t *testing.T) {
	c := compilerFunc(func(name, src string) (Body, error) {
		if strings.Contains(src, "syntax error") {
			return nil, fmt.Errorf("unexpected token")
		}
		return func(sh *Shred) error {
			sh.Env().Set("ran", src)
			sh.Env().Global().Set("shared", name)
			return nil
		}, nil
	})
	v, l := newTestVM(t, WithCompiler(c))
	v.Register("seed", 1.0)

	_, err := v.AddThread("bad", "syntax error")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryScriptLoad))
	assert.Equal(t, 0, v.Live(), "a script that fails to load is never scheduled")

	h, err := v.AddThread("good", "hello")
	require.NoError(t, err)
	sh, ok := v.Lookup(h)
	require.True(t, ok)
	env := sh.Env()
	seed, _ := env.Get("seed")
	assert.Equal(t, 1.0, seed)
	v.Run()

	ran, _ := env.Get("ran")
	assert.Equal(t, "hello", ran)
	_, leaked := v.Prototype().Get("ran")
	assert.False(t, leaked, "top-level shreds get their own namespace")
	shared, _ := v.Prototype().Get("shared")
	assert.Equal(t, "good", shared)
	_, stale := v.Lookup(h)
	assert.False(t, stale)
	assert.Equal(t, []errors.ErrorCategory{errors.CategoryScriptLoad}, l.categories())
}

func TestAddThreadFileMissing(t *testing.T) {
	v, l := newTestVM(t, WithCompiler(compilerFunc(func(string, string) (Body, error) { return nil, nil })))
	_, err := v.AddThreadFile("/nonexistent/script.ckv")
	assert.Error(t, err)
	assert.Equal(t, []errors.ErrorCategory{errors.CategoryScriptLoad}, l.categories())
}

func TestForkEvalLoadFailure(t *testing.T) {
	c := compilerFunc(func(name, src string) (Body, error) {
		if src == "bad" {
			return nil, fmt.Errorf("syntax")
		}
		return func(sh *Shred) error {
			sh.Env().Set("evaluated", src)
			return nil
		}, nil
	})
	v, l := newTestVM(t, WithCompiler(c))
	var env *Env
	var badErr error
	_, err := v.Spawn("parent", func(sh *Shred) error {
		env = sh.Env()
		_, badErr = sh.ForkEval("bad")
		_, err := sh.ForkEval("fine")
		return err
	})
	require.NoError(t, err)
	v.Run()
	assert.Error(t, badErr)
	got, _ := env.Get("evaluated")
	assert.Equal(t, "fine", got, "evaluated code shares the parent's namespace")
	assert.Equal(t, []errors.ErrorCategory{errors.CategoryScriptLoad}, l.categories())
}

func TestMaxShreds(t *testing.T) {
	v, l := newTestVM(t, WithMaxShreds(1))
	_, err := v.Spawn("one", func(sh *Shred) error { return nil })
	require.NoError(t, err)
	_, err = v.Spawn("two", func(sh *Shred) error { return nil })
	assert.True(t, errors.IsCategory(err, errors.CategoryAllocation))
	assert.Equal(t, []errors.ErrorCategory{errors.CategoryAllocation}, l.categories())
	v.Run()
	_, err = v.Spawn("three", func(sh *Shred) error { return nil })
	assert.NoError(t, err, "slot freed on termination")
}

func TestCloseUnwindsEverything(t *testing.T) {
	v, err := New()
	require.NoError(t, err)
	ev := v.NewEvent("never")
	for i := 0; i < 3; i++ {
		_, err := v.Spawn(fmt.Sprint("sleeper", i), func(sh *Shred) error {
			for {
				sh.Sleep(1)
			}
		})
		require.NoError(t, err)
	}
	_, err = v.Spawn("waiter", func(sh *Shred) error {
		sh.Wait(ev)
		return nil
	})
	require.NoError(t, err)
	v.RunUntil(0.5)
	_, err = v.Spawn("never-started", func(sh *Shred) error { return nil })
	require.NoError(t, err)
	v.Close()
	v.Close()
	assert.Zero(t, v.Live())
	assert.False(t, v.Runnable())
	_, err = v.Spawn("late", func(sh *Shred) error { return nil })
	assert.Error(t, err)
}

func TestCoreNamesRegistered(t *testing.T) {
	v, _ := newTestVM(t)
	for _, name := range []string{"now", "yield", "y", "sleep", "exit", "fork", "fork_eval", "Event", "broadcast", "Clock", Forever} {
		_, ok := v.Prototype().Get(name)
		assert.True(t, ok, name)
	}
	f, _ := v.Prototype().Get(Forever)
	assert.IsType(t, &Event{}, f)
}

func TestRegisteredFuncs(t *testing.T) {
	v, l := newTestVM(t)
	// runs on shred goroutines, so no require
	call := func(sh *Shred, name string, args ...any) any {
		f, ok := sh.Env().Get(name)
		if !assert.True(t, ok, name) {
			return nil
		}
		out, err := f.(Func)(sh, args)
		assert.NoError(t, err, name)
		return out
	}
	var nows []float64
	var clock *Scheduler
	_, err := v.Spawn("script", func(sh *Shred) error {
		now, _ := sh.Env().Get("now")
		call(sh, "sleep", 10.0)
		nows = append(nows, now.(Getter)(sh).(float64))
		clock = call(sh, "Clock", 4.0).(*Scheduler)
		call(sh, "yield", 8.0, clock) // two master samples
		nows = append(nows, now.(Getter)(sh).(float64))
		ev := call(sh, "Event", "go").(*Event)
		call(sh, "fork", Body(func(c *Shred) error {
			call(c, "y", 5.0)
			ev.Broadcast()
			return nil
		}))
		call(sh, "yield", ev)
		nows = append(nows, sh.Now())
		call(sh, "fork_eval", "ignored") // no compiler, reported
		call(sh, "exit")
		return nil
	})
	require.NoError(t, err)
	v.Run()
	assert.Equal(t, []float64{10, 12, 17}, nows)
	assert.Equal(t, 4.0, clock.Rate())
	assert.False(t, v.Running())
	assert.Equal(t, []errors.ErrorCategory{errors.CategoryScriptLoad}, l.categories())
}

type compilerFunc func(name, src string) (Body, error)

func (f compilerFunc) Compile(name, src string) (Body, error) { return f(name, src) }

func TestBuiltinMisuseIsReportedNotReturned(t *testing.T) {
	v, l := newTestVM(t, WithMaxShreds(1))
	call := func(sh *Shred, name string, args ...any) any {
		f, _ := sh.Env().Get(name)
		out, err := f.(Func)(sh, args)
		assert.NoError(t, err, name)
		return out
	}
	var clock, forked any
	finished := false
	_, err := v.Spawn("script", func(sh *Shred) error {
		clock = call(sh, "Clock", 0.0)
		forked = call(sh, "fork", Body(func(*Shred) error { return nil }))
		finished = true
		return nil
	})
	require.NoError(t, err)
	v.Run()
	assert.Nil(t, clock)
	assert.Nil(t, forked)
	assert.True(t, finished)
	assert.Len(t, v.Schedulers(), 1)
	assert.Equal(t, []errors.ErrorCategory{errors.CategoryProtocolMisuse, errors.CategoryAllocation}, l.categories())
}
