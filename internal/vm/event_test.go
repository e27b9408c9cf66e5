package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastWakesOnlyItsWaiters(t *testing.T) {
	v, _ := newTestVM(t)
	a := v.NewEvent("a")
	b := v.NewEvent("b")
	beat, err := v.NewScheduler("beat", 2)
	require.NoError(t, err)

	woke := map[string]float64{}
	wait := func(name string, ev *Event, s *Scheduler) {
		sh := newShred(v, name, func(sh *Shred) error {
			sh.Wait(ev)
			woke[name] = sh.Now()
			return nil
		}, v.Prototype().Derive(), s)
		sh.handle = v.shreds.alloc(sh)
		s.queue.Insert(s.now, sh.handle)
	}
	wait("a1", a, v.Master())
	wait("a2", a, beat)
	wait("b1", b, v.Master())

	_, err = v.Spawn("signaller", func(sh *Shred) error {
		sh.Sleep(7)
		assert.Equal(t, 2, a.Waiting())
		assert.Equal(t, 2, a.Broadcast())
		assert.Zero(t, a.Broadcast(), "a second broadcast finds nobody")
		return nil
	})
	require.NoError(t, err)

	v.Run()
	assert.Equal(t, map[string]float64{"a1": 7, "a2": 14}, woke)
	assert.Equal(t, 1, b.Waiting())
	assert.Equal(t, 1, v.Parked())
	assert.False(t, v.Runnable())
}

func TestBroadcastPreservesParkOrder(t *testing.T) {
	v, _ := newTestVM(t)
	ev := v.NewEvent("go")
	var order []string
	for i, name := range []string{"first", "second", "third"} {
		delay := float64(3 - i)
		_, err := v.Spawn(name, func(sh *Shred) error {
			sh.Sleep(delay)
			sh.Wait(ev)
			order = append(order, name)
			return nil
		})
		require.NoError(t, err)
	}
	_, err := v.Spawn("signal", func(sh *Shred) error {
		sh.Sleep(10)
		ev.Broadcast()
		return nil
	})
	require.NoError(t, err)
	v.Run()
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Zero(t, v.Parked())
}

func TestYieldOnEventValue(t *testing.T) {
	v, _ := newTestVM(t)
	ev := v.NewEvent("tick")
	var got any
	_, err := v.Spawn("waiter", func(sh *Shred) error {
		got = sh.Yield(ev)
		return nil
	})
	require.NoError(t, err)
	v.Run()
	assert.Equal(t, 1, v.Parked())
	ev.Broadcast()
	v.Run()
	assert.Same(t, ev, got)
	n, _ := ev.Field("waiting")
	assert.Equal(t, 0.0, n)
}

func TestForeverParksForGood(t *testing.T) {
	v, _ := newTestVM(t)
	f, _ := v.Prototype().Get(Forever)
	_, err := v.Spawn("idle", func(sh *Shred) error {
		sh.Yield(f)
		return nil
	})
	require.NoError(t, err)
	v.RunUntil(1000)
	assert.Equal(t, 1, v.Live())
	assert.Equal(t, 1, v.Parked())
}
