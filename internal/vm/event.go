package vm

import "github.com/alltom/ckv/internal/pq"

// Event is a broadcast rendezvous; shreds park on it until Broadcast
type Event struct {
	vm      *VM
	name    string
	waiting *pq.Queue[Handle] // keyed by master time at park
}

// NewEvent creates an event owned by v
func (v *VM) NewEvent(name string) *Event {
	return &Event{vm: v, name: name, waiting: pq.New[Handle](4)}
}

// Name is the label given at creation
func (e *Event) Name() string { return e.name }

// Waiting returns the number of parked shreds
func (e *Event) Waiting() int { return e.waiting.Len() }

func (e *Event) park(sh *Shred) {
	sh.state = Waiting
	e.waiting.Insert(e.vm.master.now, sh.handle)
	e.vm.parked++
	e.vm.gauges()
}

// Broadcast wakes every parked shred, in the order they parked. Each is
// queued on its own scheduler at that scheduler's current time.
func (e *Event) Broadcast() int {
	n := 0
	for {
		h, ok := e.waiting.RemoveMin()
		if !ok {
			break
		}
		e.vm.parked--
		sh := e.vm.shreds.get(h)
		if sh == nil {
			continue
		}
		sh.state = Scheduled
		sh.sched.queue.Insert(sh.sched.now, h)
		n++
	}
	if n > 0 {
		e.vm.gauges()
	}
	return n
}

// Field exposes the wait count to scripts
func (e *Event) Field(name string) (any, bool) {
	switch name {
	case "waiting":
		return float64(e.Waiting()), true
	case "name":
		return e.name, true
	}
	return nil, false
}
