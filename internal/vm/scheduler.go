package vm

import (
	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/pq"
)

// Scheduler is a rate-scaled timeline. The master scheduler counts samples;
// every other scheduler's now advances by rate for each master sample.
type Scheduler struct {
	vm    *VM
	name  string
	queue *pq.Queue[Handle]
	now   float64
	rate  float64
	next  *Scheduler
}

func newScheduler(v *VM, name string, now, rate float64) *Scheduler {
	return &Scheduler{vm: v, name: name, queue: pq.New[Handle](8), now: now, rate: rate}
}

// Now returns the scheduler's local time
func (s *Scheduler) Now() float64 { return s.now }

// Rate returns the local units per master sample
func (s *Scheduler) Rate() float64 { return s.rate }

// Name is the label given at creation
func (s *Scheduler) Name() string { return s.name }

// Len returns the number of shreds queued on s
func (s *Scheduler) Len() int { return s.queue.Len() }

// IsMaster reports whether s is the sample clock
func (s *Scheduler) IsMaster() bool { return s == s.vm.master }

// SetRate changes the rate; a non-positive rate, or any change to the master
// rate, is rejected and the previous rate kept
func (s *Scheduler) SetRate(rate float64) error {
	if !(rate > 0) {
		err := errors.Newf("scheduler rate must be positive, got %v", rate).
			Component("vm").
			Category(errors.CategoryProtocolMisuse).
			Context("scheduler", s.name).
			Build()
		s.vm.report(err)
		return err
	}
	if s.IsMaster() {
		err := errors.Newf("the master scheduler rate is fixed at 1").
			Component("vm").
			Category(errors.CategoryProtocolMisuse).
			Build()
		s.vm.report(err)
		return err
	}
	s.rate = rate
	return nil
}

// RealTime projects local time t onto the master timeline
func (s *Scheduler) RealTime(t float64) float64 {
	m := s.vm.master
	if s == m {
		return t // identity, avoids rounding
	}
	return m.now + (t-s.now)/s.rate
}

// Field exposes now and rate to scripts
func (s *Scheduler) Field(name string) (any, bool) {
	switch name {
	case "now":
		return s.now, true
	case "rate":
		return s.rate, true
	case "name":
		return s.name, true
	}
	return nil, false
}

// SetField lets scripts change the rate. A rejected rate is reported by
// the VM and leaves the old one in place; the script carries on.
func (s *Scheduler) SetField(name string, v any) error {
	if name != "rate" {
		return errors.Newf("scheduler has no settable field %q", name).Category(errors.CategoryValidation).Build()
	}
	r, ok := ToFloat(v)
	if !ok {
		return errors.Newf("scheduler rate must be a number").Category(errors.CategoryValidation).Build()
	}
	_ = s.SetRate(r)
	return nil
}

// fastForward moves master to newNow and every other scheduler in proportion
func (v *VM) fastForward(newNow float64) {
	dt := newNow - v.master.now
	v.master.now = newNow
	for s := v.master.next; s != nil; s = s.next {
		s.now += dt * s.rate
	}
}

// NewScheduler links a scheduler with the given rate right after master,
// starting at local time 0
func (v *VM) NewScheduler(name string, rate float64) (*Scheduler, error) {
	if !(rate > 0) {
		err := errors.Newf("scheduler rate must be positive, got %v", rate).
			Component("vm").
			Category(errors.CategoryProtocolMisuse).
			Context("scheduler", name).
			Build()
		v.report(err)
		return nil, err
	}
	s := newScheduler(v, name, 0, rate)
	s.next = v.master.next
	v.master.next = s
	return s, nil
}

// Master returns the sample clock
func (v *VM) Master() *Scheduler { return v.master }

// Schedulers returns the chain, master first
func (v *VM) Schedulers() []*Scheduler {
	var out []*Scheduler
	for s := v.master; s != nil; s = s.next {
		out = append(out, s)
	}
	return out
}

// next finds the scheduler holding the earliest entry in real time; ties go
// to the scheduler nearest master
func (v *VM) next() (*Scheduler, float64, bool) {
	var best *Scheduler
	var bestTime float64
	for s := v.master; s != nil; s = s.next {
		p, ok := s.queue.PeekPriority()
		if !ok {
			continue
		}
		rt := s.RealTime(p)
		if best == nil || rt < bestTime {
			best, bestTime = s, rt
		}
	}
	return best, bestTime, best != nil
}
