package vm

import "fmt"

// Handle addresses a shred record; it goes stale once the shred terminates
type Handle struct {
	index uint32
	gen   uint32
}

// Valid reports whether h was ever issued; a valid handle may still be stale
func (h Handle) Valid() bool { return h.gen != 0 }

func (h Handle) String() string { return fmt.Sprintf("shred#%d.%d", h.index, h.gen) }

type slot struct {
	gen uint32
	sh  *Shred
}

// arena owns every live shred; slots are reused, generations tell them apart
type arena struct {
	slots []slot
	free  []uint32
	live  int
}

func (a *arena) alloc(sh *Shred) Handle {
	var i uint32
	if n := len(a.free); n > 0 {
		i = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{gen: 1})
		i = uint32(len(a.slots) - 1)
	}
	a.slots[i].sh = sh
	a.live++
	return Handle{index: i, gen: a.slots[i].gen}
}

func (a *arena) get(h Handle) *Shred {
	if !h.Valid() || int(h.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.index]
	if s.gen != h.gen {
		return nil
	}
	return s.sh
}

func (a *arena) release(h Handle) {
	if a.get(h) == nil {
		return
	}
	s := &a.slots[h.index]
	s.sh = nil
	s.gen++
	if s.gen == 0 { // wrapped, 0 is never issued
		s.gen = 1
	}
	a.free = append(a.free, h.index)
	a.live--
}

func (a *arena) each(fn func(*Shred)) {
	for i := range a.slots {
		if sh := a.slots[i].sh; sh != nil {
			fn(sh)
		}
	}
}
