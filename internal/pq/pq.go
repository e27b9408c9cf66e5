// Package pq is a binary min-heap keyed by virtual time.
//
// Entries with equal priority come out in insertion order. RemoveAll marks
// matching entries with a force flag that sorts them ahead of everything
// else, then extracts them from the root.
package pq

type entry[T comparable] struct {
	priority float64
	seq      uint64
	value    T
	force    bool
}

// Queue is a min-heap of values of T; the zero value is not usable, call New
type Queue[T comparable] struct {
	heap []entry[T] // 1-indexed, heap[0] unused
	seq  uint64
}

// New returns an empty queue with room for capacity entries
func New[T comparable](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{heap: make([]entry[T], 1, capacity+1)}
}

// Len returns the number of entries
func (q *Queue[T]) Len() int { return len(q.heap) - 1 }

// Empty reports whether the queue holds no entries
func (q *Queue[T]) Empty() bool { return len(q.heap) == 1 }

// Insert adds v with the given priority
func (q *Queue[T]) Insert(priority float64, v T) {
	q.seq++
	q.heap = append(q.heap, entry[T]{priority: priority, seq: q.seq, value: v})
	q.up(len(q.heap) - 1)
}

// Peek returns the minimum value without removing it
func (q *Queue[T]) Peek() (T, bool) {
	if q.Empty() {
		var zero T
		return zero, false
	}
	return q.heap[1].value, true
}

// PeekPriority returns the priority of the minimum entry
func (q *Queue[T]) PeekPriority() (float64, bool) {
	if q.Empty() {
		return 0, false
	}
	return q.heap[1].priority, true
}

// RemoveMin removes and returns the minimum value
func (q *Queue[T]) RemoveMin() (T, bool) {
	if q.Empty() {
		var zero T
		return zero, false
	}
	v := q.heap[1].value
	last := len(q.heap) - 1
	q.heap[1] = q.heap[last]
	q.heap[last] = entry[T]{}
	q.heap = q.heap[:last]
	if !q.Empty() {
		q.down(1)
	}
	return v, true
}

// RemoveAll removes every entry holding v and returns how many there were
func (q *Queue[T]) RemoveAll(v T) int {
	n := 0
	for i := 1; i < len(q.heap); i++ {
		if q.heap[i].value == v {
			q.heap[i].force = true
			n++
		}
	}
	if n == 0 {
		return 0
	}
	// forced entries now compare below everything, restore heap order
	for i := (len(q.heap) - 1) / 2; i >= 1; i-- {
		q.down(i)
	}
	for i := 0; i < n; i++ {
		q.RemoveMin()
	}
	return n
}

// Each calls fn for every entry in heap order (not sorted order)
func (q *Queue[T]) Each(fn func(priority float64, v T)) {
	for _, e := range q.heap[1:] {
		fn(e.priority, e.value)
	}
}

func (q *Queue[T]) less(i, j int) bool {
	a, b := &q.heap[i], &q.heap[j]
	if a.force != b.force {
		return a.force
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (q *Queue[T]) up(i int) {
	for i > 1 && q.less(i, i/2) {
		q.heap[i], q.heap[i/2] = q.heap[i/2], q.heap[i]
		i /= 2
	}
}

func (q *Queue[T]) down(i int) {
	n := len(q.heap) - 1
	for {
		m := i
		if l := 2 * i; l <= n && q.less(l, m) {
			m = l
		}
		if r := 2*i + 1; r <= n && q.less(r, m) {
			m = r
		}
		if m == i {
			return
		}
		q.heap[i], q.heap[m] = q.heap[m], q.heap[i]
		i = m
	}
}
