package pq

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmpty(t *testing.T) {
	q := New[int](0)
	assert.True(t, q.Empty())
	_, ok := q.Peek()
	assert.False(t, ok)
	_, ok = q.RemoveMin()
	assert.False(t, ok)
	_, ok = q.PeekPriority()
	assert.False(t, ok)
	assert.Zero(t, q.RemoveAll(3))
}

func TestHeapOrder(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	q := New[int](1) // forces growth
	var want []float64
	for i := 0; i < 500; i++ {
		p := float64(r.Intn(100))
		want = append(want, p)
		q.Insert(p, i)
	}
	require.Equal(t, 500, q.Len())
	sort.Float64s(want)
	for i, w := range want {
		p, ok := q.PeekPriority()
		require.True(t, ok)
		if p != w {
			t.Fatalf("#%d => %v, expected %v", i, p, w)
		}
		q.RemoveMin()
	}
	assert.True(t, q.Empty())
}

func TestTiesAreFIFO(t *testing.T) {
	q := New[string](4)
	q.Insert(5, "a")
	q.Insert(1, "first")
	q.Insert(5, "b")
	q.Insert(5, "c")
	q.Insert(1, "second")
	var got []string
	for !q.Empty() {
		v, _ := q.RemoveMin()
		got = append(got, v)
	}
	assert.Equal(t, []string{"first", "second", "a", "b", "c"}, got)
}

func TestRemoveAll(t *testing.T) {
	q := New[int](8)
	for i, v := range []int{7, 3, 7, 1, 9, 7, 3} {
		q.Insert(float64(10-i), v)
	}
	assert.Equal(t, 3, q.RemoveAll(7))
	assert.Equal(t, 4, q.Len())
	var got []int
	q.Each(func(_ float64, v int) { got = append(got, v) })
	assert.NotContains(t, got, 7)
	assert.ElementsMatch(t, []int{3, 1, 9, 3}, got)

	// remaining entries still come out in order
	var pris []float64
	for !q.Empty() {
		p, _ := q.PeekPriority()
		pris = append(pris, p)
		q.RemoveMin()
	}
	assert.True(t, sort.Float64sAreSorted(pris), "%v", pris)
}

func TestRemoveAllKeepsFIFO(t *testing.T) {
	q := New[int](8)
	for i := 0; i < 6; i++ {
		q.Insert(0, i)
	}
	q.RemoveAll(2)
	var got []int
	for !q.Empty() {
		v, _ := q.RemoveMin()
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 3, 4, 5}, got)
}
