package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// S4: history_size 3, push a,b,c,d in order, snapshot reads out [b,c,d].
func TestRingEvictsOldestInInsertionOrder(t *testing.T) {
	r := New[string](3)
	r.Push("a")
	r.Push("b")
	r.Push("c")
	r.Push("d")

	assert.Equal(t, []string{"b", "c", "d"}, r.Snapshot())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
}

func TestRingPartiallyFilled(t *testing.T) {
	r := New[int](5)
	r.Push(1)
	r.Push(2)

	assert.Equal(t, []int{1, 2}, r.Snapshot())
	assert.Equal(t, 2, r.Len())
}

func TestRingLast(t *testing.T) {
	r := New[int](2)
	_, ok := r.Last()
	assert.False(t, ok)

	r.Push(10)
	r.Push(20)
	r.Push(30)

	v, ok := r.Last()
	assert.True(t, ok)
	assert.Equal(t, 30, v)
	assert.Equal(t, []int{20, 30}, r.Snapshot())
}

func TestRingMinimumCapacity(t *testing.T) {
	r := New[int](0)
	assert.Equal(t, 1, r.Cap())
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{2}, r.Snapshot())
}
