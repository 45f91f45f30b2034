package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func collect[T any](q *CircularQueue[T]) []T {
	out := make([]T, 0, q.Len())
	for _, item := range q.Iter() {
		out = append(out, item)
	}
	return out
}

func TestCircularQueueEvictsOldest(t *testing.T) {
	q := NewCircularQueue[int](3)
	for i := 1; i <= 3; i++ {
		evicted, err := q.Append(i)
		require.NoError(t, err)
		require.False(t, evicted)
	}
	evicted, err := q.Append(4)
	require.NoError(t, err)
	require.True(t, evicted)
	require.Equal(t, []int{2, 3, 4}, collect(q))

	front, ok := q.Front()
	require.True(t, ok)
	require.Equal(t, 2, front)
	back, ok := q.Back()
	require.True(t, ok)
	require.Equal(t, 4, back)
}

func TestCircularQueueGrows(t *testing.T) {
	q := NewGrowableQueue[int](2)
	for i := range 5 {
		evicted, err := q.Append(i)
		require.NoError(t, err)
		require.False(t, evicted)
	}
	require.Equal(t, 5, q.Len())
	require.GreaterOrEqual(t, q.Cap(), 5)
	require.Equal(t, []int{0, 1, 2, 3, 4}, collect(q))
}

func TestCircularQueuePopAndSet(t *testing.T) {
	q := NewCircularQueue[string](4)
	_, _ = q.Append("a")
	_, _ = q.Append("b")
	_, _ = q.Append("c")

	item, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "a", item)

	require.NoError(t, q.Set(1, "C"))
	got, err := q.Get(1)
	require.NoError(t, err)
	require.Equal(t, "C", got)

	_, err = q.Get(2)
	require.Error(t, err)

	q.Clear()
	_, ok = q.Pop()
	require.False(t, ok)
}

func TestCircularQueueZeroCapacity(t *testing.T) {
	q := NewCircularQueue[int](0)
	_, err := q.Append(1)
	require.Error(t, err)
}
