package utils

import (
	"iter"

	"github.com/netmove/netmove/oerror"
)

// CircularQueue is a ring of items ordered from oldest to newest. A bounded queue overwrites its oldest
// item once full, while a growable queue doubles its backing storage instead.
type CircularQueue[T any] struct {
	items    []T
	head     int
	tail     int
	size     int
	growable bool
}

// NewCircularQueue returns an empty queue that holds at most capacity items, evicting the oldest on
// overflow.
func NewCircularQueue[T any](capacity int) *CircularQueue[T] {
	return &CircularQueue[T]{items: make([]T, capacity)}
}

// NewGrowableQueue returns an empty queue that starts with room for capacity items and grows when full.
func NewGrowableQueue[T any](capacity int) *CircularQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &CircularQueue[T]{items: make([]T, capacity), growable: true}
}

// Get returns the element at logical position index (0 = oldest), or an error if out of range.
func (q *CircularQueue[T]) Get(index int) (T, error) {
	var zero T
	if index < 0 || index >= q.size {
		return zero, oerror.New("circularQueue: get index %d out of range [0, %d)", index, q.size)
	}
	return q.items[(q.head+index)%len(q.items)], nil
}

// Set sets the element at logical position index (0 = oldest), or returns an error if out of range.
func (q *CircularQueue[T]) Set(index int, item T) error {
	if index < 0 || index >= q.size {
		return oerror.New("circularQueue: set index %d out of range [0, %d)", index, q.size)
	}
	q.items[(q.head+index)%len(q.items)] = item
	return nil
}

// Front returns the oldest element without removing it.
func (q *CircularQueue[T]) Front() (item T, ok bool) {
	if q.size == 0 {
		return item, false
	}
	return q.items[q.head], true
}

// Back returns the newest element without removing it.
func (q *CircularQueue[T]) Back() (item T, ok bool) {
	if q.size == 0 {
		return item, false
	}
	return q.items[(q.head+q.size-1)%len(q.items)], true
}

// Iter yields the elements from oldest to newest.
func (q *CircularQueue[T]) Iter() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for index := range q.size {
			if !yield(index, q.items[(q.head+index)%len(q.items)]) {
				return
			}
		}
	}
}

// Len returns the number of items currently held.
func (q *CircularQueue[T]) Len() int {
	return q.size
}

// Cap returns the number of items the queue can hold before evicting or growing.
func (q *CircularQueue[T]) Cap() int {
	return len(q.items)
}

// Pop removes and returns the oldest element. The boolean ok is false if the
// queue is empty.
func (q *CircularQueue[T]) Pop() (item T, ok bool) {
	if q.size == 0 {
		return item, false
	}
	var zero T
	item = q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return item, true
}

// Clear drops every element while keeping the backing storage.
func (q *CircularQueue[T]) Clear() {
	clear(q.items)
	q.head, q.tail, q.size = 0, 0, 0
}

// Append appends an item. It reports whether the oldest item had to be evicted to make room, and
// returns an error if the queue has zero capacity.
func (q *CircularQueue[T]) Append(item T) (evicted bool, err error) {
	if len(q.items) == 0 {
		return false, oerror.New("circularQueue: append on zero-capacity queue")
	}
	if q.size == len(q.items) {
		if q.growable {
			q.grow()
		} else {
			// Buffer is full, drop the oldest element located at head.
			q.head = (q.head + 1) % len(q.items)
			q.size--
			evicted = true
		}
	}
	q.items[q.tail] = item
	q.tail = (q.tail + 1) % len(q.items)
	q.size++
	return evicted, nil
}

func (q *CircularQueue[T]) grow() {
	items := make([]T, len(q.items)*2)
	for index := range q.size {
		items[index] = q.items[(q.head+index)%len(q.items)]
	}
	q.items = items
	q.head = 0
	q.tail = q.size
}
