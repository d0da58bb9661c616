// Package queue implements the doubly linked list used for the scheduler
// queues and for every per-object wait list in the kernel.
package queue

// Node is one element of a List. A node belongs to at most one list.
type Node[T any] struct {
	prev  *Node[T]
	next  *Node[T]
	list  *List[T]
	Value T
}

// Next returns the following node, or nil at the end of the list.
func (n *Node[T]) Next() *Node[T] { return n.next }

// Prev returns the preceding node, or nil at the front of the list.
func (n *Node[T]) Prev() *Node[T] { return n.prev }

// List is a doubly linked list that is not safe for concurrent use.
type List[T any] struct {
	first *Node[T]
	last  *Node[T]
	count int
}

// New returns an empty list.
func New[T any]() *List[T] {
	return &List[T]{}
}

// Len returns the number of elements in the list.
func (l *List[T]) Len() int { return l.count }

// Empty returns true if the list is empty.
func (l *List[T]) Empty() bool {
	if l.first == nil {
		if l.last != nil || l.count != 0 {
			panic("queue: invariant violated checking for Empty")
		}
		return true
	}
	return false
}

// Front returns the first node or nil.
func (l *List[T]) Front() *Node[T] { return l.first }

// Back returns the last node or nil.
func (l *List[T]) Back() *Node[T] { return l.last }

// PushFront inserts v at the front of the list.
func (l *List[T]) PushFront(v T) *Node[T] {
	n := &Node[T]{Value: v, list: l, next: l.first}
	if l.first != nil {
		l.first.prev = n
	} else {
		l.last = n
	}
	l.first = n
	l.count++
	return n
}

// PushBack inserts v at the back of the list.
func (l *List[T]) PushBack(v T) *Node[T] {
	n := &Node[T]{Value: v, list: l, prev: l.last}
	if l.last != nil {
		l.last.next = n
	} else {
		l.first = n
	}
	l.last = n
	l.count++
	return n
}

// PopFront removes and returns the first value. ok is false when the list
// is empty.
func (l *List[T]) PopFront() (v T, ok bool) {
	if l.Empty() {
		return v, false
	}
	n := l.first
	l.Remove(n)
	return n.Value, true
}

// Remove unlinks n from the list. Removing a node that belongs to another
// list is an invariant violation.
func (l *List[T]) Remove(n *Node[T]) {
	if n.list != l {
		panic("queue: removing node that is not on this list")
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.first = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.last = n.prev
	}
	n.prev, n.next, n.list = nil, nil, nil
	l.count--
}

// Find returns the first node whose value satisfies match.
func (l *List[T]) Find(match func(T) bool) *Node[T] {
	for n := l.first; n != nil; n = n.next {
		if match(n.Value) {
			return n
		}
	}
	return nil
}

// RemoveFunc removes the first value satisfying match and reports whether
// one was found.
func (l *List[T]) RemoveFunc(match func(T) bool) (T, bool) {
	n := l.Find(match)
	if n == nil {
		var zero T
		return zero, false
	}
	l.Remove(n)
	return n.Value, true
}

// Each calls fn for every value from front to back. fn must not modify
// the list.
func (l *List[T]) Each(fn func(T)) {
	for n := l.first; n != nil; n = n.next {
		fn(n.Value)
	}
}

// Drain removes every value from front to back, calling fn on each after
// it has been unlinked. fn may push onto other lists.
func (l *List[T]) Drain(fn func(T)) {
	for {
		v, ok := l.PopFront()
		if !ok {
			return
		}
		fn(v)
	}
}

// Values returns a snapshot of the list contents.
func (l *List[T]) Values() []T {
	out := make([]T, 0, l.count)
	l.Each(func(v T) { out = append(out, v) })
	return out
}
