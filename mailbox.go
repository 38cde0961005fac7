package idtrack

import "sync/atomic"

// Mailbox is a single slot, latest wins hand off between one producer and
// one consumer.  Putting a value while an unread one is held replaces it and
// counts a drop
type Mailbox[T any] struct {
	slot  atomic.Pointer[T]
	puts  atomic.Uint64
	drops atomic.Uint64
}

// Put stores v and reports whether an unread value was overwritten
func (m *Mailbox[T]) Put(v T) (dropped bool) {

	m.puts.Add(1)

	if old := m.slot.Swap(&v); old != nil {
		m.drops.Add(1)
		return true
	}

	return false
}

// Take removes and returns the held value without blocking
func (m *Mailbox[T]) Take() (T, bool) {

	if p := m.slot.Swap(nil); p != nil {
		return *p, true
	}

	var zero T
	return zero, false
}

// Pending reports whether an unread value is held
func (m *Mailbox[T]) Pending() bool {
	return m.slot.Load() != nil
}

// Puts returns the number of values put
func (m *Mailbox[T]) Puts() uint64 {
	return m.puts.Load()
}

// Drops returns the number of values overwritten before being read
func (m *Mailbox[T]) Drops() uint64 {
	return m.drops.Load()
}
