package txpool

import "sync"

// Listener is the consumer side of a registered event channel. Events are
// read from C. Calling Close disconnects the listener and it is dropped from
// the pool on the next delivery attempt.
type Listener[E any] struct {
	C <-chan E

	ch   chan E
	done chan struct{}
	once sync.Once
}

func newListener[E any](size int) *Listener[E] {
	ch := make(chan E, size)

	return &Listener[E]{
		C:    ch,
		ch:   ch,
		done: make(chan struct{}),
	}
}

// Close disconnects the listener. It is safe to call more than once.
func (l *Listener[E]) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *Listener[E]) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// =============================================================================

// registry maintains a set of listeners for one kind of event.
type registry[E any] struct {
	mu        sync.Mutex
	listeners []*Listener[E]
}

func (r *registry[E]) add(size int) *Listener[E] {
	l := newListener[E](size)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, l)
	return l
}

// send delivers the event to every listener without blocking. A listener
// with a full channel misses the event but stays registered. A closed
// listener is removed. It returns the number of listeners that received
// the event.
func (r *registry[E]) send(ev E) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var delivered int
	kept := r.listeners[:0]
	for _, l := range r.listeners {
		if l.closed() {
			continue
		}

		select {
		case l.ch <- ev:
			delivered++
		default:
		}

		kept = append(kept, l)
	}

	for i := len(kept); i < len(r.listeners); i++ {
		r.listeners[i] = nil
	}
	r.listeners = kept

	return delivered
}

func (r *registry[E]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.listeners)
}
