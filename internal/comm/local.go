package comm

import "sync"

// NewLocal creates an in-process world of n ranks communicating over
// channels. It is used by tests and by single-process rehearsals of the
// distributed protocol; the wire format is bypassed entirely.
func NewLocal(n int) []World {
	if n < 1 {
		n = 1
	}
	inboxes := make([]chan Message, n)
	for i := range inboxes {
		// The task-pull protocol keeps at most a couple of messages in
		// flight per pair, so a small buffer prevents send/reply lockstep
		// from deadlocking.
		inboxes[i] = make(chan Message, 16)
	}
	b := newLocalBarrier(n)
	worlds := make([]World, n)
	for i := range worlds {
		worlds[i] = &localWorld{rank: i, inboxes: inboxes, barrier: b}
	}
	return worlds
}

type localWorld struct {
	rank    int
	inboxes []chan Message
	barrier *localBarrier

	mu     sync.Mutex
	closed bool
}

func (w *localWorld) Rank() int { return w.rank }
func (w *localWorld) Size() int { return len(w.inboxes) }

func (w *localWorld) Send(dst int, m Message) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if dst < 0 || dst >= len(w.inboxes) {
		return ErrClosed
	}
	m.From = w.rank
	if !w.deliver(dst, m) {
		return ErrClosed
	}
	return nil
}

// deliver sends into the destination inbox, absorbing the panic from a
// destination that closed its world concurrently.
func (w *localWorld) deliver(dst int, m Message) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	w.inboxes[dst] <- m
	return true
}

func (w *localWorld) Recv() (Message, error) {
	m, ok := <-w.inboxes[w.rank]
	if !ok {
		return Message{}, ErrClosed
	}
	return m, nil
}

func (w *localWorld) Barrier() error {
	w.barrier.wait()
	return nil
}

func (w *localWorld) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.inboxes[w.rank])
	return nil
}

// localBarrier is a reusable generation-counting barrier.
type localBarrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	size    int
	arrived int
	gen     int
}

func newLocalBarrier(size int) *localBarrier {
	b := &localBarrier{size: size}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *localBarrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	b.arrived++
	if b.arrived == b.size {
		b.arrived = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}
