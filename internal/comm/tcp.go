package comm

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// dialTimeout bounds how long a worker keeps retrying the coordinator
// address before giving up. The coordinator may come up after its workers
// when the launcher starts ranks in arbitrary order.
const dialTimeout = 10 * time.Second

// tcpPeer is one connected rank as seen from the coordinator.
type tcpPeer struct {
	conn net.Conn
	dec  *json.Decoder

	mu  sync.Mutex
	enc *json.Encoder

	sawExit bool
}

func (p *tcpPeer) send(m Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(m)
}

func listenCoordinator(addr string, size int) (World, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("comm: listen %s: %w", addr, err)
	}
	return newCoordinator(ln, size)
}

// newCoordinator accepts size-1 worker connections, each introduced by a
// HELLO carrying its rank, then stops listening. Split from
// listenCoordinator so tests can pass a listener on an ephemeral port.
func newCoordinator(ln net.Listener, size int) (World, error) {
	c := &tcpCoordinator{
		size:      size,
		peers:     make([]*tcpPeer, size),
		inbox:     make(chan Message, 64),
		barrierCh: make(chan Message, size),
	}
	for connected := 1; connected < size; connected++ {
		conn, err := ln.Accept()
		if err != nil {
			ln.Close()
			c.Close()
			return nil, fmt.Errorf("comm: accept worker: %w", err)
		}
		dec := json.NewDecoder(conn)
		var hello Message
		if err := dec.Decode(&hello); err != nil {
			ln.Close()
			c.Close()
			return nil, fmt.Errorf("comm: worker handshake: %w", err)
		}
		if hello.Tag != tagHello || hello.From < 1 || hello.From >= size {
			ln.Close()
			c.Close()
			return nil, fmt.Errorf("comm: bad handshake from %s: tag=%s rank=%d",
				conn.RemoteAddr(), hello.Tag, hello.From)
		}
		if c.peers[hello.From] != nil {
			ln.Close()
			c.Close()
			return nil, fmt.Errorf("comm: duplicate rank %d", hello.From)
		}
		p := &tcpPeer{conn: conn, dec: dec, enc: json.NewEncoder(conn)}
		c.peers[hello.From] = p
		go c.readLoop(hello.From, p)
	}
	ln.Close()
	return c, nil
}

type tcpCoordinator struct {
	size      int
	peers     []*tcpPeer
	inbox     chan Message
	barrierCh chan Message

	mu     sync.Mutex
	closed bool
}

func (c *tcpCoordinator) Rank() int { return 0 }
func (c *tcpCoordinator) Size() int { return c.size }

func (c *tcpCoordinator) readLoop(rank int, p *tcpPeer) {
	for {
		var m Message
		if err := p.dec.Decode(&m); err != nil {
			// A dropped connection from a worker that never said EXIT
			// counts as its exit, so the coordinator loop can still
			// drain to zero active workers.
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed && !p.sawExit {
				c.deliver(Message{Tag: TagExit, From: rank})
			}
			return
		}
		m.From = rank
		if m.Tag == TagExit {
			p.sawExit = true
		}
		c.deliver(m)
	}
}

func (c *tcpCoordinator) deliver(m Message) {
	defer func() {
		// Sends race with Close tearing the channels down; a message
		// lost at that point is a message after the run is over.
		recover()
	}()
	if m.Tag == tagBarrier {
		c.barrierCh <- m
		return
	}
	c.inbox <- m
}

func (c *tcpCoordinator) Send(dst int, m Message) error {
	if dst < 1 || dst >= c.size || c.peers[dst] == nil {
		return fmt.Errorf("comm: no peer with rank %d", dst)
	}
	m.From = 0
	return c.peers[dst].send(m)
}

func (c *tcpCoordinator) Recv() (Message, error) {
	m, ok := <-c.inbox
	if !ok {
		return Message{}, ErrClosed
	}
	return m, nil
}

func (c *tcpCoordinator) Barrier() error {
	for arrived := 1; arrived < c.size; arrived++ {
		if _, ok := <-c.barrierCh; !ok {
			return ErrClosed
		}
	}
	for rank := 1; rank < c.size; rank++ {
		if err := c.Send(rank, Message{Tag: tagBarrier}); err != nil {
			return err
		}
	}
	return nil
}

func (c *tcpCoordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	for _, p := range c.peers {
		if p != nil {
			p.conn.Close()
		}
	}
	close(c.inbox)
	close(c.barrierCh)
	return nil
}

func dialWorker(addr string, rank, size int) (World, error) {
	var conn net.Conn
	var err error
	deadline := time.Now().Add(dialTimeout)
	for {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("comm: dial coordinator %s: %w", addr, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	w := &tcpWorker{
		rank:      rank,
		size:      size,
		conn:      conn,
		enc:       json.NewEncoder(conn),
		inbox:     make(chan Message, 16),
		barrierCh: make(chan Message, 1),
	}
	if err := w.Send(0, Message{Tag: tagHello}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("comm: handshake: %w", err)
	}
	go w.readLoop()
	return w, nil
}

type tcpWorker struct {
	rank      int
	size      int
	conn      net.Conn
	inbox     chan Message
	barrierCh chan Message

	mu     sync.Mutex
	enc    *json.Encoder
	closed bool
}

func (w *tcpWorker) Rank() int { return w.rank }
func (w *tcpWorker) Size() int { return w.size }

func (w *tcpWorker) readLoop() {
	dec := json.NewDecoder(w.conn)
	for {
		var m Message
		if err := dec.Decode(&m); err != nil {
			w.mu.Lock()
			if !w.closed {
				w.closed = true
				close(w.inbox)
				close(w.barrierCh)
			}
			w.mu.Unlock()
			return
		}
		w.deliver(m)
	}
}

func (w *tcpWorker) deliver(m Message) {
	defer func() {
		recover()
	}()
	if m.Tag == tagBarrier {
		w.barrierCh <- m
		return
	}
	w.inbox <- m
}

func (w *tcpWorker) Send(dst int, m Message) error {
	if dst != 0 {
		return fmt.Errorf("comm: worker %d can only message the coordinator", w.rank)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	m.From = w.rank
	return w.enc.Encode(m)
}

func (w *tcpWorker) Recv() (Message, error) {
	m, ok := <-w.inbox
	if !ok {
		return Message{}, ErrClosed
	}
	return m, nil
}

func (w *tcpWorker) Barrier() error {
	if err := w.Send(0, Message{Tag: tagBarrier}); err != nil {
		return err
	}
	if _, ok := <-w.barrierCh; !ok {
		return ErrClosed
	}
	return nil
}

func (w *tcpWorker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.inbox)
	close(w.barrierCh)
	w.mu.Unlock()
	return w.conn.Close()
}
