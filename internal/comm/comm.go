// Package comm provides the point-to-point tagged message layer used by the
// distributed task-pull backend.
//
// A World is a fixed-size group of processes (or, for tests, in-process
// peers) identified by rank. Rank 0 is the coordinator. All coordination
// happens through explicit messages; there is no shared state between ranks.
package comm

import (
	"errors"
	"fmt"
)

// Tag identifies the purpose of a Message in the task-pull protocol.
type Tag int

const (
	// TagReady is sent by an idle worker to request work.
	TagReady Tag = iota + 1
	// TagStart carries task arguments from the coordinator to a worker.
	TagStart
	// TagDone carries a task outcome from a worker to the coordinator.
	TagDone
	// TagExit tells a worker to shut down, and is echoed back by the
	// worker as its final message.
	TagExit

	// tagHello is the connection handshake carrying the sender's rank.
	tagHello
	// tagBarrier implements World.Barrier.
	tagBarrier
)

// String returns the protocol name of the tag.
func (t Tag) String() string {
	switch t {
	case TagReady:
		return "READY"
	case TagStart:
		return "START"
	case TagDone:
		return "DONE"
	case TagExit:
		return "EXIT"
	case tagHello:
		return "HELLO"
	case tagBarrier:
		return "BARRIER"
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

// Message is one unit of communication between ranks. Args and Value are
// JSON-encoded on the wire, so cross-process tasks must use marshalable
// arguments and outcomes.
type Message struct {
	Tag    Tag    `json:"tag"`
	From   int    `json:"from"`
	Seq    int    `json:"seq,omitempty"`
	Args   []any  `json:"args,omitempty"`
	Value  any    `json:"value,omitempty"`
	Failed bool   `json:"failed,omitempty"`
	Err    string `json:"err,omitempty"`
}

// World is a fixed group of communicating ranks.
type World interface {
	// Rank returns this process's rank; 0 is the coordinator.
	Rank() int
	// Size returns the total number of ranks, coordinator included.
	Size() int
	// Send delivers a message to the given rank. From is stamped by the
	// implementation.
	Send(dst int, m Message) error
	// Recv blocks until a message addressed to this rank arrives.
	Recv() (Message, error)
	// Barrier blocks until every rank in the world has reached it.
	Barrier() error
	// Close tears the world down. Recv on a closed world returns
	// ErrClosed.
	Close() error
}

// ErrClosed is returned by Recv and Send after the world is closed.
var ErrClosed = errors.New("comm: world closed")
