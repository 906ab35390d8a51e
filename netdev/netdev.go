// Package netdev names the network device contract the datapath core
// consumes: open, listen (enable promiscuous receive),
// get-mtu, get-fd, receive, dispatch (batched, threaded mode), send,
// close. The concrete drivers behind this contract (raw sockets, GRE and
// other tunnel types, packet-capture backends) are out of scope per
// ; this package defines the interface plus two concrete
// implementations worth keeping in-tree: a Linux AF_PACKET device for
// real interfaces, and an in-memory Dummy used by the dummy provider and
// by tests.
package netdev

import (
	"github.com/pkg/errors"

	"github.com/packetdp/dp/dperr"
)

// Kind distinguishes the port classes a Device can back.
type Kind int

const (
	KindSystem Kind = iota
	KindInternal
	KindDummy
)

func (k Kind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindInternal:
		return "internal"
	case KindDummy:
		return "dummy"
	default:
		return "unknown"
	}
}

// ErrAgain adapts dperr's TryAgain sentinel to the device contract's
// vocabulary so callers that only know netdev don't need to import dperr
// directly. ErrClosed is netdev's own sentinel for a closed device.
var (
	ErrAgain  = dperr.TryAgain
	ErrClosed = errors.New("netdev: device closed")
)

// DispatchFunc is the per-frame callback threaded-mode dispatch invokes.
type DispatchFunc func(frame []byte)

// Device is the network device contract consumed by the datapath core.
// Implementations must be safe for concurrent Receive/Send from one
// goroutine each; Close must be safe to call concurrently with anything
// else and must cause a blocked poll on Fd to wake with an error or EOF.
type Device interface {
	Name() string
	Kind() Kind

	// Listen enables promiscuous receive. Dummy's Listen always succeeds;
	// the datapath ignores a Listen error only from a KindDummy device.
	Listen() error

	// MTU returns the device's maximum transmission unit.
	MTU() (int, error)

	// Fd returns a file descriptor suitable for poll(2)/select(2), or -1
	// if the device has none (Dummy returns its self-pipe's read end, or
	// -1 if that pipe could not be created).
	Fd() int

	// Receive performs one non-blocking read. It returns ErrAgain if no
	// frame is currently available.
	Receive(buf []byte) (int, error)

	// Dispatch drains up to batch frames in one call, invoking fn for
	// each (threaded mode, ). It returns the number
	// processed.
	Dispatch(batch int, fn DispatchFunc) (int, error)

	// Send transmits one frame.
	Send(frame []byte) error

	Close() error
}
