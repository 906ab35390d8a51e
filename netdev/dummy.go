package netdev

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Dummy is an in-memory Device used by the dummy provider and by tests.
// Frames are injected with Inject (standing in for a real interface's
// incoming traffic) and sent frames accumulate in Sent for assertions
// ("port 3 observes the frame").
//
// A real self-pipe backs Fd so Dummy participates in the threaded-mode
// poll union exactly like a real device, rather than needing a special
// case in the ingress loop.
type Dummy struct {
	name string
	kind Kind

	mu     sync.Mutex
	queue  [][]byte
	Sent   [][]byte
	closed bool

	rfd, wfd int
}

// NewDummy creates a dummy device. Its Listen always succeeds.
func NewDummy(name string) *Dummy {
	p, err := pipe2NonBlock()
	if err != nil {
		p = [2]int{-1, -1}
	}
	return &Dummy{name: name, kind: KindDummy, rfd: p[0], wfd: p[1]}
}

func pipe2NonBlock() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return fds, err
	}
	return fds, nil
}

func (d *Dummy) Name() string { return d.name }
func (d *Dummy) Kind() Kind   { return d.kind }

func (d *Dummy) Listen() error {
	// Real datapaths tolerate ENOTSUP here only for dummy devices; Dummy
	// itself always succeeds, since the caller is the one enforcing the
	// class restriction.
	return nil
}

func (d *Dummy) MTU() (int, error) { return 1500, nil }

func (d *Dummy) Fd() int { return d.rfd }

// Inject queues a frame as if it had arrived on the wire, and wakes any fd
// poller.
func (d *Dummy) Inject(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	cp := append([]byte(nil), frame...)
	d.queue = append(d.queue, cp)
	if d.wfd >= 0 {
		_, _ = unix.Write(d.wfd, []byte{0})
	}
}

func (d *Dummy) Receive(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return 0, ErrAgain
	}
	frame := d.queue[0]
	d.queue = d.queue[1:]
	if d.rfd >= 0 {
		var b [1]byte
		_, _ = unix.Read(d.rfd, b[:])
	}
	n := copy(buf, frame)
	return n, nil
}

func (d *Dummy) Dispatch(batch int, fn DispatchFunc) (int, error) {
	n := 0
	for n < batch {
		buf := make([]byte, 65536)
		m, err := d.Receive(buf)
		if err != nil {
			break
		}
		fn(buf[:m])
		n++
	}
	return n, nil
}

func (d *Dummy) Send(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.Sent = append(d.Sent, append([]byte(nil), frame...))
	return nil
}

func (d *Dummy) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.rfd >= 0 {
		unix.Close(d.rfd)
	}
	if d.wfd >= 0 {
		unix.Close(d.wfd)
	}
	return nil
}
