package dp

import (
	"time"

	"golang.org/x/sys/unix"
)

// selfPipe is the non-blocking wake channel a client polls to learn that
// an upcall is ready: enqueue writes one byte, drain reads the pipe until
// it is empty (Recv calls it once both rings are empty, RecvPurge always),
// write/read errors are logged but never fatal.
type selfPipe struct {
	r, w int
}

func newSelfPipe() *selfPipe {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return &selfPipe{r: -1, w: -1}
	}
	return &selfPipe{r: fds[0], w: fds[1]}
}

func (p *selfPipe) wake(log func(error)) {
	if p.w < 0 {
		return
	}
	if _, err := unix.Write(p.w, []byte{0}); err != nil && err != unix.EAGAIN {
		if log != nil {
			log(err)
		}
	}
}

func (p *selfPipe) drain(log func(error)) {
	if p.r < 0 {
		return
	}
	var b [64]byte
	for {
		n, err := unix.Read(p.r, b[:])
		if n <= 0 || err != nil {
			if err != nil && err != unix.EAGAIN && log != nil {
				log(err)
			}
			return
		}
	}
}

func (p *selfPipe) fd() int { return p.r }

func (p *selfPipe) close() {
	if p.r >= 0 {
		unix.Close(p.r)
	}
	if p.w >= 0 {
		unix.Close(p.w)
	}
}

// pollFdWait blocks on fd for up to timeout, ignoring EINTR once. It never
// returns an error; a timeout and a ready fd are distinguished only by how
// long the call took, since the caller always re-checks state afterward.
func pollFdWait(fd int, timeout time.Duration) {
	pollfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	ms := int(timeout / time.Millisecond)
	n, err := unix.Poll(pollfds, ms)
	if err == unix.EINTR {
		remaining := timeout - time.Millisecond
		if remaining > 0 {
			unix.Poll(pollfds, int(remaining/time.Millisecond))
		}
		return
	}
	_ = n
}
