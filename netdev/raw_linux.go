//go:build linux

package netdev

import (
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Raw is the "real" network device: an AF_PACKET socket bound to a named
// Linux interface. Promiscuous mode and MTU queries go through
// vishvananda/netlink (the same library kube-ovn uses to manage its CNI
// interfaces) rather than hand-rolled ioctls.
type Raw struct {
	name string
	kind Kind
	fd   int
	link netlink.Link
}

// OpenRaw opens name as an AF_PACKET device. kind should be KindSystem for
// a normal attached interface or KindInternal for the datapath-local
// port.
func OpenRaw(name string, kind Kind) (*Raw, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "netdev: lookup interface %q", name)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, errors.Wrapf(err, "netdev: open raw socket for %q", name)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  link.Attrs().Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "netdev: bind raw socket for %q", name)
	}

	return &Raw{name: name, kind: kind, fd: fd, link: link}, nil
}

func htons(v int) uint16 {
	return uint16(v<<8) | uint16(v>>8)
}

func (r *Raw) Name() string { return r.name }
func (r *Raw) Kind() Kind   { return r.kind }

func (r *Raw) Listen() error {
	if err := netlink.SetPromiscOn(r.link); err != nil {
		return errors.Wrapf(err, "netdev: set %q promiscuous", r.name)
	}
	return nil
}

func (r *Raw) MTU() (int, error) {
	link, err := netlink.LinkByName(r.name)
	if err != nil {
		return 0, errors.Wrapf(err, "netdev: refresh %q", r.name)
	}
	return link.Attrs().MTU, nil
}

func (r *Raw) Fd() int { return r.fd }

func (r *Raw) Receive(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(r.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrAgain
		}
		return 0, errors.Wrapf(err, "netdev: receive on %q", r.name)
	}
	return n, nil
}

func (r *Raw) Dispatch(batch int, fn DispatchFunc) (int, error) {
	n := 0
	buf := make([]byte, 65536)
	for n < batch {
		m, err := r.Receive(buf)
		if err != nil {
			if err == ErrAgain {
				break
			}
			return n, err
		}
		fn(buf[:m])
		n++
	}
	return n, nil
}

func (r *Raw) Send(frame []byte) error {
	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  r.link.Attrs().Index,
	}
	if err := unix.Sendto(r.fd, frame, 0, &addr); err != nil {
		return errors.Wrapf(err, "netdev: send on %q", r.name)
	}
	return nil
}

func (r *Raw) Close() error {
	return unix.Close(r.fd)
}
