package dp

import (
	"regexp"
	"strconv"

	"github.com/packetdp/dp/dperr"
	"github.com/packetdp/dp/dpconf"
	"github.com/packetdp/dp/netdev"
)

// Port is a slot within a datapath's port array.
type Port struct {
	Number uint32
	Type   string
	Device netdev.Device
}

// PortTable is the array of dpconf.MaxPorts slots plus an insertion-order
// list, the way hkwi/gopenflow's Pipeline.ports combines a map with order
// implied by insertion.
type PortTable struct {
	slots []*Port       // index == port number
	order []uint32      // insertion order, for Dump
}

// NewPortTable creates an empty table.
func NewPortTable() *PortTable {
	return &PortTable{slots: make([]*Port, dpconf.MaxPorts)}
}

var digitsRE = regexp.MustCompile(`[0-9]+`)

// assignNumber picks a free port number when none is requested explicitly:
// a "br"-prefixed name with a digit run takes slot 100+that number if free
// (so "br5" is 105), a non-"br" name containing a digit run reuses the
// number of its first such run if free, and everything else, along with any "br" name whose preferred slot
// is taken or absent, falls back to a linear scan (from 100 for "br" names,
// from 1 otherwise).
func (t *PortTable) assignNumber(name string) (uint32, error) {
	isBr := len(name) >= 2 && name[0:2] == "br"
	start := 1
	if isBr {
		start = 100
		if m := digitsRE.FindString(name); m != "" {
			if d, err := strconv.Atoi(m); err == nil {
				n := 100 + d
				if n > 0 && n < len(t.slots) && t.slots[n] == nil {
					return uint32(n), nil
				}
			}
		}
	} else if m := digitsRE.FindString(name); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 && n < len(t.slots) && t.slots[n] == nil {
			return uint32(n), nil
		}
	}
	for n := start; n < len(t.slots); n++ {
		if t.slots[n] == nil {
			return uint32(n), nil
		}
	}
	return 0, dperr.TooBig
}

// Add inserts a port. If number is 0, a number is chosen per
// assignNumber, which never picks slot 0, so Add never fills slot 0.
func (t *PortTable) Add(name string, requested uint32, typ string, dev netdev.Device) (*Port, error) {
	for _, n := range t.order {
		if t.slots[n].Device.Name() == name {
			return nil, dperr.Exists
		}
	}

	var number uint32
	if requested != 0 {
		if int(requested) >= len(t.slots) {
			return nil, dperr.Invalid
		}
		if t.slots[requested] != nil {
			return nil, dperr.Exists
		}
		number = requested
	} else {
		n, err := t.assignNumber(name)
		if err != nil {
			return nil, err
		}
		number = n
	}

	p := &Port{Number: number, Type: typ, Device: dev}
	t.slots[number] = p
	t.order = append(t.order, number)
	return p, nil
}

// AddLocal inserts the reserved port-0 local port at datapath
// construction; it is the only caller allowed to use slot 0.
func (t *PortTable) AddLocal(dev netdev.Device) *Port {
	p := &Port{Number: 0, Type: "internal", Device: dev}
	t.slots[0] = p
	t.order = append(t.order, 0)
	return p
}

// Get returns the port at number.
func (t *PortTable) Get(number uint32) (*Port, error) {
	if int(number) >= len(t.slots) || t.slots[number] == nil {
		return nil, dperr.NotFound
	}
	return t.slots[number], nil
}

// GetByName finds a port by its device name.
func (t *PortTable) GetByName(name string) (*Port, error) {
	for _, n := range t.order {
		if p := t.slots[n]; p.Device.Name() == name {
			return p, nil
		}
	}
	return nil, dperr.NotFound
}

// Delete removes a port. Port 0 can never be deleted.
func (t *PortTable) Delete(number uint32) (*Port, error) {
	if number == 0 {
		return nil, dperr.Invalid
	}
	p, err := t.Get(number)
	if err != nil {
		return nil, err
	}
	t.slots[number] = nil
	for i, n := range t.order {
		if n == number {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return p, nil
}

// Each calls fn for every port in insertion order.
func (t *PortTable) Each(fn func(*Port)) {
	for _, n := range t.order {
		fn(t.slots[n])
	}
}

// Len returns the number of attached ports, including the local port.
func (t *PortTable) Len() int { return len(t.order) }
