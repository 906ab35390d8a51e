// Package action implements the action interpreter: a
// small byte-code virtual machine that walks a length-prefixed attribute
// stream once, in order, mutating a working packet and issuing output/
// upcall side effects through the Context it is given.
//
// The interpreter shape (a typed record per action, a switch over action
// type, immediate side effects rather than a compiled closure tree) is
// grounded on hkwi/gopenflow's ofp4sw/action.go, which walks an OpenFlow
// instruction/action list the same way; this implementation generalizes
// it from OpenFlow's OFPAT_* action set to an OUTPUT/USERSPACE/PUSH_VLAN/
// POP_VLAN/PUSH_MPLS/POP_MPLS/SET/SAMPLE action set.
package action

import (
	"encoding/binary"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/packetdp/dp/attr"
	"github.com/packetdp/dp/dpconf"
	"github.com/packetdp/dp/dperr"
	"github.com/packetdp/dp/flowkey"
)

// Action type tags for the top-level attribute stream.
const (
	TypeOutput uint16 = iota + 1
	TypeUserspace
	TypePushVLAN
	TypePopVLAN
	TypePushMPLS
	TypePopMPLS
	TypeSet
	TypeSample
)

// Sub-attribute tags nested inside a SET action's payload, selecting which
// header field the set applies to. Tunnel/priority/mark are accepted and
// ignored.
const (
	SetEthernet uint16 = iota + 1
	SetIPv4
	SetIPv6
	SetTCP
	SetUDP
	SetMPLS
	SetTunnel
	SetPriority
	SetMark
)

// Builder accumulates an action list in wire format. It is the
// construction-side counterpart callers (tests, and any future management
// layer) use to produce the action blob a flow entry stores.
type Builder struct {
	b attr.Build
}

func (a *Builder) Output(port uint32) *Builder {
	a.b.PutUint32(TypeOutput, port)
	return a
}

// Userspace appends a USERSPACE action. It rejects userdata longer than
// dpconf.MaxUserData rather than silently truncating it.
func (a *Builder) Userspace(userdata []byte) (*Builder, error) {
	if len(userdata) > dpconf.MaxUserData {
		return a, errors.Wrapf(dperr.Invalid, "action: userspace userdata length %d exceeds MaxUserData %d", len(userdata), dpconf.MaxUserData)
	}
	a.b.Put(TypeUserspace, userdata)
	return a, nil
}

func (a *Builder) PushVLAN(tci uint16) *Builder {
	a.b.PutUint16(TypePushVLAN, tci)
	return a
}

func (a *Builder) PopVLAN() *Builder {
	a.b.Put(TypePopVLAN, nil)
	return a
}

func (a *Builder) PushMPLS(ethertype uint16, lse uint32) *Builder {
	var p [6]byte
	binary.BigEndian.PutUint16(p[0:2], ethertype)
	binary.BigEndian.PutUint32(p[2:6], lse)
	a.b.Put(TypePushMPLS, p[:])
	return a
}

func (a *Builder) PopMPLS(ethertype uint16) *Builder {
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], ethertype)
	a.b.Put(TypePopMPLS, p[:])
	return a
}

// SetEthernetAddrs appends a SET action overwriting both Ethernet
// addresses.
func (a *Builder) SetEthernetAddrs(dst, src [6]byte) *Builder {
	var nested attr.Build
	var p [12]byte
	copy(p[0:6], dst[:])
	copy(p[6:12], src[:])
	nested.Put(SetEthernet, p[:])
	a.b.PutNested(TypeSet, &nested)
	return a
}

// SetIPv4 appends a SET action overwriting IPv4 src/dst/tos/ttl.
func (a *Builder) SetIPv4(src, dst [4]byte, tos, ttl uint8) *Builder {
	var nested attr.Build
	p := make([]byte, 10)
	copy(p[0:4], src[:])
	copy(p[4:8], dst[:])
	p[8] = tos
	p[9] = ttl
	nested.Put(SetIPv4, p)
	a.b.PutNested(TypeSet, &nested)
	return a
}

// SetTCP appends a SET action overwriting TCP src/dst ports.
func (a *Builder) SetTCP(src, dst uint16) *Builder {
	var nested attr.Build
	var p [4]byte
	binary.BigEndian.PutUint16(p[0:2], src)
	binary.BigEndian.PutUint16(p[2:4], dst)
	nested.Put(SetTCP, p[:])
	a.b.PutNested(TypeSet, &nested)
	return a
}

// SetUDP appends a SET action overwriting UDP src/dst ports.
func (a *Builder) SetUDP(src, dst uint16) *Builder {
	var nested attr.Build
	var p [4]byte
	binary.BigEndian.PutUint16(p[0:2], src)
	binary.BigEndian.PutUint16(p[2:4], dst)
	nested.Put(SetUDP, p[:])
	a.b.PutNested(TypeSet, &nested)
	return a
}

// SetMPLSLabel appends a SET action overwriting the outermost MPLS LSE.
func (a *Builder) SetMPLSLabel(lse uint32) *Builder {
	var nested attr.Build
	nested.PutUint32(SetMPLS, lse)
	a.b.PutNested(TypeSet, &nested)
	return a
}

// Sample appends a SAMPLE action: with probability prob/2^32, nested is
// executed recursively; otherwise the interpreter moves on.
func (a *Builder) Sample(prob uint32, nested *Builder) *Builder {
	var n attr.Build
	n.PutUint32(1, prob)
	n.PutNested(2, &nested.b)
	a.b.PutNested(TypeSample, &n)
	return a
}

// Bytes returns the built action list.
func (a *Builder) Bytes() []byte { return a.b.Bytes() }

// Context supplies the interpreter's side effects: sending a packet out a
// port, and enqueueing an explicit-userspace upcall. Both are expected to
// be non-blocking and to report their own errors by logging, not by
// failing Execute: OUTPUT silently drops the frame if the port is absent,
// and the interpreter never fails.
type Context struct {
	Output     func(port uint32, frame []byte)
	Userspace  func(key flowkey.Key, userdata []byte, frame []byte)
	Rand       *rand.Rand
	InPort     uint32
	Key        flowkey.Key // the key this frame matched; re-derived per SET mutation by caller if needed
}

// Execute walks actions once, in order, against frame, using ctx for
// output/upcall side effects. actions must be a well-formed stream; a
// truncated attribute is an invariant violation and panics.
// An unknown or reserved action type is likewise a programming-error
// assertion. A well-formed but semantically inapplicable action (POP_VLAN
// with no VLAN present, etc.) is always a no-op; Execute never returns an
// error.
func Execute(actions []byte, frame []byte, ctx Context) []byte {
	err := attr.Parse(actions, func(a attr.Attr) error {
		frame = apply(a, frame, ctx)
		return nil
	})
	dperr.Assert(err == nil, "action: corrupt attribute stream")
	return frame
}

func apply(a attr.Attr, frame []byte, ctx Context) []byte {
	switch a.Type {
	case TypeOutput:
		port, err := a.Uint32()
		dperr.Assert(err == nil, "action: malformed OUTPUT")
		if ctx.Output != nil {
			ctx.Output(port, frame)
		}
		return frame

	case TypeUserspace:
		if ctx.Userspace != nil {
			ctx.Userspace(ctx.Key, a.Payload, frame)
		}
		return frame

	case TypePushVLAN:
		tci, err := a.Uint16()
		dperr.Assert(err == nil, "action: malformed PUSH_VLAN")
		return pushVLAN(frame, tci)

	case TypePopVLAN:
		return popVLAN(frame)

	case TypePushMPLS:
		dperr.Assert(len(a.Payload) == 6, "action: malformed PUSH_MPLS")
		ethertype := binary.BigEndian.Uint16(a.Payload[0:2])
		lse := binary.BigEndian.Uint32(a.Payload[2:6])
		return pushMPLS(frame, ethertype, lse)

	case TypePopMPLS:
		dperr.Assert(len(a.Payload) == 2, "action: malformed POP_MPLS")
		ethertype := binary.BigEndian.Uint16(a.Payload)
		return popMPLS(frame, ethertype)

	case TypeSet:
		applySet(a.Payload, frame)
		return frame

	case TypeSample:
		applySample(a.Payload, frame, ctx)
		return frame

	default:
		panic(dperr.Internal{Reason: "action: unknown action type"})
	}
}

func applySet(payload []byte, frame []byte) {
	err := attr.Parse(payload, func(a attr.Attr) error {
		switch a.Type {
		case SetEthernet:
			if len(a.Payload) == 12 && len(frame) >= 12 {
				copy(frame[0:6], a.Payload[0:6])
				copy(frame[6:12], a.Payload[6:12])
			}
		case SetIPv4:
			if len(a.Payload) == 10 {
				lo := locate(frame)
				if lo.ethType == ethTypeIPv4 && len(frame) >= lo.l3Off+20 {
					copy(frame[lo.l3Off+12:lo.l3Off+16], a.Payload[0:4])
					copy(frame[lo.l3Off+16:lo.l3Off+20], a.Payload[4:8])
					frame[lo.l3Off+1] = a.Payload[8]
					frame[lo.l3Off+8] = a.Payload[9]
				}
			}
		case SetIPv6:
			if len(a.Payload) == 39 {
				lo := locate(frame)
				if lo.ethType == ethTypeIPv6 && len(frame) >= lo.l3Off+40 {
					copy(frame[lo.l3Off+8:lo.l3Off+24], a.Payload[0:16])
					copy(frame[lo.l3Off+24:lo.l3Off+40], a.Payload[16:32])
					frame[lo.l3Off+6] = a.Payload[32]
					tc := a.Payload[33]
					frame[lo.l3Off] = (frame[lo.l3Off] & 0xf0) | (tc >> 4)
					frame[lo.l3Off+1] = (tc << 4) | (frame[lo.l3Off+1] & 0x0f)
					flow := binary.BigEndian.Uint32(a.Payload[35:39]) & 0x000fffff
					binary.BigEndian.PutUint32(frame[lo.l3Off:lo.l3Off+4],
						(uint32(frame[lo.l3Off])<<24)|(uint32(frame[lo.l3Off+1])<<16)|uint32(flow))
					frame[lo.l3Off+7] = a.Payload[34]
				}
			}
		case SetTCP:
			if len(a.Payload) == 4 {
				lo := locate(frame)
				if lo.haveL4 && lo.ipProto == 6 && len(frame) >= lo.l4Off+4 {
					copy(frame[lo.l4Off:lo.l4Off+4], a.Payload)
				}
			}
		case SetUDP:
			if len(a.Payload) == 4 {
				lo := locate(frame)
				if lo.haveL4 && lo.ipProto == 17 && len(frame) >= lo.l4Off+4 {
					copy(frame[lo.l4Off:lo.l4Off+4], a.Payload)
				}
			}
		case SetMPLS:
			if len(a.Payload) == 4 {
				setMPLSLabel(frame, binary.BigEndian.Uint32(a.Payload))
			}
		case SetTunnel, SetPriority, SetMark:
			// accepted and ignored.
		default:
			panic(dperr.Internal{Reason: "action: unknown SET sub-attribute"})
		}
		return nil
	})
	dperr.Assert(err == nil, "action: corrupt SET payload")
}

func applySample(payload []byte, frame []byte, ctx Context) {
	var prob uint32
	var nested []byte
	err := attr.Parse(payload, func(a attr.Attr) error {
		switch a.Type {
		case 1:
			v, err := a.Uint32()
			if err != nil {
				return err
			}
			prob = v
		case 2:
			nested = a.Payload
		}
		return nil
	})
	dperr.Assert(err == nil, "action: corrupt SAMPLE payload")

	var draw uint32
	if ctx.Rand != nil {
		draw = ctx.Rand.Uint32()
	} else {
		draw = rand.Uint32()
	}
	if draw < prob {
		Execute(nested, frame, ctx)
	}
}
