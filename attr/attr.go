// Package attr implements the length-prefixed, type-tagged attribute
// stream shared by flow keys and action lists: "the same
// shape used by the kernel counterpart of the real datapath", i.e. Netlink
// attributes. Each record is a 4-byte header (uint16 type, uint16 length
// including the header) followed by length-4 bytes of payload, the whole
// record padded to a 4-byte boundary. This mirrors the TLV walk in
// ofp4obj.OxmBytes.Iter, generalized from OXM's 4-byte headers to the
// plain type/length pair a Netlink attribute uses (no mask half).
package attr

import (
	"encoding/binary"
	"fmt"
)

const headerLen = 4

// align4 rounds n up to the next multiple of 4.
func align4(n int) int {
	return (n + 3) &^ 3
}

// Attr is one decoded (type, payload) pair.
type Attr struct {
	Type    uint16
	Payload []byte
}

// Build accumulates attributes into a wire-format stream.
type Build struct {
	buf []byte
}

// Put appends one attribute with the given type and payload.
func (b *Build) Put(typ uint16, payload []byte) {
	total := headerLen + len(payload)
	start := len(b.buf)
	b.buf = append(b.buf, make([]byte, align4(total))...)
	binary.BigEndian.PutUint16(b.buf[start:], typ)
	binary.BigEndian.PutUint16(b.buf[start+2:], uint16(total))
	copy(b.buf[start+headerLen:], payload)
}

// PutUint16 appends a two-byte attribute.
func (b *Build) PutUint16(typ uint16, v uint16) {
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], v)
	b.Put(typ, p[:])
}

// PutUint32 appends a four-byte attribute.
func (b *Build) PutUint32(typ uint16, v uint32) {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], v)
	b.Put(typ, p[:])
}

// PutNested appends typ with the already-built contents of nested as its
// payload, for recursive structures (SAMPLE's nested action list, SET's
// nested key attribute).
func (b *Build) PutNested(typ uint16, nested *Build) {
	b.Put(typ, nested.Bytes())
}

// Bytes returns the accumulated stream. The returned slice must not be
// mutated by the caller; Build may still hold a reference to it.
func (b *Build) Bytes() []byte {
	if b.buf == nil {
		return []byte{}
	}
	return b.buf
}

// Parse walks a wire-format stream once, calling fn for each attribute in
// order. It returns an error if the stream is truncated mid-record.
func Parse(stream []byte, fn func(Attr) error) error {
	for len(stream) > 0 {
		if len(stream) < headerLen {
			return fmt.Errorf("attr: truncated header (%d bytes left)", len(stream))
		}
		typ := binary.BigEndian.Uint16(stream)
		total := int(binary.BigEndian.Uint16(stream[2:]))
		if total < headerLen || total > len(stream) {
			return fmt.Errorf("attr: truncated payload (type %d claims %d, have %d)", typ, total, len(stream))
		}
		if err := fn(Attr{Type: typ, Payload: stream[headerLen:total]}); err != nil {
			return err
		}
		adv := align4(total)
		if adv > len(stream) {
			adv = len(stream)
		}
		stream = stream[adv:]
	}
	return nil
}

// ParseAll decodes a stream into a slice, in order.
func ParseAll(stream []byte) ([]Attr, error) {
	var out []Attr
	err := Parse(stream, func(a Attr) error {
		out = append(out, a)
		return nil
	})
	return out, err
}

// Uint16 decodes a two-byte payload.
func (a Attr) Uint16() (uint16, error) {
	if len(a.Payload) != 2 {
		return 0, fmt.Errorf("attr: type %d wants 2 bytes, got %d", a.Type, len(a.Payload))
	}
	return binary.BigEndian.Uint16(a.Payload), nil
}

// Uint32 decodes a four-byte payload.
func (a Attr) Uint32() (uint32, error) {
	if len(a.Payload) != 4 {
		return 0, fmt.Errorf("attr: type %d wants 4 bytes, got %d", a.Type, len(a.Payload))
	}
	return binary.BigEndian.Uint32(a.Payload), nil
}
