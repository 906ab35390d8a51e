// Package flowkey implements the packet key extractor: it
// turns a raw Ethernet frame plus its ingress port into the fixed-size,
// byte-comparable Key the flow table hashes on, and it round-trips that
// Key through the attribute-stream wire format of package attr.
//
// Layer decoding is grounded on hkwi/gopenflow's frame.go, which used
// gopacket (then at code.google.com/p/gopacket) to turn raw bytes into
// typed layers before picking fields off them; this package uses the
// maintained github.com/google/gopacket fork for the same purpose.
package flowkey

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"github.com/packetdp/dp/dpconf"
	"github.com/packetdp/dp/dperr"
)

// Port sentinels, reserved above the 0..255 slot range: LOCAL addresses
// the datapath's own internal port, NONE and MAX bound the valid range.
const (
	PortLocal uint32 = 0xfffffffe
	PortNone  uint32 = 0xffffffff
	PortMax   uint32 = 0xfffffffd
)

// Key is the canonical, fixed-size flow key. Every field is a plain value
// type so Key is comparable with == and safe to use as a Go map key or to
// hash byte-for-byte via Bytes().
type Key struct {
	InPort uint32

	EthSrc  [6]byte
	EthDst  [6]byte
	EthType uint16 // after VLAN/MPLS stripping, the innermost ethertype

	VLANPresent bool
	VLANTCI     uint16

	// L3. IPVersion is 0 (none/ARP only), 4, or 6.
	IPVersion uint8
	IPProto   uint8
	IPTos     uint8
	IPTTL     uint8
	IPSrc     [16]byte // IPv4 stored in the low 4 bytes
	IPDst     [16]byte
	IPv6Flow  uint32 // IPv6 flow label; zero for IPv4

	ARPOp  uint16
	ARPSHA [6]byte
	ARPTHA [6]byte
	ARPSPA [4]byte
	ARPTPA [4]byte

	MPLSPresent bool
	MPLSLabel   uint32
	MPLSTTL     uint8
	MPLSBOS     bool

	TCPSrc   uint16
	TCPDst   uint16
	TCPFlags uint8

	UDPSrc uint16
	UDPDst uint16

	ICMPType uint8
	ICMPCode uint8
}

// ValidatePort checks the ingress-port field on insertion:
// it must be a real slot, the local-port sentinel, or the no-port
// sentinel.
func ValidatePort(port uint32) error {
	if port < dpconf.MaxPorts || port == PortLocal || port == PortNone {
		return nil
	}
	return errors.Wrapf(dperr.Invalid, "flowkey: ingress port %d is not a valid slot or sentinel", port)
}

// Extract parses a raw frame into a canonical Key. It returns an error if
// the frame is shorter than an Ethernet header, so such a frame never
// reaches lookup even when a caller skips its own length check (the
// datapath's ingress path checks len(frame) first as well).
func Extract(frame []byte, inPort uint32) (Key, error) {
	if len(frame) < dpconf.EthHeaderLen {
		return Key{}, fmt.Errorf("flowkey: frame too short (%d bytes)", len(frame))
	}

	k := Key{InPort: inPort}

	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	for _, l := range packet.Layers() {
		switch layer := l.(type) {
		case *layers.Ethernet:
			copy(k.EthSrc[:], layer.SrcMAC)
			copy(k.EthDst[:], layer.DstMAC)
			k.EthType = uint16(layer.EthernetType)
		case *layers.Dot1Q:
			k.VLANPresent = true
			k.VLANTCI = (uint16(layer.Priority) << 13) | (boolBit(layer.DropEligible) << 12) | (layer.VLANIdentifier & 0x0fff)
			k.EthType = uint16(layer.Type)
		case *layers.MPLS:
			k.MPLSPresent = true
			k.MPLSLabel = layer.Label
			k.MPLSTTL = layer.TTL
			k.MPLSBOS = layer.StackBottom
		case *layers.ARP:
			k.EthType = uint16(layers.EthernetTypeARP)
			k.ARPOp = uint16(layer.Operation)
			copy(k.ARPSHA[:], layer.SourceHwAddress)
			copy(k.ARPTHA[:], layer.DstHwAddress)
			copy(k.ARPSPA[:], layer.SourceProtAddress)
			copy(k.ARPTPA[:], layer.DstProtAddress)
		case *layers.IPv4:
			k.IPVersion = 4
			k.IPProto = uint8(layer.Protocol)
			k.IPTos = layer.TOS
			k.IPTTL = layer.TTL
			copy(k.IPSrc[12:], layer.SrcIP.To4())
			copy(k.IPDst[12:], layer.DstIP.To4())
		case *layers.IPv6:
			k.IPVersion = 6
			k.IPProto = uint8(layer.NextHeader)
			k.IPTTL = layer.HopLimit
			k.IPTos = layer.TrafficClass
			k.IPv6Flow = layer.FlowLabel
			copy(k.IPSrc[:], layer.SrcIP.To16())
			copy(k.IPDst[:], layer.DstIP.To16())
		case *layers.TCP:
			k.TCPSrc = uint16(layer.SrcPort)
			k.TCPDst = uint16(layer.DstPort)
			k.TCPFlags = tcpFlagBits(layer)
		case *layers.UDP:
			k.UDPSrc = uint16(layer.SrcPort)
			k.UDPDst = uint16(layer.DstPort)
		case *layers.ICMPv4:
			k.ICMPType = layer.TypeCode.Type()
			k.ICMPCode = layer.TypeCode.Code()
		case *layers.ICMPv6:
			k.ICMPType = uint8(layer.TypeCode >> 8)
			k.ICMPCode = uint8(layer.TypeCode)
		}
	}
	return k, nil
}

func boolBit(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

func tcpFlagBits(t *layers.TCP) uint8 {
	var f uint8
	if t.FIN {
		f |= 0x01
	}
	if t.SYN {
		f |= 0x02
	}
	if t.RST {
		f |= 0x04
	}
	if t.PSH {
		f |= 0x08
	}
	if t.ACK {
		f |= 0x10
	}
	if t.URG {
		f |= 0x20
	}
	if t.ECE {
		f |= 0x40
	}
	if t.CWR {
		f |= 0x80
	}
	return f
}

// IPv4Src and IPv4Dst return the low 4 bytes of a stored IPv4 address as a net.IP.
func (k Key) IPv4Src() net.IP { return net.IP(k.IPSrc[12:16]) }
func (k Key) IPv4Dst() net.IP { return net.IP(k.IPDst[12:16]) }

// Bytes returns a deterministic byte encoding of the key, used as Hash's
// input so the flow table's bucket choice is independent of struct
// layout/padding. The flow table compares keys with ==, not with Bytes.
func (k Key) Bytes() []byte {
	b := make([]byte, 0, 96)
	var u32 [4]byte
	var u16 [2]byte

	putU32 := func(v uint32) {
		binary.BigEndian.PutUint32(u32[:], v)
		b = append(b, u32[:]...)
	}
	putU16 := func(v uint16) {
		binary.BigEndian.PutUint16(u16[:], v)
		b = append(b, u16[:]...)
	}

	putU32(k.InPort)
	b = append(b, k.EthSrc[:]...)
	b = append(b, k.EthDst[:]...)
	putU16(k.EthType)
	b = append(b, boolByte(k.VLANPresent))
	putU16(k.VLANTCI)
	b = append(b, k.IPVersion, k.IPProto, k.IPTos, k.IPTTL)
	b = append(b, k.IPSrc[:]...)
	b = append(b, k.IPDst[:]...)
	putU32(k.IPv6Flow)
	putU16(k.ARPOp)
	b = append(b, k.ARPSHA[:]...)
	b = append(b, k.ARPTHA[:]...)
	b = append(b, k.ARPSPA[:]...)
	b = append(b, k.ARPTPA[:]...)
	b = append(b, boolByte(k.MPLSPresent))
	putU32(k.MPLSLabel)
	b = append(b, k.MPLSTTL, boolByte(k.MPLSBOS))
	putU16(k.TCPSrc)
	putU16(k.TCPDst)
	b = append(b, k.TCPFlags)
	putU16(k.UDPSrc)
	putU16(k.UDPDst)
	b = append(b, k.ICMPType, k.ICMPCode)
	return b
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
