package flowkey

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/packetdp/dp/attr"
)

// Key attribute type tags for the wire format. Grounded on
// the same type-tagged-record shape ofp4obj.OxmBytes walks, generalized
// from OXM's single 32-bit field-id header to attr's (type, length) pair.
const (
	AttrInPort uint16 = iota + 1
	AttrEthernet
	AttrVLAN
	AttrMPLS
	AttrIPv4
	AttrIPv6
	AttrARP
	AttrTCP
	AttrUDP
	AttrICMP
)

// Hash returns a stable hash of the key for the flow table's bucket
// selection.
func (k Key) Hash() uint64 {
	h := fnv.New64a()
	h.Write(k.Bytes())
	return h.Sum64()
}

// Encode serializes k into the attribute-stream wire format.
func Encode(k Key) []byte {
	var b attr.Build
	b.PutUint32(AttrInPort, k.InPort)

	var eth [14]byte
	copy(eth[0:6], k.EthDst[:])
	copy(eth[6:12], k.EthSrc[:])
	binary.BigEndian.PutUint16(eth[12:14], k.EthType)
	b.Put(AttrEthernet, eth[:])

	if k.VLANPresent {
		b.PutUint16(AttrVLAN, k.VLANTCI)
	}
	if k.MPLSPresent {
		var m [6]byte
		binary.BigEndian.PutUint32(m[0:4], k.MPLSLabel)
		m[4] = k.MPLSTTL
		if k.MPLSBOS {
			m[5] = 1
		}
		b.Put(AttrMPLS, m[:])
	}
	switch k.IPVersion {
	case 4:
		var p [8]byte
		copy(p[0:4], k.IPSrc[12:16])
		copy(p[4:8], k.IPDst[12:16])
		b.Put(AttrIPv4, append(p[:], k.IPProto, k.IPTos, k.IPTTL))
	case 6:
		var p [32]byte
		copy(p[0:16], k.IPSrc[:])
		copy(p[16:32], k.IPDst[:])
		rest := []byte{k.IPProto, k.IPTos, k.IPTTL}
		var flow [4]byte
		binary.BigEndian.PutUint32(flow[:], k.IPv6Flow)
		rest = append(rest, flow[:]...)
		b.Put(AttrIPv6, append(p[:], rest...))
	}
	if k.EthType == 0x0806 { // ARP
		var a [22]byte
		binary.BigEndian.PutUint16(a[0:2], k.ARPOp)
		copy(a[2:8], k.ARPSHA[:])
		copy(a[8:12], k.ARPSPA[:])
		copy(a[12:18], k.ARPTHA[:])
		copy(a[18:22], k.ARPTPA[:])
		b.Put(AttrARP, a[:])
	}
	switch k.IPProto {
	case 6: // TCP
		var t [5]byte
		binary.BigEndian.PutUint16(t[0:2], k.TCPSrc)
		binary.BigEndian.PutUint16(t[2:4], k.TCPDst)
		t[4] = k.TCPFlags
		b.Put(AttrTCP, t[:])
	case 17: // UDP
		var u [4]byte
		binary.BigEndian.PutUint16(u[0:2], k.UDPSrc)
		binary.BigEndian.PutUint16(u[2:4], k.UDPDst)
		b.Put(AttrUDP, u[:])
	case 1, 58: // ICMP / ICMPv6
		b.Put(AttrICMP, []byte{k.ICMPType, k.ICMPCode})
	}
	return b.Bytes()
}

// Decode parses a wire-format attribute stream back into a Key. Callers
// that only ever decode streams this package emitted can rely on
// Decode(Encode(k)) == k for every k Extract ever produces; a mismatch discovered elsewhere indicates a
// programming error and should be logged rate-limited, not panicked,
// since the stream may originate from untrusted wire input.
func Decode(stream []byte) (Key, error) {
	var k Key
	var haveARP, haveTCP, haveUDP bool
	err := attr.Parse(stream, func(a attr.Attr) error {
		switch a.Type {
		case AttrInPort:
			v, err := a.Uint32()
			if err != nil {
				return err
			}
			k.InPort = v
		case AttrEthernet:
			if len(a.Payload) != 14 {
				return fmt.Errorf("flowkey: bad ethernet attr length %d", len(a.Payload))
			}
			copy(k.EthDst[:], a.Payload[0:6])
			copy(k.EthSrc[:], a.Payload[6:12])
			k.EthType = binary.BigEndian.Uint16(a.Payload[12:14])
		case AttrVLAN:
			v, err := a.Uint16()
			if err != nil {
				return err
			}
			k.VLANPresent = true
			k.VLANTCI = v
		case AttrMPLS:
			if len(a.Payload) != 6 {
				return fmt.Errorf("flowkey: bad mpls attr length %d", len(a.Payload))
			}
			k.MPLSPresent = true
			k.MPLSLabel = binary.BigEndian.Uint32(a.Payload[0:4])
			k.MPLSTTL = a.Payload[4]
			k.MPLSBOS = a.Payload[5] != 0
		case AttrIPv4:
			if len(a.Payload) != 11 {
				return fmt.Errorf("flowkey: bad ipv4 attr length %d", len(a.Payload))
			}
			k.IPVersion = 4
			copy(k.IPSrc[12:16], a.Payload[0:4])
			copy(k.IPDst[12:16], a.Payload[4:8])
			k.IPProto = a.Payload[8]
			k.IPTos = a.Payload[9]
			k.IPTTL = a.Payload[10]
		case AttrIPv6:
			if len(a.Payload) != 39 {
				return fmt.Errorf("flowkey: bad ipv6 attr length %d", len(a.Payload))
			}
			k.IPVersion = 6
			copy(k.IPSrc[:], a.Payload[0:16])
			copy(k.IPDst[:], a.Payload[16:32])
			k.IPProto = a.Payload[32]
			k.IPTos = a.Payload[33]
			k.IPTTL = a.Payload[34]
			k.IPv6Flow = binary.BigEndian.Uint32(a.Payload[35:39])
		case AttrARP:
			if len(a.Payload) != 22 {
				return fmt.Errorf("flowkey: bad arp attr length %d", len(a.Payload))
			}
			haveARP = true
			k.ARPOp = binary.BigEndian.Uint16(a.Payload[0:2])
			copy(k.ARPSHA[:], a.Payload[2:8])
			copy(k.ARPSPA[:], a.Payload[8:12])
			copy(k.ARPTHA[:], a.Payload[12:18])
			copy(k.ARPTPA[:], a.Payload[18:22])
		case AttrTCP:
			if len(a.Payload) != 5 {
				return fmt.Errorf("flowkey: bad tcp attr length %d", len(a.Payload))
			}
			haveTCP = true
			k.TCPSrc = binary.BigEndian.Uint16(a.Payload[0:2])
			k.TCPDst = binary.BigEndian.Uint16(a.Payload[2:4])
			k.TCPFlags = a.Payload[4]
		case AttrUDP:
			if len(a.Payload) != 4 {
				return fmt.Errorf("flowkey: bad udp attr length %d", len(a.Payload))
			}
			haveUDP = true
			k.UDPSrc = binary.BigEndian.Uint16(a.Payload[0:2])
			k.UDPDst = binary.BigEndian.Uint16(a.Payload[2:4])
		case AttrICMP:
			if len(a.Payload) != 2 {
				return fmt.Errorf("flowkey: bad icmp attr length %d", len(a.Payload))
			}
			k.ICMPType = a.Payload[0]
			k.ICMPCode = a.Payload[1]
		default:
			return fmt.Errorf("flowkey: unknown key attribute type %d", a.Type)
		}
		return nil
	})
	if err != nil {
		return Key{}, err
	}
	if k.IPProto == 6 && !haveTCP {
		return Key{}, fmt.Errorf("flowkey: ip_proto tcp without tcp attribute")
	}
	if k.IPProto == 17 && !haveUDP {
		return Key{}, fmt.Errorf("flowkey: ip_proto udp without udp attribute")
	}
	if k.EthType == 0x0806 && !haveARP {
		return Key{}, fmt.Errorf("flowkey: eth_type arp without arp attribute")
	}
	return k, nil
}
