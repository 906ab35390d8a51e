package action

import "encoding/binary"

// ethTypeVLAN and ethTypeVLANQinQ are the TPIDs recognized as 802.1Q tags.
const (
	ethTypeVLAN     = 0x8100
	ethTypeVLANQinQ = 0x88a8
	ethTypeMPLSUC   = 0x8847
	ethTypeMPLSMC   = 0x8848
	ethTypeIPv4     = 0x0800
	ethTypeIPv6     = 0x86dd
)

// locus describes where, in the current frame bytes, the L2/L3/L4 headers
// begin. It is recomputed on demand: frames are small, so this is cheaper
// and far less error-prone than maintaining it incrementally across
// mutations.
type locus struct {
	ethTypeOff int // offset of the 2-byte field carrying the "current" ethertype
	ethType    uint16
	l3Off      int
	ipProto    uint8
	l4Off      int
	haveL4     bool
}

func locate(data []byte) locus {
	var lo locus
	if len(data) < 14 {
		return lo
	}
	lo.ethTypeOff = 12
	lo.ethType = binary.BigEndian.Uint16(data[12:14])
	off := 14
	if lo.ethType == ethTypeVLAN || lo.ethType == ethTypeVLANQinQ {
		if len(data) < off+4 {
			return lo
		}
		lo.ethTypeOff = off + 2
		lo.ethType = binary.BigEndian.Uint16(data[off+2 : off+4])
		off += 4
	}
	lo.l3Off = off

	switch lo.ethType {
	case ethTypeIPv4:
		if len(data) < off+20 {
			return lo
		}
		lo.ipProto = data[off+9]
		ihl := int(data[off]&0x0f) * 4
		lo.l4Off = off + ihl
		lo.haveL4 = len(data) >= lo.l4Off
	case ethTypeIPv6:
		if len(data) < off+40 {
			return lo
		}
		lo.ipProto = data[off+6]
		lo.l4Off = off + 40
		lo.haveL4 = len(data) >= lo.l4Off
	}
	return lo
}

// pushVLAN inserts a 4-byte 802.1Q tag carrying tci right after the
// Ethernet addresses, shifting everything from offset 12 onward back by
// four bytes. It does not inspect whether a tag is already present:
// repeated pushes stack tags outermost-first, matching real 802.1Q
// double-tagging.
func pushVLAN(data []byte, tci uint16) []byte {
	out := make([]byte, len(data)+4)
	copy(out, data[:12])
	binary.BigEndian.PutUint16(out[12:14], ethTypeVLAN)
	binary.BigEndian.PutUint16(out[14:16], tci)
	copy(out[18:], data[12:])
	return out
}

// popVLAN removes the outermost 802.1Q tag, if present; no-op otherwise.
func popVLAN(data []byte) []byte {
	if len(data) < 18 {
		return data
	}
	et := binary.BigEndian.Uint16(data[12:14])
	if et != ethTypeVLAN && et != ethTypeVLANQinQ {
		return data
	}
	out := make([]byte, len(data)-4)
	copy(out, data[:12])
	copy(out[12:], data[16:])
	return out
}

// vlanTCI returns the current outermost VLAN TCI and whether one is
// present.
func vlanTCI(data []byte) (uint16, bool) {
	if len(data) < 16 {
		return 0, false
	}
	et := binary.BigEndian.Uint16(data[12:14])
	if et != ethTypeVLAN && et != ethTypeVLANQinQ {
		return 0, false
	}
	return binary.BigEndian.Uint16(data[14:16]), true
}

// pushMPLS inserts a 4-byte label stack entry immediately before the
// current L3 header (after any VLAN tag) and rewrites the preceding
// ethertype field to ethertype (0x8847 unicast / 0x8848 multicast).
func pushMPLS(data []byte, ethertype uint16, lse uint32) []byte {
	lo := locate(data)
	if lo.l3Off == 0 {
		return data
	}
	out := make([]byte, len(data)+4)
	copy(out, data[:lo.l3Off])
	binary.BigEndian.PutUint16(out[lo.ethTypeOff:lo.ethTypeOff+2], ethertype)
	binary.BigEndian.PutUint32(out[lo.l3Off:lo.l3Off+4], lse)
	copy(out[lo.l3Off+4:], data[lo.l3Off:])
	return out
}

// popMPLS removes the outermost label stack entry if the current
// ethertype is an MPLS one, restoring ethertype as the new ethertype
// field; no-op if there is no MPLS entry present.
func popMPLS(data []byte, ethertype uint16) []byte {
	lo := locate(data)
	if lo.ethType != ethTypeMPLSUC && lo.ethType != ethTypeMPLSMC {
		return data
	}
	if len(data) < lo.l3Off+4 {
		return data
	}
	out := make([]byte, len(data)-4)
	copy(out, data[:lo.l3Off])
	binary.BigEndian.PutUint16(out[lo.ethTypeOff:lo.ethTypeOff+2], ethertype)
	copy(out[lo.l3Off:], data[lo.l3Off+4:])
	return out
}

func mplsLabel(data []byte) (uint32, bool) {
	lo := locate(data)
	if lo.ethType != ethTypeMPLSUC && lo.ethType != ethTypeMPLSMC {
		return 0, false
	}
	if len(data) < lo.l3Off+4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data[lo.l3Off : lo.l3Off+4]), true
}

func setMPLSLabel(data []byte, lse uint32) {
	lo := locate(data)
	if lo.ethType != ethTypeMPLSUC && lo.ethType != ethTypeMPLSMC {
		return
	}
	if len(data) < lo.l3Off+4 {
		return
	}
	binary.BigEndian.PutUint32(data[lo.l3Off:lo.l3Off+4], lse)
}
