package header

import (
	"encoding/binary"

	"github.com/impact-eintr/ipstack/tcpip"
)

/*
 0                   1                   2                   3
 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|     Type      |     Code      |          Checksum             |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                     Rest of Header 32b                        |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/

// ICMPv4 represents an ICMPv4 header stored in a byte slice.
type ICMPv4 []byte

const (
	// ICMPv4MinimumSize is the minimum size of a valid ICMP packet.
	ICMPv4MinimumSize = 4

	// ICMPv4EchoMinimumSize is the minimum size of a valid ICMP echo packet.
	ICMPv4EchoMinimumSize = 6

	// ICMPv4DstUnreachableMinimumSize is the minimum size of a valid ICMP
	// destination unreachable packet. 首部4字节加上rest of header 4字节
	ICMPv4DstUnreachableMinimumSize = ICMPv4MinimumSize + 4

	// ICMPv4ProtocolNumber is the ICMP transport protocol number.
	ICMPv4ProtocolNumber tcpip.TransportProtocolNumber = 1
)

// ICMPv4Type is the ICMP type field described in RFC 792.
type ICMPv4Type byte

// ICMP packet types.
const (
	ICMPv4EchoReply      ICMPv4Type = 0
	ICMPv4DstUnreachable ICMPv4Type = 3
	ICMPv4Echo           ICMPv4Type = 8
)

// destination unreachable的各种code
const (
	ICMPv4NetUnreachable      = 0
	ICMPv4HostUnreachable     = 1
	ICMPv4ProtoUnreachable    = 2
	ICMPv4PortUnreachable     = 3
	ICMPv4FragmentationNeeded = 4
)

// Type is the ICMP type field.
func (b ICMPv4) Type() ICMPv4Type {
	return ICMPv4Type(b[0])
}

// SetType sets the ICMP type field.
func (b ICMPv4) SetType(t ICMPv4Type) {
	b[0] = byte(t)
}

// Code is the ICMP code field. Its meaning depends on the value of Type.
func (b ICMPv4) Code() byte {
	return b[1]
}

// SetCode sets the ICMP code field.
func (b ICMPv4) SetCode(c byte) {
	b[1] = c
}

// Checksum is the ICMP checksum field.
func (b ICMPv4) Checksum() uint16 {
	return binary.BigEndian.Uint16(b[2:])
}

// SetChecksum sets the ICMP checksum field.
func (b ICMPv4) SetChecksum(checksum uint16) {
	binary.BigEndian.PutUint16(b[2:], checksum)
}

// RestOfHeader 返回首部4字节之后的rest of header部分
// 只有报文长度达到ICMPv4DstUnreachableMinimumSize时才能调用
func (b ICMPv4) RestOfHeader() []byte {
	return b[ICMPv4MinimumSize:ICMPv4DstUnreachableMinimumSize]
}

// MTU 对于fragmentation needed报文 rest of header的低16位是下一跳MTU
func (b ICMPv4) MTU() uint16 {
	return binary.BigEndian.Uint16(b[ICMPv4DstUnreachableMinimumSize-2:])
}
