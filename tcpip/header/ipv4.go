package header

import (
	"encoding/binary"
	"fmt"

	"github.com/impact-eintr/ipstack/tcpip"
)

/*                                                                 _
|Version 4b|IHL 4b|Type of Service 8b|    Total Length 16b       |
 ----------------------------------------------------------------
|           fragment ID 16b          |R|DF|MF|Fragment Offset 13b|
 ----------------------------------------------------------------
|     TTL 8b      |    Protocol 8b   |   Header Checksum 16b     | 20 bytes
 ----------------------------------------------------------------
|                      Source IP Address 32b                     |
 ----------------------------------------------------------------
|                  Destination IP Address 32b                    | _
 ----------------------------------------------------------------
|               Options                           |    Padding   |
*/

const (
	versIHL  = 0
	tos      = 1
	totalLen = 2
	ident    = 4
	flagsFO  = 6
	ttl      = 8
	protocol = 9
	checksum = 10
	srcAddr  = 12
	dstAddr  = 16
)

// IPv4Fields 表示IPv4首部各字段的结构体
type IPv4Fields struct {
	// IHL is the "internet header length" field of an IPv4 packet.
	IHL uint8

	// TOS is the "type of service" field of an IPv4 packet.
	TOS uint8

	// TotalLength is the "total length" field of an IPv4 packet.
	TotalLength uint16

	// ID is the "identification" field of an IPv4 packet.
	// 同一个报文的所有分片共享这个ID
	ID uint16

	// Flags is the "flags" field of an IPv4 packet.
	Flags uint8

	// FragmentOffset is the "fragment offset" field of an IPv4 packet.
	FragmentOffset uint16

	// TTL is the "time to live" field of an IPv4 packet.
	TTL uint8

	// Protocol is the "protocol" field of an IPv4 packet.
	Protocol uint8

	// Checksum is the "checksum" field of an IPv4 packet.
	Checksum uint16

	// SrcAddr is the "source ip address" of an IPv4 packet.
	SrcAddr tcpip.Address

	// DstAddr is the "destination ip address" of an IPv4 packet.
	DstAddr tcpip.Address
}

// IPv4 表示一段IPv4报文的字节切片
type IPv4 []byte

const (
	// IPv4MinimumSize is the minimum size of a valid IPv4 packet.
	IPv4MinimumSize = 20

	// IPv4MaximumHeaderSize is the maximum size of an IPv4 header. Given
	// that there are only 4 bits to represent the header length in 32-bit
	// units, the header cannot exceed 15*4 = 60 bytes.
	IPv4MaximumHeaderSize = 60

	// IPv4AddressSize is the size, in bytes, of an IPv4 address.
	IPv4AddressSize = 4

	// IPv4ProtocolNumber is IPv4's network protocol number.
	IPv4ProtocolNumber tcpip.NetworkProtocolNumber = 0x0800

	// IPv4Version is the version of the ipv4 protocol.
	IPv4Version = 4

	// IPv4Broadcast is the broadcast address of the IPv4 protocol.
	IPv4Broadcast tcpip.Address = "\xff\xff\xff\xff"

	// IPv4Any is the non-routable IPv4 "any" meta address.
	IPv4Any tcpip.Address = "\x00\x00\x00\x00"
)

// Flags that may be set in an IPv4 packet.
const (
	IPv4FlagMoreFragments = 1 << iota
	IPv4FlagDontFragment
)

// TTLProto 把IPv4的TTL和协议号打包进一个16位值
// 高8位是TTL 低8位是协议号 与IPv4首部第8/9字节的布局完全一致
// 这样它可以直接折叠进首部构造 任何其他打包方式都会破坏下游的约定
type TTLProto uint16

// MakeTTLProto packs separate TTL and protocol values.
func MakeTTLProto(ttl, proto uint8) TTLProto {
	return TTLProto(uint16(ttl)<<8 | uint16(proto))
}

// TTL returns the TTL.
func (tp TTLProto) TTL() uint8 {
	return uint8(tp >> 8)
}

// Proto returns the protocol number.
func (tp TTLProto) Proto() uint8 {
	return uint8(tp)
}

// IPVersion 返回报文的IP版本号 报文太短时返回-1
func IPVersion(b []byte) int {
	if len(b) < versIHL+1 {
		return -1
	}
	return int(b[versIHL] >> 4)
}

// HeaderLength 首部长度字段的单位是32位字 这里换算成字节数返回
func (b IPv4) HeaderLength() uint8 {
	return (b[versIHL] & 0xf) * 4
}

// ID returns the value of the identifier field of the ipv4 header.
func (b IPv4) ID() uint16 {
	return binary.BigEndian.Uint16(b[ident:])
}

// Protocol returns the value of the protocol field of the ipv4 header.
func (b IPv4) Protocol() uint8 {
	return b[protocol]
}

// Flags returns the "flags" field of the ipv4 header.
func (b IPv4) Flags() uint8 {
	return uint8(binary.BigEndian.Uint16(b[flagsFO:]) >> 13)
}

// TTL returns the "TTL" field of the ipv4 header.
func (b IPv4) TTL() uint8 {
	return b[ttl]
}

// FragmentOffset returns the "fragment offset" field of the ipv4 header.
func (b IPv4) FragmentOffset() uint16 {
	return (binary.BigEndian.Uint16(b[flagsFO:]) & 0x1fff) << 3
}

// TotalLength returns the "total length" field of the ipv4 header.
func (b IPv4) TotalLength() uint16 {
	return binary.BigEndian.Uint16(b[totalLen:])
}

// Checksum returns the checksum field of the ipv4 header.
func (b IPv4) Checksum() uint16 {
	return binary.BigEndian.Uint16(b[checksum:])
}

// SourceAddress returns the "source address" field of the ipv4 header.
func (b IPv4) SourceAddress() tcpip.Address {
	return tcpip.Address(b[srcAddr : srcAddr+IPv4AddressSize])
}

// DestinationAddress returns the "destination address" field of the ipv4
// header.
func (b IPv4) DestinationAddress() tcpip.Address {
	return tcpip.Address(b[dstAddr : dstAddr+IPv4AddressSize])
}

// TTLProto 把首部的TTL和协议号按原布局读出来
func (b IPv4) TTLProto() TTLProto {
	return TTLProto(binary.BigEndian.Uint16(b[ttl:]))
}

// TransportProtocol 返回报文承载的传输层协议号
func (b IPv4) TransportProtocol() tcpip.TransportProtocolNumber {
	return tcpip.TransportProtocolNumber(b.Protocol())
}

// Payload 返回首部之后的数据部分
func (b IPv4) Payload() []byte {
	return b[b.HeaderLength():][:b.PayloadLength()]
}

// PayloadLength returns the length of the payload portion of the ipv4 packet.
func (b IPv4) PayloadLength() uint16 {
	return b.TotalLength() - uint16(b.HeaderLength())
}

// SetTotalLength sets the "total length" field of the ipv4 header.
func (b IPv4) SetTotalLength(totalLength uint16) {
	binary.BigEndian.PutUint16(b[totalLen:], totalLength)
}

// SetChecksum sets the checksum field of the ipv4 header.
func (b IPv4) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(b[checksum:], v)
}

// SetFlagsFragmentOffset sets the "flags" and "fragment offset" fields of the
// ipv4 header.
func (b IPv4) SetFlagsFragmentOffset(flags uint8, offset uint16) {
	v := (uint16(flags) << 13) | (offset >> 3)
	binary.BigEndian.PutUint16(b[flagsFO:], v)
}

// SetSourceAddress sets the "source address" field of the ipv4 header.
func (b IPv4) SetSourceAddress(addr tcpip.Address) {
	copy(b[srcAddr:srcAddr+IPv4AddressSize], addr)
}

// SetDestinationAddress sets the "destination address" field of the ipv4
// header.
func (b IPv4) SetDestinationAddress(addr tcpip.Address) {
	copy(b[dstAddr:dstAddr+IPv4AddressSize], addr)
}

// CalculateChecksum calculates the checksum of the ipv4 header.
func (b IPv4) CalculateChecksum() uint16 {
	return Checksum(b[:b.HeaderLength()], 0)
}

// CalculatePartialChecksum 计算不含total length、ID和checksum字段的部分校验和
// 这三个字段每个报文都不一样 其余字段对发往同一个目的的报文是不变的
// 所以这个部分和可以算一次后反复使用
func (b IPv4) CalculatePartialChecksum() uint16 {
	xsum := Checksum(b[versIHL:totalLen], 0)
	xsum = Checksum(b[flagsFO:checksum], xsum)
	return Checksum(b[srcAddr:b.HeaderLength()], xsum)
}

// EncodePartial 写入total length和ID 再用预先算好的部分和补完校验和
// partialChecksum必须出自CalculatePartialChecksum 且其余首部字段已经编码完毕
func (b IPv4) EncodePartial(partialChecksum, totalLength, id uint16) {
	b.SetTotalLength(totalLength)
	binary.BigEndian.PutUint16(b[ident:], id)
	xsum := Checksum(b[totalLen:totalLen+2], partialChecksum)
	xsum = Checksum(b[ident:ident+2], xsum)
	b.SetChecksum(^xsum)
}

// Encode encodes all the fields of the ipv4 header.
func (b IPv4) Encode(i *IPv4Fields) {
	b[versIHL] = (IPv4Version << 4) | ((i.IHL / 4) & 0xf)
	b[tos] = i.TOS
	b.SetTotalLength(i.TotalLength)
	binary.BigEndian.PutUint16(b[ident:], i.ID)
	b.SetFlagsFragmentOffset(i.Flags, i.FragmentOffset)
	b[ttl] = i.TTL
	b[protocol] = i.Protocol
	b.SetChecksum(i.Checksum)
	copy(b[srcAddr:srcAddr+IPv4AddressSize], i.SrcAddr)
	copy(b[dstAddr:dstAddr+IPv4AddressSize], i.DstAddr)
}

// IsValid performs basic validation on the packet.
func (b IPv4) IsValid(pktSize int) bool {
	if len(b) < IPv4MinimumSize {
		return false
	}

	hlen := int(b.HeaderLength())
	tlen := int(b.TotalLength())
	if hlen < IPv4MinimumSize || hlen > tlen || tlen > pktSize {
		return false
	}

	return true
}

// IsV4MulticastAddress determines if the provided address is an IPv4 multicast
// address (range 224.0.0.0 to 239.255.255.255). The four most significant bits
// will be 1110 = 0xe0.
func IsV4MulticastAddress(addr tcpip.Address) bool {
	if len(addr) != IPv4AddressSize {
		return false
	}
	return (addr[0] & 0xf0) == 0xe0
}

// String implements fmt.Stringer.String.
func (b IPv4) String() string {
	return fmt.Sprintf("ipv4 %s -> %s ttl=%d proto=%d len=%d id=%d flags=%#x",
		b.SourceAddress(), b.DestinationAddress(), b.TTL(), b.Protocol(),
		b.TotalLength(), b.ID(), b.Flags())
}
