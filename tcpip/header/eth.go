package header

import (
	"encoding/binary"

	"github.com/impact-eintr/ipstack/tcpip"
)

const (
	dstMAC  = 0
	srcMAC  = 6
	ethType = 12
)

// EthernetFields 表示以太网帧头部的各字段
type EthernetFields struct {
	// SrcAddr 源MAC地址
	SrcAddr tcpip.LinkAddress

	// DstAddr 目标MAC地址
	DstAddr tcpip.LinkAddress

	// Type 载荷的协议类型 0x0800表示IPv4
	Type tcpip.NetworkProtocolNumber
}

// Ethernet 表示一段以太网帧的字节切片
type Ethernet []byte

const (
	// EthernetMinimumSize 以太网帧头部的长度 6 + 6 + 2
	EthernetMinimumSize = 14

	// EthernetAddressSize 以太网地址的长度
	EthernetAddressSize = 6
)

// SourceAddress 从帧头部中得到源地址
func (b Ethernet) SourceAddress() tcpip.LinkAddress {
	return tcpip.LinkAddress(b[srcMAC:][:EthernetAddressSize])
}

// DestinationAddress 从帧头部中得到目的地址
func (b Ethernet) DestinationAddress() tcpip.LinkAddress {
	return tcpip.LinkAddress(b[dstMAC:][:EthernetAddressSize])
}

// Type 从帧头部中得到协议类型
func (b Ethernet) Type() tcpip.NetworkProtocolNumber {
	return tcpip.NetworkProtocolNumber(binary.BigEndian.Uint16(b[ethType:]))
}

// Encode 根据传入的字段编码帧头部 Ethernet应当已经分配好内存
func (b Ethernet) Encode(e *EthernetFields) {
	binary.BigEndian.PutUint16(b[ethType:], uint16(e.Type))
	copy(b[srcMAC:][:EthernetAddressSize], e.SrcAddr)
	copy(b[dstMAC:][:EthernetAddressSize], e.DstAddr)
}
