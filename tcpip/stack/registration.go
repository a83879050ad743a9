package stack

import (
	"sync"

	"github.com/impact-eintr/ipstack/tcpip"
	"github.com/impact-eintr/ipstack/tcpip/buffer"
	"github.com/impact-eintr/ipstack/tcpip/header"
)

// LinkEndpointCapabilities 链路层设备支持的能力集
type LinkEndpointCapabilities uint

const (
	CapabilityChecksumOffload LinkEndpointCapabilities = 1 << iota
	CapabilityLoopback
)

// ====================链路层相关==============================

// LinkEndpoint 链路层设备接口 对于网卡来说io就是收发数据
// 接收意味着解封装并上交网络层 发送意味着封装并写入设备
type LinkEndpoint interface {
	// MTU 此设备单个帧能承载的最大字节数
	MTU() uint32

	// Capabilities 返回设备支持的能力集
	Capabilities() LinkEndpointCapabilities

	// MaxHeaderLength 返回链路层头部可能的最大长度
	// 上层用它来为正在构造的报文预留头部空间
	MaxHeaderLength() uint16

	// LinkAddress 本地链路层地址
	LinkAddress() tcpip.LinkAddress

	// WritePacket 把一个网络层报文封装后写入设备
	WritePacket(r *Route, hdr buffer.Prependable, payload buffer.VectorisedView,
		protocol tcpip.NetworkProtocolNumber) *tcpip.Error

	// Attach 把设备接到协议栈的网络层调度程序上
	Attach(dispatcher NetworkDispatcher)

	// IsAttached 是否已经接上了调度程序
	IsAttached() bool
}

// NetworkDispatcher 由NIC实现 链路层设备通过它把收到的报文交给网络层
type NetworkDispatcher interface {
	DeliverNetworkPacket(linkEP LinkEndpoint, dstLinkAddr, srcLinkAddr tcpip.LinkAddress,
		protocol tcpip.NetworkProtocolNumber, vv buffer.VectorisedView)
}

// DriverState 网卡驱动上报给协议栈的链路状态
// 由驱动推送 协议栈只读 不保留历史
type DriverState struct {
	// LinkUp 链路是否已经起来了
	LinkUp bool
}

// ==============================网络层相关==============================

// NetworkProtocol 网络层协议的实现入口 比如ipv4
type NetworkProtocol interface {
	// Number 网络层协议号
	Number() tcpip.NetworkProtocolNumber

	// MinimumPacketSize returns the minimum valid packet size of this
	// network protocol. The stack automatically drops any packets smaller
	// than this targeted at this protocol.
	MinimumPacketSize() int

	// ParseAddresses returns the source and destination addresses stored
	// in a packet of this protocol.
	ParseAddresses(v buffer.View) (src, dst tcpip.Address)

	// NewEndpoint 在一块网卡上新建一个该协议的网络层端
	NewEndpoint(nicid tcpip.NICID, dispatcher TransportDispatcher,
		sender LinkEndpoint) (NetworkEndpoint, *tcpip.Error)
}

// NetworkEndpoint 网络层协议在单块网卡上的实现端
type NetworkEndpoint interface {
	// DefaultTTL is the default time-to-live value for this endpoint.
	DefaultTTL() uint8

	// MTU is the maximum transmission unit for this endpoint. This is
	// generally calculated as the MTU of the underlying data link endpoint
	// minus the network endpoint max header length.
	MTU() uint32

	// Capabilities returns the set of capabilities supported by the
	// underlying link-layer endpoint.
	Capabilities() LinkEndpointCapabilities

	// MaxHeaderLength returns the maximum size the network (and lower
	// level layers combined) headers can have.
	MaxHeaderLength() uint16

	// WritePacket 构造首部并把报文交给链路层
	// 源地址取r.LocalAddress 目的地址取r.RemoteAddress
	WritePacket(r *Route, hdr buffer.Prependable, payload buffer.VectorisedView,
		ttlProto header.TTLProto, flags tcpip.SendFlags) *tcpip.Error

	// PreparePacket 对发往同一目的的报文不变的那部分首部字段预先累加校验和
	// 返回的部分和只有配合WritePreparedPacket才有意义 外部不应解读它
	PreparePacket(r *Route, ttlProto header.TTLProto, flags tcpip.SendFlags) uint16

	// WritePreparedPacket 用预先算好的部分校验和补完首部并发送
	// 不重复对不变字段求和 其余行为与WritePacket一致
	WritePreparedPacket(r *Route, hdr buffer.Prependable, payload buffer.VectorisedView,
		ttlProto header.TTLProto, flags tcpip.SendFlags, partialChecksum uint16) *tcpip.Error

	// HandlePacket is called by the link layer when new packets arrive to
	// this network endpoint.
	HandlePacket(r *Route, vv buffer.VectorisedView)

	// NICID returns the id of the NIC this endpoint belongs to.
	NICID() tcpip.NICID

	// Close is called when the endpoint is removed from a stack.
	Close()
}

// ==============================传输层相关==============================

// RxInfoIP4 描述一个收到的IPv4报文 由协议栈组装后连同载荷交给传输层处理器
// 处理器只读 并且这条记录在本次调用返回之后就失效了 不要保留它
type RxInfoIP4 struct {
	// SrcAddr 报文的源地址
	SrcAddr tcpip.Address

	// DstAddr 报文的目的地址
	DstAddr tcpip.Address

	// TTLProto 首部中TTL和协议号两个字段的原样打包
	TTLProto header.TTLProto

	// NIC 收到报文的网卡 非拥有引用
	NIC *NIC

	// HeaderLen IPv4首部的字节长度
	HeaderLen uint8
}

// DestUnreachMeta ICMP destination unreachable报文的上下文
// 解析出来后在同一次调用内交给处理器消费
type DestUnreachMeta struct {
	// Code ICMP的code字段 比如ICMPv4FragmentationNeeded
	Code uint8

	// Rest 首部rest of header部分的原样拷贝
	Rest [4]byte
}

// TransportHandler 传输层协议处理器 按IP协议号注册到协议栈
type TransportHandler interface {
	// HandlePacket 收到一个匹配本协议的报文 rx只在本次调用内有效
	HandlePacket(rx RxInfoIP4, vv buffer.VectorisedView)

	// HandleControlPacket 本处理器之前发出的某个报文触发了ICMP错误
	// rx描述的是ICMP报文里携带的那个原始报文 vv是原始报文的载荷片段
	HandleControlPacket(rx RxInfoIP4, meta DestUnreachMeta, vv buffer.VectorisedView)
}

// TransportDispatcher 由NIC实现 网络层端通过它向传输层分发报文
type TransportDispatcher interface {
	// DeliverTransportPacket delivers packets to the appropriate
	// transport protocol handler.
	DeliverTransportPacket(rx RxInfoIP4, vv buffer.VectorisedView)

	// DeliverTransportControlPacket delivers control packets to the
	// appropriate transport protocol handler.
	DeliverTransportControlPacket(rx RxInfoIP4, meta DestUnreachMeta, vv buffer.VectorisedView)
}

// NetworkProtocolFactory 网络层实现工厂
type NetworkProtocolFactory func() NetworkProtocol

var (
	// 网络层协议的注册表 在各实现包的init函数中填充
	networkProtocols = make(map[string]NetworkProtocolFactory)

	linkEPMu           sync.RWMutex
	nextLinkEndpointID tcpip.LinkEndpointID = 1
	linkEndpoints                           = make(map[tcpip.LinkEndpointID]LinkEndpoint)
)

// RegisterNetworkProtocolFactory 注册一个新的网络层协议工厂
func RegisterNetworkProtocolFactory(name string, p NetworkProtocolFactory) {
	networkProtocols[name] = p
}

// RegisterLinkEndpoint 注册一个链路层设备 返回它的设备号
func RegisterLinkEndpoint(linkEP LinkEndpoint) tcpip.LinkEndpointID {
	linkEPMu.Lock()
	defer linkEPMu.Unlock()

	v := nextLinkEndpointID
	nextLinkEndpointID++

	linkEndpoints[v] = linkEP

	return v
}

// FindLinkEndpoint 根据设备号找到已注册的设备
func FindLinkEndpoint(id tcpip.LinkEndpointID) LinkEndpoint {
	linkEPMu.RLock()
	defer linkEPMu.RUnlock()

	return linkEndpoints[id]
}
