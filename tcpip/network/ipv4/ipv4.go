// Package ipv4 contains the implementation of the ipv4 network protocol. To
// use it in the networking stack, this package must be added to the list of
// network protocols when a stack is created.
package ipv4

import (
	"sync/atomic"

	"github.com/impact-eintr/ipstack/logger"
	"github.com/impact-eintr/ipstack/tcpip"
	"github.com/impact-eintr/ipstack/tcpip/buffer"
	"github.com/impact-eintr/ipstack/tcpip/header"
	"github.com/impact-eintr/ipstack/tcpip/network/hash"
	"github.com/impact-eintr/ipstack/tcpip/stack"
)

const (
	// ProtocolName is the string representation of the ipv4 protocol name.
	ProtocolName = "ipv4"

	// ProtocolNumber is the ipv4 protocol number.
	ProtocolNumber = header.IPv4ProtocolNumber

	// maxTotalSize IPv4报文总长字段只有16位
	maxTotalSize = 0xffff

	// buckets 报文ID计数器的分桶数
	buckets = 2048
)

type endpoint struct {
	nicid      tcpip.NICID
	linkEP     stack.LinkEndpoint
	dispatcher stack.TransportDispatcher
}

func newEndpoint(nicid tcpip.NICID, dispatcher stack.TransportDispatcher,
	linkEP stack.LinkEndpoint) *endpoint {
	return &endpoint{
		nicid:      nicid,
		linkEP:     linkEP,
		dispatcher: dispatcher,
	}
}

// DefaultTTL is the default time-to-live value for this endpoint.
func (e *endpoint) DefaultTTL() uint8 {
	return 255
}

// MTU 网络层能承载的最大载荷 即链路MTU去掉IPv4首部
func (e *endpoint) MTU() uint32 {
	return calculateMTU(e.linkEP.MTU())
}

// Capabilities returns the underlying link-layer capabilities.
func (e *endpoint) Capabilities() stack.LinkEndpointCapabilities {
	return e.linkEP.Capabilities()
}

// NICID returns the ID of the NIC this endpoint belongs to.
func (e *endpoint) NICID() tcpip.NICID {
	return e.nicid
}

// MaxHeaderLength returns the maximum length needed by ipv4 headers (and
// underlying protocols).
func (e *endpoint) MaxHeaderLength() uint16 {
	return e.linkEP.MaxHeaderLength() + header.IPv4MinimumSize
}

// encodeHeader 在hdr里预留并编码一个IPv4首部
// totalLength和id按参数写入 校验和字段保持为0
func (e *endpoint) encodeHeader(r *stack.Route, hdr *buffer.Prependable,
	ttlProto header.TTLProto, flags tcpip.SendFlags, totalLength, id uint16) header.IPv4 {

	var hdrFlags uint8
	if flags&tcpip.DontFragment != 0 {
		hdrFlags |= header.IPv4FlagDontFragment
	}

	ip := header.IPv4(hdr.Prepend(header.IPv4MinimumSize))
	ip.Encode(&header.IPv4Fields{
		IHL:         header.IPv4MinimumSize,
		TotalLength: totalLength,
		ID:          id,
		Flags:       hdrFlags,
		TTL:         ttlProto.TTL(),
		Protocol:    ttlProto.Proto(),
		SrcAddr:     r.LocalAddress,
		DstAddr:     r.RemoteAddress,
	})
	return ip
}

// packetID 为一个即将发出的报文取ID
// 足够小的报文在路径上不可能被分片 它们的ID恒为0 省掉一次计数
func packetID(r *stack.Route, proto uint8, totalLength uint16) uint16 {
	if totalLength <= header.IPv4MaximumHeaderSize+8 {
		return 0
	}
	return uint16(atomic.AddUint32(&ids[hashRoute(r, proto)%buckets], 1))
}

// WritePacket writes a packet to the given destination address and protocol.
func (e *endpoint) WritePacket(r *stack.Route, hdr buffer.Prependable,
	payload buffer.VectorisedView, ttlProto header.TTLProto,
	flags tcpip.SendFlags) *tcpip.Error {

	length := uint16(hdr.UsedLength() + payload.Size() + header.IPv4MinimumSize)
	id := packetID(r, ttlProto.Proto(), length)

	ip := e.encodeHeader(r, &hdr, ttlProto, flags, length, id)
	ip.SetChecksum(^ip.CalculateChecksum())

	logger.GetInstance().Debugf(logger.SEND, "nic %d sending %s", e.nicid, ip)
	return e.linkEP.WritePacket(r, hdr, payload, ProtocolNumber)
}

// PreparePacket 对首部不变的字段预先累加校验和
// 用一个栈上的草稿首部编码一遍 再对可变字段之外的部分求和
func (e *endpoint) PreparePacket(r *stack.Route, ttlProto header.TTLProto,
	flags tcpip.SendFlags) uint16 {

	hdr := buffer.NewPrependable(header.IPv4MinimumSize)
	ip := e.encodeHeader(r, &hdr, ttlProto, flags, 0, 0)
	return ip.CalculatePartialChecksum()
}

// WritePreparedPacket 行为与WritePacket一致 但用部分校验和补完首部
// 不重复对不变字段求和
func (e *endpoint) WritePreparedPacket(r *stack.Route, hdr buffer.Prependable,
	payload buffer.VectorisedView, ttlProto header.TTLProto,
	flags tcpip.SendFlags, partialChecksum uint16) *tcpip.Error {

	length := uint16(hdr.UsedLength() + payload.Size() + header.IPv4MinimumSize)
	id := packetID(r, ttlProto.Proto(), length)

	ip := e.encodeHeader(r, &hdr, ttlProto, flags, 0, 0)
	ip.EncodePartial(partialChecksum, length, id)

	logger.GetInstance().Debugf(logger.SEND, "nic %d sending %s", e.nicid, ip)
	return e.linkEP.WritePacket(r, hdr, payload, ProtocolNumber)
}

// HandlePacket is called by the link layer when new ipv4 packets arrive for
// this endpoint.
func (e *endpoint) HandlePacket(r *stack.Route, vv buffer.VectorisedView) {
	h := header.IPv4(vv.First())
	if !h.IsValid(vv.Size()) {
		logger.GetInstance().Debugf(logger.IP, "nic %d dropping invalid packet", e.nicid)
		return
	}

	hlen := int(h.HeaderLength())
	tlen := int(h.TotalLength())
	vv.TrimFront(hlen)
	vv.CapLength(tlen - hlen)

	// 不支持重组 分片直接丢弃
	if h.FragmentOffset() != 0 || h.Flags()&header.IPv4FlagMoreFragments != 0 {
		logger.GetInstance().Debugf(logger.IP, "nic %d dropping fragment from %s",
			e.nicid, h.SourceAddress())
		return
	}

	rx := stack.RxInfoIP4{
		SrcAddr:   h.SourceAddress(),
		DstAddr:   h.DestinationAddress(),
		TTLProto:  h.TTLProto(),
		NIC:       r.NIC(),
		HeaderLen: h.HeaderLength(),
	}

	if h.TransportProtocol() == header.ICMPv4ProtocolNumber {
		e.handleICMP(r, rx, vv)
		return
	}
	e.dispatcher.DeliverTransportPacket(rx, vv)
}

// Close cleans up resources associated with the endpoint.
func (e *endpoint) Close() {}

type protocol struct{}

// NewProtocol creates an ipv4 protocol descriptor. Regular use of the
// protocol is by passing ProtocolName to stack.New.
func NewProtocol() stack.NetworkProtocol {
	return &protocol{}
}

// Number returns the ipv4 protocol number.
func (p *protocol) Number() tcpip.NetworkProtocolNumber {
	return ProtocolNumber
}

// MinimumPacketSize returns the minimum valid ipv4 packet size.
func (p *protocol) MinimumPacketSize() int {
	return header.IPv4MinimumSize
}

// ParseAddresses implements NetworkProtocol.ParseAddresses.
func (p *protocol) ParseAddresses(v buffer.View) (src, dst tcpip.Address) {
	h := header.IPv4(v)
	return h.SourceAddress(), h.DestinationAddress()
}

// NewEndpoint creates a new ipv4 endpoint.
func (p *protocol) NewEndpoint(nicid tcpip.NICID, dispatcher stack.TransportDispatcher,
	linkEP stack.LinkEndpoint) (stack.NetworkEndpoint, *tcpip.Error) {
	return newEndpoint(nicid, dispatcher, linkEP), nil
}

// calculateMTU calculates the network-layer payload MTU based on the
// link-layer payload mtu.
func calculateMTU(mtu uint32) uint32 {
	if mtu > maxTotalSize {
		mtu = maxTotalSize
	}
	return mtu - header.IPv4MinimumSize
}

// hashRoute 用路由的地址对选一个ID计数器的桶
func hashRoute(r *stack.Route, protocol uint8) uint32 {
	t := r.LocalAddress
	a := uint32(t[0]) | uint32(t[1])<<8 | uint32(t[2])<<16 | uint32(t[3])<<24
	t = r.RemoteAddress
	b := uint32(t[0]) | uint32(t[1])<<8 | uint32(t[2])<<16 | uint32(t[3])<<24
	return hash.Hash3Words(a, b, uint32(protocol), hashIV)
}

var (
	ids    []uint32
	hashIV uint32
)

func init() {
	r := hash.RandN32(buckets + 1)
	ids = r[:buckets]
	hashIV = r[buckets]

	stack.RegisterNetworkProtocolFactory(ProtocolName, func() stack.NetworkProtocol {
		return &protocol{}
	})
}
