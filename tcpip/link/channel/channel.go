// Package channel provides the implementation of channel-based data-link layer
// endpoints. Such endpoints allow injection of inbound packets and store
// outbound packets in a channel.
package channel

import (
	"github.com/impact-eintr/ipstack/tcpip"
	"github.com/impact-eintr/ipstack/tcpip/buffer"
	"github.com/impact-eintr/ipstack/tcpip/stack"
)

// PacketInfo 记录一个发出的报文和它携带的信息
type PacketInfo struct {
	Header  buffer.View
	Payload buffer.View
	Proto   tcpip.NetworkProtocolNumber
}

// Endpoint is link layer endpoint that stores outbound packets in a channel
// and allows injection of inbound packets.
type Endpoint struct {
	dispatcher stack.NetworkDispatcher
	mtu        uint32
	linkAddr   tcpip.LinkAddress

	// C 发出的报文都进这个channel
	C chan PacketInfo
}

// New creates a new channel endpoint.
func New(size int, mtu uint32, linkAddr tcpip.LinkAddress) (tcpip.LinkEndpointID, *Endpoint) {
	e := &Endpoint{
		C:        make(chan PacketInfo, size),
		mtu:      mtu,
		linkAddr: linkAddr,
	}
	return stack.RegisterLinkEndpoint(e), e
}

// Drain 清空发送channel 返回清掉的报文数
func (e *Endpoint) Drain() int {
	c := 0
	for {
		select {
		case <-e.C:
			c++
		default:
			return c
		}
	}
}

// Inject 模拟从链路上收到一个报文
func (e *Endpoint) Inject(protocol tcpip.NetworkProtocolNumber, vv buffer.VectorisedView) {
	e.InjectLinkAddr(protocol, "", vv)
}

// InjectLinkAddr 同Inject 可以指定发送者的链路层地址
func (e *Endpoint) InjectLinkAddr(protocol tcpip.NetworkProtocolNumber,
	remoteLinkAddr tcpip.LinkAddress, vv buffer.VectorisedView) {
	e.dispatcher.DeliverNetworkPacket(e, "", remoteLinkAddr, protocol,
		vv.Clone(nil))
}

// Attach saves the stack network-layer dispatcher for use later when packets
// are injected.
func (e *Endpoint) Attach(dispatcher stack.NetworkDispatcher) {
	e.dispatcher = dispatcher
}

// IsAttached implements stack.LinkEndpoint.IsAttached.
func (e *Endpoint) IsAttached() bool {
	return e.dispatcher != nil
}

// MTU implements stack.LinkEndpoint.MTU.
func (e *Endpoint) MTU() uint32 {
	return e.mtu
}

// Capabilities implements stack.LinkEndpoint.Capabilities.
func (e *Endpoint) Capabilities() stack.LinkEndpointCapabilities {
	return 0
}

// MaxHeaderLength 没有链路层头部 返回0
func (e *Endpoint) MaxHeaderLength() uint16 {
	return 0
}

// LinkAddress returns the link address of this endpoint.
func (e *Endpoint) LinkAddress() tcpip.LinkAddress {
	return e.linkAddr
}

// WritePacket 把报文塞进channel channel满时直接丢弃
func (e *Endpoint) WritePacket(r *stack.Route, hdr buffer.Prependable,
	payload buffer.VectorisedView, protocol tcpip.NetworkProtocolNumber) *tcpip.Error {

	p := PacketInfo{
		Header: hdr.View(),
		Proto:  protocol,
	}
	if payload.Size() > 0 {
		p.Payload = payload.ToView()
	}

	select {
	case e.C <- p:
	default:
	}
	return nil
}
