// Package sniffer provides the implementation of data-link layer endpoints
// that wrap another endpoint and capture all traversing packets into a pcap
// file for inspection with tcpdump or wireshark.
package sniffer

import (
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/impact-eintr/ipstack/logger"
	"github.com/impact-eintr/ipstack/tcpip"
	"github.com/impact-eintr/ipstack/tcpip/buffer"
	"github.com/impact-eintr/ipstack/tcpip/stack"
)

type endpoint struct {
	dispatcher stack.NetworkDispatcher
	lower      stack.LinkEndpoint

	// 收包循环和发送方可能在不同的goroutine里写同一个文件
	mu     sync.Mutex
	writer *pcapgo.Writer
}

// New creates a new sniffer link-layer endpoint. It wraps around another
// endpoint and writes a copy of all packets in and out of it to w in pcap
// format. The capture is taken above the link-layer header, so the link type
// is raw IP.
func New(lower tcpip.LinkEndpointID, w io.Writer) (tcpip.LinkEndpointID, error) {
	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(65536, layers.LinkTypeRaw); err != nil {
		return 0, err
	}

	e := &endpoint{
		lower:  stack.FindLinkEndpoint(lower),
		writer: writer,
	}
	return stack.RegisterLinkEndpoint(e), nil
}

func (e *endpoint) capture(bufs ...[]byte) {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	pkt := make([]byte, 0, n)
	for _, b := range bufs {
		pkt = append(pkt, b...)
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: n,
		Length:        n,
	}

	e.mu.Lock()
	err := e.writer.WritePacket(ci, pkt)
	e.mu.Unlock()
	if err != nil {
		logger.GetInstance().Errorf("sniffer: write capture: %v", err)
	}
}

// DeliverNetworkPacket implements the stack.NetworkDispatcher interface. It is
// called by the link-layer endpoint being wrapped when a packet arrives, and
// logs the packet before forwarding to the actual dispatcher.
func (e *endpoint) DeliverNetworkPacket(linkEP stack.LinkEndpoint, dstLinkAddr,
	srcLinkAddr tcpip.LinkAddress, protocol tcpip.NetworkProtocolNumber,
	vv buffer.VectorisedView) {

	e.capture(vv.ToView())
	e.dispatcher.DeliverNetworkPacket(e, dstLinkAddr, srcLinkAddr, protocol, vv)
}

// Attach implements the stack.LinkEndpoint interface. It saves the dispatcher
// and registers with the lower endpoint as its dispatcher so that "e" is
// called for inbound packets.
func (e *endpoint) Attach(dispatcher stack.NetworkDispatcher) {
	e.dispatcher = dispatcher
	e.lower.Attach(e)
}

// IsAttached implements stack.LinkEndpoint.IsAttached.
func (e *endpoint) IsAttached() bool {
	return e.dispatcher != nil
}

// MTU implements stack.LinkEndpoint.MTU. It just forwards the request to the
// lower endpoint.
func (e *endpoint) MTU() uint32 {
	return e.lower.MTU()
}

// Capabilities implements stack.LinkEndpoint.Capabilities. It just forwards
// the request to the lower endpoint.
func (e *endpoint) Capabilities() stack.LinkEndpointCapabilities {
	return e.lower.Capabilities()
}

// MaxHeaderLength implements the stack.LinkEndpoint interface. It just
// forwards the request to the lower endpoint.
func (e *endpoint) MaxHeaderLength() uint16 {
	return e.lower.MaxHeaderLength()
}

// LinkAddress implements the stack.LinkEndpoint interface. It just forwards
// the request to the lower endpoint.
func (e *endpoint) LinkAddress() tcpip.LinkAddress {
	return e.lower.LinkAddress()
}

// WritePacket implements the stack.LinkEndpoint interface. It is called by
// higher-level protocols to write packets; it just logs the packet and
// forwards the request to the lower endpoint.
func (e *endpoint) WritePacket(r *stack.Route, hdr buffer.Prependable,
	payload buffer.VectorisedView, protocol tcpip.NetworkProtocolNumber) *tcpip.Error {

	if payload.Size() == 0 {
		e.capture(hdr.View())
	} else {
		e.capture(hdr.View(), payload.ToView())
	}
	return e.lower.WritePacket(r, hdr, payload, protocol)
}
