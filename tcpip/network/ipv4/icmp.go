package ipv4

import (
	"github.com/impact-eintr/ipstack/logger"
	"github.com/impact-eintr/ipstack/tcpip/buffer"
	"github.com/impact-eintr/ipstack/tcpip/header"
	"github.com/impact-eintr/ipstack/tcpip/stack"
)

// handleICMP ICMP报文不经过传输层处理器注册表 由网络层端直接消化
// echo request就地回显 echo reply交给按协议号1注册的处理器
// destination unreachable解析出上下文后交给原始报文所属协议的处理器
func (e *endpoint) handleICMP(r *stack.Route, rx stack.RxInfoIP4, vv buffer.VectorisedView) {
	v := vv.First()
	if len(v) < header.ICMPv4MinimumSize {
		return
	}
	h := header.ICMPv4(v)

	switch h.Type() {
	case header.ICMPv4Echo:
		if len(v) < header.ICMPv4EchoMinimumSize {
			return
		}
		logger.GetInstance().Debugf(logger.ICMP, "nic %d echo request from %s", e.nicid, rx.SrcAddr)
		e.sendEchoReply(r, vv)

	case header.ICMPv4EchoReply:
		if len(v) < header.ICMPv4EchoMinimumSize {
			return
		}
		e.dispatcher.DeliverTransportPacket(rx, vv)

	case header.ICMPv4DstUnreachable:
		if len(v) < header.ICMPv4DstUnreachableMinimumSize {
			return
		}
		e.handleDstUnreachable(rx, h, vv)
	}
}

// sendEchoReply 把整个echo报文原样拷贝 改掉类型字段并重算校验和后沿收包路由发回
func (e *endpoint) sendEchoReply(r *stack.Route, vv buffer.VectorisedView) {
	data := vv.ToView()
	icmp := header.ICMPv4(data)
	icmp.SetType(header.ICMPv4EchoReply)
	icmp.SetChecksum(0)
	icmp.SetChecksum(^header.Checksum(data, 0))

	hdr := buffer.NewPrependable(int(e.MaxHeaderLength()))
	tp := header.MakeTTLProto(e.DefaultTTL(), uint8(header.ICMPv4ProtocolNumber))
	if err := e.WritePacket(r, hdr, data.ToVectorisedView(), tp, 0); err != nil {
		logger.GetInstance().Debugf(logger.ICMP, "nic %d echo reply failed: %v", e.nicid, err)
	}
}

// handleDstUnreachable 解析destination unreachable报文
// 其载荷携带着触发错误的原始报文首部和载荷开头 用它们还原出当初的发送上下文
func (e *endpoint) handleDstUnreachable(rx stack.RxInfoIP4, h header.ICMPv4, vv buffer.VectorisedView) {
	var meta stack.DestUnreachMeta
	meta.Code = h.Code()
	copy(meta.Rest[:], h.RestOfHeader())

	vv.TrimFront(header.ICMPv4DstUnreachableMinimumSize)
	first := vv.First()
	if len(first) < header.IPv4MinimumSize {
		return
	}

	orig := header.IPv4(first)
	hlen := int(orig.HeaderLength())
	if hlen < header.IPv4MinimumSize || len(first) < hlen {
		return
	}
	// 原始报文必须出自本机 否则这个错误与我们无关
	if orig.SourceAddress() != rx.DstAddr {
		return
	}

	rxOrig := stack.RxInfoIP4{
		SrcAddr:   orig.SourceAddress(),
		DstAddr:   orig.DestinationAddress(),
		TTLProto:  orig.TTLProto(),
		NIC:       rx.NIC,
		HeaderLen: orig.HeaderLength(),
	}
	vv.TrimFront(hlen)
	e.dispatcher.DeliverTransportControlPacket(rxOrig, meta, vv)
}
