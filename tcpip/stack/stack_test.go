package stack_test

import (
	"math/bits"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impact-eintr/ipstack/tcpip"
	"github.com/impact-eintr/ipstack/tcpip/buffer"
	"github.com/impact-eintr/ipstack/tcpip/header"
	"github.com/impact-eintr/ipstack/tcpip/link/channel"
	"github.com/impact-eintr/ipstack/tcpip/network/ipv4"
	"github.com/impact-eintr/ipstack/tcpip/stack"
)

const defaultMTU = 1500

func addr(s string) tcpip.Address {
	v4 := net.ParseIP(s).To4()
	if v4 == nil {
		panic("bad test address " + s)
	}
	return tcpip.Address(v4)
}

type receivedPacket struct {
	rx      stack.RxInfoIP4
	payload buffer.View
}

type controlPacket struct {
	rx      stack.RxInfoIP4
	meta    stack.DestUnreachMeta
	payload buffer.View
}

// testHandler 把交付上来的报文都记下来
type testHandler struct {
	pkts []receivedPacket
	ctrl []controlPacket
}

func (h *testHandler) HandlePacket(rx stack.RxInfoIP4, vv buffer.VectorisedView) {
	h.pkts = append(h.pkts, receivedPacket{rx: rx, payload: vv.ToView()})
}

func (h *testHandler) HandleControlPacket(rx stack.RxInfoIP4, meta stack.DestUnreachMeta,
	vv buffer.VectorisedView) {
	h.ctrl = append(h.ctrl, controlPacket{rx: rx, meta: meta, payload: vv.ToView()})
}

type testContext struct {
	t      *testing.T
	s      *stack.Stack
	linkEP *channel.Endpoint
	nic    *stack.NIC
}

func newTestContext(t *testing.T) *testContext {
	s := stack.New([]string{ipv4.ProtocolName})
	id, linkEP := channel.New(16, defaultMTU, "")
	require.Nil(t, s.CreateNIC(1, id))

	nic := s.NIC(1)
	require.Nil(t, nic.SetAddress(stack.MakeAddressSetting(24, addr("192.0.2.10"))))

	return &testContext{t: t, s: s, linkEP: linkEP, nic: nic}
}

// getPacket 取出刚发出的报文 发送是同步完成的 channel里应该已经有了
func (c *testContext) getPacket() channel.PacketInfo {
	select {
	case p := <-c.linkEP.C:
		return p
	default:
		c.t.Fatal("no packet was sent")
		return channel.PacketInfo{}
	}
}

func buildIPv4(src, dst tcpip.Address, ttl, proto uint8, payload []byte) buffer.VectorisedView {
	b := make([]byte, header.IPv4MinimumSize+len(payload))
	ip := header.IPv4(b)
	ip.Encode(&header.IPv4Fields{
		IHL:         header.IPv4MinimumSize,
		TotalLength: uint16(len(b)),
		TTL:         ttl,
		Protocol:    proto,
		SrcAddr:     src,
		DstAddr:     dst,
	})
	ip.SetChecksum(^ip.CalculateChecksum())
	copy(b[header.IPv4MinimumSize:], payload)
	return buffer.NewViewFromBytes(b).ToVectorisedView()
}

func TestDerivedAddrs(t *testing.T) {
	c := newTestContext(t)

	addrs, ok := c.nic.Addrs()
	require.True(t, ok)
	assert.Equal(t, addr("192.0.2.10"), addrs.Addr)
	assert.Equal(t, addr("255.255.255.0"), addrs.Netmask)
	assert.Equal(t, addr("192.0.2.0"), addrs.Netaddr)
	assert.Equal(t, addr("192.0.2.255"), addrs.Bcastaddr)
	assert.Equal(t, uint8(24), addrs.Prefix)
}

func TestDerivedAddrsEdgePrefixes(t *testing.T) {
	c := newTestContext(t)

	require.Nil(t, c.nic.SetAddress(stack.MakeAddressSetting(0, addr("10.1.2.3"))))
	addrs, _ := c.nic.Addrs()
	assert.Equal(t, addr("0.0.0.0"), addrs.Netmask)
	assert.Equal(t, addr("0.0.0.0"), addrs.Netaddr)
	assert.Equal(t, addr("255.255.255.255"), addrs.Bcastaddr)

	require.Nil(t, c.nic.SetAddress(stack.MakeAddressSetting(32, addr("10.1.2.3"))))
	addrs, _ = c.nic.Addrs()
	assert.Equal(t, addr("255.255.255.255"), addrs.Netmask)
	assert.Equal(t, addr("10.1.2.3"), addrs.Netaddr)
	assert.Equal(t, addr("10.1.2.3"), addrs.Bcastaddr)
}

func TestNetmaskLaws(t *testing.T) {
	c := newTestContext(t)

	for prefix := uint8(0); prefix <= 32; prefix++ {
		require.Nil(t, c.nic.SetAddress(stack.MakeAddressSetting(prefix, addr("10.1.2.3"))))
		addrs, ok := c.nic.Addrs()
		require.True(t, ok)

		m := addrs.Netmask
		v := uint32(m[0])<<24 | uint32(m[1])<<16 | uint32(m[2])<<8 | uint32(m[3])

		// 置位数等于前缀长度 而且1都在前面
		assert.Equal(t, int(prefix), bits.OnesCount32(v))
		assert.Equal(t, uint32(0), ^v&(^v+1))
	}
}

func TestSetAddressValidation(t *testing.T) {
	c := newTestContext(t)

	assert.Equal(t, tcpip.ErrInvalidPrefix,
		c.nic.SetAddress(stack.MakeAddressSetting(33, addr("10.1.2.3"))))
	assert.Equal(t, tcpip.ErrBadAddress,
		c.nic.SetAddress(stack.MakeAddressSetting(24, tcpip.Address("\x0a\x01"))))

	// 校验失败不能影响已有配置
	addrs, ok := c.nic.Addrs()
	require.True(t, ok)
	assert.Equal(t, addr("192.0.2.10"), addrs.Addr)
}

func TestRemoveAddress(t *testing.T) {
	c := newTestContext(t)

	require.Nil(t, c.nic.SetAddress(stack.AddressSetting{}))
	_, ok := c.nic.Addrs()
	assert.False(t, ok)

	_, err := c.s.RouteIP4(addr("192.0.2.1"))
	assert.Equal(t, tcpip.ErrNoRoute, err)
}

func TestRouteDirect(t *testing.T) {
	c := newTestContext(t)

	r, err := c.s.RouteIP4(addr("192.0.2.1"))
	require.Nil(t, err)
	assert.Equal(t, addr("192.0.2.1"), r.RemoteAddress)
	assert.Equal(t, addr("192.0.2.1"), r.NextHop)
	assert.Equal(t, addr("192.0.2.10"), r.LocalAddress)
	assert.Equal(t, tcpip.NICID(1), r.NICID())
}

func TestRouteGateway(t *testing.T) {
	c := newTestContext(t)

	_, err := c.s.RouteIP4(addr("8.8.8.8"))
	assert.Equal(t, tcpip.ErrNoRoute, err)

	require.Nil(t, c.nic.SetGateway(stack.MakeGatewaySetting(addr("192.0.2.1"))))
	r, err := c.s.RouteIP4(addr("8.8.8.8"))
	require.Nil(t, err)
	assert.Equal(t, addr("8.8.8.8"), r.RemoteAddress)
	assert.Equal(t, addr("192.0.2.1"), r.NextHop)
	assert.Equal(t, addr("192.0.2.10"), r.LocalAddress)
}

func TestRouteLongestPrefix(t *testing.T) {
	c := newTestContext(t)

	id2, _ := channel.New(16, defaultMTU, "")
	require.Nil(t, c.s.CreateNIC(2, id2))
	nic2 := c.s.NIC(2)

	require.Nil(t, c.nic.SetAddress(stack.MakeAddressSetting(8, addr("10.0.0.1"))))
	require.Nil(t, nic2.SetAddress(stack.MakeAddressSetting(16, addr("10.0.1.1"))))

	// 两块网卡都覆盖这个目的 选前缀更长的那块
	r, err := c.s.RouteIP4(addr("10.0.1.99"))
	require.Nil(t, err)
	assert.Equal(t, tcpip.NICID(2), r.NICID())

	r, err = c.s.RouteIP4(addr("10.9.0.1"))
	require.Nil(t, err)
	assert.Equal(t, tcpip.NICID(1), r.NICID())
}

func TestRouteLinkDown(t *testing.T) {
	c := newTestContext(t)

	c.nic.SetDriverState(stack.DriverState{LinkUp: false})
	_, err := c.s.RouteIP4(addr("192.0.2.1"))
	assert.Equal(t, tcpip.ErrNoRoute, err)

	c.nic.SetDriverState(stack.DriverState{LinkUp: true})
	_, err = c.s.RouteIP4(addr("192.0.2.1"))
	assert.Nil(t, err)
}

func TestRouteForceNIC(t *testing.T) {
	c := newTestContext(t)

	// 全1广播不参与常规选路
	_, err := c.s.RouteIP4(header.IPv4Broadcast)
	assert.Equal(t, tcpip.ErrNoRoute, err)

	r, err := c.s.RouteIP4ForceNIC(header.IPv4Broadcast, 1)
	require.Nil(t, err)
	assert.Equal(t, header.IPv4Broadcast, r.NextHop)

	_, err = c.s.RouteIP4ForceNIC(addr("192.0.2.1"), 9)
	assert.Equal(t, tcpip.ErrUnknownNICID, err)
}

func payloadVV(n int) buffer.VectorisedView {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return buffer.NewViewFromBytes(b).ToVectorisedView()
}

func TestSendBroadcastPolicy(t *testing.T) {
	c := newTestContext(t)
	tp := header.MakeTTLProto(64, 17)

	err := c.s.SendIP4("", addr("192.0.2.255"), tp, payloadVV(8), 0)
	assert.Equal(t, tcpip.ErrBroadcastDisallowed, err)
	assert.Equal(t, 0, c.linkEP.Drain())

	require.Nil(t, c.s.SendIP4("", addr("192.0.2.255"), tp, payloadVV(8), tcpip.AllowBroadcast))
	p := c.getPacket()
	ip := header.IPv4(p.Header)
	assert.Equal(t, addr("192.0.2.255"), ip.DestinationAddress())
}

func TestSendNonLocalSourcePolicy(t *testing.T) {
	c := newTestContext(t)
	tp := header.MakeTTLProto(64, 17)

	err := c.s.SendIP4(addr("203.0.113.5"), addr("192.0.2.1"), tp, payloadVV(8), 0)
	assert.Equal(t, tcpip.ErrBadLocalAddress, err)

	require.Nil(t, c.s.SendIP4(addr("203.0.113.5"), addr("192.0.2.1"), tp, payloadVV(8),
		tcpip.AllowNonLocalSrc))
	p := c.getPacket()
	ip := header.IPv4(p.Header)
	assert.Equal(t, addr("203.0.113.5"), ip.SourceAddress())
	assert.Equal(t, addr("192.0.2.1"), ip.DestinationAddress())
}

func TestSendInvalidFlags(t *testing.T) {
	c := newTestContext(t)
	tp := header.MakeTTLProto(64, 17)

	err := c.s.SendIP4("", addr("192.0.2.1"), tp, payloadVV(8), tcpip.SendFlags(1<<5))
	assert.Equal(t, tcpip.ErrInvalidFlags, err)
}

func TestSendOversize(t *testing.T) {
	c := newTestContext(t)
	tp := header.MakeTTLProto(64, 17)

	// 载荷加首部正好是MTU 可以发
	require.Nil(t, c.s.SendIP4("", addr("192.0.2.1"), tp,
		payloadVV(defaultMTU-header.IPv4MinimumSize), 0))
	c.linkEP.Drain()

	// 超出一字节就不行 不做发送端分片
	err := c.s.SendIP4("", addr("192.0.2.1"), tp,
		payloadVV(defaultMTU-header.IPv4MinimumSize+1), 0)
	assert.Equal(t, tcpip.ErrMessageTooLong, err)

	err = c.s.SendIP4("", addr("192.0.2.1"), tp,
		payloadVV(defaultMTU-header.IPv4MinimumSize+1), tcpip.DontFragment)
	assert.Equal(t, tcpip.ErrMessageTooLong, err)
}

func TestSendEncodesHeader(t *testing.T) {
	c := newTestContext(t)
	tp := header.MakeTTLProto(64, 17)

	require.Nil(t, c.s.SendIP4("", addr("192.0.2.1"), tp, payloadVV(8), tcpip.DontFragment))
	p := c.getPacket()

	ip := header.IPv4(p.Header)
	assert.True(t, ip.IsValid(len(p.Header)+len(p.Payload)))
	assert.Equal(t, uint8(64), ip.TTL())
	assert.Equal(t, uint8(17), ip.Protocol())
	assert.Equal(t, addr("192.0.2.10"), ip.SourceAddress())
	assert.Equal(t, addr("192.0.2.1"), ip.DestinationAddress())
	assert.Equal(t, uint8(header.IPv4FlagDontFragment), ip.Flags())
	assert.Equal(t, uint16(header.IPv4MinimumSize+8), ip.TotalLength())

	// 首部校验和自洽
	assert.Equal(t, uint16(0xffff), header.Checksum(p.Header[:header.IPv4MinimumSize], 0))
}

func TestStaleRouteAfterReconfig(t *testing.T) {
	c := newTestContext(t)
	tp := header.MakeTTLProto(64, 17)

	r, err := c.s.RouteIP4(addr("192.0.2.1"))
	require.Nil(t, err)

	// 任何寻址配置变化都会让已有路由失效
	require.Nil(t, c.nic.SetAddress(stack.MakeAddressSetting(24, addr("192.0.2.11"))))
	err = c.s.SendIP4Via(&r, "", tp, payloadVV(8), 0)
	assert.Equal(t, tcpip.ErrStaleRoute, err)

	r, err = c.s.RouteIP4(addr("192.0.2.1"))
	require.Nil(t, err)
	assert.Nil(t, c.s.SendIP4Via(&r, "", tp, payloadVV(8), 0))
}

func TestPreparedSendMatchesDirectSend(t *testing.T) {
	c := newTestContext(t)
	tp := header.MakeTTLProto(64, 17)

	p, err := c.s.PrepareSendIP4("", addr("192.0.2.1"), tp, 0)
	require.Nil(t, err)

	require.Nil(t, c.s.SendIP4Fast(&p, payloadVV(16)))
	fast := c.getPacket()

	require.Nil(t, c.s.SendIP4("", addr("192.0.2.1"), tp, payloadVV(16), 0))
	direct := c.getPacket()

	// 两条路径发出的报文逐字节一致
	assert.Equal(t, direct.Header, fast.Header)
	assert.Equal(t, direct.Payload, fast.Payload)

	// 预备状态可以反复使用
	require.Nil(t, c.s.SendIP4Fast(&p, payloadVV(16)))
	again := c.getPacket()
	assert.Equal(t, fast.Header, again.Header)
}

func TestPreparedSendPolicy(t *testing.T) {
	c := newTestContext(t)
	tp := header.MakeTTLProto(64, 17)

	// 策略检查在准备阶段就生效
	_, err := c.s.PrepareSendIP4("", addr("192.0.2.255"), tp, 0)
	assert.Equal(t, tcpip.ErrBroadcastDisallowed, err)

	_, err = c.s.PrepareSendIP4(addr("203.0.113.5"), addr("192.0.2.1"), tp, 0)
	assert.Equal(t, tcpip.ErrBadLocalAddress, err)

	_, err = c.s.PrepareSendIP4("", addr("8.8.8.8"), tp, 0)
	assert.Equal(t, tcpip.ErrNoRoute, err)
}

func TestPreparedSendStaleAfterReconfig(t *testing.T) {
	c := newTestContext(t)
	tp := header.MakeTTLProto(64, 17)

	p, err := c.s.PrepareSendIP4("", addr("192.0.2.1"), tp, 0)
	require.Nil(t, err)

	require.Nil(t, c.nic.SetGateway(stack.MakeGatewaySetting(addr("192.0.2.1"))))
	err = c.s.SendIP4Fast(&p, payloadVV(16))
	assert.Equal(t, tcpip.ErrStaleRoute, err)

	// 重新准备后恢复
	p, err = c.s.PrepareSendIP4("", addr("192.0.2.1"), tp, 0)
	require.Nil(t, err)
	assert.Nil(t, c.s.SendIP4Fast(&p, payloadVV(16)))
}

func TestPreparedSendOversize(t *testing.T) {
	c := newTestContext(t)
	tp := header.MakeTTLProto(64, 17)

	p, err := c.s.PrepareSendIP4("", addr("192.0.2.1"), tp, 0)
	require.Nil(t, err)

	err = c.s.SendIP4Fast(&p, payloadVV(defaultMTU-header.IPv4MinimumSize+1))
	assert.Equal(t, tcpip.ErrMessageTooLong, err)
}

func TestReceiveDelivery(t *testing.T) {
	c := newTestContext(t)
	h := &testHandler{}
	c.s.RegisterTransportHandler(17, h)

	payload := []byte{1, 2, 3, 4}
	c.linkEP.Inject(header.IPv4ProtocolNumber,
		buildIPv4(addr("192.0.2.1"), addr("192.0.2.10"), 63, 17, payload))

	require.Len(t, h.pkts, 1)
	got := h.pkts[0]
	assert.Equal(t, addr("192.0.2.1"), got.rx.SrcAddr)
	assert.Equal(t, addr("192.0.2.10"), got.rx.DstAddr)
	assert.Equal(t, header.MakeTTLProto(63, 17), got.rx.TTLProto)
	assert.Equal(t, uint8(header.IPv4MinimumSize), got.rx.HeaderLen)
	assert.Equal(t, tcpip.NICID(1), got.rx.NIC.ID())
	assert.Equal(t, buffer.View(payload), got.payload)

	assert.Equal(t, uint64(1), c.s.Stats().IP.PacketsReceived.Value())
	assert.Equal(t, uint64(1), c.s.Stats().IP.PacketsDelivered.Value())
}

func TestReceiveWrongDestination(t *testing.T) {
	c := newTestContext(t)
	h := &testHandler{}
	c.s.RegisterTransportHandler(17, h)

	// 不是发给我们的单播直接丢弃
	c.linkEP.Inject(header.IPv4ProtocolNumber,
		buildIPv4(addr("192.0.2.1"), addr("192.0.2.77"), 63, 17, []byte{1}))
	assert.Empty(t, h.pkts)
	assert.Equal(t, uint64(1), c.s.Stats().IP.DroppedPackets.Value())

	// 本网段广播要收
	c.linkEP.Inject(header.IPv4ProtocolNumber,
		buildIPv4(addr("192.0.2.1"), addr("192.0.2.255"), 63, 17, []byte{1}))
	assert.Len(t, h.pkts, 1)

	// 全1广播也要收
	c.linkEP.Inject(header.IPv4ProtocolNumber,
		buildIPv4(addr("192.0.2.1"), header.IPv4Broadcast, 63, 17, []byte{1}))
	assert.Len(t, h.pkts, 2)
}

func TestReceiveFragmentDropped(t *testing.T) {
	c := newTestContext(t)
	h := &testHandler{}
	c.s.RegisterTransportHandler(17, h)

	vv := buildIPv4(addr("192.0.2.1"), addr("192.0.2.10"), 63, 17, []byte{1, 2, 3, 4})
	ip := header.IPv4(vv.First())
	ip.SetFlagsFragmentOffset(header.IPv4FlagMoreFragments, 0)
	ip.SetChecksum(0)
	ip.SetChecksum(^ip.CalculateChecksum())

	c.linkEP.Inject(header.IPv4ProtocolNumber, vv)
	assert.Empty(t, h.pkts)
}

func TestIfaceListener(t *testing.T) {
	c := newTestContext(t)
	h := &testHandler{}
	c.s.RegisterTransportHandler(17, h)

	var seen int
	consume := false
	l := stack.NewIfaceListener(17, func(rx stack.RxInfoIP4, vv buffer.VectorisedView) bool {
		seen++
		return consume
	})
	c.nic.AddListener(l)

	inject := func() {
		c.linkEP.Inject(header.IPv4ProtocolNumber,
			buildIPv4(addr("192.0.2.1"), addr("192.0.2.10"), 63, 17, []byte{1}))
	}

	// 监听者消费掉 处理器看不到
	consume = true
	inject()
	assert.Equal(t, 1, seen)
	assert.Empty(t, h.pkts)

	// 不消费就继续交给处理器
	consume = false
	inject()
	assert.Equal(t, 2, seen)
	assert.Len(t, h.pkts, 1)

	// 其他协议的报文不经过监听者
	c.linkEP.Inject(header.IPv4ProtocolNumber,
		buildIPv4(addr("192.0.2.1"), addr("192.0.2.10"), 63, 6, []byte{1}))
	assert.Equal(t, 2, seen)

	c.nic.RemoveListener(l)
	inject()
	assert.Equal(t, 2, seen)
	assert.Len(t, h.pkts, 2)
}

func buildEchoRequest(src, dst tcpip.Address, data []byte) buffer.VectorisedView {
	icmp := make([]byte, header.ICMPv4DstUnreachableMinimumSize+len(data))
	icmp[0] = byte(header.ICMPv4Echo)
	copy(icmp[header.ICMPv4DstUnreachableMinimumSize:], data)
	h := header.ICMPv4(icmp)
	h.SetChecksum(^header.Checksum(icmp, 0))
	return buildIPv4(src, dst, 63, uint8(header.ICMPv4ProtocolNumber), icmp)
}

func TestEchoReply(t *testing.T) {
	c := newTestContext(t)

	data := []byte{0xde, 0xad, 0xbe, 0xef}
	c.linkEP.Inject(header.IPv4ProtocolNumber,
		buildEchoRequest(addr("192.0.2.1"), addr("192.0.2.10"), data))

	p := c.getPacket()
	ip := header.IPv4(p.Header)
	assert.Equal(t, addr("192.0.2.10"), ip.SourceAddress())
	assert.Equal(t, addr("192.0.2.1"), ip.DestinationAddress())
	assert.Equal(t, uint8(header.ICMPv4ProtocolNumber), ip.Protocol())

	icmp := header.ICMPv4(p.Payload)
	assert.Equal(t, header.ICMPv4EchoReply, icmp.Type())
	assert.Equal(t, data, []byte(p.Payload[header.ICMPv4DstUnreachableMinimumSize:]))

	// 回显报文的ICMP校验和自洽
	assert.Equal(t, uint16(0xffff), header.Checksum(p.Payload, 0))
}

func TestDstUnreachableDelivery(t *testing.T) {
	c := newTestContext(t)
	h := &testHandler{}
	c.s.RegisterTransportHandler(17, h)

	// 嵌在ICMP错误里的原始报文 就像我们之前发出去的那个
	orig := make([]byte, header.IPv4MinimumSize+8)
	origIP := header.IPv4(orig)
	origIP.Encode(&header.IPv4Fields{
		IHL:         header.IPv4MinimumSize,
		TotalLength: 200,
		TTL:         64,
		Protocol:    17,
		SrcAddr:     addr("192.0.2.10"),
		DstAddr:     addr("8.8.8.8"),
	})
	copy(orig[header.IPv4MinimumSize:], []byte{9, 9, 9, 9, 9, 9, 9, 9})

	icmp := make([]byte, header.ICMPv4DstUnreachableMinimumSize+len(orig))
	hdr := header.ICMPv4(icmp)
	hdr.SetType(header.ICMPv4DstUnreachable)
	hdr.SetCode(header.ICMPv4FragmentationNeeded)
	// rest of header的低16位携带下一跳MTU
	icmp[6] = 0x05
	icmp[7] = 0x78
	copy(icmp[header.ICMPv4DstUnreachableMinimumSize:], orig)
	hdr.SetChecksum(^header.Checksum(icmp, 0))
	require.Equal(t, uint16(0x0578), hdr.MTU())

	c.linkEP.Inject(header.IPv4ProtocolNumber,
		buildIPv4(addr("192.0.2.1"), addr("192.0.2.10"), 63,
			uint8(header.ICMPv4ProtocolNumber), icmp))

	require.Len(t, h.ctrl, 1)
	got := h.ctrl[0]
	assert.Equal(t, uint8(header.ICMPv4FragmentationNeeded), got.meta.Code)
	assert.Equal(t, [4]byte{0, 0, 0x05, 0x78}, got.meta.Rest)
	assert.Equal(t, addr("192.0.2.10"), got.rx.SrcAddr)
	assert.Equal(t, addr("8.8.8.8"), got.rx.DstAddr)
	assert.Equal(t, header.MakeTTLProto(64, 17), got.rx.TTLProto)
	assert.Equal(t, buffer.View([]byte{9, 9, 9, 9, 9, 9, 9, 9}), got.payload)
}

func TestDstUnreachableForeignOriginal(t *testing.T) {
	c := newTestContext(t)
	h := &testHandler{}
	c.s.RegisterTransportHandler(17, h)

	// 原始报文不是本机发的 这个错误与我们无关
	orig := make([]byte, header.IPv4MinimumSize)
	header.IPv4(orig).Encode(&header.IPv4Fields{
		IHL:      header.IPv4MinimumSize,
		Protocol: 17,
		SrcAddr:  addr("203.0.113.9"),
		DstAddr:  addr("8.8.8.8"),
	})

	icmp := make([]byte, header.ICMPv4DstUnreachableMinimumSize+len(orig))
	icmp[0] = byte(header.ICMPv4DstUnreachable)
	icmp[1] = header.ICMPv4HostUnreachable
	copy(icmp[header.ICMPv4DstUnreachableMinimumSize:], orig)
	header.ICMPv4(icmp).SetChecksum(^header.Checksum(icmp, 0))

	c.linkEP.Inject(header.IPv4ProtocolNumber,
		buildIPv4(addr("192.0.2.1"), addr("192.0.2.10"), 63,
			uint8(header.ICMPv4ProtocolNumber), icmp))
	assert.Empty(t, h.ctrl)
}

func TestCreateNICErrors(t *testing.T) {
	s := stack.New([]string{ipv4.ProtocolName})

	assert.Equal(t, tcpip.ErrBadLinkEndpoint, s.CreateNIC(1, tcpip.LinkEndpointID(1<<40)))

	id, _ := channel.New(16, defaultMTU, "")
	require.Nil(t, s.CreateNIC(1, id))
	assert.Equal(t, tcpip.ErrDuplicateNICID, s.CreateNIC(1, id))
}

func TestRemoveNIC(t *testing.T) {
	c := newTestContext(t)

	assert.Equal(t, tcpip.ErrUnknownNICID, c.s.RemoveNIC(9))
	require.Nil(t, c.s.RemoveNIC(1))
	assert.Nil(t, c.s.NIC(1))

	_, err := c.s.RouteIP4(addr("192.0.2.1"))
	assert.Equal(t, tcpip.ErrNoRoute, err)
}
