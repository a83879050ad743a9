package stack

import (
	"github.com/impact-eintr/ipstack/ilist"
	"github.com/impact-eintr/ipstack/logger"
	"github.com/impact-eintr/ipstack/tcpip"
	"github.com/impact-eintr/ipstack/tcpip/buffer"
	"github.com/impact-eintr/ipstack/tcpip/header"
)

// AddressSetting 是一块网卡可选的IPv4地址配置
// Present为false时其余字段没有意义
type AddressSetting struct {
	// Present 是否配置了地址
	Present bool

	// Prefix 子网前缀长度 0..32
	Prefix uint8

	// Addr IPv4地址
	Addr tcpip.Address
}

// MakeAddressSetting 构造一个有效的地址配置
func MakeAddressSetting(prefix uint8, addr tcpip.Address) AddressSetting {
	return AddressSetting{Present: true, Prefix: prefix, Addr: addr}
}

// GatewaySetting 是一块网卡可选的默认网关配置
type GatewaySetting struct {
	// Present 是否配置了网关
	Present bool

	// Addr 网关地址
	Addr tcpip.Address
}

// MakeGatewaySetting 构造一个有效的网关配置
func MakeGatewaySetting(addr tcpip.Address) GatewaySetting {
	return GatewaySetting{Present: true, Addr: addr}
}

// InterfaceAddrs 缓存了由地址配置派生出来的寻址信息
// 每次SetAddress时整体重算 网卡之间不共享
type InterfaceAddrs struct {
	// Addr IPv4地址
	Addr tcpip.Address

	// Netmask 子网掩码 恰好有Prefix个前导1
	Netmask tcpip.Address

	// Netaddr 网络地址 Addr & Netmask
	Netaddr tcpip.Address

	// Bcastaddr 本地广播地址 Netaddr | ^Netmask
	Bcastaddr tcpip.Address

	// Prefix 子网前缀长度
	Prefix uint8
}

// NIC 代表协议栈里的一块网卡对象
// 它把一个链路层设备 一组网络层端和这块网卡的寻址配置绑在一起
type NIC struct {
	stack *Stack

	// 每块网卡唯一的标识号
	id tcpip.NICID

	// 网卡名 可有可无
	name string

	// 链路层端
	linkEP LinkEndpoint

	// 网络层端的记录 按协议号索引
	endpoints map[tcpip.NetworkProtocolNumber]NetworkEndpoint

	// 地址与网关配置 以及由地址派生出的寻址信息
	addr    AddressSetting
	gateway GatewaySetting
	addrs   *InterfaceAddrs

	// 驱动上报的链路状态
	driver DriverState

	// 想在传输层处理器之前看到报文的监听者
	listeners ilist.List
}

// newNIC 根据参数新建一块网卡 默认认为链路是通的 驱动之后可以改
func newNIC(stack *Stack, id tcpip.NICID, name string, ep LinkEndpoint) *NIC {
	return &NIC{
		stack:     stack,
		id:        id,
		name:      name,
		linkEP:    ep,
		endpoints: make(map[tcpip.NetworkProtocolNumber]NetworkEndpoint),
		driver:    DriverState{LinkUp: true},
	}
}

// ID returns the identifier of n.
func (n *NIC) ID() tcpip.NICID {
	return n.id
}

// Name returns the name of n.
func (n *NIC) Name() string {
	return n.name
}

// 把网卡接到链路层设备上 从此设备收到的报文会交给这块网卡分发
func (n *NIC) attachLinkEndpoint() {
	n.linkEP.Attach(n)
}

// SetAddress 整体替换网卡的地址配置并重算派生寻址信息
// Present为false时清除配置 重算相对单次调用是原子的
// 读者不会看到用旧地址和新前缀算出来的中间状态
func (n *NIC) SetAddress(s AddressSetting) *tcpip.Error {
	if !s.Present {
		n.addr = AddressSetting{}
		n.addrs = nil
		n.stack.bumpTopology()
		return nil
	}
	if s.Prefix > 32 {
		return tcpip.ErrInvalidPrefix
	}
	if len(s.Addr) != header.IPv4AddressSize {
		return tcpip.ErrBadAddress
	}

	mask := maskFromPrefix(s.Prefix)
	netaddr := addrAnd(s.Addr, mask)
	n.addrs = &InterfaceAddrs{
		Addr:      s.Addr,
		Netmask:   mask,
		Netaddr:   netaddr,
		Bcastaddr: addrOrNot(netaddr, mask),
		Prefix:    s.Prefix,
	}
	n.addr = s
	n.stack.bumpTopology()

	logger.GetInstance().Infof(logger.IP, "nic %d address set to %s/%d", n.id, s.Addr, s.Prefix)
	return nil
}

// SetGateway 替换网卡的默认网关配置 与地址配置相互独立
func (n *NIC) SetGateway(s GatewaySetting) *tcpip.Error {
	if s.Present && len(s.Addr) != header.IPv4AddressSize {
		return tcpip.ErrBadAddress
	}
	n.gateway = s
	n.stack.bumpTopology()
	return nil
}

// Address 返回最近一次设置的地址配置
func (n *NIC) Address() AddressSetting {
	return n.addr
}

// Gateway 返回最近一次设置的网关配置
func (n *NIC) Gateway() GatewaySetting {
	return n.gateway
}

// Addrs 返回缓存的派生寻址信息 没有配置地址时ok为false
func (n *NIC) Addrs() (InterfaceAddrs, bool) {
	if n.addrs == nil {
		return InterfaceAddrs{}, false
	}
	return *n.addrs, true
}

// SetDriverState 驱动通过它推送链路状态
func (n *NIC) SetDriverState(s DriverState) {
	n.driver = s
}

// DriverState 返回驱动最近推送的链路状态
func (n *NIC) DriverState() DriverState {
	return n.driver
}

// acceptsDestination 判断dst是不是这块网卡应该收下的目的地址
// 单播匹配 本地广播和全1地址都收 其余丢弃
func (n *NIC) acceptsDestination(dst tcpip.Address) bool {
	if dst == header.IPv4Broadcast {
		return true
	}
	if n.addrs == nil {
		return false
	}
	return dst == n.addrs.Addr || dst == n.addrs.Bcastaddr
}

// isLocalSource 判断src是不是这块网卡自己配置的地址
func (n *NIC) isLocalSource(src tcpip.Address) bool {
	return n.addrs != nil && src == n.addrs.Addr
}

// isBroadcastDestination 判断dst是不是广播地址 包括全1和本网段广播
func (n *NIC) isBroadcastDestination(dst tcpip.Address) bool {
	if dst == header.IPv4Broadcast {
		return true
	}
	return n.addrs != nil && dst == n.addrs.Bcastaddr
}

// IfaceListener 允许外部模块在传输层处理器之前观察某个协议的报文
// 回调返回true表示报文已被消费 不再继续分发
type IfaceListener struct {
	ilist.Entry

	proto uint8
	h     func(rx RxInfoIP4, vv buffer.VectorisedView) bool
}

// NewIfaceListener 创建一个监听指定IP协议号的监听者
func NewIfaceListener(proto uint8, h func(rx RxInfoIP4, vv buffer.VectorisedView) bool) *IfaceListener {
	return &IfaceListener{proto: proto, h: h}
}

// AddListener 把监听者挂到这块网卡上
func (n *NIC) AddListener(l *IfaceListener) {
	n.listeners.PushBack(l)
}

// RemoveListener 摘掉监听者
func (n *NIC) RemoveListener(l *IfaceListener) {
	n.listeners.Remove(l)
}

// DeliverNetworkPacket 链路层设备收到报文后交给网卡分发
// 找到对应的网络层端后把报文交给它处理
func (n *NIC) DeliverNetworkPacket(linkEP LinkEndpoint, dstLinkAddr, srcLinkAddr tcpip.LinkAddress,
	protocol tcpip.NetworkProtocolNumber, vv buffer.VectorisedView) {

	netProto, ok := n.stack.networkProtocols[protocol]
	if !ok {
		n.stack.stats.IP.DroppedPackets.Increment()
		return
	}
	if vv.Size() < netProto.MinimumPacketSize() {
		n.stack.stats.IP.InvalidPacketsReceived.Increment()
		return
	}

	src, dst := netProto.ParseAddresses(vv.First())
	if !n.acceptsDestination(dst) {
		logger.GetInstance().Debugf(logger.RX, "nic %d dropping packet for %s", n.id, dst)
		n.stack.stats.IP.DroppedPackets.Increment()
		return
	}

	ep, ok := n.endpoints[protocol]
	if !ok {
		n.stack.stats.IP.DroppedPackets.Increment()
		return
	}

	n.stack.stats.IP.PacketsReceived.Increment()

	// 收包方向的路由 本地是dst 远端是src 直接可以用来回包
	r := makeRoute(dst, src, src, n, ep, n.stack.topology())
	r.RemoteLinkAddress = srcLinkAddr
	r.LocalLinkAddress = linkEP.LinkAddress()
	ep.HandlePacket(&r, vv)
}

// DeliverTransportPacket 把组装好的收包记录交给监听者和传输层处理器
// 记录只在这次调用内有效
func (n *NIC) DeliverTransportPacket(rx RxInfoIP4, vv buffer.VectorisedView) {
	for e := n.listeners.Front(); e != nil; e = e.Next() {
		l := e.(*IfaceListener)
		if l.proto == rx.TTLProto.Proto() && l.h(rx, vv) {
			return
		}
	}

	h := n.stack.transportHandler(rx.TTLProto.Proto())
	if h == nil {
		n.stack.stats.IP.DroppedPackets.Increment()
		return
	}
	n.stack.stats.IP.PacketsDelivered.Increment()
	h.HandlePacket(rx, vv)
}

// DeliverTransportControlPacket 把ICMP错误上下文交给发出原始报文的处理器
func (n *NIC) DeliverTransportControlPacket(rx RxInfoIP4, meta DestUnreachMeta, vv buffer.VectorisedView) {
	h := n.stack.transportHandler(rx.TTLProto.Proto())
	if h == nil {
		return
	}
	h.HandleControlPacket(rx, meta, vv)
}

// maskFromPrefix 生成恰好有prefix个前导1的子网掩码
func maskFromPrefix(prefix uint8) tcpip.Address {
	var b [header.IPv4AddressSize]byte
	for i := uint8(0); i < prefix; i++ {
		b[i/8] |= 0x80 >> (i % 8)
	}
	return tcpip.Address(b[:])
}

// addrAnd 按位与两个IPv4地址
func addrAnd(a, b tcpip.Address) tcpip.Address {
	var r [header.IPv4AddressSize]byte
	for i := 0; i < header.IPv4AddressSize; i++ {
		r[i] = a[i] & b[i]
	}
	return tcpip.Address(r[:])
}

// addrOrNot 计算 a | ^b
func addrOrNot(a, b tcpip.Address) tcpip.Address {
	var r [header.IPv4AddressSize]byte
	for i := 0; i < header.IPv4AddressSize; i++ {
		r[i] = a[i] | ^b[i]
	}
	return tcpip.Address(r[:])
}
