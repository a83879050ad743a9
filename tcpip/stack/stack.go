// Package stack provides the glue between IPv4 network protocols and link
// layer endpoints. For consumers, it provides the ability to create NICs,
// configure their addressing, resolve routes and send datagrams.
package stack

import (
	"sort"

	"github.com/impact-eintr/ipstack/logger"
	"github.com/impact-eintr/ipstack/tcpip"
	"github.com/impact-eintr/ipstack/tcpip/buffer"
	"github.com/impact-eintr/ipstack/tcpip/header"
)

// Stack 是整个协议栈的集合 负责管理网卡和路由 分发收到的报文
//
// 协议栈采用run-to-completion模型 所有对它的调用必须来自同一个事件循环
// 收包回调里可以安全地改配置或发包 但不做任何内部加锁
type Stack struct {
	// 支持的网络层协议 按协议号索引
	networkProtocols map[tcpip.NetworkProtocolNumber]NetworkProtocol

	// 传输层处理器 按IP协议号注册
	handlers map[uint8]TransportHandler

	// 所有网卡的集合
	nics map[tcpip.NICID]*NIC

	// 拓扑版本号 网卡和寻址配置每变一次就加一
	// 路由结果带着生成它时的版本号 版本不一致就拒绝使用
	epoch uint64

	stats tcpip.Stats
}

// New 根据注册名新建一个协议栈对象
// 比如 New([]string{ipv4.ProtocolName})
func New(networks []string) *Stack {
	s := &Stack{
		networkProtocols: make(map[tcpip.NetworkProtocolNumber]NetworkProtocol),
		handlers:         make(map[uint8]TransportHandler),
		nics:             make(map[tcpip.NICID]*NIC),
	}

	for _, name := range networks {
		factory, ok := networkProtocols[name]
		if !ok {
			continue
		}
		netProto := factory()
		s.networkProtocols[netProto.Number()] = netProto
	}

	return s
}

// bumpTopology 让现存的所有路由结果和预备发送状态失效
func (s *Stack) bumpTopology() {
	s.epoch++
}

// topology 当前拓扑版本号
func (s *Stack) topology() uint64 {
	return s.epoch
}

// Stats returns the accumulated stack statistics.
func (s *Stack) Stats() *tcpip.Stats {
	return &s.stats
}

// RegisterTransportHandler 按IP协议号注册一个传输层处理器
// 重复注册会覆盖旧的处理器
func (s *Stack) RegisterTransportHandler(proto uint8, h TransportHandler) {
	s.handlers[proto] = h
}

func (s *Stack) transportHandler(proto uint8) TransportHandler {
	return s.handlers[proto]
}

// createNIC 新建一块网卡 为每个已启用的网络层协议建立端 然后接上设备
func (s *Stack) createNIC(id tcpip.NICID, name string, linkEPID tcpip.LinkEndpointID) *tcpip.Error {
	ep := FindLinkEndpoint(linkEPID)
	if ep == nil {
		return tcpip.ErrBadLinkEndpoint
	}

	if _, ok := s.nics[id]; ok {
		return tcpip.ErrDuplicateNICID
	}

	n := newNIC(s, id, name, ep)
	for proto, netProto := range s.networkProtocols {
		netEP, err := netProto.NewEndpoint(id, n, ep)
		if err != nil {
			return err
		}
		n.endpoints[proto] = netEP
	}

	s.nics[id] = n
	n.attachLinkEndpoint()
	s.bumpTopology()

	logger.GetInstance().Infof(logger.IP, "nic %d (%s) created", id, name)
	return nil
}

// CreateNIC 根据已注册的设备号新建一块网卡
func (s *Stack) CreateNIC(id tcpip.NICID, linkEPID tcpip.LinkEndpointID) *tcpip.Error {
	return s.createNIC(id, "", linkEPID)
}

// CreateNamedNIC 同CreateNIC 但给网卡起个名字
func (s *Stack) CreateNamedNIC(id tcpip.NICID, name string, linkEPID tcpip.LinkEndpointID) *tcpip.Error {
	return s.createNIC(id, name, linkEPID)
}

// RemoveNIC 移除一块网卡并关闭它的所有网络层端
func (s *Stack) RemoveNIC(id tcpip.NICID) *tcpip.Error {
	n, ok := s.nics[id]
	if !ok {
		return tcpip.ErrUnknownNICID
	}

	delete(s.nics, id)
	for _, ep := range n.endpoints {
		ep.Close()
	}
	s.bumpTopology()
	return nil
}

// NIC 按号取出一块网卡 不存在时返回nil
func (s *Stack) NIC(id tcpip.NICID) *NIC {
	return s.nics[id]
}

// sortedNICs 按网卡号排好序的网卡列表 保证路由选择是确定的
func (s *Stack) sortedNICs() []*NIC {
	ids := make([]tcpip.NICID, 0, len(s.nics))
	for id := range s.nics {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	nics := make([]*NIC, 0, len(ids))
	for _, id := range ids {
		nics = append(nics, s.nics[id])
	}
	return nics
}

// RouteIP4 为目的地址dst选一条发送路由
//
// 先在所有链路正常的网卡里找目的地址落在本网段内的 多个命中时取前缀最长的
// 都没有命中再找第一块配了地址和网关的网卡 把网关当下一跳
// 全1广播地址不参与选路 发往它需要用RouteIP4ForceNIC明确指定网卡
func (s *Stack) RouteIP4(dst tcpip.Address) (Route, *tcpip.Error) {
	if len(dst) != header.IPv4AddressSize {
		return Route{}, tcpip.ErrBadAddress
	}
	if dst == header.IPv4Broadcast {
		s.stats.IP.NoRoutes.Increment()
		return Route{}, tcpip.ErrNoRoute
	}

	var best *NIC
	bestPrefix := -1
	for _, n := range s.sortedNICs() {
		if !n.driver.LinkUp || n.addrs == nil {
			continue
		}
		if addrAnd(dst, n.addrs.Netmask) == n.addrs.Netaddr && int(n.addrs.Prefix) > bestPrefix {
			best = n
			bestPrefix = int(n.addrs.Prefix)
		}
	}
	if best != nil {
		if r, err := s.routeVia(best, dst, dst); err == nil {
			return r, nil
		}
	}

	// 没有直连命中 走默认网关
	for _, n := range s.sortedNICs() {
		if !n.driver.LinkUp || n.addrs == nil || !n.gateway.Present {
			continue
		}
		if r, err := s.routeVia(n, dst, n.gateway.Addr); err == nil {
			return r, nil
		}
	}

	s.stats.IP.NoRoutes.Increment()
	return Route{}, tcpip.ErrNoRoute
}

// RouteIP4ForceNIC 跳过选路 强制从指定网卡发出 假定目的就在这条链路上
// 发送全1广播或者绕过常规路由表时用它
func (s *Stack) RouteIP4ForceNIC(dst tcpip.Address, nicid tcpip.NICID) (Route, *tcpip.Error) {
	if len(dst) != header.IPv4AddressSize {
		return Route{}, tcpip.ErrBadAddress
	}
	n, ok := s.nics[nicid]
	if !ok {
		return Route{}, tcpip.ErrUnknownNICID
	}
	return s.routeVia(n, dst, dst)
}

// routeVia 在指定网卡上组装一条路由 本地地址取网卡配置的地址
func (s *Stack) routeVia(n *NIC, dst, nextHop tcpip.Address) (Route, *tcpip.Error) {
	ep, ok := n.endpoints[header.IPv4ProtocolNumber]
	if !ok {
		return Route{}, tcpip.ErrNoRoute
	}

	local := header.IPv4Any
	if n.addrs != nil {
		local = n.addrs.Addr
	}
	r := makeRoute(local, dst, nextHop, n, ep, s.topology())
	r.LocalLinkAddress = n.linkEP.LinkAddress()
	return r, nil
}

// checkSend 发送前的策略检查 所有发送入口共用
// srcAddr为空表示使用路由里的本地地址 不做源地址检查
func (s *Stack) checkSend(r *Route, srcAddr tcpip.Address, flags tcpip.SendFlags) *tcpip.Error {
	if flags&^tcpip.SendFlagsMask != 0 {
		return tcpip.ErrInvalidFlags
	}
	if r.epoch != s.topology() {
		return tcpip.ErrStaleRoute
	}
	if r.nic.isBroadcastDestination(r.RemoteAddress) && flags&tcpip.AllowBroadcast == 0 {
		return tcpip.ErrBroadcastDisallowed
	}
	if srcAddr != "" && !r.nic.isLocalSource(srcAddr) && flags&tcpip.AllowNonLocalSrc == 0 {
		return tcpip.ErrBadLocalAddress
	}
	return nil
}

// SendIP4 选路并发送一个IPv4报文 srcAddr为空时使用出口网卡的地址
func (s *Stack) SendIP4(srcAddr, dstAddr tcpip.Address, ttlProto header.TTLProto,
	payload buffer.VectorisedView, flags tcpip.SendFlags) *tcpip.Error {

	r, err := s.RouteIP4(dstAddr)
	if err != nil {
		return err
	}
	return s.SendIP4Via(&r, srcAddr, ttlProto, payload, flags)
}

// SendIP4Via 沿着给定的路由发送一个IPv4报文
// 报文超过链路MTU时不做分片 直接返回ErrMessageTooLong
func (s *Stack) SendIP4Via(r *Route, srcAddr tcpip.Address, ttlProto header.TTLProto,
	payload buffer.VectorisedView, flags tcpip.SendFlags) *tcpip.Error {

	if err := s.checkSend(r, srcAddr, flags); err != nil {
		return err
	}
	if uint32(payload.Size()) > r.ep.MTU() {
		return tcpip.ErrMessageTooLong
	}

	out := *r
	if srcAddr != "" {
		out.LocalAddress = srcAddr
	}

	hdr := buffer.NewPrependable(int(out.ep.MaxHeaderLength()))
	if err := out.ep.WritePacket(&out, hdr, payload, ttlProto, flags); err != nil {
		return err
	}
	s.stats.IP.PacketsSent.Increment()
	return nil
}

// PrepareSendIP4 为固定目的的反复发送做一次性准备
// 选路和策略检查只做一次 首部不变字段的校验和也预先累加好
func (s *Stack) PrepareSendIP4(srcAddr, dstAddr tcpip.Address, ttlProto header.TTLProto,
	flags tcpip.SendFlags) (PreparedSend, *tcpip.Error) {

	r, err := s.RouteIP4(dstAddr)
	if err != nil {
		return PreparedSend{}, err
	}
	if err := s.checkSend(&r, srcAddr, flags); err != nil {
		return PreparedSend{}, err
	}
	if srcAddr != "" {
		r.LocalAddress = srcAddr
	}

	p := PreparedSend{
		Route:           r,
		ttlProto:        ttlProto,
		flags:           flags,
		partialChecksum: r.ep.PreparePacket(&r, ttlProto, flags),
	}
	return p, nil
}

// SendIP4Fast 用预备好的状态发送一个报文 线上效果与SendIP4完全一致
// 拓扑变化之后返回ErrStaleRoute 调用者应该重新PrepareSendIP4
func (s *Stack) SendIP4Fast(p *PreparedSend, payload buffer.VectorisedView) *tcpip.Error {
	r := &p.Route
	if r.epoch != s.topology() {
		return tcpip.ErrStaleRoute
	}
	if uint32(payload.Size()) > r.ep.MTU() {
		return tcpip.ErrMessageTooLong
	}

	hdr := buffer.NewPrependable(int(r.ep.MaxHeaderLength()))
	if err := r.ep.WritePreparedPacket(r, hdr, payload, p.ttlProto, p.flags, p.partialChecksum); err != nil {
		return err
	}
	s.stats.IP.PacketsSent.Increment()
	return nil
}
