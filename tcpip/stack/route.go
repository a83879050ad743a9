package stack

import (
	"github.com/impact-eintr/ipstack/tcpip"
	"github.com/impact-eintr/ipstack/tcpip/buffer"
	"github.com/impact-eintr/ipstack/tcpip/header"
)

// Route 是一次路由查询的结果 记录报文应该从哪块网卡发出
// 以及链路层应该把帧发给谁
// 它只是查询瞬间的快照 配置变化后继续使用会得到ErrStaleRoute
type Route struct {
	// RemoteAddress 报文最终要到达的地址
	RemoteAddress tcpip.Address

	// RemoteLinkAddress 下一跳的链路层地址
	RemoteLinkAddress tcpip.LinkAddress

	// LocalAddress 本端地址 作为发出报文的源地址
	LocalAddress tcpip.Address

	// LocalLinkAddress 本端的链路层地址
	LocalLinkAddress tcpip.LinkAddress

	// NextHop 链路上真正的收帧者
	// 目的在本网段内时等于RemoteAddress 否则是网关
	NextHop tcpip.Address

	// 承载这条路由的网卡和网络层端
	nic *NIC
	ep  NetworkEndpoint

	// 生成这条路由时协议栈的拓扑版本号
	epoch uint64
}

// makeRoute 构造一条路由 调用者保证nic和ep配套
func makeRoute(localAddr, remoteAddr, nextHop tcpip.Address, nic *NIC,
	ep NetworkEndpoint, epoch uint64) Route {
	return Route{
		RemoteAddress: remoteAddr,
		LocalAddress:  localAddr,
		NextHop:       nextHop,
		nic:           nic,
		ep:            ep,
		epoch:         epoch,
	}
}

// NIC 返回路由绑定的网卡
func (r *Route) NIC() *NIC {
	return r.nic
}

// NICID returns the id of the NIC from which this route originates.
func (r *Route) NICID() tcpip.NICID {
	return r.nic.id
}

// MTU returns the MTU of the underlying network endpoint.
func (r *Route) MTU() uint32 {
	return r.ep.MTU()
}

// MaxHeaderLength forwards the call to the network endpoint's implementation.
func (r *Route) MaxHeaderLength() uint16 {
	return r.ep.MaxHeaderLength()
}

// DefaultTTL 路由绑定的网络层端的默认TTL
func (r *Route) DefaultTTL() uint8 {
	return r.ep.DefaultTTL()
}

// Capabilities 底层链路设备的能力集
func (r *Route) Capabilities() LinkEndpointCapabilities {
	return r.ep.Capabilities()
}

// WritePacket 通过这条路由把一个报文交给网络层端发出
func (r *Route) WritePacket(hdr buffer.Prependable, payload buffer.VectorisedView,
	ttlProto header.TTLProto, flags tcpip.SendFlags) *tcpip.Error {
	return r.ep.WritePacket(r, hdr, payload, ttlProto, flags)
}

// PreparedSend 缓存了向固定目的反复发送所需的全部状态
// 路由和首部不变字段的部分校验和都在准备时算好
// 拓扑变化会让它失效 之后的发送得到ErrStaleRoute
type PreparedSend struct {
	// Route 准备时查到的路由
	Route Route

	ttlProto header.TTLProto
	flags    tcpip.SendFlags

	// 部分校验和只是中间态 对外不可见 防止被当成首部校验和误用
	partialChecksum uint16
}
