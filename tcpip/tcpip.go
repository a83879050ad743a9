package tcpip

import (
	"fmt"
	"sync/atomic"
)

// Error 表示协议栈内部所有可恢复的错误
// 这些错误都是同步返回给调用者的 任何一个都不应该让进程退出
type Error struct {
	msg string
}

// String implements fmt.Stringer.String.
func (e *Error) String() string {
	return e.msg
}

var (
	ErrUnknownProtocol     = &Error{msg: "unknown protocol"}
	ErrUnknownNICID        = &Error{msg: "unknown nic id"}
	ErrDuplicateNICID      = &Error{msg: "duplicate nic id"}
	ErrBadLinkEndpoint     = &Error{msg: "bad link layer endpoint"}
	ErrNoRoute             = &Error{msg: "no route"}
	ErrBadAddress          = &Error{msg: "bad address"}
	ErrBadLocalAddress     = &Error{msg: "bad local address"}
	ErrInvalidPrefix       = &Error{msg: "invalid prefix length"}
	ErrInvalidFlags        = &Error{msg: "invalid send flags"}
	ErrBroadcastDisallowed = &Error{msg: "broadcast not allowed"}
	ErrMessageTooLong      = &Error{msg: "message too long"}
	ErrStaleRoute          = &Error{msg: "route is stale"}
	ErrDeviceClosed        = &Error{msg: "device closed"}
)

// Address 是一个字节切片转换成的字符串 表示一个网络层地址
// 对于IPv4来说就是4字节的IP地址
type Address string

// String implements fmt.Stringer.String.
func (a Address) String() string {
	if len(a) == 4 {
		return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
	}
	return fmt.Sprintf("%x", []byte(a))
}

// LinkAddress 是一个字节切片转换成的字符串 表示一个链路层地址
// 通常是6字节的MAC地址
type LinkAddress string

// NICID is a number that uniquely identifies a NIC.
type NICID int32

// LinkEndpointID 全局注册的链路层设备号
type LinkEndpointID uint64

// NetworkProtocolNumber 网络层协议号 比如IPv4就是0x0800
type NetworkProtocolNumber uint32

// TransportProtocolNumber 传输层协议号 就是IPv4首部里的protocol字段
type TransportProtocolNumber uint32

// SendFlags 控制一次IP报文发送的策略位
// 这些标志每次发送调用时传入 调用之间不保留任何状态
type SendFlags uint16

const (
	// AllowBroadcast 允许向本地广播地址或者全1地址发送
	// 不携带该标志时这样的发送会直接失败 而不是被悄悄改写
	AllowBroadcast SendFlags = 1 << 0

	// AllowNonLocalSrc 允许使用不属于出口网卡的源地址发送
	AllowNonLocalSrc SendFlags = 1 << 1

	// DontFragment 既阻止本协议栈对报文分片
	// 也会在IPv4首部中置上DF位 位置与首部flags/fragment offset字段对齐
	DontFragment SendFlags = 1 << 14

	// SendFlagsMask 所有合法标志位的掩码 掩码之外的位属于调用方错误
	SendFlagsMask = AllowBroadcast | AllowNonLocalSrc | DontFragment
)

// A StatCounter keeps track of a statistic.
type StatCounter struct {
	count uint64
}

// Increment adds one to the counter.
func (s *StatCounter) Increment() {
	s.IncrementBy(1)
}

// IncrementBy increments the counter by v.
func (s *StatCounter) IncrementBy(v uint64) {
	atomic.AddUint64(&s.count, v)
}

// Value returns the current value of the counter.
func (s *StatCounter) Value() uint64 {
	return atomic.LoadUint64(&s.count)
}

// IPStats 网络层的统计
type IPStats struct {
	// PacketsSent 成功交给链路层的报文数
	PacketsSent StatCounter

	// PacketsReceived 从链路层收到的报文数
	PacketsReceived StatCounter

	// PacketsDelivered 成功交给传输层处理器的报文数
	PacketsDelivered StatCounter

	// InvalidPacketsReceived 首部校验失败或者格式非法的报文数
	InvalidPacketsReceived StatCounter

	// DroppedPackets 因为没有匹配的处理器等原因被丢弃的报文数
	DroppedPackets StatCounter

	// NoRoutes 路由失败的次数
	NoRoutes StatCounter
}

// Stats 整个协议栈的统计信息
type Stats struct {
	IP IPStats
}
