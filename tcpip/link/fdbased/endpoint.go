// Package fdbased provides the implementation of data-link layer endpoints
// backed by boundary-preserving file descriptors (e.g., TUN/TAP devices,
// seqpacket/datagram sockets).
package fdbased

import (
	"golang.org/x/sys/unix"

	"github.com/impact-eintr/ipstack/logger"
	"github.com/impact-eintr/ipstack/tcpip"
	"github.com/impact-eintr/ipstack/tcpip/buffer"
	"github.com/impact-eintr/ipstack/tcpip/header"
	"github.com/impact-eintr/ipstack/tcpip/stack"
)

// BufConfig 一次readv的分段缓冲区尺寸 按报文大小的分布从小到大排列
// 小报文只占用前面的小段 大报文才会用到后面的大段
var BufConfig = []int{128, 256, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

type endpoint struct {
	// fd is the file descriptor used to send and receive packets.
	fd int

	// mtu (maximum transmission unit) is the maximum size of a packet.
	mtu uint32

	// hdrSize specifies the link-layer header size. If set to 0, no header
	// is added/removed; otherwise an ethernet header is used.
	hdrSize int

	// addr is the address of the endpoint.
	addr tcpip.LinkAddress

	// closed is a function to be called when the FD's peer (if any) closes
	// its end of the communication pipe.
	closed func(*tcpip.Error)

	views   []buffer.View
	buffers [][]byte

	dispatcher stack.NetworkDispatcher
}

// Options specify the details about the fd-based endpoint to be created.
type Options struct {
	// FD 设备的文件描述符 要求读写保持报文边界
	FD int

	// MTU 链路的最大传输单元
	MTU uint32

	// EthernetHeader 报文前是否带以太网帧头部
	EthernetHeader bool

	// Address 本端的链路层地址 只在EthernetHeader为true时使用
	Address tcpip.LinkAddress

	// ClosedFunc 收包循环退出时的回调 参数是导致退出的错误
	ClosedFunc func(*tcpip.Error)
}

// New creates a new fd-based endpoint.
func New(opts *Options) tcpip.LinkEndpointID {
	e := &endpoint{
		fd:     opts.FD,
		mtu:    opts.MTU,
		addr:   opts.Address,
		closed: opts.ClosedFunc,
	}
	if opts.EthernetHeader {
		e.hdrSize = header.EthernetMinimumSize
	}

	e.views = make([]buffer.View, len(BufConfig))
	e.buffers = make([][]byte, len(BufConfig))
	return stack.RegisterLinkEndpoint(e)
}

// Attach launches the goroutine that reads packets from the file descriptor
// and dispatches them via the provided dispatcher.
func (e *endpoint) Attach(dispatcher stack.NetworkDispatcher) {
	e.dispatcher = dispatcher
	go e.dispatchLoop()
}

// IsAttached implements stack.LinkEndpoint.IsAttached.
func (e *endpoint) IsAttached() bool {
	return e.dispatcher != nil
}

// MTU implements stack.LinkEndpoint.MTU. It returns the value initialized
// during construction.
func (e *endpoint) MTU() uint32 {
	return e.mtu
}

// Capabilities implements stack.LinkEndpoint.Capabilities.
func (e *endpoint) Capabilities() stack.LinkEndpointCapabilities {
	return 0
}

// MaxHeaderLength returns the maximum size of the link-layer header.
func (e *endpoint) MaxHeaderLength() uint16 {
	return uint16(e.hdrSize)
}

// LinkAddress returns the link address of this endpoint.
func (e *endpoint) LinkAddress() tcpip.LinkAddress {
	return e.addr
}

// WritePacket writes outbound packets to the file descriptor. If it is not
// currently writable, the packet is dropped.
func (e *endpoint) WritePacket(r *stack.Route, hdr buffer.Prependable,
	payload buffer.VectorisedView, protocol tcpip.NetworkProtocolNumber) *tcpip.Error {

	if e.hdrSize > 0 {
		eth := header.Ethernet(hdr.Prepend(header.EthernetMinimumSize))
		eth.Encode(&header.EthernetFields{
			DstAddr: r.RemoteLinkAddress,
			SrcAddr: e.addr,
			Type:    protocol,
		})
	}

	if payload.Size() == 0 {
		return nonBlockingWrite(e.fd, hdr.View())
	}
	return nonBlockingWrite(e.fd, hdr.View(), payload.ToView())
}

// nonBlockingWrite 把若干段缓冲区一次性写入fd 被信号打断就重试
func nonBlockingWrite(fd int, bufs ...[]byte) *tcpip.Error {
	for {
		var err error
		if len(bufs) == 1 {
			_, err = unix.Write(fd, bufs[0])
		} else {
			_, err = unix.Writev(fd, bufs)
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			logger.GetInstance().Errorf("link write failed: %v", err)
			return tcpip.ErrDeviceClosed
		}
		return nil
	}
}

func (e *endpoint) capViews(n int, buffers []int) int {
	c := 0
	for i, s := range buffers {
		c += s
		if c >= n {
			e.views[i].CapLength(s - (c - n))
			return i + 1
		}
	}
	return len(e.views)
}

func (e *endpoint) allocateViews(bufConfig []int) {
	for i := 0; i < len(e.views); i++ {
		if e.views[i] != nil {
			break
		}
		b := buffer.NewView(bufConfig[i])
		e.views[i] = b
		e.buffers[i] = b
	}
}

// dispatch 收一个报文并交给网络层 返回是否应该继续收
func (e *endpoint) dispatch() (bool, *tcpip.Error) {
	e.allocateViews(BufConfig)

	n, err := e.readv()
	if err != nil {
		return false, err
	}
	if n <= e.hdrSize {
		return false, nil
	}

	var p tcpip.NetworkProtocolNumber
	var remote, local tcpip.LinkAddress
	if e.hdrSize > 0 {
		eth := header.Ethernet(e.views[0])
		p = eth.Type()
		remote = eth.SourceAddress()
		local = eth.DestinationAddress()
	} else {
		// 没有帧头部时 从IP版本号判断协议
		if header.IPVersion(e.views[0]) != header.IPv4Version {
			return true, nil
		}
		p = header.IPv4ProtocolNumber
	}

	used := e.capViews(n, BufConfig)
	vv := buffer.NewVectorisedView(n, e.views[:used])
	vv.TrimFront(e.hdrSize)

	e.dispatcher.DeliverNetworkPacket(e, local, remote, p, vv)

	// 交出去的内存不能复用 置空后下一轮重新分配
	for i := 0; i < used; i++ {
		e.views[i] = nil
	}
	return true, nil
}

// dispatchLoop reads packets from the file descriptor in a loop and dispatches
// them to the network stack.
func (e *endpoint) dispatchLoop() *tcpip.Error {
	for {
		cont, err := e.dispatch()
		if err != nil || !cont {
			if e.closed != nil {
				e.closed(err)
			}
			return err
		}
	}
}

func (e *endpoint) readv() (int, *tcpip.Error) {
	for {
		n, err := unix.Readv(e.fd, e.buffers)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, tcpip.ErrDeviceClosed
		}
		return n, nil
	}
}
