package buffer

// Prependable 是一块预留了头部空间的缓冲区
// 各层协议从内到外依次向前prepend自己的首部 比如 ip|eth
type Prependable struct {
	buf View

	// usedIdx 之前的空间还没有被使用
	usedIdx int
}

// NewPrependable 分配一个size字节的Prependable 所有空间都可用于prepend
func NewPrependable(size int) Prependable {
	return Prependable{buf: NewView(size), usedIdx: size}
}

// View 返回已经写入的部分
func (p Prependable) View() View {
	return p.buf[p.usedIdx:]
}

// UsedLength 返回已经写入的字节数
func (p Prependable) UsedLength() int {
	return len(p.buf) - p.usedIdx
}

// Prepend 向前扩展size个字节并返回这段空间 空间不足时返回nil
func (p *Prependable) Prepend(size int) []byte {
	if size > p.usedIdx {
		return nil
	}
	p.usedIdx -= size
	return p.View()[:size:size]
}
