package buffer

// View 是一段连续的报文缓冲区
type View []byte

// NewView 分配一个size字节的新缓冲区
func NewView(size int) View {
	return make(View, size)
}

// NewViewFromBytes 从已有的字节切片拷贝出一个新的View
func NewViewFromBytes(b []byte) View {
	return append(View(nil), b...)
}

// TrimFront 去掉缓冲区可见部分的前count个字节
func (v *View) TrimFront(count int) {
	*v = (*v)[count:]
}

// CapLength 不可逆地把缓冲区可见部分的长度缩减到length
func (v *View) CapLength(length int) {
	// 同时收掉容量 防止后面的append覆盖到被裁剪掉的部分
	*v = (*v)[:length:length]
}

// ToVectorisedView 把单段缓冲区包装成向量化形式
func (v View) ToVectorisedView() VectorisedView {
	return NewVectorisedView(len(v), []View{v})
}

// VectorisedView 是由多段不连续内存组成的View
type VectorisedView struct {
	views []View
	size  int
}

// NewVectorisedView creates a new vectorised view from an already-allocated
// slice of View and sets its size.
func NewVectorisedView(size int, views []View) VectorisedView {
	return VectorisedView{views: views, size: size}
}

// TrimFront 去掉前count个字节 可能跨越多段
func (vv *VectorisedView) TrimFront(count int) {
	for count > 0 && len(vv.views) > 0 {
		if count < len(vv.views[0]) {
			vv.size -= count
			vv.views[0].TrimFront(count)
			return
		}
		count -= len(vv.views[0])
		vv.RemoveFirst()
	}
}

// CapLength 把总长度限制为length
func (vv *VectorisedView) CapLength(length int) {
	if length < 0 {
		length = 0
	}
	if vv.size < length {
		return
	}
	vv.size = length
	for i := range vv.views {
		v := &vv.views[i]
		if len(*v) >= length {
			if length == 0 {
				vv.views = vv.views[:i]
			} else {
				v.CapLength(length)
				vv.views = vv.views[:i+1]
			}
			return
		}
		length -= len(*v)
	}
}

// Clone 返回一份浅拷贝 各段仍然指向同一块内存
func (vv VectorisedView) Clone(buffer []View) VectorisedView {
	return VectorisedView{views: append(buffer[:0], vv.views...), size: vv.size}
}

// First 返回第一段缓冲区
func (vv VectorisedView) First() View {
	if len(vv.views) == 0 {
		return nil
	}
	return vv.views[0]
}

// RemoveFirst 去掉第一段缓冲区
func (vv *VectorisedView) RemoveFirst() {
	if len(vv.views) == 0 {
		return
	}
	vv.size -= len(vv.views[0])
	vv.views = vv.views[1:]
}

// Size 返回所有段加起来的总长度
func (vv VectorisedView) Size() int {
	return vv.size
}

// ToView 把所有段拷贝拼接成一段连续的View
func (vv VectorisedView) ToView() View {
	u := make([]byte, 0, vv.size)
	for _, v := range vv.views {
		u = append(u, v...)
	}
	return u
}

// Views 返回底层的各段缓冲区
func (vv VectorisedView) Views() []View {
	return vv.views
}
