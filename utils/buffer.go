package utils

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// 引用计数已经归零，说明buffer已经被flush回收了
var ErrBufferReleased = errors.New("buffer already released")

// RefBuffer是带引用计数的byte buffer
// 计数被所有视图(Duplicate/Slice)共享，归零后Retain会失败，调用方需要回退到文件读取
type RefBuffer struct {
	ref  *int32
	data []byte
}

// 创建RefBuffer，初始计数为1
func NewRefBuffer(data []byte) *RefBuffer {
	ref := int32(1)
	return &RefBuffer{
		ref:  &ref,
		data: data,
	}
}

// 引用计数+1；如果已经归零说明在和release赛跑时输了，返回ErrBufferReleased
func (b *RefBuffer) Retain() error {
	for {
		cur := atomic.LoadInt32(b.ref)
		if cur <= 0 {
			return ErrBufferReleased
		}
		if atomic.CompareAndSwapInt32(b.ref, cur, cur+1) {
			return nil
		}
	}
}

// 引用计数-1
func (b *RefBuffer) Release() error {
	ref := atomic.AddInt32(b.ref, -1)
	if ref < 0 {
		return errors.Errorf("release buffer, refCnt %d < 0", ref)
	}
	return nil
}

// 当前引用计数
func (b *RefBuffer) RefCnt() int32 {
	return atomic.LoadInt32(b.ref)
}

// 返回共享计数的完整视图，不会增加计数，需要调用方先Retain
func (b *RefBuffer) Duplicate() *RefBuffer {
	return &RefBuffer{
		ref:  b.ref,
		data: b.data,
	}
}

// 返回共享计数的切片视图
func (b *RefBuffer) Slice(offset, length int) *RefBuffer {
	return &RefBuffer{
		ref:  b.ref,
		data: b.data[offset : offset+length],
	}
}

// 深拷贝出独立计数的buffer，LAB上的block会整体回收，必须拷贝
func (b *RefBuffer) Copy() *RefBuffer {
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return NewRefBuffer(data)
}

func (b *RefBuffer) Bytes() []byte {
	return b.data
}

func (b *RefBuffer) Size() int {
	return len(b.data)
}
