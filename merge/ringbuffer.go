package merge

import (
	"github.com/pkg/errors"
)

const (
	minRingSize = 2
	maxRingSize = 32
	// 后台reader每次读入ring的chunk大小
	ringChunkSize = 8 << 10
)

// ringCapacity把配置值先clamp到[2,32]，再向上取整到2的幂
// 2和32本身保持不变，其余非2的幂会被调大，调用方需要对调整打日志
// (等价于 highestOneBit((min(32, max(2, n)) - 1) << 1))
func ringCapacity(n int) int {
	if n < minRingSize {
		n = minRingSize
	}
	if n > maxRingSize {
		n = maxRingSize
	}
	c := minRingSize
	for c < n {
		c <<= 1
	}
	return c
}

// ring里的一个slot；eof和err都是in-band的哨兵
type chunk struct {
	data []byte
	err  error
	eof  bool
}

// 有界SPSC队列：producer是后台文件reader，consumer是对应的segment
// producer满了不放(由reader循环重试)，consumer空了阻塞等
type ringBuffer struct {
	ch chan chunk
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		ch: make(chan chunk, capacity),
	}
}

// 非阻塞投递，ring满了返回false
func (r *ringBuffer) tryPut(c chunk) bool {
	select {
	case r.ch <- c:
		return true
	default:
		return false
	}
}

func (r *ringBuffer) full() bool {
	return len(r.ch) == cap(r.ch)
}

// 阻塞取出一个slot，reader关闭时解除阻塞
func (r *ringBuffer) get(stop <-chan struct{}) (chunk, error) {
	select {
	case c := <-r.ch:
		return c, nil
	case <-stop:
		// 关闭后可能还有残留数据，优先清干净
		select {
		case c := <-r.ch:
			return c, nil
		default:
			return chunk{}, errors.New("flush file reader already closed")
		}
	}
}
