package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefBufferRetainRelease(t *testing.T) {
	buf := NewRefBuffer([]byte("hello"))
	require.Equal(t, int32(1), buf.RefCnt())

	require.NoError(t, buf.Retain())
	require.Equal(t, int32(2), buf.RefCnt())

	dup := buf.Duplicate()
	require.NoError(t, dup.Release())
	require.NoError(t, buf.Release())
	require.Equal(t, int32(0), buf.RefCnt())

	// 归零之后retain必须失败，调用方回退到文件
	require.ErrorIs(t, buf.Retain(), ErrBufferReleased)
	require.ErrorIs(t, dup.Retain(), ErrBufferReleased)
}

func TestRefBufferSliceSharesCount(t *testing.T) {
	buf := NewRefBuffer([]byte("0123456789"))
	require.NoError(t, buf.Retain())
	s := buf.Slice(2, 4)
	assert.Equal(t, []byte("2345"), s.Bytes())
	assert.Equal(t, int32(2), s.RefCnt())

	require.NoError(t, s.Release())
	require.NoError(t, buf.Release())
	require.ErrorIs(t, s.Retain(), ErrBufferReleased)
}

func TestRefBufferCopyIndependent(t *testing.T) {
	buf := NewRefBuffer([]byte("payload"))
	cp := buf.Copy()
	require.NoError(t, buf.Release())
	// 深拷贝有自己的计数，不跟原buffer一起死
	require.NoError(t, cp.Retain())
	assert.Equal(t, []byte("payload"), cp.Bytes())
}

// retain和release赛跑，要么成功要么干净地失败，计数不会变负
func TestRefBufferConcurrentRetain(t *testing.T) {
	buf := NewRefBuffer(make([]byte, 8))
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := buf.Retain(); err == nil {
				_ = buf.Release()
			}
		}()
	}
	_ = buf.Release()
	wg.Wait()
	require.LessOrEqual(t, buf.RefCnt(), int32(0))
	require.ErrorIs(t, buf.Retain(), ErrBufferReleased)
}
