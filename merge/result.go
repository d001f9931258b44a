package merge

import (
	"sync"

	"github.com/OmarBustamante/uniffle/utils"
	"github.com/pkg/errors"
)

// emit把一个切好的merged block交给cache，返回false表示这次merge到此为止
type emitFunc func(data *utils.RefBuffer, blockID int64, length int) bool

// MergedResult是一个partition的merge产出：一串按id递增的block
// block产出后size立刻可查，直到partition被cleanup
type MergedResult struct {
	mu        sync.RWMutex
	blockSize int64
	sizes     []int64
	emit      emitFunc
}

func newMergedResult(blockSize int64, emit emitFunc) *MergedResult {
	return &MergedResult{
		blockSize: blockSize,
		emit:      emit,
	}
}

// 打开merge输出流；totalBytes是所有输入segment的总量，用来预估buffer
func (r *MergedResult) OutputStream(direct bool, totalBytes int64) *mergedWriteStream {
	capacity := r.blockSize
	if totalBytes > 0 && totalBytes < capacity {
		capacity = totalBytes
	}
	return &mergedWriteStream{
		result: r,
		direct: direct,
		buf:    make([]byte, 0, capacity),
	}
}

// blockID是否还没有产出
func (r *MergedResult) IsOutOfBound(blockID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return blockID < 0 || blockID >= int64(len(r.sizes))
}

// 已产出block的大小；没有产出的返回-1
func (r *MergedResult) BlockSize(blockID int64) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if blockID < 0 || blockID >= int64(len(r.sizes)) {
		return utils.InvalidBlockSize
	}
	return r.sizes[blockID]
}

func (r *MergedResult) appendSize(size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, size)
}

// mergedWriteStream接收任意byte写入，攒够blockSize就切一个block出去
// emit失败会同步反馈成写错误，driver把它当成partition级的致命错误
type mergedWriteStream struct {
	result      *MergedResult
	direct      bool
	buf         []byte
	nextBlockID int64
	closed      bool
	failed      error
}

func (w *mergedWriteStream) Write(p []byte) (int, error) {
	if w.failed != nil {
		return 0, w.failed
	}
	if w.closed {
		return 0, errors.New("write to closed merged output stream")
	}
	total := len(p)
	for len(p) > 0 {
		n := int(w.result.blockSize) - len(w.buf)
		if n > len(p) {
			n = len(p)
		}
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		if int64(len(w.buf)) == w.result.blockSize {
			if err := w.flushBlock(); err != nil {
				return 0, err
			}
		}
	}
	return total, nil
}

// 把攒下的数据切成一个block发出去
func (w *mergedWriteStream) flushBlock() error {
	if len(w.buf) == 0 {
		return nil
	}
	block := make([]byte, len(w.buf))
	copy(block, w.buf)
	w.buf = w.buf[:0]
	blockID := w.nextBlockID
	if !w.result.emit(utils.NewRefBuffer(block), blockID, len(block)) {
		w.failed = errors.Errorf("cache merged block %d failed", blockID)
		return w.failed
	}
	// 先emit后登记size，读者看到size时block一定已经在cache里
	w.result.appendSize(int64(len(block)))
	w.nextBlockID++
	return nil
}

// Flush把最后一个不满的block也发出去
func (w *mergedWriteStream) Flush() error {
	if w.failed != nil {
		return w.failed
	}
	return w.flushBlock()
}

// Close幂等；正常路径上Flush已经把数据清空了
func (w *mergedWriteStream) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.failed != nil {
		return nil
	}
	return w.flushBlock()
}
