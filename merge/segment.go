package merge

import (
	"bytes"
	"io"

	"github.com/OmarBustamante/uniffle/utils"
)

// Segment是k-way merge的一路有序输入
// 生命周期：构造(未打开) -> Init分配资源 -> 反复Next消费 -> Close释放
type Segment interface {
	// Init分配资源；file-backed的流在这里注册ring，必须先于reader.Start
	Init() error
	// Next读下一条record；流正常结束后Valid()变为false
	Next() error
	Valid() bool
	Entry() *utils.Entry
	BlockID() int64
	Size() int64
	Close() error
}

// streamedSegment同时覆盖内存block和flush文件两种来源
type streamedSegment struct {
	blockID    int64
	size       int64
	serializer utils.Serializer

	// 二选一
	buf    *utils.RefBuffer
	stream *BlockInputStream

	rr    utils.RecordReader
	entry *utils.Entry
	valid bool
}

// 内存来源：buf是collectBlocks拿到的引用，Close时归还
func newMemorySegment(serializer utils.Serializer, blockID int64, buf *utils.RefBuffer) *streamedSegment {
	return &streamedSegment{
		blockID:    blockID,
		size:       int64(buf.Size()),
		serializer: serializer,
		buf:        buf,
	}
}

// 文件来源：stream是flush reader上注册出来的block流
func newFileSegment(serializer utils.Serializer, blockID int64, stream *BlockInputStream) *streamedSegment {
	return &streamedSegment{
		blockID:    blockID,
		size:       stream.Available(),
		serializer: serializer,
		stream:     stream,
	}
}

func (s *streamedSegment) Init() error {
	if s.stream != nil {
		if err := s.stream.open(); err != nil {
			return err
		}
		s.rr = s.serializer.NewReader(s.stream)
		return nil
	}
	s.rr = s.serializer.NewReader(bytes.NewReader(s.buf.Bytes()))
	return nil
}

func (s *streamedSegment) Next() error {
	entry, err := s.rr.Next()
	if err == io.EOF {
		s.entry = nil
		s.valid = false
		return nil
	}
	if err != nil {
		s.entry = nil
		s.valid = false
		return err
	}
	s.entry = entry
	s.valid = true
	return nil
}

func (s *streamedSegment) Valid() bool {
	return s.valid
}

func (s *streamedSegment) Entry() *utils.Entry {
	return s.entry
}

func (s *streamedSegment) BlockID() int64 {
	return s.blockID
}

func (s *streamedSegment) Size() int64 {
	return s.size
}

func (s *streamedSegment) Close() error {
	s.valid = false
	if s.stream != nil {
		return s.stream.Close()
	}
	if s.buf != nil {
		buf := s.buf
		s.buf = nil
		return buf.Release()
	}
	return nil
}
