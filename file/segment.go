package file

import (
	"os"

	"github.com/pkg/errors"
)

// Segment是merged数据文件上的一段，懒加载
// direct时通过mmap读，否则一次ReadAt读进堆内存
type Segment struct {
	path   string
	offset int64
	length int
	direct bool

	mf   *MmapFile
	data []byte
}

func NewSegment(path string, offset int64, length int, direct bool) *Segment {
	return &Segment{
		path:   path,
		offset: offset,
		length: length,
		direct: direct,
	}
}

func (s *Segment) Size() int {
	return s.length
}

// 读出这一段的数据，第一次调用才会发生IO
func (s *Segment) Bytes() ([]byte, error) {
	if s.data != nil {
		return s.data, nil
	}
	if s.direct {
		mf, err := OpenMmapFile(s.path, os.O_RDONLY, 0)
		if err != nil {
			return nil, err
		}
		data, err := mf.Bytes(int(s.offset), s.length)
		if err != nil {
			_ = mf.Close()
			return nil, errors.Wrapf(err, "read segment [%d, %d) from %s", s.offset, s.offset+int64(s.length), s.path)
		}
		s.mf = mf
		s.data = data
		return s.data, nil
	}

	fd, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open: %s", s.path)
	}
	defer fd.Close()
	data := make([]byte, s.length)
	if _, err := fd.ReadAt(data, s.offset); err != nil {
		return nil, errors.Wrapf(err, "read segment [%d, %d) from %s", s.offset, s.offset+int64(s.length), s.path)
	}
	s.data = data
	return s.data, nil
}

// 释放底层资源；mmap的映射在这里解除
func (s *Segment) Release() error {
	s.data = nil
	if s.mf != nil {
		mf := s.mf
		s.mf = nil
		return mf.Close()
	}
	return nil
}
