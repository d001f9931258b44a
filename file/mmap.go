package file

import (
	"io"
	"os"

	"github.com/OmarBustamante/uniffle/utils"
	"github.com/OmarBustamante/uniffle/utils/mmap"
	"github.com/pkg/errors"
)

// 用于表示一个通过mmap映射的文件
type MmapFile struct {
	// 实际放置数据的[]byte
	Data []byte
	// File唯一标识
	Fd *os.File
}

// 用mmap将文件映射到内存中，返回MmapFile
func OpenMmapFileUsing(fd *os.File, sz int, writable bool) (*MmapFile, error) {
	filename := fd.Name()
	fi, err := fd.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot stat file: %s", filename)
	}

	fileSize := fi.Size()
	if sz > 0 && fileSize == 0 {
		// 如果file是空的(filesize == 0)
		if err := fd.Truncate(int64(sz)); err != nil {
			return nil, errors.Wrapf(err, "error while truncation")
		}
		fileSize = int64(sz)
	}

	buf, err := mmap.Mmap(fd, writable, fileSize) // 通过mmap设置映射
	if err != nil {
		return nil, errors.Wrapf(err, "while mmapping %s with size: %d", fd.Name(), fileSize)
	}

	return &MmapFile{
		Data: buf,
		Fd:   fd,
	}, nil
}

// 将一个文件按照Mmap的方式打开。(会调用OpenMmapFileUsing()) 返回MmapFile的格式
func OpenMmapFile(filename string, flag int, maxSz int) (*MmapFile, error) {
	fd, err := os.OpenFile(filename, flag, utils.DefaultFileMode)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open: %s", filename)
	}
	// 如果传入的flag是O_RDONLY，则 writable = false
	writable := true
	if flag == os.O_RDONLY {
		writable = false
	}
	// 如果文件已经有内容，则使用其原来的大小
	if fileInfo, err := fd.Stat(); err == nil && fileInfo != nil && fileInfo.Size() > 0 {
		maxSz = int(fileInfo.Size())
	}
	return OpenMmapFileUsing(fd, maxSz, writable)
}

// 从offset开始读取Data中size个byte
func (m *MmapFile) Bytes(off, sz int) ([]byte, error) {
	if len(m.Data[off:]) < sz {
		return nil, io.EOF
	}
	return m.Data[off : off+sz], nil
}

// Close流程
func (m *MmapFile) Close() error {
	if m.Fd == nil {
		return nil
	}
	// 取消映射
	if err := mmap.Munmap(m.Data); err != nil {
		return errors.Wrapf(err, "while munmap file: %s", m.Fd.Name())
	}
	m.Data = nil
	// close file
	return m.Fd.Close()
}
