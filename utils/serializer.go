package utils

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Serializer是使用方提供的record编解码器，engine只需要从流中读record和向流中写record
type Serializer interface {
	NewReader(r io.Reader) RecordReader
	NewWriter(w io.Writer) RecordWriter
}

// 从byte流中按顺序读取record，读完后返回io.EOF
type RecordReader interface {
	Next() (*Entry, error)
}

// 将record写入byte流
type RecordWriter interface {
	Write(e *Entry) error
}

/*
	record编码：前 ---> 后
	+--------------------------------------+
	| keyLen:u32 | key | valLen:u32 | value |
	+--------------------------------------+
*/

type KVSerializer struct{}

func (s *KVSerializer) NewReader(r io.Reader) RecordReader {
	return &kvRecordReader{r: r}
}

func (s *KVSerializer) NewWriter(w io.Writer) RecordWriter {
	return &kvRecordWriter{w: w}
}

type kvRecordReader struct {
	r   io.Reader
	len [4]byte
}

// 读下一条record，流正常结束返回io.EOF；record中途截断返回错误
func (kr *kvRecordReader) Next() (*Entry, error) {
	if _, err := io.ReadFull(kr.r, kr.len[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read record key length")
	}
	key := make([]byte, binary.BigEndian.Uint32(kr.len[:]))
	if _, err := io.ReadFull(kr.r, key); err != nil {
		return nil, errors.Wrap(err, "read record key")
	}
	if _, err := io.ReadFull(kr.r, kr.len[:]); err != nil {
		return nil, errors.Wrap(err, "read record value length")
	}
	value := make([]byte, binary.BigEndian.Uint32(kr.len[:]))
	if _, err := io.ReadFull(kr.r, value); err != nil {
		return nil, errors.Wrap(err, "read record value")
	}
	return &Entry{Key: key, Value: value}, nil
}

type kvRecordWriter struct {
	w   io.Writer
	len [4]byte
}

func (kw *kvRecordWriter) Write(e *Entry) error {
	binary.BigEndian.PutUint32(kw.len[:], uint32(len(e.Key)))
	if _, err := kw.w.Write(kw.len[:]); err != nil {
		return errors.Wrap(err, "write record key length")
	}
	if _, err := kw.w.Write(e.Key); err != nil {
		return errors.Wrap(err, "write record key")
	}
	binary.BigEndian.PutUint32(kw.len[:], uint32(len(e.Value)))
	if _, err := kw.w.Write(kw.len[:]); err != nil {
		return errors.Wrap(err, "write record value length")
	}
	if _, err := kw.w.Write(e.Value); err != nil {
		return errors.Wrap(err, "write record value")
	}
	return nil
}
