package utils

import (
	"bytes"
)

// merge过程中流转的最小单位，key和value都是wire form的byte数组
type Entry struct {
	Key   []byte
	Value []byte
}

// 根据传入的key和value创建entry
func NewEntry(key, value []byte) *Entry {
	return &Entry{
		Key:   key,
		Value: value,
	}
}

// 编码后的长度，keyLen + key + valLen + value
func (e *Entry) EncodedSize() int {
	return 2*U32Size + len(e.Key) + len(e.Value)
}

// Comparator比较的是wire form的key，merge全程不会反序列化出具体类型
type Comparator interface {
	Compare(key1, key2 []byte) int
}

type ComparatorFunc func(key1, key2 []byte) int

func (f ComparatorFunc) Compare(key1, key2 []byte) int {
	return f(key1, key2)
}

// 默认的字节序comparator
var BytesComparator Comparator = ComparatorFunc(bytes.Compare)
