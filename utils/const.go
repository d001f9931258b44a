package utils

import (
	"os"
	"unsafe"
)

// file
const (
	DefaultFileFlag = os.O_RDWR | os.O_CREATE | os.O_APPEND
	DefaultFileMode = 0666
)

// merge
const (
	// 读者还没有拿到的block，size返回-1
	InvalidBlockSize int64 = -1
	// merge产出的block统一使用的taskAttemptId
	MergedBlockTaskAttemptID int64 = -1
)

const U32Size = int(unsafe.Sizeof(uint32(0)))
const U64Size = int(unsafe.Sizeof(uint64(0)))

// 索引文件中单条记录的长度
// offset:u64 | length:u32 | uncompressed:u32 | crc:u64 | blockId:u64 | taskAttemptId:u64
const IndexRecordSize = 3*U64Size + 2*U32Size + U64Size
