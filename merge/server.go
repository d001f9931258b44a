package merge

import (
	"github.com/OmarBustamante/uniffle/file"
	"github.com/OmarBustamante/uniffle/utils"
)

// Block是shuffle service缓存和flush的最小单位
type Block struct {
	BlockID            int64
	TaskAttemptID      int64
	Crc                int64
	DataLength         int32
	UncompressedLength int32
	// payload在LAB上时引用计数保不住单个block，读取要走深拷贝
	OnLAB bool
	Data  *utils.RefBuffer
}

// merge产出的block，taskAttemptId用-1占位，crc和uncompressed都记成编码长度
func newMergedBlock(data *utils.RefBuffer, blockID int64, length int) *Block {
	return &Block{
		BlockID:            blockID,
		TaskAttemptID:      utils.MergedBlockTaskAttemptID,
		Crc:                int64(length),
		DataLength:         int32(length),
		UncompressedLength: int32(length),
		Data:               data,
	}
}

// PartitionedData是按partition组织的一批block
type PartitionedData struct {
	PartitionID int
	Blocks      []*Block
}

// cache操作的返回码
type StatusCode int

const (
	StatusSuccess StatusCode = iota
	StatusNoBuffer
	StatusInternalError
)

func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusNoBuffer:
		return "NO_BUFFER"
	default:
		return "INTERNAL_ERROR"
	}
}

// BufferManager存储并索引内存里的block
type BufferManager interface {
	// 没有对应的block返回nil
	GetBlock(appID string, shuffleID, partitionID int, blockID int64) *Block
	CacheShuffleData(appID string, shuffleID int, preAllocated bool, data *PartitionedData) StatusCode
}

// TaskManager做全局内存准入和block id登记
type TaskManager interface {
	RequireMemory(size int64, highPriority bool) bool
	ReleaseMemory(size int64, fromBuffer, preAllocation bool)
	UpdateCachedBlockIDs(appID string, shuffleID, partitionID int, blocks []*Block)
}

// 读取哪个partition的数据
type ReadEvent struct {
	AppID       string
	ShuffleID   int
	PartitionID int
}

type ReadHandlerRequest struct {
	AppID       string
	ShuffleID   int
	PartitionID int
}

// StorageManager把(app, shuffle, partition)解析到一个本地存储
type StorageManager interface {
	// 找不到存储返回nil
	SelectStorage(event *ReadEvent) Storage
}

type Storage interface {
	GetOrCreateReadHandler(req *ReadHandlerRequest) ReadHandler
}

type ReadHandler interface {
	DataFileName() string
	IndexFileName() string
	ShuffleIndex() (*file.IndexResult, error)
}

// EventHandler接收merge事件，提交失败返回false
type EventHandler interface {
	Handle(event *MergeEvent) bool
}

// ManagedBuffer是getData返回的数据载体，内存和文件两种来源
type ManagedBuffer interface {
	Size() int
	Bytes() ([]byte, error)
	Release() error
}

// 内存来源：持有一份retain过的引用，Release的时候还回去
type memoryBuffer struct {
	buf *utils.RefBuffer
}

func (m *memoryBuffer) Size() int {
	return m.buf.Size()
}

func (m *memoryBuffer) Bytes() ([]byte, error) {
	return m.buf.Bytes(), nil
}

func (m *memoryBuffer) Release() error {
	return m.buf.Release()
}
