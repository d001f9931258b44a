package merge

import (
	"fmt"
	"sync"

	"github.com/OmarBustamante/uniffle/conf"
	"github.com/OmarBustamante/uniffle/utils"
	"github.com/pkg/errors"
)

// merge产出的block挂在原appId拼上这个后缀的合成app下
// 下游的cache和flush把它当成一个普通app处理
const MergeAppSuffix = "@merged"

// Shuffle是(appId, shuffleId)粒度的merge上下文，持有用户给的comparator和serializer
type Shuffle struct {
	appID      string
	shuffleID  int
	comparator utils.Comparator
	serializer utils.Serializer

	opts            *conf.Options
	mergedBlockSize int64
	direct          bool

	eventHandler   EventHandler
	bufferManager  BufferManager
	taskManager    TaskManager
	storageManager StorageManager

	mu         sync.Mutex
	partitions map[int]*Partition
}

// 取出或创建一个partition
func (s *Shuffle) Partition(partitionID int) *Partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[partitionID]
	if !ok {
		p = newPartition(s, partitionID)
		s.partitions[partitionID] = p
	}
	return p
}

func (s *Shuffle) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.partitions {
		p.Cleanup()
	}
	s.partitions = make(map[int]*Partition)
}

// MergeManager是merge engine对外的入口，管理所有shuffle的注册和清理
type MergeManager struct {
	opts           *conf.Options
	bufferManager  BufferManager
	taskManager    TaskManager
	storageManager StorageManager
	eventHandler   *DefaultMergeEventHandler

	mu       sync.Mutex
	shuffles map[string]*Shuffle
}

func NewMergeManager(opts *conf.Options, bm BufferManager, tm TaskManager, sm StorageManager) *MergeManager {
	return &MergeManager{
		opts:           opts,
		bufferManager:  bm,
		taskManager:    tm,
		storageManager: sm,
		eventHandler:   NewDefaultMergeEventHandler(opts.EventWorkers, opts.EventQueueSize),
		shuffles:       make(map[string]*Shuffle),
	}
}

// RegisterShuffle登记一个shuffle以及它的key排序和record编解码
func (m *MergeManager) RegisterShuffle(appID string, shuffleID int, comparator utils.Comparator, serializer utils.Serializer) *Shuffle {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := shuffleKey(appID, shuffleID)
	if s, ok := m.shuffles[key]; ok {
		return s
	}
	s := &Shuffle{
		appID:           appID,
		shuffleID:       shuffleID,
		comparator:      comparator,
		serializer:      serializer,
		opts:            m.opts,
		mergedBlockSize: m.opts.MergedBlockSize,
		direct:          m.opts.Direct,
		eventHandler:    m.eventHandler,
		bufferManager:   m.bufferManager,
		taskManager:     m.taskManager,
		storageManager:  m.storageManager,
		partitions:      make(map[int]*Partition),
	}
	m.shuffles[key] = s
	return s
}

func (m *MergeManager) GetShuffle(appID string, shuffleID int) *Shuffle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shuffles[shuffleKey(appID, shuffleID)]
}

// StartSortMerge触发一个partition的merge
func (m *MergeManager) StartSortMerge(appID string, shuffleID, partitionID int, expectedBlockIDs []int64) {
	if s := m.GetShuffle(appID, shuffleID); s != nil {
		s.Partition(partitionID).StartSortMerge(expectedBlockIDs)
	}
}

// TryGetBlock查询一个merged block的(state, size)
func (m *MergeManager) TryGetBlock(appID string, shuffleID, partitionID int, blockID int64) MergeStatus {
	s := m.GetShuffle(appID, shuffleID)
	if s == nil {
		return MergeStatus{State: InternalError, Size: utils.InvalidBlockSize}
	}
	return s.Partition(partitionID).TryGetBlock(blockID)
}

// GetData读一个merged block的数据
func (m *MergeManager) GetData(appID string, shuffleID, partitionID int, blockID int64) (ManagedBuffer, error) {
	s := m.GetShuffle(appID, shuffleID)
	if s == nil {
		return nil, errors.Errorf("shuffle %s not registered", shuffleKey(appID, shuffleID))
	}
	return s.Partition(partitionID).GetData(blockID)
}

// CleanupShuffle释放一个shuffle的全部partition
func (m *MergeManager) CleanupShuffle(appID string, shuffleID int) {
	m.mu.Lock()
	key := shuffleKey(appID, shuffleID)
	s := m.shuffles[key]
	delete(m.shuffles, key)
	m.mu.Unlock()
	if s != nil {
		s.cleanup()
	}
}

// Close停掉event worker池
func (m *MergeManager) Close() {
	m.eventHandler.Close()
}

func shuffleKey(appID string, shuffleID int) string {
	return fmt.Sprintf("%s/%d", appID, shuffleID)
}
