package merge

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OmarBustamante/uniffle/file"
	"github.com/OmarBustamante/uniffle/utils"
	"github.com/pkg/errors"
)

// merged数据文件的索引缓存；merge期间索引文件一直在长，miss时重新加载
type shuffleMeta struct {
	dataFileName string
	segments     map[int64]indexSegment
}

// Partition是(app, shuffle, partition)粒度的sort-merge状态机
// merge worker在后台写，读者并发地tryGetBlock/GetData
type Partition struct {
	shuffle     *Shuffle
	partitionID int

	state int32 // MergeState，读者无锁快照

	// mu守护状态转移的互斥和shuffleMeta的reload
	mu     sync.Mutex
	result *MergedResult
	meta   shuffleMeta

	initSleep      time.Duration
	maxSleep       time.Duration
	sleep          time.Duration
	ringBufferSize int

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newPartition(shuffle *Shuffle, partitionID int) *Partition {
	p := &Partition{
		shuffle:     shuffle,
		partitionID: partitionID,
		meta:        shuffleMeta{segments: make(map[int64]indexSegment)},
		initSleep:   shuffle.opts.InitSleep,
		maxSleep:    shuffle.opts.MaxSleep,
		sleep:       shuffle.opts.InitSleep,
		stopCh:      make(chan struct{}),
	}
	p.result = newMergedResult(shuffle.mergedBlockSize, p.cacheMergedBlock)
	tmpRingBufferSize := shuffle.opts.RingBufferSize
	p.ringBufferSize = ringCapacity(tmpRingBufferSize)
	if tmpRingBufferSize != p.ringBufferSize {
		log.Printf("the ring buffer size will transient from %d to %d", tmpRingBufferSize, p.ringBufferSize)
	}
	return p
}

// StartSortMerge触发merge，重复触发只告警不生效
func (p *Partition) StartSortMerge(expectedBlockIDs []int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.GetState() != Inited {
		log.Printf("partition is already merging, so ignore duplicate reports, partition is %s", p)
		return
	}
	// 空输入直接DONE，不需要打扰event handler
	if len(expectedBlockIDs) == 0 {
		p.setState(Done)
		return
	}
	p.setState(Merging)
	event := &MergeEvent{
		AppID:            p.shuffle.appID,
		ShuffleID:        p.shuffle.shuffleID,
		PartitionID:      p.partitionID,
		ExpectedBlockIDs: expectedBlockIDs,
		partition:        p,
	}
	if !p.shuffle.eventHandler.Handle(event) {
		p.setState(InternalError)
	}
}

// merge worker的入口：组装segment，跑k-way merge
func (p *Partition) processMergeEvent(event *MergeEvent) {
	cached := make(map[int64]*utils.RefBuffer)
	allCached := p.collectBlocks(event.ExpectedBlockIDs, cached)
	var reader *BlockFlushFileReader
	if !allCached {
		var err error
		if reader, err = p.createReader(); err != nil {
			log.Printf("create flush file reader for %s failed, caused by %v", p, err)
			releaseCached(cached)
			p.setState(InternalError)
			return
		}
	}
	segments, err := p.collectSegments(event.ExpectedBlockIDs, cached, reader)
	if err != nil {
		log.Printf("collect segments for %s failed, caused by %v", p, err)
		for _, seg := range segments {
			_ = seg.Close()
		}
		releaseCached(cached)
		if reader != nil {
			_ = reader.Close()
		}
		p.setState(InternalError)
		return
	}
	var totalBytes int64
	for _, seg := range segments {
		totalBytes += seg.Size()
	}
	output := p.result.OutputStream(p.shuffle.direct, totalBytes)
	p.merge(segments, output, reader)
}

// collectBlocks尝试把还在内存里的block都引用出来
// 全部拿到返回true；有block已经被flush释放则回头从文件读
func (p *Partition) collectBlocks(blockIDs []int64, cached map[int64]*utils.RefBuffer) bool {
	allCached := true
	for _, blockID := range blockIDs {
		block := p.getBlock(blockID, false)
		if block == nil {
			allCached = false
			continue
		}
		if err := block.Data.Retain(); err != nil {
			// flush清理抢先release了，只能从文件里读
			allCached = false
			log.Printf("can't read bytes from block %d in memory, maybe already been flushed!", blockID)
			continue
		}
		if block.OnLAB {
			// LAB整体回收不看单个block的计数，必须深拷贝
			cached[blockID] = block.Data.Copy()
			_ = block.Data.Release()
		} else {
			cached[blockID] = block.Data.Slice(0, int(block.DataLength))
		}
	}
	return allCached
}

// 为不在内存里的block准备flush文件reader
func (p *Partition) createReader() (*BlockFlushFileReader, error) {
	handler, err := p.readHandler(p.shuffle.appID)
	if err != nil {
		return nil, err
	}
	return NewBlockFlushFileReader(handler.DataFileName(), handler.IndexFileName(), p.ringBufferSize, p.shuffle.direct)
}

// collectSegments把每个block落实为memory-backed或file-backed的segment
// 某个block两边都找不到就是致命错误
func (p *Partition) collectSegments(blockIDs []int64, cached map[int64]*utils.RefBuffer, reader *BlockFlushFileReader) ([]Segment, error) {
	segments := make([]Segment, 0, len(blockIDs))
	for _, blockID := range blockIDs {
		if buf, ok := cached[blockID]; ok {
			segments = append(segments, newMemorySegment(p.shuffle.serializer, blockID, buf))
			delete(cached, blockID)
			continue
		}
		stream := reader.Register(blockID)
		if stream == nil {
			return segments, errors.Errorf("can not find any buffer or file for block %d", blockID)
		}
		segments = append(segments, newFileSegment(p.shuffle.serializer, blockID, stream))
	}
	return segments, nil
}

// merge是driver：init所有segment，start reader，跑k-way merge写到output
// 任何错误把partition带进INTERNAL_ERROR；清理路径总是全量执行
func (p *Partition) merge(segments []Segment, output *mergedWriteStream, reader *BlockFlushFileReader) {
	err := func() error {
		for _, seg := range segments {
			if err := seg.Init(); err != nil {
				return err
			}
		}
		// start reader必须在segment init之后，init才会分配ring
		if reader != nil {
			if err := reader.Start(); err != nil {
				return err
			}
		}
		writer := p.shuffle.serializer.NewWriter(output)
		if err := mergeSegments(segments, writer, p.shuffle.comparator); err != nil {
			return err
		}
		// 最后一个不满的block要在状态变DONE之前发出去
		return output.Flush()
	}()
	if err != nil {
		log.Printf("found error when merge for %s, caused by %v", p, err)
		p.setState(InternalError)
	} else {
		p.setState(Done)
	}
	if reader != nil {
		if cerr := reader.Close(); cerr != nil {
			log.Printf("fail to close reader for %s, caused by %v", p, cerr)
		}
	}
	if cerr := output.Close(); cerr != nil {
		log.Printf("fail to close output for %s, caused by %v", p, cerr)
	}
	for _, seg := range segments {
		if cerr := seg.Close(); cerr != nil {
			log.Printf("fail to close segment %d for %s, caused by %v", seg.BlockID(), p, cerr)
		}
	}
}

// requireMemory带指数退避地等内存准入；等待被取消算这次merge失败
func (p *Partition) requireMemory(size int64) error {
	for !p.shuffle.taskManager.RequireMemory(size, false) {
		select {
		case <-time.After(p.sleep):
			p.sleep = p.sleep * 2
			if p.sleep > p.maxSleep {
				p.sleep = p.maxSleep
			}
		case <-p.stopCh:
			return errors.Errorf("interrupted when waiting to require memory for %s", p)
		}
	}
	return nil
}

// merge切出来的block在一个合成的appId(原appId + 后缀)下走原有的cache/flush路径
// 成功路径上不调releaseMemory，配额在buffer manager flush这个block时归还
func (p *Partition) cacheMergedBlock(data *utils.RefBuffer, blockID int64, length int) bool {
	appID := p.shuffle.appID + MergeAppSuffix
	if err := p.requireMemory(int64(length)); err != nil {
		utils.Err(err)
		return false
	}
	block := newMergedBlock(data, blockID, length)
	spd := &PartitionedData{PartitionID: p.partitionID, Blocks: []*Block{block}}
	ret := p.shuffle.bufferManager.CacheShuffleData(appID, p.shuffle.shuffleID, true, spd)
	if ret != StatusSuccess {
		log.Printf("error happened when cache merged block for appId[%s], shuffleId[%d], partitionId[%d], statusCode=%s",
			appID, p.shuffle.shuffleID, p.partitionID, ret)
		_ = data.Release()
		return false
	}
	p.shuffle.taskManager.UpdateCachedBlockIDs(appID, p.shuffle.shuffleID, p.partitionID, spd.Blocks)
	p.sleep = p.initSleep
	return true
}

// TryGetBlock给读者一个(state, size)快照
// merge还在跑的时候size就开始按id序变为非负，读者可以边merge边消费
func (p *Partition) TryGetBlock(blockID int64) MergeStatus {
	size := utils.InvalidBlockSize
	state := p.GetState()
	if (state == Merging || state == Done) && !p.result.IsOutOfBound(blockID) {
		size = p.result.BlockSize(blockID)
	}
	return MergeStatus{State: state, Size: size}
}

// GetData读一个merged block，先内存后文件
func (p *Partition) GetData(blockID int64) (ManagedBuffer, error) {
	if mb := p.mergedBlockInMemory(blockID); mb != nil {
		return mb, nil
	}
	return p.mergedBlockInFile(blockID)
}

func (p *Partition) mergedBlockInMemory(blockID int64) ManagedBuffer {
	block := p.getBlock(blockID, true)
	if block == nil {
		return nil
	}
	// retain要赶在flush清理release之前，输了就从文件读
	if err := block.Data.Retain(); err != nil {
		log.Printf("get buffer from memory failed, caused by %v", err)
		return nil
	}
	return &memoryBuffer{buf: block.Data.Duplicate()}
}

func (p *Partition) mergedBlockInFile(blockID int64) (ManagedBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.meta.segments[blockID]; !ok {
		if err := p.reloadShuffleMeta(); err != nil {
			return nil, err
		}
	}
	seg, ok := p.meta.segments[blockID]
	if !ok {
		return nil, errors.Errorf("can not find block for blockId %d", blockID)
	}
	return file.NewSegment(p.meta.dataFileName, seg.offset, int(seg.length), p.shuffle.direct), nil
}

// 重新加载merged数据文件的索引；必须在partition锁内，避免读者看到半新半旧的map
func (p *Partition) reloadShuffleMeta() error {
	appID := p.shuffle.appID + MergeAppSuffix
	handler, err := p.readHandler(appID)
	if err != nil {
		return err
	}
	indexResult, err := handler.ShuffleIndex()
	if err != nil {
		return err
	}
	segments := make(map[int64]indexSegment)
	// crc/uncompressed/taskAttemptId读出即弃：正确性由同进程的写入路径保证
	for _, r := range file.DecodeIndex(indexResult.IndexData) {
		segments[r.BlockID] = indexSegment{offset: r.Offset, length: r.Length}
	}
	p.meta.dataFileName = indexResult.DataFileName
	p.meta.segments = segments
	return nil
}

func (p *Partition) readHandler(appID string) (ReadHandler, error) {
	storage := p.shuffle.storageManager.SelectStorage(&ReadEvent{
		AppID:       appID,
		ShuffleID:   p.shuffle.shuffleID,
		PartitionID: p.partitionID,
	})
	if storage == nil {
		return nil, errors.Errorf("no such data in current storage manager, appId[%s]", appID)
	}
	return storage.GetOrCreateReadHandler(&ReadHandlerRequest{
		AppID:       appID,
		ShuffleID:   p.shuffle.shuffleID,
		PartitionID: p.partitionID,
	}), nil
}

func (p *Partition) getBlock(blockID int64, merged bool) *Block {
	appID := p.shuffle.appID
	if merged {
		appID += MergeAppSuffix
	}
	return p.shuffle.bufferManager.GetBlock(appID, p.shuffle.shuffleID, p.partitionID, blockID)
}

func (p *Partition) setState(state MergeState) {
	atomic.StoreInt32(&p.state, int32(state))
}

func (p *Partition) GetState() MergeState {
	return MergeState(atomic.LoadInt32(&p.state))
}

// Cleanup清掉索引缓存并取消还在等待的操作
func (p *Partition) Cleanup() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meta.dataFileName = ""
	p.meta.segments = make(map[int64]indexSegment)
}

func (p *Partition) String() string {
	return fmt.Sprintf("Partition{appId=%s, shuffle=%d, partitionId=%d, state=%s}",
		p.shuffle.appID, p.shuffle.shuffleID, p.partitionID, p.GetState())
}

func releaseCached(cached map[int64]*utils.RefBuffer) {
	for id, buf := range cached {
		_ = buf.Release()
		delete(cached, id)
	}
}
