package merge

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/OmarBustamante/uniffle/conf"
	"github.com/OmarBustamante/uniffle/file"
	"github.com/OmarBustamante/uniffle/utils"
	"github.com/stretchr/testify/require"
)

// fakeBufferManager用map模拟shuffle buffer，block按blockId索引
type fakeBufferManager struct {
	mu     sync.Mutex
	blocks map[string]map[int64]*Block
	// 非SUCCESS的返回码脚本，用完为止
	cacheStatus []StatusCode
}

func newFakeBufferManager() *fakeBufferManager {
	return &fakeBufferManager{
		blocks: make(map[string]map[int64]*Block),
	}
}

func bufferKey(appID string, shuffleID, partitionID int) string {
	return fmt.Sprintf("%s/%d/%d", appID, shuffleID, partitionID)
}

func (bm *fakeBufferManager) putBlock(appID string, shuffleID, partitionID int, block *Block) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	key := bufferKey(appID, shuffleID, partitionID)
	if bm.blocks[key] == nil {
		bm.blocks[key] = make(map[int64]*Block)
	}
	bm.blocks[key][block.BlockID] = block
}

func (bm *fakeBufferManager) GetBlock(appID string, shuffleID, partitionID int, blockID int64) *Block {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	key := bufferKey(appID, shuffleID, partitionID)
	if bm.blocks[key] == nil {
		return nil
	}
	return bm.blocks[key][blockID]
}

func (bm *fakeBufferManager) CacheShuffleData(appID string, shuffleID int, preAllocated bool, data *PartitionedData) StatusCode {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if len(bm.cacheStatus) > 0 {
		status := bm.cacheStatus[0]
		bm.cacheStatus = bm.cacheStatus[1:]
		if status != StatusSuccess {
			return status
		}
	}
	key := bufferKey(appID, shuffleID, data.PartitionID)
	if bm.blocks[key] == nil {
		bm.blocks[key] = make(map[int64]*Block)
	}
	for _, b := range data.Blocks {
		bm.blocks[key][b.BlockID] = b
	}
	return StatusSuccess
}

// 把merged app下的block按id序拼起来
func (bm *fakeBufferManager) mergedBytes(appID string, shuffleID, partitionID int) []byte {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	key := bufferKey(appID+MergeAppSuffix, shuffleID, partitionID)
	ids := make([]int64, 0, len(bm.blocks[key]))
	for id := range bm.blocks[key] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var buf bytes.Buffer
	for _, id := range ids {
		buf.Write(bm.blocks[key][id].Data.Bytes())
	}
	return buf.Bytes()
}

// fakeTaskManager的内存准入可以按脚本先拒绝几次
type fakeTaskManager struct {
	mu           sync.Mutex
	denyFirst    int
	requireTimes []time.Time
	required     []int64
	cachedIDs    []int64
}

func (tm *fakeTaskManager) RequireMemory(size int64, highPriority bool) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.requireTimes = append(tm.requireTimes, time.Now())
	if tm.denyFirst > 0 {
		tm.denyFirst--
		return false
	}
	tm.required = append(tm.required, size)
	return true
}

func (tm *fakeTaskManager) ReleaseMemory(size int64, fromBuffer, preAllocation bool) {}

func (tm *fakeTaskManager) UpdateCachedBlockIDs(appID string, shuffleID, partitionID int, blocks []*Block) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for _, b := range blocks {
		tm.cachedIDs = append(tm.cachedIDs, b.BlockID)
	}
}

// fakeStorageManager把所有请求都指到一个本地目录
type fakeStorageManager struct {
	dir string
}

func (sm *fakeStorageManager) SelectStorage(event *ReadEvent) Storage {
	return &fakeStorage{dir: sm.dir}
}

type fakeStorage struct {
	dir string
}

func (s *fakeStorage) GetOrCreateReadHandler(req *ReadHandlerRequest) ReadHandler {
	return file.NewLocalReadHandler(s.dir, req.AppID, req.ShuffleID, req.PartitionID)
}

// 一套可以直接跑merge的测试环境
type testEnv struct {
	manager *MergeManager
	shuffle *Shuffle
	bm      *fakeBufferManager
	tm      *fakeTaskManager
	dir     string
}

func newTestEnv(t *testing.T, appID string, opts *conf.Options) *testEnv {
	t.Helper()
	if opts == nil {
		opts = conf.NewDefaultOptions()
		opts.InitSleep = 5 * time.Millisecond
		opts.MaxSleep = 50 * time.Millisecond
	}
	bm := newFakeBufferManager()
	tm := &fakeTaskManager{}
	dir := t.TempDir()
	manager := NewMergeManager(opts, bm, tm, &fakeStorageManager{dir: dir})
	t.Cleanup(manager.Close)
	shuffle := manager.RegisterShuffle(appID, 0, utils.BytesComparator, &utils.KVSerializer{})
	return &testEnv{
		manager: manager,
		shuffle: shuffle,
		bm:      bm,
		tm:      tm,
		dir:     dir,
	}
}

// 把entries编码成一个block的payload
func encodeRecords(t *testing.T, entries []*utils.Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := (&utils.KVSerializer{}).NewWriter(&buf)
	for _, e := range entries {
		require.NoError(t, w.Write(e))
	}
	return buf.Bytes()
}

// 从byte流里把record全部解出来
func decodeRecords(t *testing.T, data []byte) []*utils.Entry {
	t.Helper()
	r := (&utils.KVSerializer{}).NewReader(bytes.NewReader(data))
	var entries []*utils.Entry
	for {
		e, err := r.Next()
		if err == io.EOF {
			return entries
		}
		require.NoError(t, err)
		entries = append(entries, e)
	}
}

// 构造一个内存block
func newTestBlock(t *testing.T, blockID, taskAttemptID int64, entries []*utils.Entry) *Block {
	t.Helper()
	payload := encodeRecords(t, entries)
	return &Block{
		BlockID:            blockID,
		TaskAttemptID:      taskAttemptID,
		Crc:                int64(utils.CalculateChecksum(payload)),
		DataLength:         int32(len(payload)),
		UncompressedLength: int32(len(payload)),
		Data:               utils.NewRefBuffer(payload),
	}
}

// 把block落到flush文件上，和正常数据走一样的(data, index)格式
func flushBlocks(t *testing.T, dir, appID string, shuffleID, partitionID int, blocks []*Block) {
	t.Helper()
	w, err := file.OpenFlushWriter(dir, appID, shuffleID, partitionID)
	require.NoError(t, err)
	defer w.Close()
	for _, b := range blocks {
		require.NoError(t, w.WriteBlock(b.BlockID, b.TaskAttemptID, b.Crc, b.UncompressedLength, b.Data.Bytes()))
	}
}

// 等partition走到终态
func waitState(t *testing.T, p *Partition, want MergeState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if state := p.GetState(); state == want {
			return
		} else if state == InternalError && want != InternalError {
			t.Fatalf("partition entered INTERNAL_ERROR while waiting for %s", want)
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("partition did not reach state %s in time, current %s", want, p.GetState())
}

func entry(key, value string) *utils.Entry {
	return utils.NewEntry([]byte(key), []byte(value))
}
