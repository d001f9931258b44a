package merge

import (
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/OmarBustamante/uniffle/file"
	"github.com/OmarBustamante/uniffle/utils"
	"github.com/pkg/errors"
)

// BlockFlushFileReader用一个fd和一个后台协程服务同一文件上的N个block流
// 协议：Register全部完成 -> 每个segment Init时open(分配ring) -> Start -> 消费 -> Close
type BlockFlushFileReader struct {
	dataPath  string
	indexPath string
	ringSize  int
	direct    bool

	mu      sync.Mutex
	index   map[int64]indexSegment
	streams []*BlockInputStream
	started bool

	dataFd    *os.File
	wake      chan struct{}
	closer    *utils.Closer
	closeOnce sync.Once
	closeErr  error
}

// 索引中一个block的位置
type indexSegment struct {
	offset int64
	length int32
}

// 构造时读一次索引文件，建立blockId到(offset, length)的映射
func NewBlockFlushFileReader(dataPath, indexPath string, ringBufferSize int, direct bool) (*BlockFlushFileReader, error) {
	indexData, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read index file %s", indexPath)
	}
	index := make(map[int64]indexSegment)
	for _, r := range file.DecodeIndex(indexData) {
		index[r.BlockID] = indexSegment{offset: r.Offset, length: r.Length}
	}
	return &BlockFlushFileReader{
		dataPath:  dataPath,
		indexPath: indexPath,
		ringSize:  ringCapacity(ringBufferSize),
		direct:    direct,
		index:     index,
		wake:      make(chan struct{}, 1),
		closer:    utils.NewCloser(),
	}, nil
}

// Register在索引中查找block并返回一个lazy的输入流，找不到返回nil
// Start之后不再接受注册
func (r *BlockFlushFileReader) Register(blockID int64) *BlockInputStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		log.Printf("register block %d refused, reader already started", blockID)
		return nil
	}
	seg, ok := r.index[blockID]
	if !ok {
		return nil
	}
	stream := &BlockInputStream{
		reader:  r,
		blockID: blockID,
		start:   seg.offset,
		length:  int64(seg.length),
	}
	r.streams = append(r.streams, stream)
	return stream
}

// Start启动后台读取协程
// 必须发生在所有segment init之后，因为init才会分配每个流的ring
func (r *BlockFlushFileReader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	for _, st := range r.streams {
		if st.ring == nil {
			return errors.Errorf("block stream %d is not initialized before start", st.blockID)
		}
	}
	fd, err := os.Open(r.dataPath)
	if err != nil {
		return errors.Wrapf(err, "open data file %s", r.dataPath)
	}
	r.dataFd = fd
	r.started = true
	r.closer.Add(1)
	go r.run()
	return nil
}

// 后台读取循环：每一轮给所有ring没满、还有余量的流各投一个chunk
// 一轮下来毫无进展时挂起，等consumer腾出slot后唤醒
func (r *BlockFlushFileReader) run() {
	defer r.closer.Done()
	for {
		select {
		case <-r.closer.CloseSignal:
			return
		default:
		}

		progressed := false
		active := 0
		for _, st := range r.streams {
			if st.isDone() || st.isClosed() {
				continue
			}
			active++
			if st.eofPending {
				// 数据投完了，EOF哨兵也要占一个slot
				if st.ring.tryPut(chunk{eof: true}) {
					st.markDone()
					progressed = true
				}
				continue
			}
			if st.ring.full() {
				continue
			}
			n := int64(ringChunkSize)
			if rest := st.length - st.pos; rest < n {
				n = rest
			}
			if n <= 0 {
				st.eofPending = true
				progressed = true
				continue
			}
			buf := make([]byte, n)
			if _, err := r.dataFd.ReadAt(buf, st.start+st.pos); err != nil {
				// 单个流失败不影响其他流，consumer在下一次读的时候看到错误
				st.ring.tryPut(chunk{err: errors.Wrapf(err, "read block %d from %s", st.blockID, r.dataPath)})
				st.markDone()
				progressed = true
				continue
			}
			st.ring.tryPut(chunk{data: buf})
			st.pos += n
			if st.pos >= st.length {
				st.eofPending = true
			}
			progressed = true
		}

		if active == 0 {
			return
		}
		if !progressed {
			select {
			case <-r.wake:
			case <-r.closer.CloseSignal:
				return
			}
		}
	}
}

// Close通知后台协程退出并关闭fd，可以重复调用
func (r *BlockFlushFileReader) Close() error {
	r.closeOnce.Do(func() {
		r.closer.Close()
		if r.dataFd != nil {
			r.closeErr = r.dataFd.Close()
		}
	})
	return r.closeErr
}

// BlockInputStream是文件上单个block的顺序输入流
// 单消费者；byte按文件序到达；错误以哨兵形式出现在流内
type BlockInputStream struct {
	reader  *BlockFlushFileReader
	blockID int64
	start   int64
	length  int64

	// 以下字段只有后台reader触碰
	pos        int64
	eofPending bool

	doneFlag   int32
	closedFlag int32
	ring       *ringBuffer

	cur []byte
	eof bool
	err error
}

func (s *BlockInputStream) BlockID() int64 {
	return s.blockID
}

// 这个流总共会产出多少byte
func (s *BlockInputStream) Available() int64 {
	return s.length
}

// 分配ring，必须在reader.Start之前被调用(segment的init阶段)
func (s *BlockInputStream) open() error {
	s.reader.mu.Lock()
	defer s.reader.mu.Unlock()
	if s.reader.started {
		return errors.Errorf("block stream %d opened after reader start", s.blockID)
	}
	if s.ring == nil {
		s.ring = newRingBuffer(s.reader.ringSize)
	}
	return nil
}

func (s *BlockInputStream) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	for len(s.cur) == 0 {
		if s.eof {
			return 0, io.EOF
		}
		c, err := s.ring.get(s.reader.closer.CloseSignal)
		if err != nil {
			s.err = err
			return 0, err
		}
		// 腾出了一个slot，叫醒可能挂起的producer
		s.wakeProducer()
		if c.err != nil {
			s.err = c.err
			return 0, s.err
		}
		if c.eof {
			s.eof = true
			return 0, io.EOF
		}
		s.cur = c.data
	}
	n := copy(p, s.cur)
	s.cur = s.cur[n:]
	return n, nil
}

// 放弃消费，producer之后会跳过这个流
func (s *BlockInputStream) Close() error {
	atomic.StoreInt32(&s.closedFlag, 1)
	s.wakeProducer()
	return nil
}

func (s *BlockInputStream) wakeProducer() {
	select {
	case s.reader.wake <- struct{}{}:
	default:
	}
}

func (s *BlockInputStream) markDone() {
	atomic.StoreInt32(&s.doneFlag, 1)
}

func (s *BlockInputStream) isDone() bool {
	return atomic.LoadInt32(&s.doneFlag) == 1
}

func (s *BlockInputStream) isClosed() bool {
	return atomic.LoadInt32(&s.closedFlag) == 1
}
