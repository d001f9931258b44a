package merge

import (
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MergeEvent是一次partition merge任务
type MergeEvent struct {
	AppID            string
	ShuffleID        int
	PartitionID      int
	ExpectedBlockIDs []int64

	partition *Partition
}

// DefaultMergeEventHandler：有界队列加一组merge worker
// Handle是非阻塞提交，队列满或handler已关闭直接拒绝
type DefaultMergeEventHandler struct {
	mu     sync.Mutex
	events chan *MergeEvent
	closed bool
	g      errgroup.Group
}

func NewDefaultMergeEventHandler(workers, queueSize int) *DefaultMergeEventHandler {
	h := &DefaultMergeEventHandler{
		events: make(chan *MergeEvent, queueSize),
	}
	for i := 0; i < workers; i++ {
		h.g.Go(h.run)
	}
	return h
}

func (h *DefaultMergeEventHandler) Handle(event *MergeEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	select {
	case h.events <- event:
		return true
	default:
		log.Printf("merge event queue is full, refuse event for partition %d", event.PartitionID)
		return false
	}
}

func (h *DefaultMergeEventHandler) run() error {
	for event := range h.events {
		event.partition.processMergeEvent(event)
	}
	return nil
}

// Close拒绝后续事件，排空队列并等所有worker退出
func (h *DefaultMergeEventHandler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.events)
	h.mu.Unlock()
	_ = h.g.Wait()
}
