package merge

import (
	"container/heap"

	"github.com/OmarBustamante/uniffle/utils"
)

// 小顶堆的一个节点，order是segment的注册顺序，用于key相等时保持稳定
type heapNode struct {
	seg   Segment
	order int
}

type segmentHeap struct {
	nodes []*heapNode
	cmp   utils.Comparator
}

func (h *segmentHeap) Len() int { return len(h.nodes) }

func (h *segmentHeap) Less(i, j int) bool {
	c := h.cmp.Compare(h.nodes[i].seg.Entry().Key, h.nodes[j].seg.Entry().Key)
	if c != 0 {
		return c < 0
	}
	// 稳定merge：同key按输入顺序出
	return h.nodes[i].order < h.nodes[j].order
}

func (h *segmentHeap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
}

func (h *segmentHeap) Push(x interface{}) {
	h.nodes = append(h.nodes, x.(*heapNode))
}

func (h *segmentHeap) Pop() interface{} {
	old := h.nodes
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	h.nodes = old[:n-1]
	return node
}

// mergeSegments执行标准的k-way merge，把所有segment按comparator序写入output
// 调用前segment必须已经Init；第一条record在这里预读
func mergeSegments(segments []Segment, output utils.RecordWriter, cmp utils.Comparator) error {
	h := &segmentHeap{cmp: cmp}
	for i, seg := range segments {
		if err := seg.Next(); err != nil {
			return err
		}
		if seg.Valid() {
			h.nodes = append(h.nodes, &heapNode{seg: seg, order: i})
		}
	}
	heap.Init(h)

	for h.Len() > 0 {
		top := h.nodes[0]
		if err := output.Write(top.seg.Entry()); err != nil {
			return err
		}
		if err := top.seg.Next(); err != nil {
			return err
		}
		if top.seg.Valid() {
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return nil
}
