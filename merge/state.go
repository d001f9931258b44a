package merge

// MergeState partition的merge状态机
// 合法转移：Inited→Merging、Inited→Done(空输入)、Merging→Done、
// Merging→InternalError、Inited→InternalError；Done和InternalError是终态
type MergeState int32

const (
	Inited MergeState = iota
	Merging
	Done
	InternalError
)

func (s MergeState) String() string {
	switch s {
	case Inited:
		return "INITED"
	case Merging:
		return "MERGING"
	case Done:
		return "DONE"
	case InternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// MergeStatus是tryGetBlock返回给读者的快照
// Size == -1 表示对应block还没有产出
type MergeStatus struct {
	State MergeState
	Size  int64
}
