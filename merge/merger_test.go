package merge

import (
	"bytes"
	"testing"

	"github.com/OmarBustamante/uniffle/utils"
	"github.com/stretchr/testify/require"
)

func memorySegment(t *testing.T, blockID int64, entries []*utils.Entry) Segment {
	t.Helper()
	payload := encodeRecords(t, entries)
	seg := newMemorySegment(&utils.KVSerializer{}, blockID, utils.NewRefBuffer(payload))
	require.NoError(t, seg.Init())
	return seg
}

// 多路输入按comparator全局有序输出
func TestMergeSegmentsOrdering(t *testing.T) {
	segments := []Segment{
		memorySegment(t, 1, []*utils.Entry{entry("b", "1"), entry("e", "2"), entry("h", "3")}),
		memorySegment(t, 2, []*utils.Entry{entry("a", "4"), entry("f", "5")}),
		memorySegment(t, 3, []*utils.Entry{entry("c", "6"), entry("d", "7"), entry("g", "8")}),
	}
	var out bytes.Buffer
	w := (&utils.KVSerializer{}).NewWriter(&out)
	require.NoError(t, mergeSegments(segments, w, utils.BytesComparator))
	for _, seg := range segments {
		require.NoError(t, seg.Close())
	}

	entries := decodeRecords(t, out.Bytes())
	require.Len(t, entries, 8)
	want := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for i, key := range want {
		require.Equal(t, []byte(key), entries[i].Key)
	}
}

// key相等时按segment的注册顺序出，merge是稳定的
func TestMergeSegmentsStable(t *testing.T) {
	segments := []Segment{
		memorySegment(t, 1, []*utils.Entry{entry("k", "first"), entry("k", "second")}),
		memorySegment(t, 2, []*utils.Entry{entry("k", "third")}),
		memorySegment(t, 3, []*utils.Entry{entry("a", "head"), entry("k", "fourth")}),
	}
	var out bytes.Buffer
	w := (&utils.KVSerializer{}).NewWriter(&out)
	require.NoError(t, mergeSegments(segments, w, utils.BytesComparator))

	entries := decodeRecords(t, out.Bytes())
	require.Len(t, entries, 5)
	require.Equal(t, []byte("head"), entries[0].Value)
	require.Equal(t, []byte("first"), entries[1].Value)
	require.Equal(t, []byte("second"), entries[2].Value)
	require.Equal(t, []byte("third"), entries[3].Value)
	require.Equal(t, []byte("fourth"), entries[4].Value)
}

// 空输入什么都不写
func TestMergeSegmentsEmpty(t *testing.T) {
	var out bytes.Buffer
	w := (&utils.KVSerializer{}).NewWriter(&out)
	require.NoError(t, mergeSegments(nil, w, utils.BytesComparator))
	require.Zero(t, out.Len())
}
