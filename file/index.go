package file

import (
	"encoding/binary"

	"github.com/OmarBustamante/uniffle/utils"
)

/*
	索引文件就是定长记录的append-only log：前 ---> 后
	+----------------------------------------------------------------------------------+
	| offset:u64 | length:u32 | uncompressed:u32 | crc:u64 | blockId:u64 | taskAttemptId:u64 |
	+----------------------------------------------------------------------------------+
	全部大端，一条40byte
*/

// 索引文件中的一条记录
type IndexRecord struct {
	Offset             int64
	Length             int32
	UncompressedLength int32
	Crc                int64
	BlockID            int64
	TaskAttemptID      int64
}

// 将一条记录编码为40byte
func (r *IndexRecord) Encode() []byte {
	buf := make([]byte, utils.IndexRecordSize)
	binary.BigEndian.PutUint64(buf[0:], uint64(r.Offset))
	binary.BigEndian.PutUint32(buf[8:], uint32(r.Length))
	binary.BigEndian.PutUint32(buf[12:], uint32(r.UncompressedLength))
	binary.BigEndian.PutUint64(buf[16:], uint64(r.Crc))
	binary.BigEndian.PutUint64(buf[24:], uint64(r.BlockID))
	binary.BigEndian.PutUint64(buf[32:], uint64(r.TaskAttemptID))
	return buf
}

// 对40byte解码
func (r *IndexRecord) Decode(buf []byte) {
	r.Offset = int64(binary.BigEndian.Uint64(buf[0:]))
	r.Length = int32(binary.BigEndian.Uint32(buf[8:]))
	r.UncompressedLength = int32(binary.BigEndian.Uint32(buf[12:]))
	r.Crc = int64(binary.BigEndian.Uint64(buf[16:]))
	r.BlockID = int64(binary.BigEndian.Uint64(buf[24:]))
	r.TaskAttemptID = int64(binary.BigEndian.Uint64(buf[32:]))
}

// 解码整个索引文件
// 写入方在append途中可能被读到，结尾不完整的记录直接忽略
func DecodeIndex(data []byte) []IndexRecord {
	n := len(data) / utils.IndexRecordSize
	records := make([]IndexRecord, 0, n)
	for i := 0; i < n; i++ {
		var r IndexRecord
		r.Decode(data[i*utils.IndexRecordSize:])
		records = append(records, r)
	}
	return records
}
