package file

import (
	"os"
	"path/filepath"

	"github.com/OmarBustamante/uniffle/utils"
	"github.com/pkg/errors"
)

// FlushWriter把block落到(data, index)文件对上，merged block和普通block走同一条路
type FlushWriter struct {
	dataFd  *os.File
	indexFd *os.File
	offset  int64
}

// 打开一个partition的flush writer，目录不存在会创建
func OpenFlushWriter(dir, appID string, shuffleID, partitionID int) (*FlushWriter, error) {
	dataPath := PartitionFilePath(dir, appID, shuffleID, partitionID, DataFileExt)
	if err := os.MkdirAll(filepath.Dir(dataPath), 0755); err != nil {
		return nil, errors.Wrapf(err, "create flush dir for %s", dataPath)
	}
	dataFd, err := os.OpenFile(dataPath, utils.DefaultFileFlag, utils.DefaultFileMode)
	if err != nil {
		return nil, errors.Wrapf(err, "open data file %s", dataPath)
	}
	indexPath := PartitionFilePath(dir, appID, shuffleID, partitionID, IndexFileExt)
	indexFd, err := os.OpenFile(indexPath, utils.DefaultFileFlag, utils.DefaultFileMode)
	if err != nil {
		_ = dataFd.Close()
		return nil, errors.Wrapf(err, "open index file %s", indexPath)
	}
	stat, err := dataFd.Stat()
	if err != nil {
		_ = dataFd.Close()
		_ = indexFd.Close()
		return nil, errors.Wrapf(err, "stat data file %s", dataPath)
	}
	return &FlushWriter{
		dataFd:  dataFd,
		indexFd: indexFd,
		offset:  stat.Size(),
	}, nil
}

// 先append数据，再append索引记录；索引永远不会指向还没写完的数据
func (w *FlushWriter) WriteBlock(blockID, taskAttemptID, crc int64, uncompressedLength int32, data []byte) error {
	if _, err := w.dataFd.Write(data); err != nil {
		return errors.Wrapf(err, "append block %d to %s", blockID, w.dataFd.Name())
	}
	record := IndexRecord{
		Offset:             w.offset,
		Length:             int32(len(data)),
		UncompressedLength: uncompressedLength,
		Crc:                crc,
		BlockID:            blockID,
		TaskAttemptID:      taskAttemptID,
	}
	if _, err := w.indexFd.Write(record.Encode()); err != nil {
		return errors.Wrapf(err, "append index record for block %d", blockID)
	}
	w.offset += int64(len(data))
	return nil
}

func (w *FlushWriter) Close() error {
	if err := w.dataFd.Close(); err != nil {
		return err
	}
	return w.indexFd.Close()
}
