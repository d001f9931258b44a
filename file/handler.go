package file

import (
	"os"

	"github.com/pkg/errors"
)

// 一次索引读取的结果
type IndexResult struct {
	DataFileName string
	IndexData    []byte
}

// LocalReadHandler负责一个partition在本地盘上的(data, index)文件对
type LocalReadHandler struct {
	dataPath  string
	indexPath string
}

func NewLocalReadHandler(dir, appID string, shuffleID, partitionID int) *LocalReadHandler {
	return &LocalReadHandler{
		dataPath:  PartitionFilePath(dir, appID, shuffleID, partitionID, DataFileExt),
		indexPath: PartitionFilePath(dir, appID, shuffleID, partitionID, IndexFileExt),
	}
}

func (h *LocalReadHandler) DataFileName() string {
	return h.dataPath
}

func (h *LocalReadHandler) IndexFileName() string {
	return h.indexPath
}

// 读取当前的索引文件，writer还在append，读到哪算哪
func (h *LocalReadHandler) ShuffleIndex() (*IndexResult, error) {
	data, err := os.ReadFile(h.indexPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read shuffle index %s", h.indexPath)
	}
	return &IndexResult{
		DataFileName: h.dataPath,
		IndexData:    data,
	}, nil
}
