package utils

import (
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// 计算checksum，block的crc字段是u64，直接用xxhash
func CalculateChecksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// 校验checksum
func VerifyChecksum(data []byte, expected uint64) error {
	actual := CalculateChecksum(data)
	if actual != expected {
		return errors.Errorf("checksum mismatch, expected %d, actual %d", expected, actual)
	}
	return nil
}
