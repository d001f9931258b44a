package conf

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// 配置key
const (
	KeyRingBufferSize  = "merge.block.ring_buffer_size"
	KeyInitSleepMs     = "merge.cache_merged_block.init_sleep_ms"
	KeyMaxSleepMs      = "merge.cache_merged_block.max_sleep_ms"
	KeyMergedBlockSize = "merge.block.merged_block_size"
	KeyDirect          = "merge.direct"
	KeyEventWorkers    = "merge.event.workers"
	KeyEventQueueSize  = "merge.event.queue_size"
)

// Options merge engine总的配置
type Options struct {
	RingBufferSize  int           // 每个block stream的ring容量，会被clamp到[2,32]再取2的幂
	InitSleep       time.Duration // 内存准入退避的初始等待
	MaxSleep        time.Duration // 退避上限
	MergedBlockSize int64         // merge产出block的目标大小
	Direct          bool          // 读merged数据文件时优先走mmap
	EventWorkers    int           // merge worker数量
	EventQueueSize  int           // merge事件队列长度
}

// NewDefaultOptions 返回默认的options
func NewDefaultOptions() *Options {
	return &Options{
		RingBufferSize:  4,
		InitSleep:       100 * time.Millisecond,
		MaxSleep:        2000 * time.Millisecond,
		MergedBlockSize: 1 << 24,
		Direct:          false,
		EventWorkers:    2,
		EventQueueSize:  64,
	}
}

// 从viper中读取配置，缺省值和NewDefaultOptions保持一致
func FromViper(v *viper.Viper) *Options {
	def := NewDefaultOptions()
	v.SetDefault(KeyRingBufferSize, def.RingBufferSize)
	v.SetDefault(KeyInitSleepMs, int64(def.InitSleep/time.Millisecond))
	v.SetDefault(KeyMaxSleepMs, int64(def.MaxSleep/time.Millisecond))
	v.SetDefault(KeyMergedBlockSize, def.MergedBlockSize)
	v.SetDefault(KeyDirect, def.Direct)
	v.SetDefault(KeyEventWorkers, def.EventWorkers)
	v.SetDefault(KeyEventQueueSize, def.EventQueueSize)

	return &Options{
		RingBufferSize:  v.GetInt(KeyRingBufferSize),
		InitSleep:       time.Duration(v.GetInt64(KeyInitSleepMs)) * time.Millisecond,
		MaxSleep:        time.Duration(v.GetInt64(KeyMaxSleepMs)) * time.Millisecond,
		MergedBlockSize: v.GetInt64(KeyMergedBlockSize),
		Direct:          v.GetBool(KeyDirect),
		EventWorkers:    v.GetInt(KeyEventWorkers),
		EventQueueSize:  v.GetInt(KeyEventQueueSize),
	}
}

// 从配置文件加载
func Load(path string) (*Options, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return FromViper(v), nil
}
