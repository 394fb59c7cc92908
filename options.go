package easyqueue

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gofish2020/easyqueue/chunklog"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type Options struct {
	// 根目录，每个topic一个子目录
	DirPath string

	// 单个chunk的地址范围，必须是2的幂
	ChunkSize int64

	// 后台GC周期，0 使用默认值，负数关闭后台GC
	GCInterval time.Duration

	// 每个topic缓存的记录条数
	CacheRecords int

	// 超过该大小的消息不缓存
	MaxCachedRecordSize int64

	// 文件系统，默认是操作系统文件系统
	Fs afero.Fs

	Logger *zap.Logger
}

const defaultGCInterval = 10 * time.Second

var DefaultOptions = Options{
	DirPath:             tempQueueDir(),
	ChunkSize:           4 * chunklog.KB,
	GCInterval:          defaultGCInterval,
	CacheRecords:        1024,
	MaxCachedRecordSize: 64 * chunklog.KB,
}

func tempQueueDir() string {
	return filepath.Join(os.TempDir(), "easyqueue")
}

// withDefaults 补齐零值字段
func (o Options) withDefaults() Options {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.GCInterval == 0 {
		o.GCInterval = defaultGCInterval
	}
	return o
}

func (o Options) logOptions(dir string, floor uint64) chunklog.Options {
	return chunklog.Options{
		Dir:                 dir,
		ChunkSize:           o.ChunkSize,
		Floor:               floor,
		CacheRecords:        o.CacheRecords,
		MaxCachedRecordSize: o.MaxCachedRecordSize,
		Fs:                  o.Fs,
		Logger:              o.Logger,
	}
}
