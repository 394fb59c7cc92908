package chunklog

import (
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type Options struct {
	// 存放chunk文件的目录
	Dir string
	// 单个chunk负责的地址范围，必须是2的幂
	ChunkSize int64
	// Floor is the lowest head recovery may accept, usually the largest
	// cursor of any consumer. A recovered head below it is corruption.
	Floor uint64
	// 缓存最近读取过的记录条数，0 表示不缓存
	CacheRecords int
	// 超过该大小的记录不进缓存，直接流式读取
	MaxCachedRecordSize int64
	// 文件系统，默认使用操作系统文件系统
	Fs     afero.Fs
	Logger *zap.Logger
}

var DefaultOptions = Options{
	Dir:                 "/tmp/easyqueue/data",
	ChunkSize:           4 * KB,
	Floor:               0,
	CacheRecords:        1024,
	MaxCachedRecordSize: 64 * KB,
}
