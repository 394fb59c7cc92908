// 一个目录对应一个topic的日志 -> 目录下多个chunk文件，文件名是该chunk的起始LSN(16进制) -> chunk文件中顺序存放 [8字节长度 + payload] 记录
//
// LSN 既是记录编号也是逻辑地址：LSN N 表示记录从逻辑字节流的第N个字节开始。
// 记录永远不会被拆到两个文件：写入越过chunk边界时，head 直接跳到下一个边界，
// 下一条记录从新文件的0偏移开始。

package chunklog

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofish2020/easyqueue/utils"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type ChunkLog struct {
	// 配置信息
	option Options
	fs     afero.Fs
	logger *zap.Logger

	// 写锁，同一时刻只有一个写入者
	mutex sync.Mutex
	// 下一条记录的LSN
	head atomic.Uint64
	// 正在追加的chunk
	activeChunk *chunkFile
	closed      atomic.Bool

	// lru 最近读取过的记录 key = LSN & value = payload
	localCache *lru.Cache[uint64, []byte]
}

// Open 扫描目录中的chunk文件恢复head，构建ChunkLog对象
func Open(option Options) (*ChunkLog, error) {
	if !isPowerOfTwo(option.ChunkSize) {
		return nil, errors.Wrapf(ErrInvalidChunkSize, "chunk size %d", option.ChunkSize)
	}
	if option.Fs == nil {
		option.Fs = afero.NewOsFs()
	}
	if option.Logger == nil {
		option.Logger = zap.NewNop()
	}

	// 如果目录不存在创建目录；如果目录存在啥也不做
	if err := option.Fs.MkdirAll(option.Dir, dirModePerm); err != nil {
		return nil, errors.Wrapf(err, "create %s", option.Dir)
	}

	l := &ChunkLog{
		option: option,
		fs:     option.Fs,
		logger: option.Logger,
	}

	if option.CacheRecords > 0 {
		cache, err := lru.New[uint64, []byte](option.CacheRecords)
		if err != nil {
			return nil, err
		}
		l.localCache = cache
	}

	chunks, err := listChunks(l.fs, option.Dir, l.logger)
	if err != nil {
		return nil, err
	}
	head, err := RecoverHead(chunks, option.ChunkSize, option.Floor)
	if err != nil {
		return nil, errors.Wrapf(err, "recover %s", option.Dir)
	}
	l.head.Store(head)

	l.logger.Info("recovered chunk log",
		zap.String("dir", option.Dir),
		zap.Uint64("head", head),
		zap.Int("chunks", len(chunks)),
		zap.Uint64("floor", option.Floor))
	return l, nil
}

// Head is the LSN the next appended record will get.
func (l *ChunkLog) Head() uint64 {
	return l.head.Load()
}

func (l *ChunkLog) ChunkSize() int64 {
	return l.option.ChunkSize
}

func (l *ChunkLog) Dir() string {
	return l.option.Dir
}

func (l *ChunkLog) BaseLSN(lsn uint64) uint64 {
	return BaseLSN(lsn, l.option.ChunkSize)
}

// Chunks lists the chunk files currently on disk, oldest first.
func (l *ChunkLog) Chunks() ([]ChunkInfo, error) {
	return listChunks(l.fs, l.option.Dir, l.logger)
}

// switchActiveChunk 让 base 对应的chunk成为活跃chunk，必要时新建文件
func (l *ChunkLog) switchActiveChunk(base uint64) (*chunkFile, error) {
	if l.activeChunk != nil && l.activeChunk.base == base {
		return l.activeChunk, nil
	}

	if l.activeChunk != nil {
		if err := l.activeChunk.Close(); err != nil {
			l.logger.Warn("close previous chunk", zap.String("chunk", l.activeChunk.path), zap.Error(err))
		}
		l.activeChunk = nil
	}

	cf, created, err := openChunkFile(l.fs, l.option.Dir, base)
	if err != nil {
		return nil, err
	}
	if created {
		// 新文件的目录项也要落盘
		if err := utils.SyncDir(l.fs, l.option.Dir); err != nil {
			_ = cf.Close()
			return nil, err
		}
		l.logger.Debug("created chunk", zap.String("chunk", cf.path))
	}
	l.activeChunk = cf
	return cf, nil
}

// Append 将r中的全部字节作为一条记录写入，刷盘成功后才推进head，返回新的head
func (l *ChunkLog) Append(r io.Reader) (uint64, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed.Load() {
		return 0, ErrClosed
	}

	head := l.head.Load()
	base := l.BaseLSN(head)

	cf, err := l.switchActiveChunk(base)
	if err != nil {
		return 0, err
	}
	// 文件结尾必须正好是head
	if uint64(cf.size) != head-base {
		return 0, errors.Wrapf(ErrCorruption, "chunk %s is %d bytes but head %d expects %d",
			cf.path, cf.size, head, head-base)
	}

	total, err := cf.write(r)
	if err != nil {
		// 下次追加重新打开文件，用真实大小再校验一次（截断也可能失败）
		_ = cf.Close()
		l.activeChunk = nil
		return 0, errors.Wrapf(err, "append at %d", head)
	}

	next := nextLSN(head, total, l.option.ChunkSize)
	l.head.Store(next)

	if l.BaseLSN(next) != base {
		l.logger.Debug("chunk full, head moved to next chunk",
			zap.String("chunk", cf.path), zap.Int64("size", cf.size), zap.Uint64("head", next))
	}
	return next, nil
}

// Read 读取lsn处的记录。lsn 还没有写入时返回 ErrNotFound
func (l *ChunkLog) Read(lsn uint64) (*Record, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	// head 之后的字节可能是正在写入的记录
	if lsn >= l.head.Load() {
		return nil, ErrNotFound
	}

	if l.localCache != nil {
		if data, ok := l.localCache.Get(lsn); ok {
			return newCachedRecord(lsn, nextLSN(lsn, uint64(len(data)), l.option.ChunkSize), data), nil
		}
	}

	base := l.BaseLSN(lsn)
	rel := int64(lsn - base)
	path := chunkFileName(l.option.Dir, base)

	fd, err := l.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "open chunk %s", path)
	}

	rec, err := l.readAt(fd, path, lsn, rel)
	if err != nil {
		_ = fd.Close()
		return nil, err
	}
	return rec, nil
}

func (l *ChunkLog) readAt(fd afero.File, path string, lsn uint64, rel int64) (*Record, error) {
	fileInfo, err := fd.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat chunk %s", path)
	}
	size := fileInfo.Size()
	if size <= rel {
		return nil, ErrNotFound
	}
	if size < rel+headerSize {
		return nil, errors.Wrapf(ErrCorruption, "%s: header of record %d cut off at %d bytes", path, lsn, size)
	}

	var header [headerSize]byte
	if _, err := fd.ReadAt(header[:], rel); err != nil {
		return nil, errors.Wrapf(err, "read header of record %d", lsn)
	}
	length := decodeHeader(header[:])
	if uint64(size-rel-headerSize) < length {
		return nil, errors.Wrapf(ErrCorruption, "%s: record %d is %d bytes but chunk is %d bytes", path, lsn, length, size)
	}

	next := nextLSN(lsn, length, l.option.ChunkSize)
	offset := rel + headerSize

	if l.localCache != nil && int64(length) <= l.option.MaxCachedRecordSize {
		data := make([]byte, length)
		if _, err := fd.ReadAt(data, offset); err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "read record %d", lsn)
		}
		if err := fd.Close(); err != nil {
			l.logger.Warn("close chunk after read", zap.String("chunk", path), zap.Error(err))
		}
		l.localCache.Add(lsn, data)
		return newCachedRecord(lsn, next, data), nil
	}

	return &Record{
		LSN:  lsn,
		Next: next,
		Size: length,
		r:    io.NewSectionReader(fd, offset, int64(length)),
		c:    fd,
	}, nil
}

// DeleteBelow 删除所有完全位于 threshold 所在chunk之前的chunk文件。
// 删除失败只记录日志并继续，下一轮再试；返回删除的文件数和汇总的错误。
func (l *ChunkLog) DeleteBelow(threshold uint64) (int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed.Load() {
		return 0, ErrClosed
	}

	cut := l.BaseLSN(threshold)
	chunks, err := l.Chunks()
	if err != nil {
		return 0, err
	}

	var (
		deleted int
		errs    error
	)
	for _, c := range chunks {
		if c.Base >= cut {
			break
		}
		path := chunkFileName(l.option.Dir, c.Base)
		if l.activeChunk != nil && l.activeChunk.base == c.Base {
			_ = l.activeChunk.Close()
			l.activeChunk = nil
		}
		if err := l.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("gc failed to delete chunk", zap.String("chunk", path), zap.Error(err))
			errs = multierr.Append(errs, errors.Wrapf(err, "delete %s", path))
			continue
		}
		l.logger.Info("gc deleted chunk", zap.String("chunk", path), zap.Int64("size", c.Size))
		deleted++
	}

	if l.localCache != nil {
		for _, lsn := range l.localCache.Keys() {
			if lsn < cut {
				l.localCache.Remove(lsn)
			}
		}
	}

	// 删光之后head只存在于内存里，把head所在的chunk建出来，重启时才能恢复出同一个head
	if deleted > 0 {
		if _, err := l.switchActiveChunk(l.BaseLSN(l.head.Load())); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return deleted, errs
}

// Sync 活跃chunk刷盘
func (l *ChunkLog) Sync() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.activeChunk == nil {
		return nil
	}
	return l.activeChunk.Sync()
}

func (l *ChunkLog) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed.Swap(true) {
		return nil
	}

	// purge the record cache.
	if l.localCache != nil {
		l.localCache.Purge()
	}

	if l.activeChunk == nil {
		return nil
	}
	err := l.activeChunk.Close()
	l.activeChunk = nil
	return err
}
