package chunklog

import (
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ChunkInfo describes one chunk file found on disk.
type ChunkInfo struct {
	// 起始LSN（文件名）
	Base uint64
	// 文件实际大小，可能超过 chunk size
	Size int64
}

func isPowerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}

// BaseLSN returns the base LSN of the chunk that owns lsn.
func BaseLSN(lsn uint64, chunkSize int64) uint64 {
	return lsn &^ (uint64(chunkSize) - 1)
}

// roundBoundary pushes addr to the next chunk boundary when a record that
// started in chunk base ended past that chunk's range. An addr sitting
// exactly on a boundary is already a valid start for the next chunk.
func roundBoundary(base, addr uint64, chunkSize int64) uint64 {
	next := BaseLSN(addr, chunkSize)
	if next != base && next != addr {
		return next + uint64(chunkSize)
	}
	return addr
}

// nextLSN is the address following a record of n payload bytes at lsn.
func nextLSN(lsn, n uint64, chunkSize int64) uint64 {
	return roundBoundary(BaseLSN(lsn, chunkSize), lsn+headerSize+n, chunkSize)
}

// 拼接文件名：base的16进制
func chunkFileName(dir string, base uint64) string {
	return filepath.Join(dir, strconv.FormatUint(base, 16))
}

func parseChunkName(name string) (uint64, bool) {
	base, err := strconv.ParseUint(name, 16, 64)
	if err != nil {
		return 0, false
	}
	// 只接受规范写法，"00" "0A" 之类不是我们写的
	if strconv.FormatUint(base, 16) != name {
		return 0, false
	}
	return base, true
}

// RecoverHead rebuilds the write head from the chunk files present on disk.
// The chunk with the largest base decides: its end address, rounded to the
// next boundary if its last record overflowed. With no chunks the head is the
// floor rounded up to a chunk boundary. A head below floor means data some
// consumer has not read yet is missing, which is reported as ErrCorruption.
func RecoverHead(chunks []ChunkInfo, chunkSize int64, floor uint64) (uint64, error) {
	if !isPowerOfTwo(chunkSize) {
		return 0, errors.Wrapf(ErrInvalidChunkSize, "chunk size %d", chunkSize)
	}
	if len(chunks) == 0 {
		base := BaseLSN(floor, chunkSize)
		if base != floor {
			return base + uint64(chunkSize), nil
		}
		return floor, nil
	}

	last := chunks[0]
	for _, c := range chunks[1:] {
		if c.Base > last.Base {
			last = c
		}
	}
	if last.Size < 0 || BaseLSN(last.Base, chunkSize) != last.Base {
		return 0, errors.Wrapf(ErrCorruption, "chunk %x (size %d) is not aligned to %d", last.Base, last.Size, chunkSize)
	}

	head := roundBoundary(last.Base, last.Base+uint64(last.Size), chunkSize)
	if head < floor {
		return 0, errors.Wrapf(ErrCorruption, "recovered head %d is below consumer floor %d", head, floor)
	}
	return head, nil
}

// listChunks 读取目录中所有chunk文件，按base排序
func listChunks(fs afero.Fs, dir string, logger *zap.Logger) ([]ChunkInfo, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list chunks in %s", dir)
	}

	chunks := make([]ChunkInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base, ok := parseChunkName(entry.Name())
		if !ok { // 文件名格式不符合
			logger.Warn("skipping unknown file in chunk directory", zap.String("file", entry.Name()))
			continue
		}
		chunks = append(chunks, ChunkInfo{Base: base, Size: entry.Size()})
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Base < chunks[j].Base
	})
	return chunks, nil
}
