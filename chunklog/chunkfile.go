package chunklog

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// chunkFile is the chunk currently receiving appends.
type chunkFile struct {
	// 起始LSN
	base uint64
	// 文件路径
	path string
	// 文件句柄
	fd afero.File
	// 文件当前大小（最后一条完整记录的结尾）
	size   int64
	closed bool
}

// openChunkFile 打开(或创建)一个chunk文件，created 表示文件是新建的
func openChunkFile(fs afero.Fs, dir string, base uint64) (cf *chunkFile, created bool, err error) {
	path := chunkFileName(dir, base)

	if _, err := fs.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, false, errors.Wrapf(err, "stat chunk %s", path)
		}
		created = true
	}

	fd, err := fs.OpenFile(path, os.O_CREATE|os.O_RDWR, chunkFileModePerm)
	if err != nil {
		return nil, false, errors.Wrapf(err, "open chunk %s", path)
	}

	fileInfo, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, false, errors.Wrapf(err, "stat chunk %s", path)
	}

	return &chunkFile{
		base: base,
		path: path,
		fd:   fd,
		size: fileInfo.Size(),
	}, created, nil
}

func (cf *chunkFile) Close() error {
	if cf.closed {
		return nil
	}
	cf.closed = true
	return cf.fd.Close()
}

func (cf *chunkFile) Sync() error {
	if cf.closed {
		return nil
	}
	return cf.fd.Sync()
}

// write 在文件尾部追加一条记录：先写8字节占位长度，再搬运payload，最后回填真实长度并刷盘。
// 任何一步失败都把文件截断回写之前的大小，所以半条记录永远不可见。
func (cf *chunkFile) write(r io.Reader) (total uint64, err error) {
	if cf.closed {
		return 0, ErrClosed
	}

	origSize := cf.size
	defer func() {
		if err != nil {
			err = multierr.Append(err, cf.rollback(origSize))
		}
	}()

	var header [headerSize]byte
	if _, err = cf.fd.WriteAt(header[:], origSize); err != nil {
		return 0, errors.Wrap(err, "write length placeholder")
	}

	buf := defaultCopyBuffer.Get()
	defer defaultCopyBuffer.Put(buf)

	offset := origSize + headerSize
	for {
		n, rerr := r.Read(*buf)
		if n > 0 {
			if _, err = cf.fd.WriteAt((*buf)[:n], offset); err != nil {
				return 0, errors.Wrap(err, "write payload")
			}
			offset += int64(n)
			total += uint64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			err = errors.Wrap(rerr, "read payload")
			return 0, err
		}
	}

	// 回填真实长度
	encodeHeader(header[:], total)
	if _, err = cf.fd.WriteAt(header[:], origSize); err != nil {
		return 0, errors.Wrap(err, "write length")
	}
	if err = cf.fd.Sync(); err != nil {
		return 0, errors.Wrap(err, "sync chunk")
	}

	cf.size = offset
	return total, nil
}

func (cf *chunkFile) rollback(size int64) error {
	if err := cf.fd.Truncate(size); err != nil {
		return errors.Wrapf(err, "truncate %s back to %d", cf.path, size)
	}
	if err := cf.fd.Sync(); err != nil {
		return errors.Wrapf(err, "sync truncated %s", cf.path)
	}
	cf.size = size
	return nil
}
