package easyqueue

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofish2020/easyqueue/utils"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	cursorSize     = 8
	cursorFilePerm = 0644
	tmpCursorExt   = ".tmp"
)

// cursorStore 每个订阅者一个文件，内容是8字节大端的LSN
type cursorStore struct {
	fs     afero.Fs
	dir    string
	logger *zap.Logger
}

func newCursorStore(fs afero.Fs, dir string, logger *zap.Logger) (*cursorStore, error) {
	if err := fs.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}
	return &cursorStore{fs: fs, dir: dir, logger: logger}, nil
}

func (s *cursorStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *cursorStore) tmpPath(name string) string {
	return filepath.Join(s.dir, "."+name+tmpCursorExt)
}

// store 先写临时文件再rename，崩溃后看到的要么是旧值要么是新值
func (s *cursorStore) store(name string, lsn uint64) (err error) {
	var buf [cursorSize]byte
	binary.BigEndian.PutUint64(buf[:], lsn)

	tmp := s.tmpPath(name)
	fd, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, cursorFilePerm)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, s.fs.Remove(tmp))
		}
	}()

	if _, err = fd.Write(buf[:]); err != nil {
		_ = fd.Close()
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err = fd.Sync(); err != nil {
		_ = fd.Close()
		return errors.Wrapf(err, "sync %s", tmp)
	}
	if err = fd.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp)
	}
	if err = s.fs.Rename(tmp, s.path(name)); err != nil {
		return errors.Wrapf(err, "rename cursor %s", name)
	}
	return utils.SyncDir(s.fs, s.dir)
}

// remove 返回 false 表示文件本来就不存在
func (s *cursorStore) remove(name string) (bool, error) {
	if err := s.fs.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "delete cursor %s", name)
	}
	return true, utils.SyncDir(s.fs, s.dir)
}

func (s *cursorStore) load(name string) (uint64, error) {
	fd, err := s.fs.Open(s.path(name))
	if err != nil {
		return 0, errors.Wrapf(err, "open cursor %s", name)
	}
	defer fd.Close()

	// 多读一个字节，用来发现过长的文件
	buf := make([]byte, cursorSize+1)
	n, err := io.ReadFull(fd, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, errors.Wrapf(err, "read cursor %s", name)
	}
	if n != cursorSize {
		return 0, errors.Wrapf(ErrCorruption, "cursor %s is malformed", name)
	}
	return binary.BigEndian.Uint64(buf[:cursorSize]), nil
}

// loadAll 读取目录下全部游标，顺便清理崩溃留下的临时文件
func (s *cursorStore) loadAll() (map[string]uint64, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list cursors in %s", s.dir)
	}

	cursors := make(map[string]uint64, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(name, ".") {
			s.logger.Info("removing stale cursor file", zap.String("file", name))
			if err := s.fs.Remove(filepath.Join(s.dir, name)); err != nil {
				s.logger.Warn("failed to remove stale cursor file", zap.String("file", name), zap.Error(err))
			}
			continue
		}
		if !ValidName(name) {
			s.logger.Warn("skipping unknown file in subscriptions", zap.String("file", name))
			continue
		}

		lsn, err := s.load(name)
		if err != nil {
			return nil, err
		}
		cursors[name] = lsn
	}
	return cursors, nil
}
