package easyqueue

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofish2020/easyqueue/metrics"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	fileLockName = "FLOCK"
)

// Registry 管理根目录下的全部topic，一个topic对应一个子目录
type Registry struct {
	option Options
	logger *zap.Logger

	// 目录锁，只在操作系统文件系统上使用
	fileLock *flock.Flock

	mu     sync.RWMutex
	topics map[string]*Queue
	closed bool
}

// Open locks the root directory and opens every topic already stored in it.
// A topic that fails to open is logged and skipped; looking it up later
// retries and reports the error.
func Open(options Options) (*Registry, error) {
	options = options.withDefaults()

	// 如果目录不存在创建目录；如果目录存在啥也不做
	if err := options.Fs.MkdirAll(options.DirPath, os.ModePerm); err != nil {
		return nil, errors.Wrapf(err, "create %s", options.DirPath)
	}

	r := &Registry{
		option: options,
		logger: options.Logger.Named("registry"),
		topics: make(map[string]*Queue),
	}

	// 目录锁
	if _, ok := options.Fs.(*afero.OsFs); ok {
		fileLock := flock.New(filepath.Join(options.DirPath, fileLockName))
		hold, err := fileLock.TryLock()
		if err != nil {
			return nil, errors.Wrap(err, "lock queue directory")
		}
		if !hold {
			return nil, errors.Wrap(ErrRegistryInUse, options.DirPath)
		}
		r.fileLock = fileLock
	}

	entries, err := afero.ReadDir(options.Fs, options.DirPath)
	if err != nil {
		_ = r.unlock()
		return nil, errors.Wrapf(err, "list topics in %s", options.DirPath)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !ValidName(entry.Name()) {
			continue
		}
		q, err := r.openTopic(entry.Name())
		if err != nil {
			r.logger.Error("failed to open topic", zap.String("topic", entry.Name()), zap.Error(err))
			continue
		}
		r.topics[entry.Name()] = q
	}
	metrics.Topics.Set(float64(len(r.topics)))

	r.logger.Info("opened queue directory", zap.String("dir", options.DirPath), zap.Int("topics", len(r.topics)))
	return r, nil
}

func (r *Registry) openTopic(name string) (*Queue, error) {
	q, err := OpenQueue(filepath.Join(r.option.DirPath, name), r.option)
	if err != nil {
		return nil, err
	}
	q.Start()
	return q, nil
}

func (r *Registry) unlock() error {
	if r.fileLock == nil {
		return nil
	}
	return r.fileLock.Unlock()
}

// lookup 找到topic；create 为 false 时磁盘上也没有就返回 ErrNotFound
func (r *Registry) lookup(name string, create bool) (*Queue, error) {
	if err := checkName("topic", name); err != nil {
		return nil, err
	}

	r.mu.RLock()
	q, ok := r.topics[name]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return q, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if q, ok := r.topics[name]; ok {
		return q, nil
	}

	if !create {
		exists, err := afero.DirExists(r.option.Fs, filepath.Join(r.option.DirPath, name))
		if err != nil {
			return nil, errors.Wrapf(err, "stat topic %s", name)
		}
		if !exists {
			return nil, errors.Wrapf(ErrNotFound, "topic %s", name)
		}
	}

	q, err := r.openTopic(name)
	if err != nil {
		return nil, err
	}
	r.topics[name] = q
	metrics.Topics.Set(float64(len(r.topics)))
	return q, nil
}

// Topic returns an existing topic.
func (r *Registry) Topic(name string) (*Queue, error) {
	return r.lookup(name, false)
}

// Topics returns the names of the open topics in sorted order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribe creates the topic if needed.
func (r *Registry) Subscribe(topic, name string) error {
	q, err := r.lookup(topic, true)
	if err != nil {
		return err
	}
	return q.Subscribe(name)
}

func (r *Registry) Unsubscribe(topic, name string) error {
	q, err := r.lookup(topic, false)
	if err != nil {
		return err
	}
	return q.Unsubscribe(name)
}

// Publish creates the topic if needed.
func (r *Registry) Publish(topic string, data io.Reader) error {
	q, err := r.lookup(topic, true)
	if err != nil {
		return err
	}
	return q.Publish(data)
}

func (r *Registry) Get(topic, name string) (*Message, bool, error) {
	q, err := r.lookup(topic, false)
	if err != nil {
		return nil, false, err
	}
	return q.Get(name)
}

// GC runs one collection pass on every topic.
func (r *Registry) GC() (int, error) {
	r.mu.RLock()
	queues := make([]*Queue, 0, len(r.topics))
	for _, q := range r.topics {
		queues = append(queues, q)
	}
	r.mu.RUnlock()

	var (
		total int
		errs  error
	)
	for _, q := range queues {
		deleted, err := q.GC()
		total += deleted
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "gc topic %s", q.Name()))
		}
	}
	return total, errs
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	// close all topics
	var errs error
	for name, q := range r.topics {
		if err := q.Close(); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "close topic %s", name))
		}
	}
	r.topics = make(map[string]*Queue)
	metrics.Topics.Set(0)

	return multierr.Append(errs, r.unlock())
}
