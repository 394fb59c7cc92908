package easyqueue

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gofish2020/easyqueue/chunklog"
	"github.com/gofish2020/easyqueue/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	dataDirName          = "data"
	subscriptionsDirName = "subscriptions"
)

type subscriber struct {
	name string

	// 串行化同一个订阅者的 Get
	mu sync.Mutex
	// 下一条未读消息的LSN
	next atomic.Uint64
	// 已经取消订阅，持有 mu 时检查
	removed bool
}

// Queue 一个topic：一份日志 + 多个订阅者各自的游标
type Queue struct {
	name   string
	dir    string
	option Options
	logger *zap.Logger

	log     *chunklog.ChunkLog
	cursors *cursorStore

	// 串行化 Subscribe/Unsubscribe，可以跨越文件操作持有；加锁顺序 memberMu -> mu，memberMu -> subscriber.mu
	memberMu sync.Mutex
	// 结构锁：只保护 subscribers 这个map，持有期间不做IO
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      atomic.Bool

	// gc
	gcMu         sync.Mutex
	gcCheckpoint uint64
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// Message is one delivered payload. It must be read to the end or closed.
type Message struct {
	*chunklog.Record
	Subscriber string
}

// OpenQueue opens (or creates) the topic stored in dir. Cursors are loaded
// first so the log can check its recovered head against them.
func OpenQueue(dir string, option Options) (*Queue, error) {
	option = option.withDefaults()
	name := filepath.Base(dir)
	logger := option.Logger.Named("queue").With(zap.String("topic", name))

	cursors, err := newCursorStore(option.Fs, filepath.Join(dir, subscriptionsDirName), logger)
	if err != nil {
		return nil, err
	}
	positions, err := cursors.loadAll()
	if err != nil {
		return nil, err
	}

	// 游标指向的位置一定已经写过
	var floor uint64
	for _, lsn := range positions {
		if lsn > floor {
			floor = lsn
		}
	}

	logOption := option.logOptions(filepath.Join(dir, dataDirName), floor)
	logOption.Logger = logger
	log, err := chunklog.Open(logOption)
	if err != nil {
		if errors.Is(err, ErrCorruption) {
			logger.Error("topic log is corrupted", zap.Error(err))
		}
		return nil, err
	}

	q := &Queue{
		name:        name,
		dir:         dir,
		option:      option,
		logger:      logger,
		log:         log,
		cursors:     cursors,
		subscribers: make(map[string]*subscriber, len(positions)),
	}
	for sname, lsn := range positions {
		sub := &subscriber{name: sname}
		sub.next.Store(lsn)
		q.subscribers[sname] = sub
	}
	logger.Info("opened topic", zap.Uint64("head", log.Head()), zap.Int("subscribers", len(positions)))
	return q, nil
}

func (q *Queue) Name() string {
	return q.name
}

// Head is the LSN the next published message will get.
func (q *Queue) Head() uint64 {
	return q.log.Head()
}

// Subscribers returns the subscriber names in sorted order.
func (q *Queue) Subscribers() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	names := make([]string, 0, len(q.subscribers))
	for name := range q.subscribers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cursor returns the LSN of the next message name will receive.
func (q *Queue) Cursor(name string) (uint64, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	sub, ok := q.subscribers[name]
	if !ok {
		return 0, errors.Wrapf(ErrNotFound, "subscriber %s", name)
	}
	return sub.next.Load(), nil
}

// Subscribe registers name at the current head. Subscribing twice is a no-op
// and keeps the existing cursor.
func (q *Queue) Subscribe(name string) error {
	if err := checkName("subscriber", name); err != nil {
		return err
	}

	q.memberMu.Lock()
	defer q.memberMu.Unlock()

	if q.closed.Load() {
		return ErrClosed
	}
	q.mu.RLock()
	_, ok := q.subscribers[name]
	q.mu.RUnlock()
	if ok {
		return nil
	}

	head := q.log.Head()
	if err := q.cursors.store(name, head); err != nil {
		return err
	}
	sub := &subscriber{name: name}
	sub.next.Store(head)

	q.mu.Lock()
	q.subscribers[name] = sub
	q.mu.Unlock()

	q.logger.Info("subscribed", zap.String("subscriber", name), zap.Uint64("cursor", head))
	return nil
}

// Unsubscribe deletes the cursor of name. The subscriber leaves the map
// first, then a Get in progress for it is waited for before the cursor file
// is removed, so no Get can write the file back.
func (q *Queue) Unsubscribe(name string) error {
	if err := checkName("subscriber", name); err != nil {
		return err
	}

	q.memberMu.Lock()
	defer q.memberMu.Unlock()

	if q.closed.Load() {
		return ErrClosed
	}

	q.mu.Lock()
	sub, ok := q.subscribers[name]
	delete(q.subscribers, name)
	q.mu.Unlock()

	if ok {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		sub.removed = true
	}

	removed, err := q.cursors.remove(name)
	if !removed {
		if ok && err != nil {
			// 文件还在，恢复订阅者，内存和磁盘保持一致
			sub.removed = false
			q.mu.Lock()
			q.subscribers[name] = sub
			q.mu.Unlock()
		}
		if err != nil {
			return err
		}
		return errors.Wrapf(ErrNotFound, "subscriber %s", name)
	}

	q.logger.Info("unsubscribed", zap.String("subscriber", name))
	// 文件已经删掉，目录刷盘失败也不再恢复订阅者
	return err
}

// Publish appends everything r yields as one message.
func (q *Queue) Publish(r io.Reader) error {
	if q.closed.Load() {
		return ErrClosed
	}

	cr := &countingReader{r: r}
	if _, err := q.log.Append(cr); err != nil {
		return err
	}
	metrics.MessagesPublished.WithLabelValues(q.name).Inc()
	metrics.BytesPublished.WithLabelValues(q.name).Add(float64(cr.n))
	return nil
}

// Get returns the next message for name and moves its cursor past it. The
// cursor is persisted before Get returns, so a message is never delivered
// twice even if the caller drops it. ok is false when name has caught up.
func (q *Queue) Get(name string) (msg *Message, ok bool, err error) {
	if q.closed.Load() {
		return nil, false, ErrClosed
	}

	q.mu.RLock()
	sub, exists := q.subscribers[name]
	q.mu.RUnlock()
	if !exists {
		return nil, false, errors.Wrapf(ErrNotFound, "subscriber %s", name)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.removed {
		return nil, false, errors.Wrapf(ErrNotFound, "subscriber %s", name)
	}

	cursor := sub.next.Load()
	rec, err := q.log.Read(cursor)
	if err != nil {
		if errors.Is(err, chunklog.ErrNotFound) {
			metrics.EmptyGets.WithLabelValues(q.name).Inc()
			return nil, false, nil
		}
		return nil, false, err
	}
	if rec.Next <= cursor {
		_ = rec.Close()
		return nil, false, errors.Wrapf(ErrCorruption, "record %d points back to %d", cursor, rec.Next)
	}

	if err := q.cursors.store(name, rec.Next); err != nil {
		_ = rec.Close()
		return nil, false, err
	}
	sub.next.Store(rec.Next)

	metrics.MessagesDelivered.WithLabelValues(q.name).Inc()
	return &Message{Record: rec, Subscriber: name}, true, nil
}

// Close stops the background GC and closes the log.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed.Swap(true) {
		q.mu.Unlock()
		return nil
	}
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()

	q.logger.Info("closing topic", zap.Uint64("head", q.log.Head()))
	return q.log.Close()
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
