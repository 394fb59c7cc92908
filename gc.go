package easyqueue

import (
	"context"
	"time"

	"github.com/gofish2020/easyqueue/metrics"
	"go.uber.org/zap"
)

// watermark 所有订阅者都读过的位置：最小游标，没有订阅者时就是head
func (q *Queue) watermark() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()

	mark := q.log.Head()
	for _, sub := range q.subscribers {
		if next := sub.next.Load(); next < mark {
			mark = next
		}
	}
	return mark
}

// GC deletes the chunks every subscriber has moved past and returns how many
// files were removed. The checkpoint only advances after a clean pass, so a
// chunk that failed to delete is retried next time.
func (q *Queue) GC() (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}

	q.gcMu.Lock()
	defer q.gcMu.Unlock()

	mark := q.watermark()
	if mark <= q.gcCheckpoint {
		return 0, nil
	}

	deleted, err := q.log.DeleteBelow(mark)
	if deleted > 0 {
		metrics.GCDeletedChunks.WithLabelValues(q.name).Add(float64(deleted))
	}
	if err != nil {
		metrics.GCFailures.WithLabelValues(q.name).Inc()
		return deleted, err
	}

	q.gcCheckpoint = mark
	if deleted > 0 {
		q.logger.Debug("gc pass done", zap.Uint64("watermark", mark), zap.Int("deleted", deleted))
	}
	return deleted, nil
}

// Start launches the background GC ticker. A negative GCInterval disables it.
func (q *Queue) Start() {
	if q.option.GCInterval < 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() || q.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.wg.Add(1)
	go q.gcLoop(ctx, q.option.GCInterval)
}

func (q *Queue) gcLoop(ctx context.Context, interval time.Duration) {
	defer q.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 失败只记日志，下个周期重试
			if _, err := q.GC(); err != nil {
				q.logger.Warn("gc failed", zap.Error(err))
			}
		}
	}
}
