package easyqueue

import (
	"github.com/gofish2020/easyqueue/chunklog"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned for an unknown topic or subscriber.
	ErrNotFound = errors.New("not found")

	ErrCorruption       = chunklog.ErrCorruption
	ErrInvalidChunkSize = chunklog.ErrInvalidChunkSize

	ErrClosed        = errors.New("queue is closed")
	ErrInvalidName   = errors.New("invalid name")
	ErrRegistryInUse = errors.New("the queue directory is used by another process")
)
