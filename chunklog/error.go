package chunklog

import "github.com/pkg/errors"

// ErrNotFound is returned by Read when nothing has been written at the LSN yet.
// Callers polling a log treat it as "no message available".
var ErrNotFound = errors.New("no record at lsn")

var ErrInvalidChunkSize = errors.New("chunk size must be a power of two")

// ErrCorruption marks on-disk state that contradicts the log invariants.
// It is never repaired automatically.
var ErrCorruption = errors.New("chunk log corrupted")

var ErrClosed = errors.New("chunk log is closed")
