package chunklog

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Record is one payload read from the log. It must be read to the end or
// closed so the chunk file handle behind it is released.
type Record struct {
	// LSN of the record itself
	LSN uint64
	// Next is where the following record starts
	Next uint64
	// Size is the payload length in bytes
	Size uint64

	r io.Reader
	c io.Closer
}

func newCachedRecord(lsn, next uint64, data []byte) *Record {
	return &Record{LSN: lsn, Next: next, Size: uint64(len(data)), r: bytes.NewReader(data)}
}

func (rec *Record) Read(p []byte) (int, error) {
	return rec.r.Read(p)
}

func (rec *Record) Close() error {
	if rec.c == nil {
		return nil
	}
	c := rec.c
	rec.c = nil
	return c.Close()
}

// Bytes reads the remaining payload and closes the record.
func (rec *Record) Bytes() ([]byte, error) {
	defer rec.Close()
	data, err := io.ReadAll(rec.r)
	if err != nil {
		return nil, errors.Wrapf(err, "read record %d", rec.LSN)
	}
	return data, nil
}

// Reader walks the log forward from a starting LSN by following Next.
type Reader struct {
	log *ChunkLog
	lsn uint64
}

func (l *ChunkLog) NewReader(from uint64) *Reader {
	return &Reader{log: l, lsn: from}
}

// Next returns the next record, or io.EOF once the reader caught up with the head.
func (r *Reader) Next() (*Record, error) {
	rec, err := r.log.Read(r.lsn)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, io.EOF
		}
		return nil, err
	}
	r.lsn = rec.Next
	return rec, nil
}

// LSN is the position the next call to Next reads from.
func (r *Reader) LSN() uint64 {
	return r.lsn
}

// ScanChunk parses every record of a chunk file front to back. base is the
// chunk's base LSN. A trailing partial record is reported as ErrCorruption
// together with the records parsed before it.
func ScanChunk(fs afero.Fs, path string, base uint64) ([]RecordInfo, error) {
	fd, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open chunk %s", path)
	}
	defer fd.Close()

	fileInfo, err := fd.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat chunk %s", path)
	}
	size := fileInfo.Size()

	var (
		records []RecordInfo
		header  [headerSize]byte
		offset  int64
	)
	for offset < size {
		if size-offset < headerSize {
			return records, errors.Wrapf(ErrCorruption, "%s: %d trailing bytes at offset %d", path, size-offset, offset)
		}
		if _, err := fd.ReadAt(header[:], offset); err != nil {
			return records, errors.Wrapf(err, "read header at %d", offset)
		}
		info := RecordInfo{LSN: base + uint64(offset), Offset: offset, Length: decodeHeader(header[:])}
		if info.Length > uint64(size-offset-headerSize) {
			return records, errors.Wrapf(ErrCorruption, "%s: record at offset %d is %d bytes but only %d remain",
				path, offset, info.Length, size-offset-headerSize)
		}
		records = append(records, info)
		offset = info.End()
	}
	return records, nil
}
