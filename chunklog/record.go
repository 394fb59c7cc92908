package chunklog

import "encoding/binary"

/*
记录格式
	length(8字节 大端)   +   payload(length字节)
记录的LSN就是length所在的逻辑地址
*/

func encodeHeader(header []byte, length uint64) {
	binary.BigEndian.PutUint64(header[:headerSize], length)
}

func decodeHeader(header []byte) uint64 {
	return binary.BigEndian.Uint64(header[:headerSize])
}

// EncodeRecord frames payload the way Append lays it out on disk.
func EncodeRecord(payload []byte) []byte {
	result := make([]byte, headerSize+len(payload))
	encodeHeader(result, uint64(len(payload)))
	copy(result[headerSize:], payload)
	return result
}

// RecordInfo locates one record inside a chunk file.
type RecordInfo struct {
	LSN    uint64
	Offset int64
	Length uint64
}

// End is the file offset just past the record.
func (r RecordInfo) End() int64 {
	return r.Offset + headerSize + int64(r.Length)
}
