package chunklog

const (
	B  = 1
	KB = 1024 * B
	MB = 1024 * KB
	GB = 1024 * MB
)

// chunk
const (
	// chunk file的权限
	chunkFileModePerm = 0644
	// 数据目录的权限
	dirModePerm = 0755
)

// record
const (
	// 记录头：8字节大端长度
	headerSize = 8
	// 追加时搬运payload的缓冲区大小
	copyBufferSize = 32 * KB
)
