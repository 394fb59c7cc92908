package utils

import (
	"path/filepath"

	"github.com/kardianos/osext"
)

// ExecDir 当前可执行程序目录
func ExecDir() string {

	path, err := osext.ExecutableFolder()
	if err != nil {
		return ""
	}
	return path
}

// DataDir 默认数据目录：可执行程序目录下的 data，取不到时用当前目录
func DataDir() string {
	dir := ExecDir()
	if dir == "" {
		return filepath.Join(".", "data")
	}
	return filepath.Join(dir, "data")
}
