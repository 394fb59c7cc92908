package easyqueue

import (
	"regexp"

	"github.com/pkg/errors"
)

// 名字同时也是文件名：不能以 . 开头，也不能含路径分隔符
var nameRegexp = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]{0,127}$`)

// ValidName reports whether name can be used as a topic or subscriber name.
func ValidName(name string) bool {
	return nameRegexp.MatchString(name)
}

func checkName(kind, name string) error {
	if !ValidName(name) {
		return errors.Wrapf(ErrInvalidName, "%s %q", kind, name)
	}
	return nil
}
