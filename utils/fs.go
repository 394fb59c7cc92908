package utils

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// SyncDir flushes a directory so entries created, renamed or removed in it
// survive a crash.
func SyncDir(fs afero.Fs, dir string) error {
	d, err := fs.Open(dir)
	if err != nil {
		return errors.Wrapf(err, "open dir %s", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.Wrapf(err, "sync dir %s", dir)
	}
	return nil
}
