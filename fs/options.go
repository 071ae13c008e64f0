package fs

import (
	"fmt"
	"log"

	"github.com/keks/flatfs"
	"github.com/keks/flatfs/blkdev"
)

// Option is a functional option for configuring a FileSystem.
type Option func(*FileSystem) error

// WithLogger sets the logger mount events and short writes are reported
// to. By default nothing is logged.
func WithLogger(logger *log.Logger) Option {
	return func(fs *FileSystem) error {
		if logger == nil {
			return fmt.Errorf("logger is required")
		}

		fs.logger = logger
		return nil
	}
}

// WithOpener sets the function Mount uses to open a disk image. The
// default is blkdev.Open.
func WithOpener(open func(path string) (flatfs.Device, error)) Option {
	return func(fs *FileSystem) error {
		if open == nil {
			return fmt.Errorf("opener is required")
		}

		fs.open = open
		return nil
	}
}

var defaultOpener = blkdev.Open
