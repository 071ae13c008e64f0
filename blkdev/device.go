package blkdev

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/keks/flatfs"
)

// New returns a device of the given number of blocks backed by rwa. Block
// i lives at byte offset i*flatfs.BlockSize. If rwa is also an io.Closer it
// is closed by Close.
func New(rwa flatfs.ReadWriterAt, blocks uint32) flatfs.Device {
	dev := &device{
		lower:  rwa,
		blocks: blocks,
	}
	if c, ok := rwa.(io.Closer); ok {
		dev.closer = c
	}

	return dev
}

// NewMemory returns a zeroed in-memory device.
func NewMemory(blocks uint32) flatfs.Device {
	return New(&memory{buf: make([]byte, int(blocks)*flatfs.BlockSize)}, blocks)
}

// Open opens the disk image at path for reading and writing.
func Open(path string) (flatfs.Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening disk image %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening disk image %s: %w", path, err)
	}

	size := fi.Size()
	if size == 0 || size%flatfs.BlockSize != 0 {
		f.Close()
		return nil, fmt.Errorf("opening disk image %s: size %d is not a multiple of %d",
			path, size, flatfs.BlockSize)
	}

	return New(f, uint32(size/flatfs.BlockSize)), nil
}

// Create creates or truncates the disk image at path to hold the given
// number of zeroed blocks.
func Create(path string, blocks uint32) (flatfs.Device, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating disk image %s: %w", path, err)
	}

	if err := f.Truncate(int64(blocks) * flatfs.BlockSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("creating disk image %s: truncating: %w", path, err)
	}

	return New(f, blocks), nil
}

type device struct {
	lower  flatfs.ReadWriterAt
	closer io.Closer
	blocks uint32
}

func (dev *device) BlockCount() uint32 { return dev.blocks }

func (dev *device) ReadBlock(index uint32, blk *flatfs.Block) error {
	n, err := dev.lower.ReadAt(blk[:], int64(index)*flatfs.BlockSize)

	// a ReaderAt may report EOF together with a full buffer at the end of
	// the underlying file
	if n == len(blk) && errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("disk read error: %w", err)
	}
	if n != len(blk) {
		return fmt.Errorf("disk read error: short read of %d bytes", n)
	}

	return nil
}

func (dev *device) WriteBlock(index uint32, blk *flatfs.Block) error {
	n, err := dev.lower.WriteAt(blk[:], int64(index)*flatfs.BlockSize)
	if err != nil {
		// NOTE: this is only expected if the lower layer has failures,
		//       like e.g. running out of disk space.
		return fmt.Errorf("disk write error: %w", err)
	}
	if n != len(blk) {
		return fmt.Errorf("disk write error: short write of %d bytes", n)
	}

	return nil
}

func (dev *device) Close() error {
	if dev.closer == nil {
		return nil
	}

	if err := dev.closer.Close(); err != nil {
		return fmt.Errorf("disk close error: %w", err)
	}

	return nil
}

// memory is a fixed-size ReadWriterAt.
type memory struct {
	buf []byte
}

func (m *memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.buf)) {
		return 0, fmt.Errorf("offset %d out of range (size %d)", off, len(m.buf))
	}

	return copy(p, m.buf[off:]), nil
}

func (m *memory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.buf)) {
		return 0, fmt.Errorf("offset %d out of range (size %d)", off, len(m.buf))
	}

	return copy(m.buf[off:], p), nil
}
