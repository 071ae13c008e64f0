package fs

import (
	"fmt"

	"github.com/keks/flatfs"
)

// Create adds an empty file called name.
func (fs *FileSystem) Create(name string) error {
	fs.l.Lock()
	defer fs.l.Unlock()

	if !fs.mounted {
		return fmt.Errorf("creating %q: %w", name, flatfs.ErrNotMounted)
	}

	_, err := fs.dir.Create(name)
	return err
}

// Delete removes the file called name and frees its blocks. Open files
// cannot be deleted.
func (fs *FileSystem) Delete(name string) error {
	fs.l.Lock()
	defer fs.l.Unlock()

	if !fs.mounted {
		return fmt.Errorf("deleting %q: %w", name, flatfs.ErrNotMounted)
	}

	return fs.dir.Delete(name, &fs.fds, fs.table)
}

// Open returns a descriptor positioned at the start of the file called
// name. Each call returns a new descriptor.
func (fs *FileSystem) Open(name string) (int, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	if !fs.mounted {
		return -1, fmt.Errorf("opening %q: %w", name, flatfs.ErrNotMounted)
	}

	slot, ok := fs.dir.Find(name)
	if !ok {
		return -1, fmt.Errorf("opening %q: %w", name, flatfs.ErrNameNotFound)
	}

	fd, err := fs.fds.open(slot)
	if err != nil {
		return -1, fmt.Errorf("opening %q: %w", name, err)
	}

	return fd, nil
}

func (fs *FileSystem) Close(fd int) error {
	fs.l.Lock()
	defer fs.l.Unlock()

	if !fs.mounted {
		return fmt.Errorf("closing %d: %w", fd, flatfs.ErrNotMounted)
	}

	if err := fs.fds.close(fd); err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	return nil
}

// Stat returns the current size of the file open as fd.
func (fs *FileSystem) Stat(fd int) (uint32, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	d, err := fs.descriptor(fd)
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}

	return fs.dir.Entry(d.slot).Size, nil
}

// Seek moves the offset of fd. The offset may be at most the file size.
func (fs *FileSystem) Seek(fd int, offset uint32) error {
	fs.l.Lock()
	defer fs.l.Unlock()

	d, err := fs.descriptor(fd)
	if err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	if size := fs.dir.Entry(d.slot).Size; offset > size {
		return fmt.Errorf("seek: offset %d beyond size %d: %w", offset, size, flatfs.ErrOffsetOutOfRange)
	}

	d.offset = offset
	return nil
}

// descriptor returns the open descriptor fd of the mounted volume.
func (fs *FileSystem) descriptor(fd int) (*descriptor, error) {
	if !fs.mounted {
		return nil, flatfs.ErrNotMounted
	}

	return fs.fds.get(fd)
}
