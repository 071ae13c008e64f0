package fs

import (
	"fmt"

	"github.com/keks/flatfs"
)

// descriptor is an open-file slot. It refers to the directory entry by
// slot so the size is always read live.
type descriptor struct {
	used   bool
	slot   int
	offset uint32
}

type descriptorTable struct {
	fds [flatfs.MaxOpen]descriptor
}

// open binds the lowest free descriptor to the directory slot.
func (t *descriptorTable) open(slot int) (int, error) {
	for fd := range t.fds {
		if !t.fds[fd].used {
			t.fds[fd] = descriptor{used: true, slot: slot}
			return fd, nil
		}
	}

	return -1, flatfs.ErrTooManyOpen
}

func (t *descriptorTable) get(fd int) (*descriptor, error) {
	if fd < 0 || fd >= len(t.fds) {
		return nil, fmt.Errorf("descriptor %d out of range: %w", fd, flatfs.ErrBadDescriptor)
	}
	if !t.fds[fd].used {
		return nil, fmt.Errorf("descriptor %d not open: %w", fd, flatfs.ErrBadDescriptor)
	}

	return &t.fds[fd], nil
}

func (t *descriptorTable) close(fd int) error {
	if _, err := t.get(fd); err != nil {
		return err
	}

	t.fds[fd] = descriptor{}
	return nil
}

// IsOpen reports whether any descriptor refers to the directory slot.
func (t *descriptorTable) IsOpen(slot int) bool {
	for i := range t.fds {
		if t.fds[i].used && t.fds[i].slot == slot {
			return true
		}
	}

	return false
}

func (t *descriptorTable) count() int {
	var n int
	for i := range t.fds {
		if t.fds[i].used {
			n++
		}
	}

	return n
}
