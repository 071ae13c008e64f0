// Package dir implements the flat, fixed-capacity directory.
package dir

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"
	"strings"

	"github.com/keks/flatfs"
)

// Field offsets inside a directory entry.
const (
	offName  = 0x00
	offSize  = 0x10
	offFirst = 0x14
)

// Entry describes one file. An entry with an empty name is free.
type Entry struct {
	Name  string
	Size  uint32
	First uint16
}

func (e Entry) Free() bool { return e.Name == "" }

func decodeEntry(b []byte) Entry {
	name := b[offName : offName+flatfs.FilenameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	return Entry{
		Name:  string(name),
		Size:  binary.LittleEndian.Uint32(b[offSize:]),
		First: binary.LittleEndian.Uint16(b[offFirst:]),
	}
}

func (e Entry) encode(b []byte) {
	for i := range b[:flatfs.EntrySize] {
		b[i] = 0
	}
	if e.Free() {
		return
	}

	copy(b[offName:offName+flatfs.FilenameLen-1], e.Name)
	binary.LittleEndian.PutUint32(b[offSize:], e.Size)
	binary.LittleEndian.PutUint16(b[offFirst:], e.First)
}

// ValidateName checks that name fits an entry.
func ValidateName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: filename cannot be empty", flatfs.ErrInvalidName)
	}
	if len(name) >= flatfs.FilenameLen {
		return fmt.Errorf("%w: filename too long: %d > %d", flatfs.ErrInvalidName, len(name), flatfs.FilenameLen-1)
	}
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("%w: filename cannot contain null byte", flatfs.ErrInvalidName)
	}

	return nil
}

// OpenChecker reports whether a directory slot is referenced by an open
// descriptor.
type OpenChecker interface {
	IsOpen(slot int) bool
}

// ChainFreer releases the blocks of a file.
type ChainFreer interface {
	FreeChain(first uint16) error
}

// Directory is the in-memory copy of the directory block. Every mutating
// method writes the block back before returning.
type Directory struct {
	store   flatfs.BlockReadWriter
	index   uint32
	entries [flatfs.MaxFiles]Entry
}

// Load reads the directory stored at block index.
func Load(store flatfs.BlockReadWriter, index uint32) (*Directory, error) {
	var blk flatfs.Block
	if err := store.ReadBlock(index, &blk); err != nil {
		return nil, fmt.Errorf("loading directory: %w", err)
	}

	d := &Directory{store: store, index: index}
	for i := range d.entries {
		d.entries[i] = decodeEntry(blk[i*flatfs.EntrySize:])
	}

	return d, nil
}

// Find returns the slot of the live entry called name.
func (d *Directory) Find(name string) (int, bool) {
	if name == "" {
		return 0, false
	}

	for i := range d.entries {
		if d.entries[i].Name == name {
			return i, true
		}
	}

	return 0, false
}

// Entry returns the entry in slot.
func (d *Directory) Entry(slot int) Entry { return d.entries[slot] }

// Update replaces the entry in slot and persists the directory.
func (d *Directory) Update(slot int, e Entry) error {
	old := d.entries[slot]
	d.entries[slot] = e

	if err := d.flush(); err != nil {
		d.entries[slot] = old
		return fmt.Errorf("updating entry %d: %w", slot, err)
	}

	return nil
}

// Create installs an empty file called name in the lowest free slot.
func (d *Directory) Create(name string) (int, error) {
	if err := ValidateName(name); err != nil {
		return 0, fmt.Errorf("creating %q: %w", name, err)
	}

	if _, ok := d.Find(name); ok {
		return 0, fmt.Errorf("creating %q: %w", name, flatfs.ErrNameExists)
	}

	for i := range d.entries {
		if !d.entries[i].Free() {
			continue
		}

		if err := d.Update(i, Entry{Name: name, First: flatfs.NoBlock}); err != nil {
			return 0, fmt.Errorf("creating %q: %w", name, err)
		}

		return i, nil
	}

	return 0, fmt.Errorf("creating %q: %w", name, flatfs.ErrDirectoryFull)
}

// Delete releases the blocks of the file called name and clears its
// entry. Files with open descriptors cannot be deleted.
func (d *Directory) Delete(name string, open OpenChecker, table ChainFreer) error {
	slot, ok := d.Find(name)
	if !ok {
		return fmt.Errorf("deleting %q: %w", name, flatfs.ErrNameNotFound)
	}

	if open.IsOpen(slot) {
		return fmt.Errorf("deleting %q: %w", name, flatfs.ErrFileOpen)
	}

	// no live entry may point at free blocks, so clear it before freeing
	old := d.entries[slot]
	if err := d.Update(slot, Entry{}); err != nil {
		return fmt.Errorf("deleting %q: %w", name, err)
	}

	if err := table.FreeChain(old.First); err != nil {
		if rerr := d.Update(slot, old); rerr != nil {
			return fmt.Errorf("deleting %q: %w (restoring entry: %v)", name, err, rerr)
		}
		return fmt.Errorf("deleting %q: %w", name, err)
	}

	return nil
}

// List yields name and size of every live entry in directory order. Each
// iteration rescans the directory.
func (d *Directory) List() iter.Seq2[string, uint32] {
	return func(yield func(string, uint32) bool) {
		for i := range d.entries {
			e := d.entries[i]
			if e.Free() {
				continue
			}
			if !yield(e.Name, e.Size) {
				return
			}
		}
	}
}

// FreeCount returns the number of free entries.
func (d *Directory) FreeCount() int {
	var n int
	for i := range d.entries {
		if d.entries[i].Free() {
			n++
		}
	}

	return n
}

func (d *Directory) flush() error {
	var blk flatfs.Block
	for i := range d.entries {
		d.entries[i].encode(blk[i*flatfs.EntrySize:])
	}

	return d.store.WriteBlock(d.index, &blk)
}
