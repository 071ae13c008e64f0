package fs

import (
	"errors"
	"fmt"

	"github.com/keks/flatfs"
	"github.com/keks/flatfs/dir"
)

// Read copies up to len(p) bytes of the file open as fd, starting at the
// descriptor's offset, into p. The offset does not move. At the end of
// the file Read returns 0, nil.
func (fs *FileSystem) Read(fd int, p []byte) (int, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	d, err := fs.descriptor(fd)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}

	e := fs.dir.Entry(d.slot)
	n := len(p)
	if avail := int(e.Size) - int(d.offset); avail < n {
		n = avail
	}
	if n <= 0 {
		return 0, nil
	}

	off := int(d.offset)
	end := off + n
	startIdx := off / flatfs.BlockSize
	lastIdx := (end - 1) / flatfs.BlockSize

	var blk flatfs.Block
	c := fs.table.Chain(e.First)
	for c.Next() && c.Index() <= lastIdx {
		i := c.Index()
		if i < startIdx {
			continue
		}

		if err := fs.store.ReadBlock(fs.header.DataIndex(c.Block()), &blk); err != nil {
			return 0, fmt.Errorf("read %q: %w", e.Name, err)
		}

		lo, hi := span(i, off, end)
		copy(p[i*flatfs.BlockSize+lo-off:], blk[lo:hi])

		if i == lastIdx {
			return n, nil
		}
	}
	if err := c.Err(); err != nil {
		return 0, fmt.Errorf("read %q: %w", e.Name, err)
	}

	return 0, fmt.Errorf("read %q: size %d: %w", e.Name, e.Size, flatfs.ErrChainBounds)
}

// Write writes p to the file open as fd at the descriptor's offset,
// growing the file as needed, and advances the offset by the number of
// bytes written. When the volume runs out of blocks Write stores what
// fits and returns the short count without an error.
func (fs *FileSystem) Write(fd int, p []byte) (int, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	d, err := fs.descriptor(fd)
	if err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	if len(p) == 0 {
		return 0, nil
	}

	e := fs.dir.Entry(d.slot)
	off := int(d.offset)

	have, err := fs.table.ChainLength(e.First)
	if err != nil {
		return 0, fmt.Errorf("write %q: %w", e.Name, err)
	}

	target := off + len(p)
	if target < int(e.Size) {
		target = int(e.Size)
	}

	grown, err := fs.grow(&e, have, divCeil(target, flatfs.BlockSize))
	if err != nil {
		return 0, fmt.Errorf("write %q: %w", e.Name, err)
	}

	end := off + len(p)
	if capacity := (have + grown) * flatfs.BlockSize; end > capacity {
		end = capacity
	}
	written := end - off
	if written <= 0 {
		fs.logger.Printf("write %q: volume full, nothing written", e.Name)
		return 0, nil
	}

	// blocks added by this call are released again if it fails; bytes
	// already rewritten in blocks the file owned are not restored
	undo := func(err error) (int, error) {
		if grown > 0 {
			if rerr := fs.table.ShrinkChain(e.First, have); rerr != nil {
				return 0, fmt.Errorf("write %q: %w (releasing blocks: %v)", e.Name, err, rerr)
			}
		}
		return 0, fmt.Errorf("write %q: %w", e.Name, err)
	}

	if err := fs.writeBlocks(e, p, off, end); err != nil {
		return undo(err)
	}

	if end > int(e.Size) {
		e.Size = uint32(end)
	}
	if err := fs.dir.Update(d.slot, e); err != nil {
		return undo(err)
	}
	d.offset += uint32(written)

	if written < len(p) {
		fs.logger.Printf("write %q: short write of %d/%d bytes, volume full", e.Name, written, len(p))
	}

	return written, nil
}

// grow extends the chain of e from have to want blocks, or by as many
// blocks as are free if that is not possible. It returns the number of
// blocks added. A file that had no blocks gets its first block set in e,
// which the caller persists.
func (fs *FileSystem) grow(e *dir.Entry, have, want int) (int, error) {
	if want <= have {
		return 0, nil
	}

	last, err := fs.table.Last(e.First)
	if err != nil {
		return 0, err
	}

	n := want - have
	head, err := fs.table.ExtendChain(last, n)
	if errors.Is(err, flatfs.ErrNoSpace) {
		n = fs.table.FreeCount()
		head, err = fs.table.ExtendChain(last, n)
	}
	if err != nil {
		return 0, err
	}

	if n > 0 && e.First == flatfs.NoBlock {
		e.First = head
	}

	return n, nil
}

// writeBlocks stores p[:end-off] at byte range [off, end) of the file.
// Blocks covered completely are written directly, the others are merged
// with their current content.
func (fs *FileSystem) writeBlocks(e dir.Entry, p []byte, off, end int) error {
	startIdx := off / flatfs.BlockSize
	lastIdx := (end - 1) / flatfs.BlockSize

	var blk flatfs.Block
	c := fs.table.Chain(e.First)
	for c.Next() && c.Index() <= lastIdx {
		i := c.Index()
		if i < startIdx {
			continue
		}

		index := fs.header.DataIndex(c.Block())
		lo, hi := span(i, off, end)
		if lo != 0 || hi != flatfs.BlockSize {
			if err := fs.store.ReadBlock(index, &blk); err != nil {
				return err
			}
		}

		copy(blk[lo:hi], p[i*flatfs.BlockSize+lo-off:])
		if err := fs.store.WriteBlock(index, &blk); err != nil {
			return err
		}

		if i == lastIdx {
			return nil
		}
	}
	if err := c.Err(); err != nil {
		return err
	}

	return fmt.Errorf("block %d: %w", lastIdx, flatfs.ErrChainBounds)
}

// span returns the part [lo, hi) of block i that falls inside the byte
// range [off, end) of the file.
func span(i, off, end int) (int, int) {
	start := i * flatfs.BlockSize
	lo, hi := 0, flatfs.BlockSize
	if off > start {
		lo = off - start
	}
	if end < start+flatfs.BlockSize {
		hi = end - start
	}

	return lo, hi
}

func divCeil(a, b int) int {
	return (a + b - 1) / b
}
