// Package fat implements the block-chain allocation table.
//
// The table holds one 16-bit entry per data block. An entry is
// flatfs.Free for an unallocated block, flatfs.EOC for the last block of a
// chain, and otherwise the number of the next block in the same chain.
// Entry 0 is reserved and never handed out.
package fat

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/keks/flatfs"
	"github.com/keks/flatfs/volume"
)

const entriesPerBlock = flatfs.BlockSize / 2

// Table is the in-memory copy of the allocation table. Every mutating
// method writes the table blocks it changed before returning.
type Table struct {
	store   flatfs.BlockReadWriter
	start   uint32
	entries []uint16
	count   int
}

// Load reads the allocation table of the volume described by h.
func Load(store flatfs.BlockReadWriter, h *volume.Header) (*Table, error) {
	t := &Table{
		store:   store,
		start:   h.TableStart(),
		entries: make([]uint16, int(h.TableBlocks)*entriesPerBlock),
		count:   int(h.DataBlocks),
	}

	var blk flatfs.Block
	for i := 0; i < int(h.TableBlocks); i++ {
		if err := store.ReadBlock(t.start+uint32(i), &blk); err != nil {
			return nil, fmt.Errorf("loading allocation table: %w", err)
		}

		for j := 0; j < entriesPerBlock; j++ {
			t.entries[i*entriesPerBlock+j] = binary.LittleEndian.Uint16(blk[2*j:])
		}
	}

	return t, nil
}

// DataBlocks returns the number of entries in the table.
func (t *Table) DataBlocks() int { return t.count }

func (t *Table) entry(i uint16) uint16 { return t.entries[i] }

// FreeCount returns the number of unallocated data blocks.
func (t *Table) FreeCount() int {
	var n int
	for i := 1; i < t.count; i++ {
		if t.entries[i] == flatfs.Free {
			n++
		}
	}

	return n
}

func (t *Table) valid(b uint16) bool {
	return b >= 1 && int(b) < t.count
}

// ChainLength returns the number of blocks in the chain starting at first.
func (t *Table) ChainLength(first uint16) (int, error) {
	c := t.Chain(first)
	var n int
	for c.Next() {
		n++
	}

	return n, c.Err()
}

// BlockAt returns the block n hops from first.
func (t *Table) BlockAt(first uint16, n int) (uint16, error) {
	c := t.Chain(first)
	for c.Next() {
		if c.Index() == n {
			return c.Block(), nil
		}
	}
	if err := c.Err(); err != nil {
		return flatfs.NoBlock, err
	}

	return flatfs.NoBlock, fmt.Errorf("block %d of chain at %d: %w", n, first, flatfs.ErrChainBounds)
}

// Last returns the final block of the chain, or flatfs.NoBlock for an
// empty chain.
func (t *Table) Last(first uint16) (uint16, error) {
	last := flatfs.NoBlock
	c := t.Chain(first)
	for c.Next() {
		last = c.Block()
	}

	return last, c.Err()
}

// Blocks returns every block of the chain in order.
func (t *Table) Blocks(first uint16) ([]uint16, error) {
	var blocks []uint16
	c := t.Chain(first)
	for c.Next() {
		blocks = append(blocks, c.Block())
	}

	return blocks, c.Err()
}

// AllocateOne marks the lowest free block as the end of a chain and
// returns it. Linking it into a chain is up to the caller.
func (t *Table) AllocateOne() (uint16, error) {
	tx := t.begin()
	b, ok := tx.allocateOne(1)
	if !ok {
		return flatfs.NoBlock, fmt.Errorf("allocating block: %w", flatfs.ErrNoSpace)
	}

	if err := tx.commit(); err != nil {
		return flatfs.NoBlock, fmt.Errorf("allocating block: %w", err)
	}

	return b, nil
}

// ExtendChain allocates n blocks and appends them after last, which must
// be the tail of a chain or flatfs.NoBlock to start a new one. It returns
// the first new block. Either all n blocks are allocated or the table is
// left unchanged.
func (t *Table) ExtendChain(last uint16, n int) (uint16, error) {
	if n <= 0 {
		return flatfs.NoBlock, nil
	}

	if last != flatfs.NoBlock && (!t.valid(last) || t.entries[last] != flatfs.EOC) {
		return flatfs.NoBlock, fmt.Errorf("extending chain after %d: %w", last, flatfs.ErrCorruptChain)
	}

	tx := t.begin()
	head, prev := flatfs.NoBlock, last
	from := uint16(1)
	for i := 0; i < n; i++ {
		b, ok := tx.allocateOne(from)
		if !ok {
			tx.revert()
			return flatfs.NoBlock, fmt.Errorf("extending chain by %d blocks: %w", n, flatfs.ErrNoSpace)
		}

		if prev != flatfs.NoBlock {
			tx.set(prev, b)
		}
		if head == flatfs.NoBlock {
			head = b
		}
		prev, from = b, b+1
	}

	if err := tx.commit(); err != nil {
		return flatfs.NoBlock, fmt.Errorf("extending chain by %d blocks: %w", n, err)
	}

	return head, nil
}

// FreeChain releases every block of the chain starting at first. A
// corrupt chain is rejected before any entry changes.
func (t *Table) FreeChain(first uint16) error {
	return t.ShrinkChain(first, 0)
}

// ShrinkChain keeps the first keep blocks of the chain and releases the
// rest.
func (t *Table) ShrinkChain(first uint16, keep int) error {
	blocks, err := t.Blocks(first)
	if err != nil {
		return fmt.Errorf("freeing chain at %d: %w", first, err)
	}
	if keep >= len(blocks) {
		return nil
	}

	tx := t.begin()
	if keep > 0 {
		tx.set(blocks[keep-1], flatfs.EOC)
	}
	for _, b := range blocks[keep:] {
		tx.set(b, flatfs.Free)
	}

	if err := tx.commit(); err != nil {
		return fmt.Errorf("freeing chain at %d: %w", first, err)
	}

	return nil
}

// txn collects entry changes so they can be flushed per touched block or
// undone.
type txn struct {
	t     *Table
	saved map[uint16]uint16
}

func (t *Table) begin() *txn {
	return &txn{t: t, saved: make(map[uint16]uint16)}
}

func (tx *txn) set(i, v uint16) {
	if _, ok := tx.saved[i]; !ok {
		tx.saved[i] = tx.t.entries[i]
	}
	tx.t.entries[i] = v
}

// allocateOne is the first-fit scan starting at from. AllocateOne and
// ExtendChain both allocate through it.
func (tx *txn) allocateOne(from uint16) (uint16, bool) {
	for i := int(from); i < tx.t.count; i++ {
		if tx.t.entries[i] == flatfs.Free {
			tx.set(uint16(i), flatfs.EOC)
			return uint16(i), true
		}
	}

	return flatfs.NoBlock, false
}

func (tx *txn) revert() {
	for i, v := range tx.saved {
		tx.t.entries[i] = v
	}
}

// commit writes every table block touched by the transaction. If a write
// fails the in-memory table is reverted and the blocks already written are
// written again from it.
func (tx *txn) commit() error {
	touched := make(map[int]struct{})
	for i := range tx.saved {
		touched[int(i)/entriesPerBlock] = struct{}{}
	}

	blocks := make([]int, 0, len(touched))
	for b := range touched {
		blocks = append(blocks, b)
	}
	sort.Ints(blocks)

	for n, b := range blocks {
		if err := tx.t.flush(b); err != nil {
			tx.revert()
			for _, done := range blocks[:n] {
				if rerr := tx.t.flush(done); rerr != nil {
					return fmt.Errorf("%w (restoring table block %d: %v)", err, done, rerr)
				}
			}
			return err
		}
	}

	return nil
}

// flush writes table block b from the in-memory entries.
func (t *Table) flush(b int) error {
	var blk flatfs.Block
	for j := 0; j < entriesPerBlock; j++ {
		binary.LittleEndian.PutUint16(blk[2*j:], t.entries[b*entriesPerBlock+j])
	}

	return t.store.WriteBlock(t.start+uint32(b), &blk)
}
