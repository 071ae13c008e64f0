package fat

import (
	"fmt"

	"github.com/keks/flatfs"
)

// Chain walks a block chain. Use it like a bufio.Scanner:
//
//	c := t.Chain(first)
//	for c.Next() {
//		use(c.Block())
//	}
//	if err := c.Err(); err != nil {
//		...
//	}
//
// The walk stops with flatfs.ErrCorruptChain on a pointer outside the data
// region or after more steps than the table has entries.
type Chain struct {
	t     *Table
	first uint16
	next  uint16
	cur   uint16
	index int
	err   error
}

// Chain returns an iterator over the chain starting at first. A first
// block of flatfs.NoBlock yields nothing.
func (t *Table) Chain(first uint16) *Chain {
	return &Chain{
		t:     t,
		first: first,
		next:  first,
		cur:   flatfs.NoBlock,
		index: -1,
	}
}

func (c *Chain) Next() bool {
	if c.err != nil || c.next == flatfs.EOC {
		return false
	}

	if !c.t.valid(c.next) {
		c.err = fmt.Errorf("chain at %d: block %d links to %d: %w",
			c.first, c.cur, c.next, flatfs.ErrCorruptChain)
		return false
	}

	if c.index+1 >= c.t.count {
		c.err = fmt.Errorf("chain at %d: longer than %d blocks: %w",
			c.first, c.t.count, flatfs.ErrCorruptChain)
		return false
	}

	c.cur = c.next
	c.index++
	c.next = c.t.entries[c.cur]

	return true
}

// Block returns the current block.
func (c *Chain) Block() uint16 { return c.cur }

// Index returns the position of the current block within the chain.
func (c *Chain) Index() int { return c.index }

func (c *Chain) Err() error { return c.err }
