package blkdev

import (
	"fmt"

	"github.com/keks/flatfs"
)

// Store is the typed view of a Device used by the file system layers.
// Every failure it returns wraps flatfs.ErrIO.
type Store struct {
	dev flatfs.Device
}

var _ flatfs.BlockReadWriter = (*Store)(nil)

func NewStore(dev flatfs.Device) *Store {
	return &Store{dev: dev}
}

func (s *Store) BlockCount() uint32 { return s.dev.BlockCount() }

func (s *Store) ReadBlock(index uint32, blk *flatfs.Block) error {
	if err := s.check(index); err != nil {
		return fmt.Errorf("reading block %d: %w", index, err)
	}

	if err := s.dev.ReadBlock(index, blk); err != nil {
		return fmt.Errorf("reading block %d: %w: %w", index, flatfs.ErrIO, err)
	}

	return nil
}

func (s *Store) WriteBlock(index uint32, blk *flatfs.Block) error {
	if err := s.check(index); err != nil {
		return fmt.Errorf("writing block %d: %w", index, err)
	}

	if err := s.dev.WriteBlock(index, blk); err != nil {
		return fmt.Errorf("writing block %d: %w: %w", index, flatfs.ErrIO, err)
	}

	return nil
}

func (s *Store) Close() error {
	if err := s.dev.Close(); err != nil {
		return fmt.Errorf("%w: %w", flatfs.ErrIO, err)
	}

	return nil
}

func (s *Store) check(index uint32) error {
	if count := s.dev.BlockCount(); index >= count {
		return fmt.Errorf("%w: %w: %d >= %d", flatfs.ErrIO, flatfs.ErrBlockRange, index, count)
	}

	return nil
}
