package volume

import (
	"encoding/binary"
	"fmt"

	"github.com/keks/flatfs"
)

// Format initialises dev as an empty volume laid out by h: the header,
// an allocation table with only the reserved entry 0 in use, and an
// empty directory. Data blocks are left untouched.
func Format(dev flatfs.BlockReadWriter, h Header) error {
	var blk flatfs.Block

	h.Encode(&blk)
	if err := dev.WriteBlock(0, &blk); err != nil {
		return fmt.Errorf("formatting volume: writing header: %w", err)
	}

	for i := 0; i < int(h.TableBlocks); i++ {
		blk = flatfs.Block{}
		if i == 0 {
			binary.LittleEndian.PutUint16(blk[:], flatfs.EOC)
		}

		if err := dev.WriteBlock(h.TableStart()+uint32(i), &blk); err != nil {
			return fmt.Errorf("formatting volume: writing table block %d: %w", i, err)
		}
	}

	blk = flatfs.Block{}
	if err := dev.WriteBlock(h.DirectoryIndex(), &blk); err != nil {
		return fmt.Errorf("formatting volume: writing directory: %w", err)
	}

	return nil
}
