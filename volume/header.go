package volume

import (
	"encoding/binary"
	"fmt"

	"github.com/keks/flatfs"
)

// Byte offsets of the header fields inside block 0.
const (
	offSignature   = 0x00
	offTotalBlocks = 0x08
	offDirectory   = 0x0A
	offDataStart   = 0x0C
	offDataBlocks  = 0x0E
	offTableBlocks = 0x10
)

// entriesPerBlock is the number of 16-bit allocation table entries in a
// block.
const entriesPerBlock = flatfs.BlockSize / 2

// Header is the decoded content of block 0.
type Header struct {
	TotalBlocks    uint16
	DirectoryBlock uint16
	DataStart      uint16
	DataBlocks     uint16
	TableBlocks    uint8
}

// ErrBadSignature is returned by Decode when block 0 does not start with
// flatfs.Signature. It matches flatfs.ErrInvalidImage.
type ErrBadSignature struct {
	Found [8]byte
}

func (err ErrBadSignature) Error() string {
	return fmt.Sprintf("bad signature: wanted %q; found %q", flatfs.Signature, err.Found[:])
}

func (err ErrBadSignature) Unwrap() error { return flatfs.ErrInvalidImage }

// NewHeader returns the header of a volume with the given number of data
// blocks.
func NewHeader(dataBlocks uint16) (Header, error) {
	if dataBlocks == 0 {
		return Header{}, fmt.Errorf("%w: volume needs at least one data block", flatfs.ErrInvalidImage)
	}

	table := tableBlocks(dataBlocks)
	total := 2 + table + int(dataBlocks)
	if table > 0xFF || total > 0xFFFF {
		return Header{}, fmt.Errorf("%w: %d data blocks do not fit a volume", flatfs.ErrInvalidImage, dataBlocks)
	}

	return Header{
		TotalBlocks:    uint16(total),
		DirectoryBlock: uint16(table + 1),
		DataStart:      uint16(table + 2),
		DataBlocks:     dataBlocks,
		TableBlocks:    uint8(table),
	}, nil
}

func tableBlocks(dataBlocks uint16) int {
	return (int(dataBlocks) + entriesPerBlock - 1) / entriesPerBlock
}

// Decode parses block 0. Only the signature is checked; call Validate
// before trusting the layout.
func Decode(blk *flatfs.Block) (Header, error) {
	var sig [8]byte
	copy(sig[:], blk[offSignature:])
	if string(sig[:]) != flatfs.Signature {
		return Header{}, fmt.Errorf("decoding header: %w", ErrBadSignature{sig})
	}

	return Header{
		TotalBlocks:    binary.LittleEndian.Uint16(blk[offTotalBlocks:]),
		DirectoryBlock: binary.LittleEndian.Uint16(blk[offDirectory:]),
		DataStart:      binary.LittleEndian.Uint16(blk[offDataStart:]),
		DataBlocks:     binary.LittleEndian.Uint16(blk[offDataBlocks:]),
		TableBlocks:    blk[offTableBlocks],
	}, nil
}

// Encode writes the header into blk, zeroing the padding.
func (h *Header) Encode(blk *flatfs.Block) {
	*blk = flatfs.Block{}
	copy(blk[offSignature:], flatfs.Signature)
	binary.LittleEndian.PutUint16(blk[offTotalBlocks:], h.TotalBlocks)
	binary.LittleEndian.PutUint16(blk[offDirectory:], h.DirectoryBlock)
	binary.LittleEndian.PutUint16(blk[offDataStart:], h.DataStart)
	binary.LittleEndian.PutUint16(blk[offDataBlocks:], h.DataBlocks)
	blk[offTableBlocks] = h.TableBlocks
}

// Validate checks the header against itself and against the number of
// blocks the device reports.
func (h *Header) Validate(deviceBlocks uint32) error {
	if uint32(h.TotalBlocks) != deviceBlocks {
		return fmt.Errorf("%w: header claims %d blocks, device has %d",
			flatfs.ErrInvalidImage, h.TotalBlocks, deviceBlocks)
	}

	if h.DataBlocks == 0 {
		return fmt.Errorf("%w: no data blocks", flatfs.ErrInvalidImage)
	}

	if want := 2 + int(h.TableBlocks) + int(h.DataBlocks); int(h.TotalBlocks) != want {
		return fmt.Errorf("%w: total blocks %d, layout needs %d",
			flatfs.ErrInvalidImage, h.TotalBlocks, want)
	}

	if want := tableBlocks(h.DataBlocks); int(h.TableBlocks) != want {
		return fmt.Errorf("%w: %d table blocks for %d data blocks, want %d",
			flatfs.ErrInvalidImage, h.TableBlocks, h.DataBlocks, want)
	}

	if want := uint16(h.TableBlocks) + 1; h.DirectoryBlock != want {
		return fmt.Errorf("%w: directory at block %d, want %d",
			flatfs.ErrInvalidImage, h.DirectoryBlock, want)
	}

	if want := uint16(h.TableBlocks) + 2; h.DataStart != want {
		return fmt.Errorf("%w: data starts at block %d, want %d",
			flatfs.ErrInvalidImage, h.DataStart, want)
	}

	return nil
}

// TableStart is the device index of the first allocation table block.
func (h *Header) TableStart() uint32 { return 1 }

// DirectoryIndex is the device index of the directory block.
func (h *Header) DirectoryIndex() uint32 { return uint32(h.DirectoryBlock) }

// DataIndex maps a data block number, as stored in the allocation table,
// to its device index.
func (h *Header) DataIndex(block uint16) uint32 {
	return uint32(h.DataStart) + uint32(block)
}
