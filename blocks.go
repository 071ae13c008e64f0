package flatfs // import "github.com/keks/flatfs"

import (
	"io"
)

// Basic Types

// ReadWriterAt is both a ReaderAt and a WriterAt.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Block Layer

// BlockSize is the size of every block on the virtual disk in bytes.
const BlockSize = 4096

// Block is the unit of transfer to and from a Device.
type Block [BlockSize]byte

// BlockReadWriter reads and writes whole blocks by 0-based index.
type BlockReadWriter interface {
	ReadBlock(index uint32, blk *Block) error
	WriteBlock(index uint32, blk *Block) error
}

// Device is a raw fixed-size-block virtual disk.
type Device interface {
	BlockReadWriter

	BlockCount() uint32
	Close() error
}

// Volume Layout

// Signature identifies a formatted volume. It occupies the first eight
// bytes of block 0.
const Signature = "ECS150FS"

const (
	// EOC marks the last block of a chain in the allocation table.
	EOC uint16 = 0xFFFF

	// NoBlock is the first block of a file that owns no blocks yet.
	NoBlock uint16 = 0xFFFF

	// Free marks an unallocated allocation table entry.
	Free uint16 = 0
)

// Directory Layer

const (
	// FilenameLen is the on-disk size of a name including its NUL
	// terminator.
	FilenameLen = 16

	// MaxFiles is the number of entries in the directory.
	MaxFiles = 128

	// EntrySize is the on-disk size of one directory entry.
	EntrySize = 32
)

// File Layer

// MaxOpen is the number of descriptors that can be open at once.
const MaxOpen = 32
