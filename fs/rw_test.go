package fs

import (
	"bytes"
	"testing"

	"github.com/keks/flatfs"
	"github.com/stretchr/testify/require"
)

func TestShortWriteWhenFull(t *testing.T) {
	fs, _ := newMounted(t, 8)

	// 7 usable blocks: 4 for a, 3 for b
	writeFile(t, fs, "a", pattern(4*flatfs.BlockSize))
	writeFile(t, fs, "b", pattern(2*flatfs.BlockSize+100))

	info, err := fs.Info()
	require.NoError(t, err)
	require.Zero(t, info.FreeDataBlocks)

	fd, err := fs.Open("b")
	require.NoError(t, err)
	require.NoError(t, fs.Seek(fd, 2*flatfs.BlockSize+100))

	// the tail of the last block still has room
	n, err := fs.Write(fd, pattern(flatfs.BlockSize))
	require.NoError(t, err)
	require.Equal(t, flatfs.BlockSize-100, n)

	size, err := fs.Stat(fd)
	require.NoError(t, err)
	require.Equal(t, uint32(3*flatfs.BlockSize), size)

	n, err = fs.Write(fd, []byte{1})
	require.NoError(t, err)
	require.Zero(t, n)

	size, err = fs.Stat(fd)
	require.NoError(t, err)
	require.Equal(t, uint32(3*flatfs.BlockSize), size)
	require.NoError(t, fs.Close(fd))

	// a file without blocks cannot grow at all
	require.NoError(t, fs.Create("c"))
	fd, err = fs.Open("c")
	require.NoError(t, err)
	n, err = fs.Write(fd, []byte("x"))
	require.NoError(t, err)
	require.Zero(t, n)

	size, err = fs.Stat(fd)
	require.NoError(t, err)
	require.Zero(t, size)
	require.Equal(t, 0, chainLength(t, fs, "c"))
}

func TestShortWritePartialAllocation(t *testing.T) {
	fs, _ := newMounted(t, 8)
	writeFile(t, fs, "a", pattern(5*flatfs.BlockSize))

	require.NoError(t, fs.Create("b"))
	fd, err := fs.Open("b")
	require.NoError(t, err)

	data := pattern(3 * flatfs.BlockSize)
	n, err := fs.Write(fd, data)
	require.NoError(t, err)
	require.Equal(t, 2*flatfs.BlockSize, n)

	size, err := fs.Stat(fd)
	require.NoError(t, err)
	require.Equal(t, uint32(n), size)
	require.Equal(t, 2, chainLength(t, fs, "b"))
	require.NoError(t, fs.Close(fd))

	require.Equal(t, data[:n], readFile(t, fs, "b"))

	// freeing space lets the file continue
	require.NoError(t, fs.Delete("a"))
	fd, err = fs.Open("b")
	require.NoError(t, err)
	require.NoError(t, fs.Seek(fd, uint32(n)))
	n, err = fs.Write(fd, data[n:])
	require.NoError(t, err)
	require.Equal(t, flatfs.BlockSize, n)
	require.NoError(t, fs.Close(fd))

	require.Equal(t, data, readFile(t, fs, "b"))
}

func TestPartialBlockMerge(t *testing.T) {
	fs, dev := newMounted(t, 16)
	orig := pattern(3 * flatfs.BlockSize)
	writeFile(t, fs, "f", orig)

	fd, err := fs.Open("f")
	require.NoError(t, err)

	// spans the end of block 0 and the start of block 1
	off := flatfs.BlockSize - 10
	patch := bytes.Repeat([]byte{0xFF}, 30)
	require.NoError(t, fs.Seek(fd, uint32(off)))

	dev.reset()
	n, err := fs.Write(fd, patch)
	require.NoError(t, err)
	require.Equal(t, len(patch), n)

	blocks := chainBlocks(t, fs, "f")
	first := fs.header.DataIndex(blocks[0])
	second := fs.header.DataIndex(blocks[1])
	require.Equal(t, 1, dev.reads[first], "partial block must be read before writing")
	require.Equal(t, 1, dev.reads[second], "partial block must be read before writing")
	require.Equal(t, 1, dev.writes[first])
	require.Equal(t, 1, dev.writes[second])
	require.Zero(t, dev.writes[fs.header.DataIndex(blocks[2])])

	size, err := fs.Stat(fd)
	require.NoError(t, err)
	require.Equal(t, uint32(len(orig)), size)
	require.NoError(t, fs.Close(fd))

	want := append([]byte{}, orig...)
	copy(want[off:], patch)
	require.Equal(t, want, readFile(t, fs, "f"))
}

func TestFullBlockWriteSkipsRead(t *testing.T) {
	fs, dev := newMounted(t, 16)
	writeFile(t, fs, "f", pattern(3*flatfs.BlockSize))

	fd, err := fs.Open("f")
	require.NoError(t, err)
	require.NoError(t, fs.Seek(fd, flatfs.BlockSize))

	dev.reset()
	n, err := fs.Write(fd, bytes.Repeat([]byte{7}, flatfs.BlockSize))
	require.NoError(t, err)
	require.Equal(t, flatfs.BlockSize, n)

	blocks := chainBlocks(t, fs, "f")
	mid := fs.header.DataIndex(blocks[1])
	require.Zero(t, dev.reads[mid])
	require.Equal(t, 1, dev.writes[mid])
	require.Zero(t, dev.writes[fs.header.DataIndex(blocks[0])])
	require.Zero(t, dev.writes[fs.header.DataIndex(blocks[2])])
	require.NoError(t, fs.Close(fd))
}

func TestReadEachBlockOnce(t *testing.T) {
	fs, dev := newMounted(t, 16)
	data := pattern(4 * flatfs.BlockSize)
	writeFile(t, fs, "f", data)

	fd, err := fs.Open("f")
	require.NoError(t, err)
	require.NoError(t, fs.Seek(fd, 100))

	dev.reset()
	buf := make([]byte, 2*flatfs.BlockSize)
	n, err := fs.Read(fd, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, data[100:100+len(buf)], buf)

	blocks := chainBlocks(t, fs, "f")
	for i, b := range blocks {
		exp := 0
		if i <= 2 {
			exp = 1
		}
		require.Equal(t, exp, dev.reads[fs.header.DataIndex(b)], "reads of block %d", i)
	}

	// reads do not move the offset
	n, err = fs.Read(fd, buf[:10])
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, data[100:110], buf[:10])

	// reads are clamped to the file size
	require.NoError(t, fs.Seek(fd, uint32(len(data)-5)))
	n, err = fs.Read(fd, buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, data[len(data)-5:], buf[:5])
}

func TestWriteIOErrorRollsBack(t *testing.T) {
	fs, dev := newMounted(t, 16)
	writeFile(t, fs, "f", []byte("hello"))

	info, err := fs.Info()
	require.NoError(t, err)
	free := info.FreeDataBlocks

	fd, err := fs.Open("f")
	require.NoError(t, err)
	require.NoError(t, fs.Seek(fd, 5))

	dev.failWrites = true
	dev.failFrom = fs.header.DataIndex(2)

	n, err := fs.Write(fd, pattern(3*flatfs.BlockSize))
	require.ErrorIs(t, err, flatfs.ErrIO)
	require.ErrorIs(t, err, errInjected)
	require.Zero(t, n)

	dev.failWrites = false

	info, err = fs.Info()
	require.NoError(t, err)
	require.Equal(t, free, info.FreeDataBlocks)
	require.Equal(t, 1, chainLength(t, fs, "f"))

	size, err := fs.Stat(fd)
	require.NoError(t, err)
	require.Equal(t, uint32(5), size)

	// the offset did not move
	n, err = fs.Write(fd, []byte(" world"))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.NoError(t, fs.Close(fd))
	require.Equal(t, []byte("hello world"), readFile(t, fs, "f"))
}

func TestWriteIOErrorNewFile(t *testing.T) {
	fs, dev := newMounted(t, 16)
	require.NoError(t, fs.Create("f"))
	fd, err := fs.Open("f")
	require.NoError(t, err)

	dev.failWrites = true
	dev.failFrom = fs.header.DataIndex(0)

	_, err = fs.Write(fd, []byte("data"))
	require.ErrorIs(t, err, flatfs.ErrIO)
	dev.failWrites = false

	info, err := fs.Info()
	require.NoError(t, err)
	require.Equal(t, 15, info.FreeDataBlocks)
	require.Zero(t, chainLength(t, fs, "f"))

	slot, _ := fs.dir.Find("f")
	require.Equal(t, flatfs.NoBlock, fs.dir.Entry(slot).First)
}

func TestReadIOError(t *testing.T) {
	fs, dev := newMounted(t, 16)
	writeFile(t, fs, "f", pattern(100))

	fd, err := fs.Open("f")
	require.NoError(t, err)

	dev.failReads = true
	dev.failFrom = fs.header.DataIndex(0)

	n, err := fs.Read(fd, make([]byte, 100))
	require.ErrorIs(t, err, flatfs.ErrIO)
	require.Zero(t, n)
}
