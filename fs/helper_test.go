package fs

import (
	"errors"
	"testing"

	"github.com/keks/flatfs"
	"github.com/keks/flatfs/blkdev"
	"github.com/keks/flatfs/volume"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// testDevice counts block transfers and fails them on demand.
type testDevice struct {
	flatfs.Device

	reads  map[uint32]int
	writes map[uint32]int
	closed bool

	// when set, transfers of blocks at or above failFrom fail
	failReads  bool
	failWrites bool
	failFrom   uint32

	// when non-zero, writes to this block alone fail
	failBlock uint32
}

func newTestDevice(t *testing.T, dataBlocks uint16) (*testDevice, volume.Header) {
	h, err := volume.NewHeader(dataBlocks)
	require.NoError(t, err)

	dev := blkdev.NewMemory(uint32(h.TotalBlocks))
	require.NoError(t, volume.Format(dev, h))

	return &testDevice{
		Device: dev,
		reads:  make(map[uint32]int),
		writes: make(map[uint32]int),
	}, h
}

func (dev *testDevice) ReadBlock(index uint32, blk *flatfs.Block) error {
	if dev.failReads && index >= dev.failFrom {
		return errInjected
	}

	dev.reads[index]++
	return dev.Device.ReadBlock(index, blk)
}

func (dev *testDevice) WriteBlock(index uint32, blk *flatfs.Block) error {
	if dev.failWrites && index >= dev.failFrom {
		return errInjected
	}
	if dev.failBlock != 0 && index == dev.failBlock {
		return errInjected
	}

	dev.writes[index]++
	return dev.Device.WriteBlock(index, blk)
}

func (dev *testDevice) Close() error {
	dev.closed = true
	return dev.Device.Close()
}

func (dev *testDevice) reset() {
	dev.reads = make(map[uint32]int)
	dev.writes = make(map[uint32]int)
}

// newMounted returns a file system mounted on a fresh volume.
func newMounted(t *testing.T, dataBlocks uint16) (*FileSystem, *testDevice) {
	dev, _ := newTestDevice(t, dataBlocks)

	fs, err := New()
	require.NoError(t, err)
	require.NoError(t, fs.MountDevice(dev))

	return fs, dev
}

func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

func listAll(t *testing.T, fs *FileSystem) []FileInfo {
	seq, err := fs.List()
	require.NoError(t, err)

	var infos []FileInfo
	for info := range seq {
		infos = append(infos, info)
	}
	return infos
}

func chainLength(t *testing.T, fs *FileSystem, name string) int {
	slot, ok := fs.dir.Find(name)
	require.True(t, ok, "file %q", name)

	n, err := fs.table.ChainLength(fs.dir.Entry(slot).First)
	require.NoError(t, err)
	return n
}

func chainBlocks(t *testing.T, fs *FileSystem, name string) []uint16 {
	slot, ok := fs.dir.Find(name)
	require.True(t, ok, "file %q", name)

	blocks, err := fs.table.Blocks(fs.dir.Entry(slot).First)
	require.NoError(t, err)
	return blocks
}

// writeFile creates name and writes data to it through a descriptor that
// is closed again.
func writeFile(t *testing.T, fs *FileSystem, name string, data []byte) {
	require.NoError(t, fs.Create(name))
	fd, err := fs.Open(name)
	require.NoError(t, err)

	n, err := fs.Write(fd, data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, fs.Close(fd))
}

func readFile(t *testing.T, fs *FileSystem, name string) []byte {
	fd, err := fs.Open(name)
	require.NoError(t, err)
	defer func() { require.NoError(t, fs.Close(fd)) }()

	size, err := fs.Stat(fd)
	require.NoError(t, err)

	buf := make([]byte, size)
	n, err := fs.Read(fd, buf)
	require.NoError(t, err)
	require.Equal(t, int(size), n)
	return buf
}
