// Package fs mounts a flatfs volume and exposes file operations on it.
//
// A FileSystem is one mount session. All metadata lives in the session
// and every change is written to the device before the call returns, so
// unmounting only has to close the device. Calls are serialised by a
// single mutex.
package fs

import (
	"fmt"
	"io"
	"iter"
	"log"
	"sync"

	"github.com/keks/flatfs"
	"github.com/keks/flatfs/blkdev"
	"github.com/keks/flatfs/dir"
	"github.com/keks/flatfs/fat"
	"github.com/keks/flatfs/volume"
)

type FileSystem struct {
	l sync.Mutex

	logger *log.Logger
	open   func(path string) (flatfs.Device, error)

	mounted bool
	store   *blkdev.Store
	header  volume.Header
	table   *fat.Table
	dir     *dir.Directory
	fds     descriptorTable
}

// FileInfo is one line of a directory listing.
type FileInfo struct {
	Name string
	Size uint32
}

// Info summarises the mounted volume.
type Info struct {
	TotalBlocks    int
	TableBlocks    int
	DirectoryBlock int
	DataStart      int
	DataBlocks     int
	FreeDataBlocks int
	FreeEntries    int
}

// String formats the info the way the reference fs_info tool prints it.
func (info Info) String() string {
	return fmt.Sprintf("FS Info:\n"+
		"total_blk_count=%d\n"+
		"fat_blk_count=%d\n"+
		"rdir_blk=%d\n"+
		"data_blk=%d\n"+
		"data_blk_count=%d\n"+
		"fat_free_ratio=%d/%d\n"+
		"rdir_free_ratio=%d/%d\n",
		info.TotalBlocks,
		info.TableBlocks,
		info.DirectoryBlock,
		info.DataStart,
		info.DataBlocks,
		info.FreeDataBlocks, info.DataBlocks,
		info.FreeEntries, flatfs.MaxFiles,
	)
}

// New returns an unmounted FileSystem.
func New(opts ...Option) (*FileSystem, error) {
	fs := &FileSystem{
		logger: log.New(io.Discard, "", 0),
		open:   defaultOpener,
	}

	for _, opt := range opts {
		if err := opt(fs); err != nil {
			return nil, fmt.Errorf("configuring file system: %w", err)
		}
	}

	return fs, nil
}

// Mounted reports whether a volume is mounted.
func (fs *FileSystem) Mounted() bool {
	fs.l.Lock()
	defer fs.l.Unlock()

	return fs.mounted
}

// Mount opens the disk image at path and mounts the volume on it.
func (fs *FileSystem) Mount(path string) error {
	fs.l.Lock()
	defer fs.l.Unlock()

	if fs.mounted {
		return fmt.Errorf("mounting %s: %w", path, flatfs.ErrAlreadyMounted)
	}

	dev, err := fs.open(path)
	if err != nil {
		return fmt.Errorf("mounting %s: %w: %w", path, flatfs.ErrIO, err)
	}

	if err := fs.mount(dev); err != nil {
		return fmt.Errorf("mounting %s: %w", path, err)
	}

	fs.logger.Printf("mounted %s: %d data blocks, %d free", path, fs.header.DataBlocks, fs.table.FreeCount())
	return nil
}

// MountDevice mounts the volume on an already open device. The
// FileSystem owns dev until Unmount, or closes it if mounting fails.
func (fs *FileSystem) MountDevice(dev flatfs.Device) error {
	fs.l.Lock()
	defer fs.l.Unlock()

	if fs.mounted {
		return fmt.Errorf("mounting device: %w", flatfs.ErrAlreadyMounted)
	}

	if err := fs.mount(dev); err != nil {
		return fmt.Errorf("mounting device: %w", err)
	}

	fs.logger.Printf("mounted device: %d data blocks, %d free", fs.header.DataBlocks, fs.table.FreeCount())
	return nil
}

func (fs *FileSystem) mount(dev flatfs.Device) (err error) {
	store := blkdev.NewStore(dev)
	defer func() {
		if err != nil {
			store.Close()
		}
	}()

	if store.BlockCount() == 0 {
		return fmt.Errorf("%w: empty device", flatfs.ErrInvalidImage)
	}

	var blk flatfs.Block
	if err := store.ReadBlock(0, &blk); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	h, err := volume.Decode(&blk)
	if err != nil {
		return err
	}
	if err := h.Validate(store.BlockCount()); err != nil {
		return err
	}

	table, err := fat.Load(store, &h)
	if err != nil {
		return err
	}

	d, err := dir.Load(store, h.DirectoryIndex())
	if err != nil {
		return err
	}

	fs.store = store
	fs.header = h
	fs.table = table
	fs.dir = d
	fs.fds = descriptorTable{}
	fs.mounted = true

	return nil
}

// Unmount closes the device. All descriptors must be closed first.
func (fs *FileSystem) Unmount() error {
	fs.l.Lock()
	defer fs.l.Unlock()

	if !fs.mounted {
		return fmt.Errorf("unmounting: %w", flatfs.ErrNotMounted)
	}

	if n := fs.fds.count(); n > 0 {
		return fmt.Errorf("unmounting: %d open: %w", n, flatfs.ErrDescriptorsOpen)
	}

	err := fs.store.Close()

	// the session ends even if closing fails
	fs.mounted = false
	fs.store = nil
	fs.table = nil
	fs.dir = nil

	if err != nil {
		return fmt.Errorf("unmounting: %w", err)
	}

	fs.logger.Printf("unmounted")
	return nil
}

// Info returns block counts and free space of the mounted volume.
func (fs *FileSystem) Info() (Info, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	if !fs.mounted {
		return Info{}, fmt.Errorf("info: %w", flatfs.ErrNotMounted)
	}

	return Info{
		TotalBlocks:    int(fs.header.TotalBlocks),
		TableBlocks:    int(fs.header.TableBlocks),
		DirectoryBlock: int(fs.header.DirectoryBlock),
		DataStart:      int(fs.header.DataStart),
		DataBlocks:     int(fs.header.DataBlocks),
		FreeDataBlocks: fs.table.FreeCount(),
		FreeEntries:    fs.dir.FreeCount(),
	}, nil
}

// List returns the files of the directory in directory order. The
// sequence takes a fresh snapshot each time it is ranged over and is
// empty once the volume is unmounted.
func (fs *FileSystem) List() (iter.Seq[FileInfo], error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	if !fs.mounted {
		return nil, fmt.Errorf("listing: %w", flatfs.ErrNotMounted)
	}

	return func(yield func(FileInfo) bool) {
		for _, info := range fs.snapshot() {
			if !yield(info) {
				return
			}
		}
	}, nil
}

func (fs *FileSystem) snapshot() []FileInfo {
	fs.l.Lock()
	defer fs.l.Unlock()

	if !fs.mounted {
		return nil
	}

	var infos []FileInfo
	for name, size := range fs.dir.List() {
		infos = append(infos, FileInfo{Name: name, Size: size})
	}

	return infos
}
