package flatfs

// Error is a constant error kind. Call sites wrap it with context, so
// compare with errors.Is.
type Error string

func (err Error) Error() string { return string(err) }

const (
	ErrNotMounted       Error = "file system not mounted"
	ErrAlreadyMounted   Error = "file system already mounted"
	ErrDescriptorsOpen  Error = "descriptors still open"
	ErrInvalidImage     Error = "invalid disk image"
	ErrInvalidName      Error = "invalid file name"
	ErrNameExists       Error = "file already exists"
	ErrNameNotFound     Error = "no such file"
	ErrDirectoryFull    Error = "directory full"
	ErrFileOpen         Error = "file is open"
	ErrBadDescriptor    Error = "bad file descriptor"
	ErrOffsetOutOfRange Error = "offset out of range"
	ErrTooManyOpen      Error = "too many open files"
	ErrNoSpace          Error = "no space left on volume"
	ErrCorruptChain     Error = "corrupt block chain"
	ErrChainBounds      Error = "chain shorter than requested"
	ErrIO               Error = "block device i/o error"

	// ErrBlockRange is wrapped together with ErrIO when a block index lies
	// beyond the end of the device.
	ErrBlockRange Error = "block index out of range"
)
