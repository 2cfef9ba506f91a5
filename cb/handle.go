package cb

import (
	"github.com/cockroachdb/errors"
	"github.com/ranchu-emu/gralloc/common"
	"github.com/ranchu-emu/gralloc/extmeta"
	"github.com/ranchu-emu/gralloc/memutils"
	"golang.org/x/sys/unix"
)

const (
	fdFlagBuffer   = 1 << 0
	fdFlagRefcount = 1 << 1

	// scalarWordCount is the number of int32 words following the two-word
	// (numFds, numInts) header in the marshalled form.
	scalarWordCount = 12
)

// Handle is the buffer handle passed between processes: the file
// descriptors backing a shared region plus the scalar fields needed to
// reconstruct the buffer in an importing process. The mapped region and
// lock state are process-local and never travel on the wire.
type Handle struct {
	// BufferFd backs the shared region, -1 when the buffer has no CPU
	// mapping.
	BufferFd int
	// HostHandleRefcountFd exists solely to hold a host refcount on
	// HostHandle, -1 when there is no host color buffer.
	HostHandleRefcountFd int

	HostHandle             uint32
	Usage                  common.BufferUsage
	Format                 common.PixelFormat
	DRMFormat              common.DRMFormat
	Stride                 uint32
	BufferSize             uint32
	MmapedSize             uint32
	MmapedOffset           uint64
	ExternalMetadataOffset uint32

	mapped      []byte
	lockedUsage common.BufferUsage
}

// Mapped returns the current mmap of the shared region, nil when the
// handle is not mapped in this process.
func (h *Handle) Mapped() []byte {
	return h.mapped
}

func (h *Handle) SetMapped(region []byte) {
	h.mapped = region
}

// LockedUsage returns the CPU usage bits currently granted by lock, 0 when
// the buffer is not locked in this process.
func (h *Handle) LockedUsage() common.BufferUsage {
	return h.lockedUsage
}

func (h *Handle) SetLockedUsage(usage common.BufferUsage) {
	h.lockedUsage = usage
}

// Metadata returns the record view over the mapped region.
func (h *Handle) Metadata() (*extmeta.Record, error) {
	if h.mapped == nil {
		return nil, errors.New("buffer is not mapped in this process")
	}
	if int(h.ExternalMetadataOffset)+extmeta.RecordSize > len(h.mapped) {
		return nil, errors.Newf("metadata offset %d does not fit in the %d byte mapping", h.ExternalMetadataOffset, len(h.mapped))
	}
	return extmeta.At(h.mapped[h.ExternalMetadataOffset:])
}

// ReservedRegion returns the caller-requested opaque tail that follows the
// metadata record.
func (h *Handle) ReservedRegion() ([]byte, error) {
	record, err := h.Metadata()
	if err != nil {
		return nil, err
	}

	start := int(h.ExternalMetadataOffset) + extmeta.RecordSize
	size := int(record.ReservedRegionSize())
	if start+size > len(h.mapped) {
		return nil, errors.Newf("reserved region [%d:%d) does not fit in the %d byte mapping", start, start+size, len(h.mapped))
	}
	return h.mapped[start : start+size : start+size], nil
}

func (h *Handle) Validate() error {
	if h.HostHandle != 0 && h.HostHandleRefcountFd < 0 {
		return errors.Newf("host handle %d has no refcount descriptor", h.HostHandle)
	}
	if h.MmapedSize > 0 && h.BufferFd < 0 {
		return errors.New("mapped size is nonzero but there is no buffer descriptor")
	}
	if h.ExternalMetadataOffset != memutils.Align16(h.BufferSize) {
		return errors.Newf("metadata offset %d is not the aligned image size %d", h.ExternalMetadataOffset, memutils.Align16(h.BufferSize))
	}
	return nil
}

// NumFds returns the descriptor count of the marshalled form.
func (h *Handle) NumFds() int {
	count := 0
	if h.BufferFd >= 0 {
		count++
	}
	if h.HostHandleRefcountFd >= 0 {
		count++
	}
	return count
}

// NumInts returns the int32 payload count of the marshalled form, not
// counting the two-word header.
func (h *Handle) NumInts() int {
	return scalarWordCount
}

// Marshal renders the handle as the descriptor array and int32 array that
// cross the process boundary. Descriptor order is BufferFd then
// HostHandleRefcountFd, with absent descriptors skipped and flagged.
func (h *Handle) Marshal() (fds []int, ints []int32) {
	var fdFlags int32
	if h.BufferFd >= 0 {
		fds = append(fds, h.BufferFd)
		fdFlags |= fdFlagBuffer
	}
	if h.HostHandleRefcountFd >= 0 {
		fds = append(fds, h.HostHandleRefcountFd)
		fdFlags |= fdFlagRefcount
	}

	ints = []int32{
		int32(len(fds)),
		scalarWordCount,
		fdFlags,
		int32(h.HostHandle),
		int32(uint32(h.Usage)),
		int32(uint32(h.Usage >> 32)),
		int32(h.Format),
		int32(h.DRMFormat),
		int32(h.Stride),
		int32(h.BufferSize),
		int32(h.MmapedSize),
		int32(uint32(h.MmapedOffset)),
		int32(uint32(h.MmapedOffset >> 32)),
		int32(h.ExternalMetadataOffset),
	}
	return fds, ints
}

// Unmarshal reconstructs a handle from its marshalled form. The handle
// takes ownership of the descriptors in fds.
func Unmarshal(fds []int, ints []int32) (*Handle, error) {
	if len(ints) != 2+scalarWordCount {
		return nil, errors.Newf("handle payload is %d words, want %d", len(ints), 2+scalarWordCount)
	}
	if int(ints[0]) != len(fds) {
		return nil, errors.Newf("handle names %d descriptors but %d arrived", ints[0], len(fds))
	}
	if int(ints[1]) != scalarWordCount {
		return nil, errors.Newf("handle carries %d scalar words, want %d", ints[1], scalarWordCount)
	}

	fdFlags := ints[2]
	wantFds := 0
	if fdFlags&fdFlagBuffer != 0 {
		wantFds++
	}
	if fdFlags&fdFlagRefcount != 0 {
		wantFds++
	}
	if wantFds != len(fds) {
		return nil, errors.Newf("descriptor flags 0x%x name %d descriptors but %d arrived", fdFlags, wantFds, len(fds))
	}

	handle := &Handle{
		BufferFd:             -1,
		HostHandleRefcountFd: -1,

		HostHandle:             uint32(ints[3]),
		Usage:                  common.BufferUsage(uint32(ints[4])) | common.BufferUsage(uint32(ints[5]))<<32,
		Format:                 common.PixelFormat(ints[6]),
		DRMFormat:              common.DRMFormat(ints[7]),
		Stride:                 uint32(ints[8]),
		BufferSize:             uint32(ints[9]),
		MmapedSize:             uint32(ints[10]),
		MmapedOffset:           uint64(uint32(ints[11])) | uint64(uint32(ints[12]))<<32,
		ExternalMetadataOffset: uint32(ints[13]),
	}

	nextFd := 0
	if fdFlags&fdFlagBuffer != 0 {
		handle.BufferFd = fds[nextFd]
		nextFd++
	}
	if fdFlags&fdFlagRefcount != 0 {
		handle.HostHandleRefcountFd = fds[nextFd]
	}

	err := handle.Validate()
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Clone duplicates the handle with freshly dup'd descriptors. The clone
// carries no mapping and no lock state.
func (h *Handle) Clone() (*Handle, error) {
	clone := *h
	clone.mapped = nil
	clone.lockedUsage = 0
	clone.BufferFd = -1
	clone.HostHandleRefcountFd = -1

	if h.BufferFd >= 0 {
		fd, err := unix.FcntlInt(uintptr(h.BufferFd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			return nil, errors.Wrap(err, "duplicating buffer descriptor")
		}
		clone.BufferFd = fd
	}

	if h.HostHandleRefcountFd >= 0 {
		fd, err := unix.FcntlInt(uintptr(h.HostHandleRefcountFd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			if clone.BufferFd >= 0 {
				unix.Close(clone.BufferFd)
			}
			return nil, errors.Wrap(err, "duplicating refcount descriptor")
		}
		clone.HostHandleRefcountFd = fd
	}

	return &clone, nil
}

// CloseFds closes the handle's descriptors and marks them absent.
func (h *Handle) CloseFds() {
	if h.BufferFd >= 0 {
		unix.Close(h.BufferFd)
		h.BufferFd = -1
	}
	if h.HostHandleRefcountFd >= 0 {
		unix.Close(h.HostHandleRefcountFd)
		h.HostHandleRefcountFd = -1
	}
}
