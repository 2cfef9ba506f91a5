package allocator

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/ranchu-emu/gralloc/addrspace"
	"github.com/ranchu-emu/gralloc/cb"
	"github.com/ranchu-emu/gralloc/common"
	"github.com/ranchu-emu/gralloc/extmeta"
	"github.com/ranchu-emu/gralloc/hostconn"
	"github.com/ranchu-emu/gralloc/internal/debug"
	"github.com/ranchu-emu/gralloc/memutils"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// LibrarySuffix identifies this mapper implementation to the platform.
const LibrarySuffix = "ranchu"

type CreateOptions struct {
	// Connection is the process-wide host channel.
	Connection *hostconn.Connection
	// Memory hands out the shared regions backing buffers.
	Memory addrspace.Allocator
	// PipeOpen opens a host pipe by service name. Defaults to
	// hostconn.PipeOpen.
	PipeOpen func(name string) (int, error)
}

// Allocator reserves shared regions, stamps their metadata records, and
// creates host color buffers for GPU-visible usages.
type Allocator struct {
	logger     *slog.Logger
	conn       *hostconn.Connection
	memory     addrspace.Allocator
	pipeOpen   func(name string) (int, error)
	debugLevel debug.Level

	bufferID atomic.Uint64
}

// New creates an Allocator. Pass a nil logger to use slog.Default.
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if options.Connection == nil {
		return nil, errors.New("CreateOptions.Connection is required")
	}
	if options.Memory == nil {
		return nil, errors.New("CreateOptions.Memory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	pipeOpen := options.PipeOpen
	if pipeOpen == nil {
		pipeOpen = hostconn.PipeOpen
	}

	return &Allocator{
		logger:     logger,
		conn:       options.Connection,
		memory:     options.Memory,
		pipeOpen:   pipeOpen,
		debugLevel: debug.RuntimeLevel(),
	}, nil
}

type allocation struct {
	handle *cb.Handle
	block  *addrspace.Block
}

// Allocate reserves count buffers for the descriptor and returns the
// plane-0 pixel stride alongside the handles. A failure mid-batch
// releases every buffer the same call already allocated and surfaces
// StatusNoResources.
func (a *Allocator) Allocate(descriptor *DescriptorInfo, count int32) (uint32, []*cb.Handle, error) {
	if count <= 0 {
		return 0, nil, errors.Wrapf(common.StatusBadDescriptor, "requested count is %d", count)
	}
	err := descriptor.validate()
	if err != nil {
		return 0, nil, err
	}

	properties, err := descriptor.resolveFormat()
	if err != nil {
		return 0, nil, err
	}

	var layout *imageLayout
	if descriptor.Usage.HasCPURead() || descriptor.Usage.HasCPUWrite() {
		layout, err = resolveLayout(properties, uint32(descriptor.Width), uint32(descriptor.Height))
		if err != nil {
			return 0, nil, err
		}
	}

	session := a.conn.Session()
	defer session.Close()

	// The capability set is queried once for the whole batch and only
	// reported in the allocation log; it does not reconfigure the memory
	// allocator.
	features := session.Features()

	allocations := make([]allocation, 0, count)
	for i := int32(0); i < count; i++ {
		alloc, allocErr := a.allocateOne(session, descriptor, properties, layout)
		if allocErr != nil {
			for _, rollback := range allocations {
				a.release(session, rollback)
			}
			return 0, nil, errors.Wrapf(common.StatusNoResources, "buffer %d of %d failed: %v", i+1, count, allocErr)
		}
		allocations = append(allocations, alloc)
	}

	stride := uint32(0)
	if layout != nil {
		stride = layout.pixelStride
	}

	handles := make([]*cb.Handle, len(allocations))
	for i, alloc := range allocations {
		handles[i] = alloc.handle
	}

	if a.debugLevel >= debug.LevelAlloc {
		a.logger.Debug("allocated buffers",
			slog.String("name", descriptor.Name),
			slog.Int("count", int(count)),
			slog.Int("width", int(descriptor.Width)),
			slog.Int("height", int(descriptor.Height)),
			slog.String("format", descriptor.Format.String()),
			slog.String("usage", descriptor.Usage.String()),
			slog.Uint64("stride", uint64(stride)),
			slog.Bool("sharedSlots", features.HasSharedSlotsHostMemoryAllocator),
		)
	}

	return stride, handles, nil
}

func (a *Allocator) allocateOne(
	session *hostconn.Session,
	descriptor *DescriptorInfo,
	properties *formatProperties,
	layout *imageLayout,
) (allocation, error) {
	bufferSize := uint32(0)
	if layout != nil {
		bufferSize = layout.bufferSize
	}

	metadataOffset := memutils.Align16(bufferSize)
	totalSize := metadataOffset + extmeta.RecordSize + uint32(descriptor.ReservedSize) + uint32(memutils.DebugMargin)

	block, err := a.memory.HostMalloc(uint64(totalSize))
	if err != nil {
		return allocation{}, errors.Wrapf(err, "reserving a %d byte region", totalSize)
	}

	record, err := extmeta.Init(block.GuestPtr[metadataOffset:])
	if err != nil {
		_ = a.memory.HostFree(block)
		return allocation{}, err
	}

	record.SetBufferID(a.bufferID.Add(1))
	record.SetWidth(uint32(descriptor.Width))
	record.SetHeight(uint32(descriptor.Height))
	record.SetName(descriptor.Name)
	record.SetReservedRegionSize(uint32(descriptor.ReservedSize))
	if layout != nil {
		err = record.SetPlaneLayouts(layout.planes, layout.components)
		if err != nil {
			_ = a.memory.HostFree(block)
			return allocation{}, err
		}
	}
	memutils.WriteMagicValue(block.GuestPtr, int(totalSize)-memutils.DebugMargin)

	hostHandle := uint32(0)
	refcountFd := -1
	if descriptor.Usage.HasGPU() {
		refcountFd, err = a.pipeOpen(hostconn.RefcountPipeName)
		if err != nil {
			_ = a.memory.HostFree(block)
			return allocation{}, errors.Wrap(err, "opening refcount pipe")
		}

		hostHandle, err = session.Encoder().CreateColorBufferDMA(
			uint32(descriptor.Width),
			uint32(descriptor.Height),
			properties.rcAllocFormat,
			properties.emuFwkFormat,
		)
		if err != nil {
			unix.Close(refcountFd)
			_ = a.memory.HostFree(block)
			return allocation{}, err
		}

		err = writeRefcountHandle(refcountFd, hostHandle)
		if err != nil {
			session.Encoder().CloseColorBuffer(hostHandle)
			unix.Close(refcountFd)
			_ = a.memory.HostFree(block)
			return allocation{}, err
		}

		record.SetGLFormat(properties.glFormat)
		record.SetGLType(properties.glType)
	}

	stride := uint32(0)
	if layout != nil {
		stride = layout.pixelStride
	}

	handle := &cb.Handle{
		BufferFd:             block.Fd,
		HostHandleRefcountFd: refcountFd,

		HostHandle:             hostHandle,
		Usage:                  descriptor.Usage,
		Format:                 descriptor.Format,
		DRMFormat:              properties.drmFormat,
		Stride:                 stride,
		BufferSize:             bufferSize,
		MmapedSize:             totalSize,
		MmapedOffset:           block.Offset,
		ExternalMetadataOffset: metadataOffset,
	}
	handle.SetMapped(block.GuestPtr)
	memutils.DebugValidate(handle)

	if a.debugLevel >= debug.LevelAlloc {
		a.logger.Debug("allocated buffer",
			slog.Uint64("bufferID", record.BufferID()),
			slog.String("name", descriptor.Name),
			slog.Uint64("hostHandle", uint64(hostHandle)),
			slog.Uint64("regionBytes", uint64(totalSize)),
			slog.Uint64("regionOffset", block.Offset),
		)
	}

	return allocation{handle: handle, block: block}, nil
}

// release undoes one allocation from a failed batch: the host color
// buffer, its refcount pipe, and the shared region.
func (a *Allocator) release(session *hostconn.Session, alloc allocation) {
	if alloc.handle.HostHandle != 0 {
		session.Encoder().CloseColorBuffer(alloc.handle.HostHandle)
	}
	if alloc.handle.HostHandleRefcountFd >= 0 {
		unix.Close(alloc.handle.HostHandleRefcountFd)
	}

	err := a.memory.HostFree(alloc.block)
	if err != nil {
		a.logger.Error("failed to release a rolled-back region",
			slog.Uint64("regionOffset", alloc.block.Offset),
			slog.Any("error", err),
		)
	}
}

// ReleaseHandle drops the allocating process's copy of a handle after it
// has been marshalled to the caller: the mapping and the local
// descriptors. The region itself stays alive through the caller's
// descriptors.
func (a *Allocator) ReleaseHandle(handle *cb.Handle) {
	if handle.Mapped() != nil {
		_ = addrspace.MemoryUnmap(handle.Mapped())
		handle.SetMapped(nil)
	}
	handle.CloseFds()
}

// IsSupported reports whether a descriptor would be accepted by Allocate.
func (a *Allocator) IsSupported(descriptor *DescriptorInfo) bool {
	if descriptor.validate() != nil {
		return false
	}
	_, err := descriptor.resolveFormat()
	return err == nil
}

// AllocateEncoded is the legacy entry point taking pre-encoded
// descriptors. It is intentionally unimplemented.
func (a *Allocator) AllocateEncoded(encoded []byte, count int32) (uint32, []*cb.Handle, error) {
	return 0, nil, errors.Wrap(common.StatusUnsupported, "encoded descriptors are not supported")
}

func writeRefcountHandle(fd int, hostHandle uint32) error {
	payload := []byte{
		byte(hostHandle),
		byte(hostHandle >> 8),
		byte(hostHandle >> 16),
		byte(hostHandle >> 24),
	}
	for len(payload) > 0 {
		n, err := unix.Write(fd, payload)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "publishing host handle to refcount pipe")
		}
		payload = payload[n:]
	}
	return nil
}
