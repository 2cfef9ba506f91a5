package mapper

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/ranchu-emu/gralloc/addrspace"
	"github.com/ranchu-emu/gralloc/cb"
	"github.com/ranchu-emu/gralloc/common"
	"github.com/ranchu-emu/gralloc/extmeta"
	"github.com/ranchu-emu/gralloc/hostconn"
	"github.com/ranchu-emu/gralloc/internal/debug"
	"golang.org/x/exp/slog"
)

type CreateOptions struct {
	// Connection is the process-wide host channel.
	Connection *hostconn.Connection
	// Memory is only used once, to learn the physical bias of the
	// shared address space.
	Memory addrspace.Allocator
}

// Mapper imports marshalled buffer handles into this process, maps their
// shared regions, and moves pixel data between guest memory and host
// color buffers around CPU lock windows.
type Mapper struct {
	logger           *slog.Logger
	conn             *hostconn.Connection
	physAddrToOffset uint64
	debugLevel       debug.Level

	importedMutex sync.Mutex
	imported      *swiss.Map[*cb.Handle, struct{}]
}

// New creates a Mapper. The probe allocation learns how mmap offsets
// translate to guest-physical DMA addresses; the bias is constant for
// the process lifetime.
func New(logger *slog.Logger, options CreateOptions) (*Mapper, error) {
	if options.Connection == nil {
		return nil, errors.New("CreateOptions.Connection is required")
	}
	if options.Memory == nil {
		return nil, errors.New("CreateOptions.Memory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	probe, err := options.Memory.HostMalloc(256)
	if err != nil {
		return nil, errors.Wrap(err, "probing the shared address space")
	}
	physAddrToOffset := probe.PhysAddr - probe.Offset
	err = options.Memory.HostFree(probe)
	if err != nil {
		return nil, errors.Wrap(err, "releasing the address-space probe")
	}

	return &Mapper{
		logger:           logger,
		conn:             options.Connection,
		physAddrToOffset: physAddrToOffset,
		debugLevel:       debug.RuntimeLevel(),
		imported:         swiss.NewMap[*cb.Handle, struct{}](42),
	}, nil
}

// ImportBuffer clones raw into a process-owned handle, maps its shared
// region, and registers it. The caller keeps ownership of raw and its
// descriptors.
func (m *Mapper) ImportBuffer(raw *cb.Handle) (*cb.Handle, error) {
	if raw == nil {
		return nil, errors.Wrap(common.StatusBadBuffer, "importing a nil handle")
	}
	err := raw.Validate()
	if err != nil {
		return nil, errors.Wrapf(common.StatusBadBuffer, "importing a malformed handle: %v", err)
	}

	owned, err := raw.Clone()
	if err != nil {
		return nil, errors.Wrapf(common.StatusBadBuffer, "cloning a handle: %v", err)
	}

	if owned.MmapedSize > 0 {
		region, mapErr := addrspace.MemoryMap(owned.BufferFd, owned.MmapedOffset, uint64(owned.MmapedSize))
		if mapErr != nil {
			owned.CloseFds()
			return nil, errors.Wrapf(common.StatusNoResources, "mapping %d bytes: %v", owned.MmapedSize, mapErr)
		}
		owned.SetMapped(region)
	}

	if m.debugLevel >= debug.LevelImport {
		m.logger.Debug("imported buffer", slog.Uint64("bufferID", m.bufferID(owned)))
	}

	m.importedMutex.Lock()
	defer m.importedMutex.Unlock()
	if m.imported.Has(owned) {
		panic("a fresh handle is already registered")
	}
	m.imported.Put(owned, struct{}{})
	return owned, nil
}

// FreeBuffer unregisters an imported handle, pushes any still-held CPU
// writes to the host, and releases the mapping and descriptors.
func (m *Mapper) FreeBuffer(handle *cb.Handle) error {
	m.importedMutex.Lock()
	known := m.imported.Has(handle)
	if known {
		m.imported.Delete(handle)
	}
	m.importedMutex.Unlock()
	if !known {
		return errors.Wrap(common.StatusBadBuffer, "freeing a handle that was never imported")
	}

	if m.debugLevel >= debug.LevelImport {
		m.logger.Debug("freed buffer", slog.Uint64("bufferID", m.bufferID(handle)))
	}

	if handle.HostHandle != 0 && handle.LockedUsage().HasCPUWrite() {
		m.flushToHost(handle)
	}

	if handle.Mapped() != nil {
		_ = addrspace.MemoryUnmap(handle.Mapped())
		handle.SetMapped(nil)
	}
	handle.CloseFds()
	return nil
}

// GetTransportSize reports how many fds and int32 words the handle
// occupies on the wire.
func (m *Mapper) GetTransportSize(handle *cb.Handle) (numFds, numInts int, err error) {
	if m.lookup(handle) == nil {
		return 0, 0, errors.Wrap(common.StatusBadBuffer, "transport size of an unknown handle")
	}
	return handle.NumFds(), handle.NumInts(), nil
}

// Lock grants CPU access to the whole buffer and returns the mapped
// bytes. The access region is validated against the buffer bounds but
// locks always cover the full image. A non-negative acquireFence is
// waited before any data moves.
func (m *Mapper) Lock(handle *cb.Handle, usage common.BufferUsage, region common.Rect, acquireFence int) ([]byte, error) {
	record := m.lookup(handle)
	if record == nil {
		return nil, errors.Wrap(common.StatusBadBuffer, "locking an unknown handle")
	}
	if handle.LockedUsage() != 0 {
		return nil, errors.Wrapf(common.StatusBadBuffer, "buffer %d is already locked", record.BufferID())
	}

	width := int32(record.Width())
	height := int32(record.Height())
	if region.Left < 0 || region.Top < 0 ||
		region.Bottom < region.Top || region.Right < region.Left ||
		region.Right > width || region.Bottom > height {
		return nil, errors.Wrapf(common.StatusBadValue, "access region %+v is outside %dx%d", region, width, height)
	}
	if region.Right != 0 && region.Left == region.Right {
		return nil, errors.Wrapf(common.StatusBadValue, "access region %+v has no width", region)
	}
	if region.Bottom != 0 && region.Top == region.Bottom {
		return nil, errors.Wrapf(common.StatusBadValue, "access region %+v has no height", region)
	}

	granted := usage & handle.Usage & (common.BufferUsageCPUReadMask | common.BufferUsageCPUWriteMask)
	if granted == 0 {
		return nil, errors.Wrapf(common.StatusBadValue, "usage %s grants no CPU access to a %s buffer", usage, handle.Usage)
	}

	if acquireFence >= 0 {
		err := m.waitFence(acquireFence)
		if err != nil {
			return nil, errors.Wrapf(common.StatusNoResources, "acquire fence: %v", err)
		}
	}

	if m.debugLevel >= debug.LevelLock {
		m.logger.Debug("locked buffer",
			slog.Uint64("bufferID", record.BufferID()),
			slog.String("usage", granted.String()),
			slog.Int("left", int(region.Left)),
			slog.Int("top", int(region.Top)),
			slog.Int("right", int(region.Right)),
			slog.Int("bottom", int(region.Bottom)),
		)
	}

	if handle.HostHandle != 0 {
		err := m.readFromHost(handle, record)
		if err != nil {
			return nil, err
		}
	}

	handle.SetLockedUsage(granted)
	return handle.Mapped(), nil
}

// Unlock ends a lock window, pushing CPU writes to the host first. The
// returned release fence is always -1: the push is synchronous.
func (m *Mapper) Unlock(handle *cb.Handle) (releaseFence int, err error) {
	record := m.lookup(handle)
	if record == nil {
		return -1, errors.Wrap(common.StatusBadBuffer, "unlocking an unknown handle")
	}
	locked := handle.LockedUsage()
	if locked == 0 {
		return -1, errors.Wrapf(common.StatusBadBuffer, "buffer %d is not locked", record.BufferID())
	}

	if m.debugLevel >= debug.LevelLock {
		m.logger.Debug("unlocked buffer", slog.Uint64("bufferID", record.BufferID()))
	}

	if handle.HostHandle != 0 && locked.HasCPUWrite() {
		m.flushToHost(handle)
	}

	handle.SetLockedUsage(0)
	return -1, nil
}

// FlushLockedBuffer pushes the current contents to the host without
// ending the lock. The lock must hold a CPU-write bit.
func (m *Mapper) FlushLockedBuffer(handle *cb.Handle) error {
	record := m.lookup(handle)
	if record == nil {
		return errors.Wrap(common.StatusBadBuffer, "flushing an unknown handle")
	}
	if m.debugLevel >= debug.LevelFlush {
		m.logger.Debug("flushing buffer", slog.Uint64("bufferID", record.BufferID()))
	}
	if !handle.LockedUsage().HasCPUWrite() {
		return errors.Wrapf(common.StatusBadBuffer, "buffer %d holds no write lock", record.BufferID())
	}

	if handle.HostHandle != 0 {
		m.flushToHost(handle)
	}
	return nil
}

// RereadLockedBuffer pulls fresh contents from the host without ending
// the lock. The lock must hold a CPU-read bit.
func (m *Mapper) RereadLockedBuffer(handle *cb.Handle) error {
	record := m.lookup(handle)
	if record == nil {
		return errors.Wrap(common.StatusBadBuffer, "rereading an unknown handle")
	}
	if m.debugLevel >= debug.LevelFlush {
		m.logger.Debug("rereading buffer", slog.Uint64("bufferID", record.BufferID()))
	}
	if !handle.LockedUsage().HasCPURead() {
		return errors.Wrapf(common.StatusBadBuffer, "buffer %d holds no read lock", record.BufferID())
	}

	if handle.HostHandle != 0 {
		return m.readFromHost(handle, record)
	}
	return nil
}

// GetReservedRegion returns the caller-owned tail of the shared region.
// The slice is empty when the buffer was allocated without one.
func (m *Mapper) GetReservedRegion(handle *cb.Handle) ([]byte, error) {
	if m.lookup(handle) == nil {
		return nil, errors.Wrap(common.StatusBadBuffer, "reserved region of an unknown handle")
	}
	return handle.ReservedRegion()
}

// readFromHost pulls the color buffer into the mapped region. YUV
// formats travel through the host YUV cache; everything else binds the
// region for DMA and reads through it.
func (m *Mapper) readFromHost(handle *cb.Handle, record *extmeta.Record) error {
	session := m.conn.Session()
	defer session.Close()
	encoder := session.Encoder()

	err := encoder.ColorBufferCacheFlush(handle.HostHandle)
	if err != nil {
		return errors.Wrapf(common.StatusNoResources, "cache flush of buffer %d: %v", record.BufferID(), err)
	}

	width := record.Width()
	height := record.Height()
	image := handle.Mapped()[:handle.BufferSize]

	if handle.Format.IsYUV() {
		if !session.Features().HasYUVCache {
			panic("host renderer lacks the YUV cache")
		}
		err = encoder.ReadColorBufferYUV(handle.HostHandle, 0, 0, width, height, image)
	} else {
		if !session.Features().HasReadColorBufferDma {
			panic("host renderer lacks DMA color-buffer reads")
		}
		encoder.BindDMADirectly(handle.Mapped(), m.physAddr(handle))
		err = encoder.ReadColorBufferDMA(handle.HostHandle, 0, 0, width, height,
			record.GLFormat(), record.GLType(), image)
	}
	if err != nil {
		return errors.Wrapf(common.StatusNoResources, "reading buffer %d from the host: %v", record.BufferID(), err)
	}
	return nil
}

// flushToHost pushes the mapped region into the color buffer. Failures
// are logged, not surfaced: the guest-side state is already final.
func (m *Mapper) flushToHost(handle *cb.Handle) {
	record, err := handle.Metadata()
	if err != nil {
		m.logger.Error("cannot flush a buffer without metadata", slog.Any("error", err))
		return
	}

	session := m.conn.Session()
	defer session.Close()
	encoder := session.Encoder()

	encoder.BindDMADirectly(handle.Mapped(), m.physAddr(handle))
	err = encoder.UpdateColorBufferDMA(handle.HostHandle, 0, 0, record.Width(), record.Height(),
		record.GLFormat(), record.GLType(), handle.Mapped()[:handle.BufferSize])
	if err != nil {
		m.logger.Error("failed to flush a buffer to the host",
			slog.Uint64("bufferID", record.BufferID()),
			slog.Any("error", err),
		)
	}
}

func (m *Mapper) physAddr(handle *cb.Handle) uint64 {
	return m.physAddrToOffset + handle.MmapedOffset
}

// lookup returns the handle's metadata record if the handle is currently
// imported, nil otherwise. A registered handle with a bad magic is a
// broken invariant.
func (m *Mapper) lookup(handle *cb.Handle) *extmeta.Record {
	m.importedMutex.Lock()
	known := m.imported.Has(handle)
	m.importedMutex.Unlock()
	if !known {
		return nil
	}
	return m.mustRecord(handle)
}

func (m *Mapper) mustRecord(handle *cb.Handle) *extmeta.Record {
	record, err := handle.Metadata()
	if err != nil {
		panic(err)
	}
	err = record.Validate()
	if err != nil {
		panic(err)
	}
	return record
}

func (m *Mapper) bufferID(handle *cb.Handle) uint64 {
	return m.mustRecord(handle).BufferID()
}
