package mapper

import (
	"sync"

	"github.com/ranchu-emu/gralloc/addrspace"
	"github.com/ranchu-emu/gralloc/cb"
	"github.com/ranchu-emu/gralloc/common"
	"github.com/ranchu-emu/gralloc/hostconn"
	"golang.org/x/exp/slog"
)

// HALMapperVersion is the mapper ABI generation this library serves.
const HALMapperVersion = 5

// MapperOps is the loader-facing function table. The platform loader
// holds one table per process; every entry closes over the same Mapper.
type MapperOps struct {
	Version uint32

	ImportBuffer               func(raw *cb.Handle) (*cb.Handle, error)
	FreeBuffer                 func(handle *cb.Handle) error
	GetTransportSize           func(handle *cb.Handle) (numFds, numInts int, err error)
	Lock                       func(handle *cb.Handle, usage common.BufferUsage, region common.Rect, acquireFence int) ([]byte, error)
	Unlock                     func(handle *cb.Handle) (releaseFence int, err error)
	FlushLockedBuffer          func(handle *cb.Handle) error
	RereadLockedBuffer         func(handle *cb.Handle) error
	GetMetadata                func(handle *cb.Handle, metadataType common.MetadataType, dst []byte) (int, error)
	GetStandardMetadata        func(handle *cb.Handle, metadataType common.StandardMetadataType, dst []byte) (int, error)
	SetMetadata                func(handle *cb.Handle, metadataType common.MetadataType, payload []byte) error
	SetStandardMetadata        func(handle *cb.Handle, metadataType common.StandardMetadataType, payload []byte) error
	ListSupportedMetadataTypes func() []MetadataTypeDescription
	DumpBuffer                 func(handle *cb.Handle, callback DumpMetadataFunc) error
	DumpAllBuffers             func(begin func(), callback DumpMetadataFunc)
	GetReservedRegion          func(handle *cb.Handle) ([]byte, error)
}

// Ops builds the function table for this mapper.
func (m *Mapper) Ops() *MapperOps {
	return &MapperOps{
		Version: HALMapperVersion,

		ImportBuffer:               m.ImportBuffer,
		FreeBuffer:                 m.FreeBuffer,
		GetTransportSize:           m.GetTransportSize,
		Lock:                       m.Lock,
		Unlock:                     m.Unlock,
		FlushLockedBuffer:          m.FlushLockedBuffer,
		RereadLockedBuffer:         m.RereadLockedBuffer,
		GetMetadata:                m.GetMetadata,
		GetStandardMetadata:        m.GetStandardMetadata,
		SetMetadata:                m.SetMetadata,
		SetStandardMetadata:        m.SetStandardMetadata,
		ListSupportedMetadataTypes: SupportedMetadataTypes,
		DumpBuffer:                 m.DumpBuffer,
		DumpAllBuffers:             m.DumpAllBuffers,
		GetReservedRegion:          m.GetReservedRegion,
	}
}

var (
	loadMutex sync.Mutex
	loadedOps *MapperOps
)

// Load returns the process-wide function table, creating the mapper on
// first use. The mapper connects to the host channel and learns the
// address-space bias once; subsequent calls return the same table.
func Load(logger *slog.Logger) (*MapperOps, error) {
	loadMutex.Lock()
	defer loadMutex.Unlock()

	if loadedOps != nil {
		return loadedOps, nil
	}

	conn, err := hostconn.Dial(logger)
	if err != nil {
		return nil, err
	}

	var memory addrspace.Allocator
	if addrspace.DeviceAvailable() {
		memory = addrspace.NewDeviceAllocator()
	} else {
		memory = addrspace.NewShmAllocator(0)
	}

	mapper, err := New(logger, CreateOptions{Connection: conn, Memory: memory})
	if err != nil {
		return nil, err
	}

	loadedOps = mapper.Ops()
	return loadedOps, nil
}

// Unload drops the process-wide table so a later Load starts fresh.
// Buffers still imported through the old table keep working; only the
// table itself is released.
func Unload() {
	loadMutex.Lock()
	defer loadMutex.Unlock()
	loadedOps = nil
}
