package addrspace

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ranchu-emu/gralloc/memutils"
	"golang.org/x/sys/unix"
)

const shmPageSize = 4096

// ShmAllocator backs blocks with sealed memfd files. It stands in for the
// address-space device on hosts without one and in tests. Every block is
// its own file, so the importer-visible file offset is always zero; a
// fixed physical bias plus a page-aligned pool cursor keeps PhysAddr
// unique across live blocks.
type ShmAllocator struct {
	physBias uint64

	mu     sync.Mutex
	cursor uint64
	stats  memutils.Statistics
}

func NewShmAllocator(physBias uint64) *ShmAllocator {
	return &ShmAllocator{physBias: physBias}
}

func (a *ShmAllocator) HostMalloc(size uint64) (*Block, error) {
	if size == 0 {
		return nil, errors.New("zero-size host allocation")
	}

	paddedSize := memutils.AlignUp(size, shmPageSize)

	fd, err := unix.MemfdCreate("gralloc-region", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, errors.Wrap(err, "creating shared-memory file")
	}

	err = unix.Ftruncate(fd, int64(paddedSize))
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "sizing shared-memory file to %d", paddedSize)
	}

	_, err = unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "sealing shared-memory file")
	}

	region, err := MemoryMap(fd, 0, size)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	a.mu.Lock()
	poolOffset := a.cursor
	a.cursor += paddedSize
	a.stats.AddRegion(int(size), 0, false)
	a.mu.Unlock()

	return &Block{
		GuestPtr: region,
		PhysAddr: a.physBias + poolOffset,
		Offset:   0,
		Size:     size,
		Fd:       fd,
	}, nil
}

func (a *ShmAllocator) HostFree(block *Block) error {
	if block.GuestPtr != nil {
		err := MemoryUnmap(block.GuestPtr)
		if err != nil {
			return err
		}
		block.GuestPtr = nil
	}

	unix.Close(block.Fd)
	block.Fd = -1

	a.mu.Lock()
	a.stats.RemoveRegion(int(block.Size), 0, false)
	a.mu.Unlock()
	return nil
}

// Statistics returns a snapshot of the live-block population.
func (a *ShmAllocator) Statistics() memutils.Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
