package addrspace

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Block is one host-visible shared-memory block handed out by an
// Allocator.
type Block struct {
	// GuestPtr is the block's mapping in this process, established by
	// HostMalloc.
	GuestPtr []byte
	// PhysAddr is the guest-physical address the host can DMA against.
	PhysAddr uint64
	// Offset is the file offset at which importing processes mmap Fd.
	Offset uint64
	Size   uint64
	Fd     int
}

// Allocator hands out shared-memory blocks visible to both the guest CPU
// and the host renderer.
type Allocator interface {
	HostMalloc(size uint64) (*Block, error)
	HostFree(block *Block) error
}

// MemoryMap maps size bytes of fd at offset, shared and read-write.
func MemoryMap(fd int, offset uint64, size uint64) ([]byte, error) {
	region, err := unix.Mmap(fd, int64(offset), int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping %d bytes at offset %d", size, offset)
	}
	return region, nil
}

// MemoryUnmap releases a mapping made by MemoryMap.
func MemoryUnmap(region []byte) error {
	err := unix.Munmap(region)
	if err != nil {
		return errors.Wrap(err, "unmapping region")
	}
	return nil
}
