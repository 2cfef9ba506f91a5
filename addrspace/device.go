package addrspace

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// DevicePath is the guest kernel's address-space device. Each block opens
// its own descriptor so the block's lifetime is the descriptor's lifetime.
const DevicePath = "/dev/goldfish_address_space"

const (
	ioctlMagic = 'G'

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | ioctlMagic<<8 | nr
}

type allocateBlockArgs struct {
	size     uint64
	offset   uint64
	physAddr uint64
}

var (
	ioctlAllocateBlock   = ioc(iocWrite|iocRead, 10, unsafe.Sizeof(allocateBlockArgs{}))
	ioctlDeallocateBlock = ioc(iocWrite, 11, unsafe.Sizeof(uint64(0)))
)

// DeviceAllocator allocates blocks from the address-space device. The
// device carves blocks out of a PCI memory window the host renderer can
// address directly.
type DeviceAllocator struct {
	path string
}

func NewDeviceAllocator() *DeviceAllocator {
	return &DeviceAllocator{path: DevicePath}
}

// DeviceAvailable reports whether the address-space device exists.
func DeviceAvailable() bool {
	err := unix.Access(DevicePath, unix.F_OK)
	return err == nil
}

func (a *DeviceAllocator) HostMalloc(size uint64) (*Block, error) {
	if size == 0 {
		return nil, errors.New("zero-size host allocation")
	}

	fd, err := unix.Open(a.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", a.path)
	}

	args := allocateBlockArgs{size: size}
	err = devIoctl(fd, ioctlAllocateBlock, unsafe.Pointer(&args))
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "allocating %d byte block", size)
	}

	region, err := MemoryMap(fd, args.offset, size)
	if err != nil {
		freeArgs := args.offset
		_ = devIoctl(fd, ioctlDeallocateBlock, unsafe.Pointer(&freeArgs))
		unix.Close(fd)
		return nil, err
	}

	return &Block{
		GuestPtr: region,
		PhysAddr: args.physAddr,
		Offset:   args.offset,
		Size:     size,
		Fd:       fd,
	}, nil
}

func (a *DeviceAllocator) HostFree(block *Block) error {
	if block.GuestPtr != nil {
		err := MemoryUnmap(block.GuestPtr)
		if err != nil {
			return err
		}
		block.GuestPtr = nil
	}

	offset := block.Offset
	err := devIoctl(block.Fd, ioctlDeallocateBlock, unsafe.Pointer(&offset))
	unix.Close(block.Fd)
	block.Fd = -1
	if err != nil {
		return errors.Wrapf(err, "deallocating block at offset %d", block.Offset)
	}
	return nil
}

func devIoctl(fd int, request uintptr, argp unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(argp))
	if errno != 0 {
		return errno
	}
	return nil
}
