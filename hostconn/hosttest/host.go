package hosttest

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ranchu-emu/gralloc/common"
	"github.com/ranchu-emu/gralloc/hostconn"
	"golang.org/x/sys/unix"
)

// Host is an in-process renderer standing in for the hypervisor side of
// the channel. It implements hostconn.Encoder directly, backs each color
// buffer with a byte store so DMA reads observe earlier updates, and
// tracks refcount pipes so tests can assert nothing leaked.
type Host struct {
	FeatureSet hostconn.FeatureInfo

	// FailCreateAt makes the n-th CreateColorBufferDMA call fail
	// (1-based). Zero disables the injection.
	FailCreateAt int

	mu           sync.Mutex
	nextHandle   uint32
	createCalls  int
	colorBuffers map[uint32]*colorBuffer
	refcountFds  []int
	boundRegion  []byte
	boundPhys    uint64
}

type colorBuffer struct {
	width        uint32
	height       uint32
	glFormat     int32
	emuFwkFormat common.EmuFwkFormat
	store        []byte
}

var _ hostconn.Encoder = (*Host)(nil)

// New builds a host with every optional feature enabled.
func New() *Host {
	return &Host{
		FeatureSet: hostconn.FeatureInfo{
			HasSharedSlotsHostMemoryAllocator: true,
			HasReadColorBufferDma:             true,
			HasYUVCache:                       true,
		},
		nextHandle:   0x10,
		colorBuffers: make(map[uint32]*colorBuffer),
	}
}

func (h *Host) FeatureInfo() *hostconn.FeatureInfo {
	features := h.FeatureSet
	return &features
}

func (h *Host) CreateColorBufferDMA(width, height uint32, glFormat int32, emuFwkFormat common.EmuFwkFormat) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.createCalls++
	if h.FailCreateAt != 0 && h.createCalls == h.FailCreateAt {
		return 0, errors.Newf("injected color-buffer failure on call %d", h.createCalls)
	}

	handle := h.nextHandle
	h.nextHandle++
	h.colorBuffers[handle] = &colorBuffer{
		width:        width,
		height:       height,
		glFormat:     glFormat,
		emuFwkFormat: emuFwkFormat,
		store:        make([]byte, int(width)*int(height)*8),
	}
	return handle, nil
}

func (h *Host) CloseColorBuffer(handle uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.colorBuffers, handle)
}

func (h *Host) ColorBufferCacheFlush(handle uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.colorBuffers[handle]
	if !ok {
		return errors.Newf("cache flush of unknown color buffer %d", handle)
	}
	return nil
}

func (h *Host) ReadColorBufferYUV(handle uint32, x, y, width, height uint32, dst []byte) error {
	return h.readStore(handle, dst)
}

func (h *Host) ReadColorBufferDMA(handle uint32, x, y, width, height uint32, glFormat, glType int32, dst []byte) error {
	return h.readStore(handle, dst)
}

func (h *Host) UpdateColorBufferDMA(handle uint32, x, y, width, height uint32, glFormat, glType int32, src []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	buffer, ok := h.colorBuffers[handle]
	if !ok {
		return errors.Newf("update of unknown color buffer %d", handle)
	}
	if len(src) > len(buffer.store) {
		buffer.store = make([]byte, len(src))
	}
	copy(buffer.store, src)
	return nil
}

func (h *Host) BindDMADirectly(region []byte, physAddr uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.boundRegion = region
	h.boundPhys = physAddr
}

func (h *Host) readStore(handle uint32, dst []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	buffer, ok := h.colorBuffers[handle]
	if !ok {
		return errors.Newf("read of unknown color buffer %d", handle)
	}
	copy(dst, buffer.store)
	return nil
}

// PipeOpen stands in for hostconn.PipeOpen. The refcount service returns
// the write end of a fresh pipe; the host keeps the read end so
// OpenRefcountPipes can observe hangups.
func (h *Host) PipeOpen(name string) (int, error) {
	if name != hostconn.RefcountPipeName {
		return -1, errors.Newf("unknown host pipe service %q", name)
	}

	var fds [2]int
	err := unix.Pipe2(fds[:], unix.O_CLOEXEC)
	if err != nil {
		return -1, errors.Wrap(err, "creating refcount pipe")
	}

	h.mu.Lock()
	h.refcountFds = append(h.refcountFds, fds[0])
	h.mu.Unlock()
	return fds[1], nil
}

// OpenColorBufferCount returns the live color-buffer population.
func (h *Host) OpenColorBufferCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.colorBuffers)
}

// OpenRefcountPipes prunes hung-up refcount pipes and returns how many
// remain held open by clients.
func (h *Host) OpenRefcountPipes() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	alive := h.refcountFds[:0]
	for _, fd := range h.refcountFds {
		pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollFds, 0)
		if err == nil && count == 1 && pollFds[0].Revents&unix.POLLHUP != 0 {
			unix.Close(fd)
			continue
		}
		alive = append(alive, fd)
	}
	h.refcountFds = alive
	return len(h.refcountFds)
}

// BoundRegion returns the last DMA binding the host saw.
func (h *Host) BoundRegion() ([]byte, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.boundRegion, h.boundPhys
}
