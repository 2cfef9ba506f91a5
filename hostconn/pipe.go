package hostconn

import (
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/ranchu-emu/gralloc/common"
	"golang.org/x/sys/unix"
)

const (
	qemuPipeDevice = "/dev/qemu_pipe"
	pipeSocketEnv  = "QEMU_PIPE_SOCKET"

	// RenderControlPipeName is the host service carrying color-buffer
	// operations; RefcountPipeName holds a host refcount on one color
	// buffer per open pipe.
	RenderControlPipeName = "opengles"
	RefcountPipeName      = "refcount"
)

// PipeOpen opens a host pipe by service name and returns its descriptor.
// The pipe device is used when the guest kernel provides one; otherwise
// the transport falls back to the unix socket named by QEMU_PIPE_SOCKET.
func PipeOpen(name string) (int, error) {
	fd, err := openPipeTransport()
	if err != nil {
		return -1, err
	}

	preamble := append([]byte("pipe:"+name), 0)
	err = writeFull(fd, preamble)
	if err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "naming host pipe service %q", name)
	}

	return fd, nil
}

func openPipeTransport() (int, error) {
	fd, err := unix.Open(qemuPipeDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err == nil {
		return fd, nil
	}

	socketPath := os.Getenv(pipeSocketEnv)
	if socketPath == "" {
		return -1, errors.Wrapf(err, "opening %s and %s is unset", qemuPipeDevice, pipeSocketEnv)
	}

	fd, err = unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrap(err, "creating pipe socket")
	}

	err = unix.Connect(fd, &unix.SockaddrUnix{Name: socketPath})
	if err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "connecting pipe socket %s", socketPath)
	}

	return fd, nil
}

// Channel opcodes. Request framing is u32 opcode, u32 payload length,
// payload; response framing is i32 status, u32 payload length, payload.
// All words little-endian.
const (
	opFeatureInfo           uint32 = 1
	opCreateColorBufferDMA  uint32 = 2
	opCloseColorBuffer      uint32 = 3
	opColorBufferCacheFlush uint32 = 4
	opReadColorBufferYUV    uint32 = 5
	opReadColorBufferDMA    uint32 = 6
	opUpdateColorBufferDMA  uint32 = 7
	opBindDMA               uint32 = 8
)

const (
	featureBitSharedSlots uint32 = 1 << 0
	featureBitReadDMA     uint32 = 1 << 1
	featureBitYUVCache    uint32 = 1 << 2
)

// pipeEncoder speaks the channel framing over a host pipe descriptor.
type pipeEncoder struct {
	fd int
}

var _ Encoder = (*pipeEncoder)(nil)

func dialPipeEncoder() (*pipeEncoder, error) {
	fd, err := PipeOpen(RenderControlPipeName)
	if err != nil {
		return nil, err
	}
	return &pipeEncoder{fd: fd}, nil
}

func (e *pipeEncoder) call(opcode uint32, payload []byte) ([]byte, error) {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:], opcode)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(payload)))

	err := writeFull(e.fd, header[:])
	if err == nil {
		err = writeFull(e.fd, payload)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "sending channel opcode %d", opcode)
	}

	err = readFull(e.fd, header[:])
	if err != nil {
		return nil, errors.Wrapf(err, "reading channel response for opcode %d", opcode)
	}

	status := int32(binary.LittleEndian.Uint32(header[0:]))
	respLen := binary.LittleEndian.Uint32(header[4:])

	var resp []byte
	if respLen > 0 {
		resp = make([]byte, respLen)
		err = readFull(e.fd, resp)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %d response bytes for opcode %d", respLen, opcode)
		}
	}

	if status != 0 {
		return resp, errors.Wrapf(common.ServiceError(status), "host rejected channel opcode %d", opcode)
	}
	return resp, nil
}

func (e *pipeEncoder) FeatureInfo() *FeatureInfo {
	resp, err := e.call(opFeatureInfo, nil)
	if err != nil || len(resp) < 4 {
		return &FeatureInfo{}
	}

	bits := binary.LittleEndian.Uint32(resp)
	return &FeatureInfo{
		HasSharedSlotsHostMemoryAllocator: bits&featureBitSharedSlots != 0,
		HasReadColorBufferDma:             bits&featureBitReadDMA != 0,
		HasYUVCache:                       bits&featureBitYUVCache != 0,
	}
}

func (e *pipeEncoder) CreateColorBufferDMA(width, height uint32, glFormat int32, emuFwkFormat common.EmuFwkFormat) (uint32, error) {
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint32(payload[0:], width)
	binary.LittleEndian.PutUint32(payload[4:], height)
	binary.LittleEndian.PutUint32(payload[8:], uint32(glFormat))
	binary.LittleEndian.PutUint32(payload[12:], uint32(emuFwkFormat))

	resp, err := e.call(opCreateColorBufferDMA, payload)
	if err != nil {
		return 0, err
	}
	if len(resp) < 4 {
		return 0, errors.Newf("host returned %d bytes for a color-buffer handle", len(resp))
	}
	return binary.LittleEndian.Uint32(resp), nil
}

func (e *pipeEncoder) CloseColorBuffer(handle uint32) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, handle)
	_, _ = e.call(opCloseColorBuffer, payload)
}

func (e *pipeEncoder) ColorBufferCacheFlush(handle uint32) error {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, handle)
	_, err := e.call(opColorBufferCacheFlush, payload)
	return err
}

func (e *pipeEncoder) ReadColorBufferYUV(handle uint32, x, y, width, height uint32, dst []byte) error {
	payload := make([]byte, 24)
	binary.LittleEndian.PutUint32(payload[0:], handle)
	binary.LittleEndian.PutUint32(payload[4:], x)
	binary.LittleEndian.PutUint32(payload[8:], y)
	binary.LittleEndian.PutUint32(payload[12:], width)
	binary.LittleEndian.PutUint32(payload[16:], height)
	binary.LittleEndian.PutUint32(payload[20:], uint32(len(dst)))

	resp, err := e.call(opReadColorBufferYUV, payload)
	if err != nil {
		return err
	}
	if len(resp) > len(dst) {
		return errors.Newf("host returned %d YUV bytes into a %d byte destination", len(resp), len(dst))
	}
	copy(dst, resp)
	return nil
}

func (e *pipeEncoder) ReadColorBufferDMA(handle uint32, x, y, width, height uint32, glFormat, glType int32, dst []byte) error {
	payload := e.dmaPayload(handle, x, y, width, height, glFormat, glType, uint32(len(dst)))

	resp, err := e.call(opReadColorBufferDMA, payload)
	if err != nil {
		return err
	}
	if len(resp) > len(dst) {
		return errors.Newf("host returned %d bytes into a %d byte destination", len(resp), len(dst))
	}
	copy(dst, resp)
	return nil
}

func (e *pipeEncoder) UpdateColorBufferDMA(handle uint32, x, y, width, height uint32, glFormat, glType int32, src []byte) error {
	payload := e.dmaPayload(handle, x, y, width, height, glFormat, glType, uint32(len(src)))
	payload = append(payload, src...)

	_, err := e.call(opUpdateColorBufferDMA, payload)
	return err
}

func (e *pipeEncoder) BindDMADirectly(region []byte, physAddr uint64) {
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint64(payload[0:], physAddr)
	binary.LittleEndian.PutUint64(payload[8:], uint64(len(region)))
	_, _ = e.call(opBindDMA, payload)
}

func (e *pipeEncoder) dmaPayload(handle uint32, x, y, width, height uint32, glFormat, glType int32, size uint32) []byte {
	payload := make([]byte, 32)
	binary.LittleEndian.PutUint32(payload[0:], handle)
	binary.LittleEndian.PutUint32(payload[4:], x)
	binary.LittleEndian.PutUint32(payload[8:], y)
	binary.LittleEndian.PutUint32(payload[12:], width)
	binary.LittleEndian.PutUint32(payload[16:], height)
	binary.LittleEndian.PutUint32(payload[20:], uint32(glFormat))
	binary.LittleEndian.PutUint32(payload[24:], uint32(glType))
	binary.LittleEndian.PutUint32(payload[28:], size)
	return payload
}

func writeFull(fd int, data []byte) error {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func readFull(fd int, data []byte) error {
	for len(data) > 0 {
		n, err := unix.Read(fd, data)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("host pipe closed mid-message")
		}
		data = data[n:]
	}
	return nil
}
