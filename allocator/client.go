package allocator

import (
	"encoding/binary"
	"net"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/ranchu-emu/gralloc/cb"
	"github.com/ranchu-emu/gralloc/common"
	"github.com/ranchu-emu/gralloc/metawire"
	"golang.org/x/sys/unix"
)

// Client speaks the allocator service protocol. It is safe for a single
// goroutine; callers needing concurrency open one client each.
type Client struct {
	conn *net.UnixConn
}

// Dial connects to the service published under dir.
func Dial(dir string) (*Client, error) {
	if dir == "" {
		dir = DefaultSocketDir
	}
	socketPath := filepath.Join(dir, ServiceDescriptor, "default.sock")

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return nil, errors.Wrapf(err, "dialing the allocator service at %s", socketPath)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an already-connected socket, as tests do with one end
// of a socketpair.
func NewClient(conn *net.UnixConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Allocate requests count buffers and returns the plane-0 pixel stride
// with the unmarshalled handles. The caller owns the handles' fds.
func (c *Client) Allocate(descriptor *DescriptorInfo, count int32) (uint32, []*cb.Handle, error) {
	payload := encodeAllocateRequest(descriptor, count)
	status, body, fds, err := c.roundTrip(opAllocate2, payload)
	if err != nil {
		return 0, nil, err
	}
	if status != common.StatusOK {
		closeAll(fds)
		return 0, nil, errors.Wrap(status, "allocate request refused")
	}

	stride, handles, err := decodeAllocateResponse(body, fds)
	if err != nil {
		closeAll(fds)
		return 0, nil, err
	}
	return stride, handles, nil
}

// IsSupported asks the service whether Allocate would accept the
// descriptor.
func (c *Client) IsSupported(descriptor *DescriptorInfo) (bool, error) {
	payload := encodeAllocateRequest(descriptor, 0)
	status, body, fds, err := c.roundTrip(opIsSupported, payload)
	closeAll(fds)
	if err != nil {
		return false, err
	}
	if status != common.StatusOK {
		return false, errors.Wrap(status, "isSupported request refused")
	}
	if len(body) < 4 {
		return false, errors.Newf("isSupported response is %d bytes", len(body))
	}
	return binary.LittleEndian.Uint32(body) != 0, nil
}

// IMapperLibrarySuffix returns the mapper implementation the service
// pairs with.
func (c *Client) IMapperLibrarySuffix() (string, error) {
	status, body, fds, err := c.roundTrip(opGetIMapperLibrarySuffix, nil)
	closeAll(fds)
	if err != nil {
		return "", err
	}
	if status != common.StatusOK {
		return "", errors.Wrap(status, "library suffix request refused")
	}

	reader := metawire.NewReader(body)
	suffix := reader.String()
	err = reader.Err()
	if err != nil {
		return "", errors.Wrap(err, "decoding the library suffix")
	}
	return suffix, nil
}

// AllocateEncoded mirrors the legacy entry point; the service always
// refuses it.
func (c *Client) AllocateEncoded(encoded []byte, count int32) (uint32, []*cb.Handle, error) {
	status, _, fds, err := c.roundTrip(opAllocateEncoded, encoded)
	closeAll(fds)
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, errors.Wrap(status, "encoded allocate refused")
}

func encodeAllocateRequest(descriptor *DescriptorInfo, count int32) []byte {
	sizer := metawire.NewWriter(nil)
	writeDescriptor(sizer, descriptor, count)

	payload := make([]byte, sizer.DesiredSize())
	writer := metawire.NewWriter(payload)
	writeDescriptor(writer, descriptor, count)
	return payload
}

func writeDescriptor(writer *metawire.Writer, descriptor *DescriptorInfo, count int32) {
	writer.WriteString(descriptor.Name)
	writer.WriteInt32(descriptor.Width)
	writer.WriteInt32(descriptor.Height)
	writer.WriteInt32(descriptor.LayerCount)
	writer.WriteInt32(int32(descriptor.Format))
	writer.WriteUint64(uint64(descriptor.Usage))
	writer.WriteInt64(descriptor.ReservedSize)
	writer.WriteUint32(uint32(len(descriptor.AdditionalOptions)))
	for _, option := range descriptor.AdditionalOptions {
		writer.WriteString(option)
	}
	writer.WriteInt32(count)
}

func decodeAllocateResponse(body []byte, fds []int) (uint32, []*cb.Handle, error) {
	if len(body) < 8 {
		return 0, nil, errors.Newf("allocate response is %d bytes", len(body))
	}
	stride := binary.LittleEndian.Uint32(body[0:])
	handleCount := binary.LittleEndian.Uint32(body[4:])

	handles := make([]*cb.Handle, 0, handleCount)
	off := 8
	fdCursor := 0
	for i := uint32(0); i < handleCount; i++ {
		if len(body) < off+8 {
			return 0, nil, errors.Newf("allocate response truncated at handle %d", i)
		}
		numFds := int(binary.LittleEndian.Uint32(body[off:]))
		numInts := int(binary.LittleEndian.Uint32(body[off+4:]))
		off += 8

		if len(body) < off+4*numInts {
			return 0, nil, errors.Newf("allocate response truncated in handle %d words", i)
		}
		ints := make([]int32, numInts)
		for w := range ints {
			ints[w] = int32(binary.LittleEndian.Uint32(body[off:]))
			off += 4
		}

		if fdCursor+numFds > len(fds) {
			return 0, nil, errors.Newf("allocate response carries %d descriptors, handle %d wants more", len(fds), i)
		}
		handle, err := cb.Unmarshal(fds[fdCursor:fdCursor+numFds], ints)
		if err != nil {
			return 0, nil, err
		}
		fdCursor += numFds
		handles = append(handles, handle)
	}
	return stride, handles, nil
}

func (c *Client) roundTrip(opcode uint32, payload []byte) (common.ServiceError, []byte, []int, error) {
	frame := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(frame[0:], opcode)
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(payload)))
	copy(frame[8:], payload)

	_, err := c.conn.Write(frame)
	if err != nil {
		return 0, nil, nil, errors.Wrap(err, "writing a request frame")
	}
	return c.readResponse()
}

// readResponse reads one framed response. The first segment carries any
// SCM_RIGHTS control message, so the header read uses ReadMsgUnix and
// the remainder uses plain reads.
func (c *Client) readResponse() (common.ServiceError, []byte, []int, error) {
	header := make([]byte, 8)
	oob := make([]byte, unix.CmsgSpace(maxHandleFds*4))

	n, oobn, _, _, err := c.conn.ReadMsgUnix(header, oob)
	if err != nil {
		return 0, nil, nil, errors.Wrap(err, "reading a response header")
	}
	for n < len(header) {
		more, readErr := c.conn.Read(header[n:])
		if readErr != nil {
			return 0, nil, nil, errors.Wrap(readErr, "reading a response header")
		}
		n += more
	}

	fds, err := parseRights(oob[:oobn])
	if err != nil {
		return 0, nil, nil, err
	}

	status := common.ServiceError(int32(binary.LittleEndian.Uint32(header[0:])))
	payloadLen := binary.LittleEndian.Uint32(header[4:])
	payload := make([]byte, payloadLen)
	total := 0
	for total < len(payload) {
		more, readErr := c.conn.Read(payload[total:])
		if readErr != nil {
			closeAll(fds)
			return 0, nil, nil, errors.Wrap(readErr, "reading a response payload")
		}
		total += more
	}
	return status, payload, fds, nil
}

// maxHandleFds caps how many descriptors one response may carry.
const maxHandleFds = 64

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}

	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, errors.Wrap(err, "parsing a control message")
	}

	var fds []int
	for _, message := range messages {
		rights, err := unix.ParseUnixRights(&message)
		if err != nil {
			return nil, errors.Wrap(err, "parsing passed descriptors")
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
