package allocator

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/ranchu-emu/gralloc/cb"
	"github.com/ranchu-emu/gralloc/common"
	"github.com/ranchu-emu/gralloc/internal/debug"
	"github.com/ranchu-emu/gralloc/metawire"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

// ServiceDescriptor names the allocator service on the platform bus.
const ServiceDescriptor = "android.hardware.graphics.allocator.IAllocator"

// DefaultSocketDir is where the daemon publishes its socket unless told
// otherwise.
const DefaultSocketDir = "/run/graphics"

const (
	opAllocate2               = 1
	opIsSupported             = 2
	opGetIMapperLibrarySuffix = 3
	opAllocateEncoded         = 4
)

// maxServiceConnections bounds how many client connections are served
// concurrently.
const maxServiceConnections = 4

// maxRequestPayload rejects absurd frames before reading them.
const maxRequestPayload = 1 << 20

// Service exposes an Allocator over a unix-domain socket. Each accepted
// connection is served on its own goroutine, capped by a weighted
// semaphore so a misbehaving client pool cannot starve the daemon.
type Service struct {
	logger     *slog.Logger
	allocator  *Allocator
	listener   *net.UnixListener
	socketPath string
	workers    *semaphore.Weighted
	debugLevel debug.Level
}

// Serve publishes the allocator under dir and blocks serving requests
// until ctx is cancelled.
func Serve(ctx context.Context, logger *slog.Logger, allocator *Allocator, dir string) error {
	service, err := NewService(logger, allocator, dir)
	if err != nil {
		return err
	}
	defer service.Close()
	return service.Run(ctx)
}

// NewService binds the service socket at <dir>/<descriptor>/default.sock.
func NewService(logger *slog.Logger, allocator *Allocator, dir string) (*Service, error) {
	if allocator == nil {
		return nil, errors.New("allocator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = DefaultSocketDir
	}

	socketDir := filepath.Join(dir, ServiceDescriptor)
	err := os.MkdirAll(socketDir, 0o755)
	if err != nil {
		return nil, errors.Wrapf(err, "creating service directory %s", socketDir)
	}

	socketPath := filepath.Join(socketDir, "default.sock")
	// A previous daemon instance may have left its socket behind.
	err = os.Remove(socketPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "removing stale socket %s", socketPath)
	}

	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", socketPath)
	}

	return &Service{
		logger:     logger,
		allocator:  allocator,
		listener:   listener,
		socketPath: socketPath,
		workers:    semaphore.NewWeighted(maxServiceConnections),
		debugLevel: debug.RuntimeLevel(),
	}, nil
}

// SocketPath returns where the service is listening.
func (s *Service) SocketPath() string {
	return s.socketPath
}

// Run accepts connections until ctx is cancelled or the listener fails.
func (s *Service) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	s.logger.Info("allocator service listening", slog.String("socket", s.socketPath))

	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accepting a client connection")
		}

		err = s.workers.Acquire(ctx, 1)
		if err != nil {
			conn.Close()
			return nil
		}

		go func() {
			defer s.workers.Release(1)
			defer conn.Close()
			s.serveConn(conn)
		}()
	}
}

// Close stops the listener and removes the socket file.
func (s *Service) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.socketPath)
	return err
}

func (s *Service) serveConn(conn *net.UnixConn) {
	for {
		opcode, payload, err := readRequest(conn)
		if err != nil {
			if !errors.Is(err, errClientGone) {
				s.logger.Error("dropping a client connection", slog.Any("error", err))
			}
			return
		}

		err = s.dispatch(conn, opcode, payload)
		if err != nil {
			s.logger.Error("failed to answer a request",
				slog.Uint64("opcode", uint64(opcode)),
				slog.Any("error", err),
			)
			return
		}
	}
}

func (s *Service) dispatch(conn *net.UnixConn, opcode uint32, payload []byte) error {
	switch opcode {
	case opAllocate2:
		return s.handleAllocate(conn, payload)
	case opIsSupported:
		return s.handleIsSupported(conn, payload)
	case opGetIMapperLibrarySuffix:
		sizer := metawire.NewWriter(nil)
		sizer.WriteString(LibrarySuffix)
		body := make([]byte, sizer.DesiredSize())
		writer := metawire.NewWriter(body)
		writer.WriteString(LibrarySuffix)
		return writeResponse(conn, common.StatusOK, body, nil)
	case opAllocateEncoded:
		return writeResponse(conn, common.StatusUnsupported, nil, nil)
	default:
		return writeResponse(conn, common.StatusBadValue, nil, nil)
	}
}

func (s *Service) handleAllocate(conn *net.UnixConn, payload []byte) error {
	descriptor, count, err := decodeAllocateRequest(payload)
	if err != nil {
		return writeResponse(conn, common.StatusOf(err), nil, nil)
	}

	stride, handles, err := s.allocator.Allocate(descriptor, count)
	if err != nil {
		if s.debugLevel >= debug.LevelAlloc {
			s.logger.Debug("rejected an allocation request",
				slog.String("name", descriptor.Name),
				slog.Any("error", err),
			)
		}
		return writeResponse(conn, common.StatusOf(err), nil, nil)
	}

	body, fds := encodeAllocateResponse(stride, handles)
	err = writeResponse(conn, common.StatusOK, body, fds)

	// The caller now owns the duplicated descriptors travelling in the
	// control message; the service-side copies are done.
	for _, handle := range handles {
		s.allocator.ReleaseHandle(handle)
	}
	return err
}

func (s *Service) handleIsSupported(conn *net.UnixConn, payload []byte) error {
	descriptor, _, err := decodeAllocateRequest(payload)
	if err != nil {
		return writeResponse(conn, common.StatusOf(err), nil, nil)
	}

	supported := uint32(0)
	if s.allocator.IsSupported(descriptor) {
		supported = 1
	}

	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, supported)
	return writeResponse(conn, common.StatusOK, body, nil)
}

// decodeAllocateRequest parses a descriptor plus buffer count. The
// IsSupported opcode carries a count of zero which is ignored there.
func decodeAllocateRequest(payload []byte) (*DescriptorInfo, int32, error) {
	reader := metawire.NewReader(payload)
	descriptor := &DescriptorInfo{
		Name:         reader.String(),
		Width:        reader.Int32(),
		Height:       reader.Int32(),
		LayerCount:   reader.Int32(),
		Format:       common.PixelFormat(reader.Int32()),
		Usage:        common.BufferUsage(reader.Uint64()),
		ReservedSize: reader.Int64(),
	}
	optionCount := reader.Uint32()
	for i := uint32(0); i < optionCount; i++ {
		descriptor.AdditionalOptions = append(descriptor.AdditionalOptions, reader.String())
	}
	count := reader.Int32()

	err := reader.Err()
	if err != nil {
		return nil, 0, errors.Wrapf(common.StatusBadDescriptor, "truncated descriptor payload: %v", err)
	}
	return descriptor, count, nil
}

// encodeAllocateResponse lays out stride, handle count, and each
// handle's (numFds, numInts, ints) triple. The fds ride alongside in a
// single control message, ordered to match the handles.
func encodeAllocateResponse(stride uint32, handles []*cb.Handle) ([]byte, []int) {
	size := 8
	for _, handle := range handles {
		size += 8 + 4*(2+handle.NumInts())
	}

	body := make([]byte, size)
	binary.LittleEndian.PutUint32(body[0:], stride)
	binary.LittleEndian.PutUint32(body[4:], uint32(len(handles)))

	var fds []int
	off := 8
	for _, handle := range handles {
		handleFds, ints := handle.Marshal()
		binary.LittleEndian.PutUint32(body[off:], uint32(len(handleFds)))
		binary.LittleEndian.PutUint32(body[off+4:], uint32(len(ints)))
		off += 8
		for _, word := range ints {
			binary.LittleEndian.PutUint32(body[off:], uint32(word))
			off += 4
		}
		fds = append(fds, handleFds...)
	}
	return body, fds
}

var errClientGone = errors.New("client closed the connection")

func readRequest(conn *net.UnixConn) (uint32, []byte, error) {
	var header [8]byte
	err := readFullConn(conn, header[:])
	if err != nil {
		return 0, nil, err
	}

	opcode := binary.LittleEndian.Uint32(header[0:])
	payloadLen := binary.LittleEndian.Uint32(header[4:])
	if payloadLen > maxRequestPayload {
		return 0, nil, errors.Newf("request payload of %d bytes exceeds the limit", payloadLen)
	}

	payload := make([]byte, payloadLen)
	err = readFullConn(conn, payload)
	if err != nil {
		return 0, nil, err
	}
	return opcode, payload, nil
}

func writeResponse(conn *net.UnixConn, status common.ServiceError, payload []byte, fds []int) error {
	frame := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(frame[0:], uint32(int32(status)))
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(payload)))
	copy(frame[8:], payload)

	if len(fds) == 0 {
		_, err := conn.Write(frame)
		return errors.Wrap(err, "writing a response frame")
	}

	rights := unix.UnixRights(fds...)
	_, _, err := conn.WriteMsgUnix(frame, rights, nil)
	return errors.Wrap(err, "writing a response frame with descriptors")
}

func readFullConn(conn *net.UnixConn, dst []byte) error {
	total := 0
	for total < len(dst) {
		n, err := conn.Read(dst[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			if total == 0 && n == 0 {
				return errors.WithStack(errClientGone)
			}
			return errors.Wrap(err, "reading from a client connection")
		}
	}
	return nil
}
