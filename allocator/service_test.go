package allocator

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/ranchu-emu/gralloc/addrspace"
	"github.com/ranchu-emu/gralloc/cb"
	"github.com/ranchu-emu/gralloc/common"
	"github.com/ranchu-emu/gralloc/extmeta"
	"github.com/ranchu-emu/gralloc/internal/debug"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

func fileConn(t *testing.T, fd int) *net.UnixConn {
	t.Helper()

	file := os.NewFile(uintptr(fd), "socketpair")
	conn, err := net.FileConn(file)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	unixConn, ok := conn.(*net.UnixConn)
	require.True(t, ok)
	return unixConn
}

// serviceClient wires a client to a service goroutine over a socketpair,
// skipping the filesystem socket.
func serviceClient(t *testing.T, f *allocatorFixture) *Client {
	t.Helper()

	service := &Service{
		logger:     testLogger(),
		allocator:  f.allocator,
		workers:    semaphore.NewWeighted(maxServiceConnections),
		debugLevel: debug.RuntimeLevel(),
	}

	var fds [2]int
	fdPair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	fds = fdPair

	serverConn := fileConn(t, fds[0])
	clientConn := fileConn(t, fds[1])
	go func() {
		defer serverConn.Close()
		service.serveConn(serverConn)
	}()

	client := NewClient(clientConn)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestServiceLibrarySuffix(t *testing.T) {
	client := serviceClient(t, newFixture(t))

	suffix, err := client.IMapperLibrarySuffix()
	require.NoError(t, err)
	require.Equal(t, LibrarySuffix, suffix)
}

func TestServiceAllocatePassesDescriptors(t *testing.T) {
	f := newFixture(t)
	client := serviceClient(t, f)

	stride, handles, err := client.Allocate(gpuRGBADescriptor(320, 240), 2)
	require.NoError(t, err)
	require.EqualValues(t, 320, stride)
	require.Len(t, handles, 2)
	defer func() {
		for _, handle := range handles {
			handle.CloseFds()
		}
	}()

	require.NotEqual(t, handles[0].BufferFd, handles[1].BufferFd)
	for _, handle := range handles {
		require.NoError(t, handle.Validate())
		require.GreaterOrEqual(t, handle.BufferFd, 0)
		require.GreaterOrEqual(t, handle.HostHandleRefcountFd, 0)
		require.NotZero(t, handle.HostHandle)

		// The received descriptor really backs the shared region: map it
		// and check the stamped metadata record.
		region, err := addrspace.MemoryMap(handle.BufferFd, handle.MmapedOffset, uint64(handle.MmapedSize))
		require.NoError(t, err)
		record, err := extmeta.At(region[handle.ExternalMetadataOffset:])
		require.NoError(t, err)
		require.NoError(t, record.Validate())
		require.EqualValues(t, 320, record.Width())
		require.NoError(t, addrspace.MemoryUnmap(region))
	}

	// Refcount pipes stay held through the received descriptors.
	require.Equal(t, 2, f.host.OpenRefcountPipes())
}

func TestServiceRejectsBadDescriptors(t *testing.T) {
	client := serviceClient(t, newFixture(t))

	descriptor := cpuRGBADescriptor(32, 32)
	descriptor.LayerCount = 2
	_, _, err := client.Allocate(descriptor, 1)
	require.Error(t, err)
	require.Equal(t, common.StatusBadDescriptor, common.StatusOf(err))

	// The connection survives a refused request.
	suffix, err := client.IMapperLibrarySuffix()
	require.NoError(t, err)
	require.Equal(t, LibrarySuffix, suffix)
}

func TestServiceIsSupported(t *testing.T) {
	client := serviceClient(t, newFixture(t))

	supported, err := client.IsSupported(cpuRGBADescriptor(32, 32))
	require.NoError(t, err)
	require.True(t, supported)

	descriptor := cpuRGBADescriptor(32, 32)
	descriptor.Format = common.PixelFormat(0x4242)
	supported, err = client.IsSupported(descriptor)
	require.NoError(t, err)
	require.False(t, supported)
}

func TestServiceRefusesEncodedAllocate(t *testing.T) {
	client := serviceClient(t, newFixture(t))

	_, _, err := client.AllocateEncoded([]byte{1, 2, 3, 4}, 1)
	require.Error(t, err)
	require.Equal(t, common.StatusUnsupported, common.StatusOf(err))
}

func TestServiceServesOverSocket(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	service, err := NewService(testLogger(), f.allocator, dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, ServiceDescriptor, "default.sock"), service.SocketPath())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	client, err := Dial(dir)
	require.NoError(t, err)
	suffix, err := client.IMapperLibrarySuffix()
	require.NoError(t, err)
	require.Equal(t, LibrarySuffix, suffix)
	require.NoError(t, client.Close())

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, service.Close())

	_, err = os.Stat(service.SocketPath())
	require.True(t, os.IsNotExist(err))
}

func TestDecodeAllocateRequestRejectsTruncation(t *testing.T) {
	payload := encodeAllocateRequest(cpuRGBADescriptor(32, 32), 1)

	_, _, err := decodeAllocateRequest(payload[:len(payload)-2])
	require.Error(t, err)
	require.Equal(t, common.StatusBadDescriptor, common.StatusOf(err))

	descriptor, count, err := decodeAllocateRequest(payload)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, "camera-scratch", descriptor.Name)
	require.EqualValues(t, 32, descriptor.Width)
	require.Equal(t, common.PixelFormatRGBA8888, descriptor.Format)
}

func TestAllocateResponseRoundTrip(t *testing.T) {
	handle := &cb.Handle{BufferFd: -1, HostHandleRefcountFd: -1, BufferSize: 96, ExternalMetadataOffset: 96, Stride: 24}

	body, fds := encodeAllocateResponse(7, []*cb.Handle{handle})
	require.Empty(t, fds)

	stride, handles, err := decodeAllocateResponse(body, nil)
	require.NoError(t, err)
	require.EqualValues(t, 7, stride)
	require.Len(t, handles, 1)
	require.EqualValues(t, 24, handles[0].Stride)
	require.EqualValues(t, 96, handles[0].BufferSize)
}
