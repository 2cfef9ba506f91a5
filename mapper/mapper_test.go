package mapper

import (
	"io"
	"strings"
	"testing"

	"github.com/ranchu-emu/gralloc/addrspace"
	"github.com/ranchu-emu/gralloc/allocator"
	"github.com/ranchu-emu/gralloc/cb"
	"github.com/ranchu-emu/gralloc/common"
	"github.com/ranchu-emu/gralloc/hostconn"
	"github.com/ranchu-emu/gralloc/hostconn/hosttest"
	"github.com/ranchu-emu/gralloc/metawire"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

type mapperFixture struct {
	host      *hosttest.Host
	allocator *allocator.Allocator
	mapper    *Mapper
}

func newFixture(t *testing.T) *mapperFixture {
	t.Helper()

	host := hosttest.New()
	conn := hostconn.New(testLogger(), host)
	memory := addrspace.NewShmAllocator(0x4000_0000)

	alloc, err := allocator.New(testLogger(), allocator.CreateOptions{
		Connection: conn,
		Memory:     memory,
		PipeOpen:   host.PipeOpen,
	})
	require.NoError(t, err)

	mapper, err := New(testLogger(), CreateOptions{Connection: conn, Memory: memory})
	require.NoError(t, err)

	return &mapperFixture{host: host, allocator: alloc, mapper: mapper}
}

func cpuDescriptor(name string, width, height int32, format common.PixelFormat) *allocator.DescriptorInfo {
	return &allocator.DescriptorInfo{
		Name:       name,
		Width:      width,
		Height:     height,
		LayerCount: 1,
		Format:     format,
		Usage:      common.BufferUsageCPUReadOften | common.BufferUsageCPUWriteOften,
	}
}

// importBuffer allocates one buffer, imports it, and releases the
// allocator-side handle so the imported clone is the only owner left.
func importBuffer(t *testing.T, f *mapperFixture, descriptor *allocator.DescriptorInfo) *cb.Handle {
	t.Helper()

	_, raws, err := f.allocator.Allocate(descriptor, 1)
	require.NoError(t, err)

	handle, err := f.mapper.ImportBuffer(raws[0])
	require.NoError(t, err)
	f.allocator.ReleaseHandle(raws[0])

	t.Cleanup(func() { _ = f.mapper.FreeBuffer(handle) })
	return handle
}

func TestNewRequiresCollaborators(t *testing.T) {
	host := hosttest.New()
	conn := hostconn.New(testLogger(), host)
	memory := addrspace.NewShmAllocator(0)

	_, err := New(testLogger(), CreateOptions{Memory: memory})
	require.Error(t, err)

	_, err = New(testLogger(), CreateOptions{Connection: conn})
	require.Error(t, err)

	mapper, err := New(testLogger(), CreateOptions{Connection: conn, Memory: memory})
	require.NoError(t, err)
	require.NotNil(t, mapper)
}

func TestImportRejectsBadHandles(t *testing.T) {
	f := newFixture(t)

	_, err := f.mapper.ImportBuffer(nil)
	require.Equal(t, common.StatusBadBuffer, common.StatusOf(err))

	malformed := &cb.Handle{
		BufferFd:               -1,
		HostHandleRefcountFd:   -1,
		BufferSize:             100,
		ExternalMetadataOffset: 50,
	}
	_, err = f.mapper.ImportBuffer(malformed)
	require.Equal(t, common.StatusBadBuffer, common.StatusOf(err))
}

func TestImportFreeLifecycle(t *testing.T) {
	f := newFixture(t)

	_, raws, err := f.allocator.Allocate(cpuDescriptor("lifecycle", 32, 32, common.PixelFormatRGBA8888), 1)
	require.NoError(t, err)
	raw := raws[0]

	handle, err := f.mapper.ImportBuffer(raw)
	require.NoError(t, err)
	require.NotEqual(t, raw.BufferFd, handle.BufferFd)
	f.allocator.ReleaseHandle(raw)

	// The clone keeps its own mapping after the raw handle is gone.
	numFds, numInts, err := f.mapper.GetTransportSize(handle)
	require.NoError(t, err)
	require.Equal(t, 1, numFds)
	require.Equal(t, 12, numInts)

	require.NoError(t, f.mapper.FreeBuffer(handle))

	_, _, err = f.mapper.GetTransportSize(handle)
	require.Equal(t, common.StatusBadBuffer, common.StatusOf(err))

	err = f.mapper.FreeBuffer(handle)
	require.Equal(t, common.StatusBadBuffer, common.StatusOf(err))
}

func TestLockRoundTripsThroughHost(t *testing.T) {
	f := newFixture(t)
	descriptor := cpuDescriptor("render-target", 32, 32, common.PixelFormatRGBA8888)
	descriptor.Usage |= common.BufferUsageGPURenderTarget
	handle := importBuffer(t, f, descriptor)
	require.NotZero(t, handle.HostHandle)

	fullImage := common.Rect{Right: 32, Bottom: 32}

	region, err := f.mapper.Lock(handle, descriptor.Usage, fullImage, -1)
	require.NoError(t, err)
	image := region[:handle.BufferSize]
	for i := range image {
		image[i] = byte(i)
	}

	releaseFence, err := f.mapper.Unlock(handle)
	require.NoError(t, err)
	require.Equal(t, -1, releaseFence)

	// A read lock pulls the color buffer back from the host.
	region, err = f.mapper.Lock(handle, common.BufferUsageCPUReadOften, fullImage, -1)
	require.NoError(t, err)
	image = region[:handle.BufferSize]
	for i := range image {
		require.Equal(t, byte(i), image[i])
	}

	// Clobbering the mapping locally and rereading restores the host copy.
	for i := range image {
		image[i] = 0
	}
	require.NoError(t, f.mapper.RereadLockedBuffer(handle))
	for i := range image {
		require.Equal(t, byte(i), image[i])
	}

	_, err = f.mapper.Unlock(handle)
	require.NoError(t, err)
}

var lockRejectionCases = map[string]struct {
	Usage  common.BufferUsage
	Region common.Rect
}{
	"Negative Left":    {Usage: common.BufferUsageCPUReadOften, Region: common.Rect{Left: -1, Right: 32, Bottom: 32}},
	"Right Past Width": {Usage: common.BufferUsageCPUReadOften, Region: common.Rect{Right: 33, Bottom: 32}},
	"Inverted Rows":    {Usage: common.BufferUsageCPUReadOften, Region: common.Rect{Top: 20, Right: 32, Bottom: 10}},
	"Empty Width":      {Usage: common.BufferUsageCPUReadOften, Region: common.Rect{Left: 16, Right: 16, Bottom: 32}},
	"No CPU Grant":     {Usage: common.BufferUsageGPUTexture, Region: common.Rect{Right: 32, Bottom: 32}},
}

func TestLockRejections(t *testing.T) {
	f := newFixture(t)
	handle := importBuffer(t, f, cpuDescriptor("locked", 32, 32, common.PixelFormatRGBA8888))

	for name, testCase := range lockRejectionCases {
		t.Run(name, func(t *testing.T) {
			_, err := f.mapper.Lock(handle, testCase.Usage, testCase.Region, -1)
			require.Equal(t, common.StatusBadValue, common.StatusOf(err))
		})
	}

	// A zero rect means the whole buffer and is always accepted.
	_, err := f.mapper.Lock(handle, common.BufferUsageCPUReadOften, common.Rect{}, -1)
	require.NoError(t, err)
	_, err = f.mapper.Unlock(handle)
	require.NoError(t, err)
}

func TestLockStateMachine(t *testing.T) {
	f := newFixture(t)
	handle := importBuffer(t, f, cpuDescriptor("stateful", 32, 32, common.PixelFormatRGBA8888))
	fullImage := common.Rect{Right: 32, Bottom: 32}

	_, err := f.mapper.Unlock(handle)
	require.Equal(t, common.StatusBadBuffer, common.StatusOf(err))

	err = f.mapper.FlushLockedBuffer(handle)
	require.Equal(t, common.StatusBadBuffer, common.StatusOf(err))

	_, err = f.mapper.Lock(handle, common.BufferUsageCPUReadOften, fullImage, -1)
	require.NoError(t, err)

	_, err = f.mapper.Lock(handle, common.BufferUsageCPUReadOften, fullImage, -1)
	require.Equal(t, common.StatusBadBuffer, common.StatusOf(err))

	// A read-only lock grants no flush, and a write-only lock no reread.
	err = f.mapper.FlushLockedBuffer(handle)
	require.Equal(t, common.StatusBadBuffer, common.StatusOf(err))
	require.NoError(t, f.mapper.RereadLockedBuffer(handle))

	_, err = f.mapper.Unlock(handle)
	require.NoError(t, err)

	_, err = f.mapper.Lock(handle, common.BufferUsageCPUWriteOften, fullImage, -1)
	require.NoError(t, err)
	require.NoError(t, f.mapper.FlushLockedBuffer(handle))
	err = f.mapper.RereadLockedBuffer(handle)
	require.Equal(t, common.StatusBadBuffer, common.StatusOf(err))

	_, err = f.mapper.Unlock(handle)
	require.NoError(t, err)
}

func TestLockWaitsAcquireFence(t *testing.T) {
	f := newFixture(t)
	handle := importBuffer(t, f, cpuDescriptor("fenced", 32, 32, common.PixelFormatRGBA8888))

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	_, err := unix.Write(fds[1], []byte{1})
	require.NoError(t, err)

	_, err = f.mapper.Lock(handle, common.BufferUsageCPUReadOften, common.Rect{Right: 32, Bottom: 32}, fds[0])
	require.NoError(t, err)
	_, err = f.mapper.Unlock(handle)
	require.NoError(t, err)
}

// getMetadata sizes, fetches, and strips the header of one metadata
// value, returning a reader positioned at the payload.
func getMetadata(t *testing.T, m *Mapper, handle *cb.Handle, metadataType common.StandardMetadataType) *metawire.Reader {
	t.Helper()

	size, err := m.GetStandardMetadata(handle, metadataType, nil)
	require.NoError(t, err)

	encoded := make([]byte, size)
	written, err := m.GetStandardMetadata(handle, metadataType, encoded)
	require.NoError(t, err)
	require.Equal(t, size, written)

	reader := metawire.NewReader(encoded)
	require.Equal(t, metadataType.MetadataType(), reader.MetadataType())
	require.NoError(t, reader.Err())
	return reader
}

func TestMetadataScalars(t *testing.T) {
	f := newFixture(t)
	descriptor := cpuDescriptor("camera-scratch", 64, 32, common.PixelFormatRGBA8888)
	handle := importBuffer(t, f, descriptor)

	require.EqualValues(t, 64, getMetadata(t, f.mapper, handle, common.StandardMetadataWidth).Uint64())
	require.EqualValues(t, 32, getMetadata(t, f.mapper, handle, common.StandardMetadataHeight).Uint64())
	require.EqualValues(t, 1, getMetadata(t, f.mapper, handle, common.StandardMetadataLayerCount).Uint64())
	require.Equal(t, "camera-scratch", getMetadata(t, f.mapper, handle, common.StandardMetadataName).String())
	require.Equal(t, uint32(common.PixelFormatRGBA8888),
		getMetadata(t, f.mapper, handle, common.StandardMetadataPixelFormatRequested).Uint32())
	require.Equal(t, uint32(common.DRMFormatABGR8888),
		getMetadata(t, f.mapper, handle, common.StandardMetadataPixelFormatFourCC).Uint32())
	require.Equal(t, common.DRMFormatModLinear,
		getMetadata(t, f.mapper, handle, common.StandardMetadataPixelFormatModifier).Uint64())
	require.Equal(t, uint64(descriptor.Usage),
		getMetadata(t, f.mapper, handle, common.StandardMetadataUsage).Uint64())
	require.EqualValues(t, handle.MmapedSize,
		getMetadata(t, f.mapper, handle, common.StandardMetadataAllocationSize).Uint64())
	require.EqualValues(t, 0,
		getMetadata(t, f.mapper, handle, common.StandardMetadataProtectedContent).Uint64())

	reader := getMetadata(t, f.mapper, handle, common.StandardMetadataBufferID)
	record, err := handle.Metadata()
	require.NoError(t, err)
	require.Equal(t, record.BufferID(), reader.Uint64())

	siting := getMetadata(t, f.mapper, handle, common.StandardMetadataChromaSiting).MetadataType()
	require.Equal(t, common.ChromaSitingTypeName, siting.Name)
	require.Equal(t, common.ChromaSitingNone, siting.Value)

	compression := getMetadata(t, f.mapper, handle, common.StandardMetadataCompression).MetadataType()
	require.Equal(t, common.CompressionTypeName, compression.Name)
	require.Equal(t, common.CompressionNone, compression.Value)
}

func TestMetadataPlaneLayouts(t *testing.T) {
	f := newFixture(t)
	handle := importBuffer(t, f, cpuDescriptor("video-frame", 32, 32, common.PixelFormatYV12))

	siting := getMetadata(t, f.mapper, handle, common.StandardMetadataChromaSiting).MetadataType()
	require.Equal(t, common.ChromaSitingSitedInterstitial, siting.Value)

	reader := getMetadata(t, f.mapper, handle, common.StandardMetadataPlaneLayouts)
	require.EqualValues(t, 3, reader.Int64())

	expectedPlanes := []struct {
		Component     common.PlaneLayoutComponentType
		OffsetInBytes int64
		StrideInBytes int64
		WidthSamples  int64
		HeightSamples int64
		TotalSize     int64
		Subsampling   int64
	}{
		{Component: common.PlaneComponentY, OffsetInBytes: 0, StrideInBytes: 32, WidthSamples: 32, HeightSamples: 32, TotalSize: 1024, Subsampling: 1},
		{Component: common.PlaneComponentCr, OffsetInBytes: 1024, StrideInBytes: 16, WidthSamples: 16, HeightSamples: 16, TotalSize: 256, Subsampling: 2},
		{Component: common.PlaneComponentCb, OffsetInBytes: 1280, StrideInBytes: 16, WidthSamples: 16, HeightSamples: 16, TotalSize: 256, Subsampling: 2},
	}
	for _, expected := range expectedPlanes {
		require.EqualValues(t, 1, reader.Int64())

		component := reader.MetadataType()
		require.Equal(t, common.PlaneLayoutComponentTypeName, component.Name)
		require.EqualValues(t, expected.Component, component.Value)
		require.EqualValues(t, 0, reader.Int64())
		require.EqualValues(t, 8, reader.Int64())

		require.Equal(t, expected.OffsetInBytes, reader.Int64())
		require.EqualValues(t, 8, reader.Int64())
		require.Equal(t, expected.StrideInBytes, reader.Int64())
		require.Equal(t, expected.WidthSamples, reader.Int64())
		require.Equal(t, expected.HeightSamples, reader.Int64())
		require.Equal(t, expected.TotalSize, reader.Int64())
		require.Equal(t, expected.Subsampling, reader.Int64())
		require.Equal(t, expected.Subsampling, reader.Int64())
	}
	require.NoError(t, reader.Err())
	require.Zero(t, reader.Remaining())
}

func TestMetadataCrop(t *testing.T) {
	f := newFixture(t)
	handle := importBuffer(t, f, cpuDescriptor("video-frame", 32, 32, common.PixelFormatYV12))

	reader := getMetadata(t, f.mapper, handle, common.StandardMetadataCrop)
	require.EqualValues(t, 3, reader.Uint64())
	for plane := 0; plane < 3; plane++ {
		require.EqualValues(t, 0, reader.Int32())
		require.EqualValues(t, 0, reader.Int32())
		require.EqualValues(t, 32, reader.Int32())
		require.EqualValues(t, 32, reader.Int32())
	}
	require.NoError(t, reader.Err())
	require.Zero(t, reader.Remaining())
}

func TestMetadataStride(t *testing.T) {
	f := newFixture(t)

	rgba := importBuffer(t, f, cpuDescriptor("single-plane", 32, 32, common.PixelFormatRGBA8888))
	require.EqualValues(t, 32, getMetadata(t, f.mapper, rgba, common.StandardMetadataStride).Uint32())

	// Multi-plane formats have no meaningful pixel stride.
	yv12 := importBuffer(t, f, cpuDescriptor("multi-plane", 32, 32, common.PixelFormatYV12))
	require.EqualValues(t, 0, getMetadata(t, f.mapper, yv12, common.StandardMetadataStride).Uint32())
}

func TestMetadataImagelessBuffer(t *testing.T) {
	f := newFixture(t)
	descriptor := &allocator.DescriptorInfo{
		Name:       "gpu-only",
		Width:      32,
		Height:     32,
		LayerCount: 1,
		Format:     common.PixelFormatRGBA8888,
		Usage:      common.BufferUsageGPUTexture,
	}
	handle := importBuffer(t, f, descriptor)
	require.Zero(t, handle.BufferSize)

	_, err := f.mapper.GetStandardMetadata(handle, common.StandardMetadataPlaneLayouts, nil)
	require.Equal(t, common.StatusUnsupported, common.StatusOf(err))
	_, err = f.mapper.GetStandardMetadata(handle, common.StandardMetadataCrop, nil)
	require.Equal(t, common.StatusUnsupported, common.StatusOf(err))
}

// encodePayload runs write twice, once against a sizing writer and once
// against an exactly-sized buffer, the way platform callers build
// settable metadata.
func encodePayload(t *testing.T, write func(*metawire.Writer)) []byte {
	t.Helper()

	sizer := metawire.NewWriter(nil)
	write(sizer)
	payload := make([]byte, sizer.DesiredSize())
	writer := metawire.NewWriter(payload)
	write(writer)
	require.True(t, writer.Fits())
	return payload
}

func TestSetMetadata(t *testing.T) {
	f := newFixture(t)
	handle := importBuffer(t, f, cpuDescriptor("mutable", 32, 32, common.PixelFormatRGBA8888))

	require.EqualValues(t, common.DataspaceUnknown,
		getMetadata(t, f.mapper, handle, common.StandardMetadataDataspace).Int32())

	err := f.mapper.SetStandardMetadata(handle, common.StandardMetadataDataspace,
		encodePayload(t, func(w *metawire.Writer) {
			w.WriteMetadataType(common.StandardMetadataDataspace.MetadataType())
			w.WriteInt32(0x8C2)
		}))
	require.NoError(t, err)
	require.EqualValues(t, 0x8C2,
		getMetadata(t, f.mapper, handle, common.StandardMetadataDataspace).Int32())

	err = f.mapper.SetStandardMetadata(handle, common.StandardMetadataBlendMode,
		encodePayload(t, func(w *metawire.Writer) {
			w.WriteMetadataType(common.StandardMetadataBlendMode.MetadataType())
			w.WriteInt32(int32(common.BlendModePremultiplied))
		}))
	require.NoError(t, err)
	require.EqualValues(t, common.BlendModePremultiplied,
		getMetadata(t, f.mapper, handle, common.StandardMetadataBlendMode).Int32())
}

func TestSetMetadataHDR(t *testing.T) {
	f := newFixture(t)
	handle := importBuffer(t, f, cpuDescriptor("hdr", 32, 32, common.PixelFormatRGBA8888))

	// Unset HDR slots encode to nothing.
	size, err := f.mapper.GetStandardMetadata(handle, common.StandardMetadataSmpte2086, nil)
	require.NoError(t, err)
	require.Zero(t, size)

	err = f.mapper.SetStandardMetadata(handle, common.StandardMetadataSmpte2086,
		encodePayload(t, func(w *metawire.Writer) {
			w.WriteMetadataType(common.StandardMetadataSmpte2086.MetadataType())
			for _, value := range []float32{0.68, 0.32, 0.265, 0.69, 0.15, 0.06, 0.3127, 0.329, 1000, 0.005} {
				w.WriteFloat32(value)
			}
		}))
	require.NoError(t, err)

	reader := getMetadata(t, f.mapper, handle, common.StandardMetadataSmpte2086)
	require.EqualValues(t, float32(0.68), reader.Float32())
	require.EqualValues(t, float32(0.32), reader.Float32())
	for i := 0; i < 6; i++ {
		reader.Float32()
	}
	require.EqualValues(t, float32(1000), reader.Float32())
	require.EqualValues(t, float32(0.005), reader.Float32())
	require.NoError(t, reader.Err())

	// An empty payload clears the slot.
	require.NoError(t, f.mapper.SetStandardMetadata(handle, common.StandardMetadataSmpte2086, nil))
	size, err = f.mapper.GetStandardMetadata(handle, common.StandardMetadataSmpte2086, nil)
	require.NoError(t, err)
	require.Zero(t, size)

	err = f.mapper.SetStandardMetadata(handle, common.StandardMetadataCta861_3,
		encodePayload(t, func(w *metawire.Writer) {
			w.WriteMetadataType(common.StandardMetadataCta861_3.MetadataType())
			w.WriteFloat32(4000)
			w.WriteFloat32(1000)
		}))
	require.NoError(t, err)
	reader = getMetadata(t, f.mapper, handle, common.StandardMetadataCta861_3)
	require.EqualValues(t, float32(4000), reader.Float32())
	require.EqualValues(t, float32(1000), reader.Float32())
}

func TestSetMetadataRejections(t *testing.T) {
	f := newFixture(t)
	handle := importBuffer(t, f, cpuDescriptor("immutable", 32, 32, common.PixelFormatRGBA8888))

	// A payload whose header names a different slot is refused.
	err := f.mapper.SetStandardMetadata(handle, common.StandardMetadataDataspace,
		encodePayload(t, func(w *metawire.Writer) {
			w.WriteMetadataType(common.StandardMetadataBlendMode.MetadataType())
			w.WriteInt32(1)
		}))
	require.Equal(t, common.StatusBadValue, common.StatusOf(err))

	err = f.mapper.SetStandardMetadata(handle, common.StandardMetadataWidth, nil)
	require.Equal(t, common.StatusUnsupported, common.StatusOf(err))

	vendorTag := common.MetadataType{Name: "vendor.qti.display", Value: 1}
	err = f.mapper.SetMetadata(handle, vendorTag, nil)
	require.Equal(t, common.StatusUnsupported, common.StatusOf(err))
	_, err = f.mapper.GetMetadata(handle, vendorTag, nil)
	require.Equal(t, common.StatusUnsupported, common.StatusOf(err))
}

func TestSupportedMetadataTypes(t *testing.T) {
	descriptions := SupportedMetadataTypes()
	require.Len(t, descriptions, 21)

	settable := 0
	for _, description := range descriptions {
		require.True(t, description.Gettable)
		require.True(t, description.Type.IsStandard())
		if description.Settable {
			settable++
		}
	}
	require.Equal(t, 4, settable)
}

func TestDumpBuffer(t *testing.T) {
	f := newFixture(t)
	handle := importBuffer(t, f, cpuDescriptor("dumped", 32, 32, common.PixelFormatRGBA8888))

	seen := make(map[int64]int)
	err := f.mapper.DumpBuffer(handle, func(metadataType common.MetadataType, encoded []byte) {
		seen[metadataType.Value]++
	})
	require.NoError(t, err)
	require.Len(t, seen, 21)
	require.Equal(t, 1, seen[int64(common.StandardMetadataPlaneLayouts)])

	err = f.mapper.DumpBuffer(&cb.Handle{BufferFd: -1, HostHandleRefcountFd: -1}, nil)
	require.Equal(t, common.StatusBadBuffer, common.StatusOf(err))
}

func TestDumpAllBuffers(t *testing.T) {
	f := newFixture(t)
	importBuffer(t, f, cpuDescriptor("first", 32, 32, common.PixelFormatRGBA8888))
	importBuffer(t, f, cpuDescriptor("second", 32, 32, common.PixelFormatRGBA8888))

	buffers := 0
	values := 0
	f.mapper.DumpAllBuffers(
		func() { buffers++ },
		func(metadataType common.MetadataType, encoded []byte) { values++ },
	)
	require.Equal(t, 2, buffers)
	require.Equal(t, 42, values)
}

func TestDumpJSON(t *testing.T) {
	f := newFixture(t)
	first := importBuffer(t, f, cpuDescriptor("camera-scratch", 32, 32, common.PixelFormatRGBA8888))
	importBuffer(t, f, cpuDescriptor("composer-target", 32, 32, common.PixelFormatRGBA8888))

	rendered, err := f.mapper.DumpBufferJSON(first)
	require.NoError(t, err)
	require.Contains(t, rendered, `"Name":"camera-scratch"`)
	require.Contains(t, rendered, `"Width":32`)
	require.Contains(t, rendered, `"Format":"PixelFormatRGBA8888"`)

	all, err := f.mapper.DumpAllBuffersJSON()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(all, "["))
	require.Contains(t, all, `"Name":"camera-scratch"`)
	require.Contains(t, all, `"Name":"composer-target"`)
}

func TestReservedRegionIsShared(t *testing.T) {
	f := newFixture(t)
	descriptor := cpuDescriptor("reserved", 32, 32, common.PixelFormatRGBA8888)
	descriptor.ReservedSize = 64

	_, raws, err := f.allocator.Allocate(descriptor, 1)
	require.NoError(t, err)
	raw := raws[0]

	first, err := f.mapper.ImportBuffer(raw)
	require.NoError(t, err)
	second, err := f.mapper.ImportBuffer(raw)
	require.NoError(t, err)
	f.allocator.ReleaseHandle(raw)
	t.Cleanup(func() {
		_ = f.mapper.FreeBuffer(first)
		_ = f.mapper.FreeBuffer(second)
	})

	firstRegion, err := f.mapper.GetReservedRegion(first)
	require.NoError(t, err)
	require.Len(t, firstRegion, 64)

	// Both imports map the same shared memory, so writes through one
	// reserved region are visible through the other.
	copy(firstRegion, "shared-scratch")
	secondRegion, err := f.mapper.GetReservedRegion(second)
	require.NoError(t, err)
	require.Equal(t, firstRegion, secondRegion)

	_, err = f.mapper.GetReservedRegion(&cb.Handle{BufferFd: -1, HostHandleRefcountFd: -1})
	require.Equal(t, common.StatusBadBuffer, common.StatusOf(err))
}

func TestOpsTable(t *testing.T) {
	f := newFixture(t)
	ops := f.mapper.Ops()

	require.EqualValues(t, HALMapperVersion, ops.Version)
	require.Len(t, ops.ListSupportedMetadataTypes(), 21)

	_, raws, err := f.allocator.Allocate(cpuDescriptor("via-table", 32, 32, common.PixelFormatRGBA8888), 1)
	require.NoError(t, err)
	handle, err := ops.ImportBuffer(raws[0])
	require.NoError(t, err)
	f.allocator.ReleaseHandle(raws[0])

	region, err := ops.Lock(handle, common.BufferUsageCPUWriteOften, common.Rect{Right: 32, Bottom: 32}, -1)
	require.NoError(t, err)
	require.NotEmpty(t, region)
	_, err = ops.Unlock(handle)
	require.NoError(t, err)
	require.NoError(t, ops.FreeBuffer(handle))
}
