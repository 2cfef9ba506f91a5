package cb

import (
	"testing"

	"github.com/ranchu-emu/gralloc/common"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func testHandle(t *testing.T) *Handle {
	t.Helper()

	bufferFd, err := unix.MemfdCreate("handle-test", unix.MFD_CLOEXEC)
	require.NoError(t, err)

	var pipeFds [2]int
	require.NoError(t, unix.Pipe2(pipeFds[:], unix.O_CLOEXEC))
	t.Cleanup(func() { unix.Close(pipeFds[0]) })

	handle := &Handle{
		BufferFd:             bufferFd,
		HostHandleRefcountFd: pipeFds[1],

		HostHandle:             0x11,
		Usage:                  common.BufferUsageGPUTexture | common.BufferUsageCPUReadOften | common.BufferUsage(1)<<36,
		Format:                 common.PixelFormatRGBA8888,
		DRMFormat:              common.DRMFormatABGR8888,
		Stride:                 64,
		BufferSize:             100,
		MmapedSize:             4096,
		MmapedOffset:           0x1_0000_1000,
		ExternalMetadataOffset: 112,
	}
	t.Cleanup(handle.CloseFds)
	return handle
}

func TestValidateAcceptsWellFormedHandles(t *testing.T) {
	require.NoError(t, testHandle(t).Validate())
}

var validateFailureCases = map[string]func(handle *Handle){
	"Host Handle Without Refcount": func(handle *Handle) {
		handle.HostHandleRefcountFd = -1
	},
	"Mapped Size Without Buffer Fd": func(handle *Handle) {
		handle.BufferFd = -1
	},
	"Unaligned Metadata Offset": func(handle *Handle) {
		handle.ExternalMetadataOffset = 100
	},
}

func TestValidateRejectsBrokenHandles(t *testing.T) {
	for name, corrupt := range validateFailureCases {
		t.Run(name, func(t *testing.T) {
			handle := testHandle(t)
			saveBuffer := handle.BufferFd
			saveRefcount := handle.HostHandleRefcountFd
			defer func() {
				handle.BufferFd = saveBuffer
				handle.HostHandleRefcountFd = saveRefcount
			}()

			corrupt(handle)
			require.Error(t, handle.Validate())
		})
	}
}

func TestMarshalLayout(t *testing.T) {
	handle := testHandle(t)

	fds, ints := handle.Marshal()
	require.Equal(t, []int{handle.BufferFd, handle.HostHandleRefcountFd}, fds)
	require.Len(t, ints, 2+scalarWordCount)
	require.EqualValues(t, 2, ints[0])
	require.EqualValues(t, scalarWordCount, ints[1])
	require.EqualValues(t, fdFlagBuffer|fdFlagRefcount, ints[2])

	require.Equal(t, 2, handle.NumFds())
	require.Equal(t, scalarWordCount, handle.NumInts())
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	handle := testHandle(t)
	fds, ints := handle.Marshal()

	got, err := Unmarshal(fds, ints)
	require.NoError(t, err)

	require.Equal(t, handle.BufferFd, got.BufferFd)
	require.Equal(t, handle.HostHandleRefcountFd, got.HostHandleRefcountFd)
	require.Equal(t, handle.HostHandle, got.HostHandle)
	require.Equal(t, handle.Usage, got.Usage)
	require.Equal(t, handle.Format, got.Format)
	require.Equal(t, handle.DRMFormat, got.DRMFormat)
	require.Equal(t, handle.Stride, got.Stride)
	require.Equal(t, handle.BufferSize, got.BufferSize)
	require.Equal(t, handle.MmapedSize, got.MmapedSize)
	require.Equal(t, handle.MmapedOffset, got.MmapedOffset)
	require.Equal(t, handle.ExternalMetadataOffset, got.ExternalMetadataOffset)

	require.Nil(t, got.Mapped())
	require.Zero(t, got.LockedUsage())
}

func TestUnmarshalWithoutDescriptors(t *testing.T) {
	handle := &Handle{BufferFd: -1, HostHandleRefcountFd: -1}
	fds, ints := handle.Marshal()
	require.Empty(t, fds)

	got, err := Unmarshal(nil, ints)
	require.NoError(t, err)
	require.Equal(t, -1, got.BufferFd)
	require.Equal(t, -1, got.HostHandleRefcountFd)
}

var unmarshalFailureCases = map[string]struct {
	fds     int
	corrupt func(ints []int32)
}{
	"Wrong Word Count": {
		corrupt: func(ints []int32) { ints[1] = scalarWordCount - 1 },
	},
	"Descriptor Count Mismatch": {
		corrupt: func(ints []int32) { ints[0] = 2 },
	},
	"Flags Disagree With Descriptors": {
		corrupt: func(ints []int32) { ints[2] = fdFlagBuffer },
	},
	"Unaligned Metadata Offset": {
		corrupt: func(ints []int32) { ints[13] = 100 },
	},
}

func TestUnmarshalRejectsBrokenPayloads(t *testing.T) {
	for name, testCase := range unmarshalFailureCases {
		t.Run(name, func(t *testing.T) {
			handle := &Handle{BufferFd: -1, HostHandleRefcountFd: -1, BufferSize: 96, ExternalMetadataOffset: 96}
			_, ints := handle.Marshal()

			testCase.corrupt(ints)
			_, err := Unmarshal(nil, ints)
			require.Error(t, err)
		})
	}
}

func TestUnmarshalRejectsTruncatedWordArrays(t *testing.T) {
	_, err := Unmarshal(nil, make([]int32, 5))
	require.Error(t, err)
}

func TestCloneDuplicatesDescriptors(t *testing.T) {
	handle := testHandle(t)
	handle.SetMapped(make([]byte, 16))
	handle.SetLockedUsage(common.BufferUsageCPUReadOften)

	clone, err := handle.Clone()
	require.NoError(t, err)
	defer clone.CloseFds()

	require.NotEqual(t, handle.BufferFd, clone.BufferFd)
	require.NotEqual(t, handle.HostHandleRefcountFd, clone.HostHandleRefcountFd)
	require.GreaterOrEqual(t, clone.BufferFd, 0)
	require.GreaterOrEqual(t, clone.HostHandleRefcountFd, 0)

	require.Equal(t, handle.HostHandle, clone.HostHandle)
	require.Nil(t, clone.Mapped())
	require.Zero(t, clone.LockedUsage())
	require.NoError(t, clone.Validate())

	// Closing the clone must leave the original's descriptors usable.
	clone.CloseFds()
	_, err = unix.FcntlInt(uintptr(handle.BufferFd), unix.F_GETFD, 0)
	require.NoError(t, err)
}

func TestCloseFdsIsIdempotent(t *testing.T) {
	handle := testHandle(t)
	handle.CloseFds()
	require.Equal(t, -1, handle.BufferFd)
	require.Equal(t, -1, handle.HostHandleRefcountFd)
	handle.CloseFds()
}
