package common

// Host upload formats and types. These are GLES enum values understood by
// the host renderer's color-buffer operations.
const (
	GLFormatNone int32 = -1

	GLRGB     int32 = 0x1907
	GLRGBA    int32 = 0x1908
	GLRGB565  int32 = 0x8D62
	GLRGBA16F int32 = 0x881A
	GLRGB10A2 int32 = 0x8059

	GLUnsignedByte          int32 = 0x1401
	GLUnsignedShort565      int32 = 0x8363
	GLHalfFloat             int32 = 0x140B
	GLUnsignedInt2101010Rev int32 = 0x8368
)

// EmuFwkFormat tells the host which framework-level layout a color buffer
// carries so YUV reads can be demuxed correctly.
type EmuFwkFormat int32

const (
	EmuFwkFormatGLCompatible EmuFwkFormat = 0
	EmuFwkFormatYV12         EmuFwkFormat = 1
	EmuFwkFormatYUV420888    EmuFwkFormat = 2
)

var emuFwkFormatMapping = make(map[EmuFwkFormat]string)

func (f EmuFwkFormat) String() string {
	return emuFwkFormatMapping[f]
}

func init() {
	emuFwkFormatMapping[EmuFwkFormatGLCompatible] = "EmuFwkFormatGLCompatible"
	emuFwkFormatMapping[EmuFwkFormatYV12] = "EmuFwkFormatYV12"
	emuFwkFormatMapping[EmuFwkFormatYUV420888] = "EmuFwkFormatYUV420888"
}
