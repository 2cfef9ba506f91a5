package common

// BufferUsage is the 64-bit bitmask of intended accesses for a buffer.
type BufferUsage uint64

var bufferUsageMapping = NewFlagStringMapping[BufferUsage]()

func (u BufferUsage) Register(str string) {
	bufferUsageMapping.Register(u, str)
}

func (u BufferUsage) String() string {
	return bufferUsageMapping.FlagsToString(u)
}

const (
	BufferUsageCPUReadMask  BufferUsage = 0x0f
	BufferUsageCPUWriteMask BufferUsage = 0x0f << 4

	BufferUsageCPUReadRarely  BufferUsage = 2
	BufferUsageCPUReadOften   BufferUsage = 3
	BufferUsageCPUWriteRarely BufferUsage = 2 << 4
	BufferUsageCPUWriteOften  BufferUsage = 3 << 4

	BufferUsageGPUTexture           BufferUsage = 1 << 8
	BufferUsageGPURenderTarget      BufferUsage = 1 << 9
	BufferUsageComposerOverlay      BufferUsage = 1 << 11
	BufferUsageComposerClientTarget BufferUsage = 1 << 12
	BufferUsageProtected            BufferUsage = 1 << 14
	BufferUsageGPUDataBuffer        BufferUsage = 1 << 24
)

// bufferUsageReservedMask covers bits no client may request.
const bufferUsageReservedMask BufferUsage = (1 << 10) | (1 << 13) | (1 << 19) | (1 << 21)

// HasCPURead reports whether any CPU read intent is present.
func (u BufferUsage) HasCPURead() bool {
	return u&BufferUsageCPUReadMask != 0
}

// HasCPUWrite reports whether any CPU write intent is present.
func (u BufferUsage) HasCPUWrite() bool {
	return u&BufferUsageCPUWriteMask != 0
}

// HasGPU reports whether the buffer needs a host color buffer.
func (u BufferUsage) HasGPU() bool {
	return u&(BufferUsageGPUTexture|BufferUsageGPURenderTarget|BufferUsageComposerOverlay|BufferUsageComposerClientTarget|BufferUsageGPUDataBuffer) != 0
}

// HasReservedBits reports whether any reserved bit is set.
func (u BufferUsage) HasReservedBits() bool {
	return u&bufferUsageReservedMask != 0
}

func init() {
	BufferUsage(1).Register("BufferUsageCPURead")
	BufferUsage(2).Register("BufferUsageCPUReadRarely")
	BufferUsage(1 << 4).Register("BufferUsageCPUWrite")
	BufferUsage(2 << 4).Register("BufferUsageCPUWriteRarely")
	BufferUsageGPUTexture.Register("BufferUsageGPUTexture")
	BufferUsageGPURenderTarget.Register("BufferUsageGPURenderTarget")
	BufferUsageComposerOverlay.Register("BufferUsageComposerOverlay")
	BufferUsageComposerClientTarget.Register("BufferUsageComposerClientTarget")
	BufferUsageProtected.Register("BufferUsageProtected")
	BufferUsageGPUDataBuffer.Register("BufferUsageGPUDataBuffer")
}
