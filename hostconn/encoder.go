package hostconn

import "github.com/ranchu-emu/gralloc/common"

// FeatureInfo reports which optional operations the connected host
// renderer implements.
type FeatureInfo struct {
	HasSharedSlotsHostMemoryAllocator bool
	HasReadColorBufferDma             bool
	HasYUVCache                       bool
}

// Encoder is the set of render-control operations the allocator and
// mapper issue against the host. Calls are only valid inside a Session
// scope.
type Encoder interface {
	FeatureInfo() *FeatureInfo

	CreateColorBufferDMA(width, height uint32, glFormat int32, emuFwkFormat common.EmuFwkFormat) (uint32, error)
	CloseColorBuffer(handle uint32)
	ColorBufferCacheFlush(handle uint32) error

	ReadColorBufferYUV(handle uint32, x, y, width, height uint32, dst []byte) error
	ReadColorBufferDMA(handle uint32, x, y, width, height uint32, glFormat, glType int32, dst []byte) error
	UpdateColorBufferDMA(handle uint32, x, y, width, height uint32, glFormat, glType int32, src []byte) error

	// BindDMADirectly tells the host which guest-physical range backs the
	// region so subsequent DMA reads and updates can transfer in place.
	BindDMADirectly(region []byte, physAddr uint64)
}
