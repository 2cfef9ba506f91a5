package allocator

import (
	"github.com/cockroachdb/errors"
	"github.com/ranchu-emu/gralloc/common"
	"github.com/ranchu-emu/gralloc/extmeta"
	"github.com/ranchu-emu/gralloc/memutils"
)

type planeSpec struct {
	sampleIncrementInBytes uint8
	horizontalShift        uint8
	verticalShift          uint8
	components             []extmeta.PlaneLayoutComponent
}

// formatProperties fixes everything allocation needs to know about one
// pixel format: plane geometry, row alignment, the fourcc naming the
// layout, and the host upload format when the format can back a color
// buffer.
type formatProperties struct {
	planes       []planeSpec
	rowAlignment uint32
	drmFormat    common.DRMFormat

	gpuCapable    bool
	glFormat      int32
	glType        int32
	rcAllocFormat int32
	emuFwkFormat  common.EmuFwkFormat
}

func component(componentType common.PlaneLayoutComponentType, offsetInBits, sizeInBits uint16) extmeta.PlaneLayoutComponent {
	return extmeta.PlaneLayoutComponent{
		Type:         componentType,
		OffsetInBits: offsetInBits,
		SizeInBits:   sizeInBits,
	}
}

var formatTable = map[common.PixelFormat]formatProperties{
	common.PixelFormatRGBA8888: {
		planes: []planeSpec{{
			sampleIncrementInBytes: 4,
			components: []extmeta.PlaneLayoutComponent{
				component(common.PlaneComponentR, 0, 8),
				component(common.PlaneComponentG, 8, 8),
				component(common.PlaneComponentB, 16, 8),
				component(common.PlaneComponentA, 24, 8),
			},
		}},
		rowAlignment:  1,
		drmFormat:     common.DRMFormatABGR8888,
		gpuCapable:    true,
		glFormat:      common.GLRGBA,
		glType:        common.GLUnsignedByte,
		rcAllocFormat: common.GLRGBA,
		emuFwkFormat:  common.EmuFwkFormatGLCompatible,
	},
	common.PixelFormatRGBX8888: {
		planes: []planeSpec{{
			sampleIncrementInBytes: 4,
			components: []extmeta.PlaneLayoutComponent{
				component(common.PlaneComponentR, 0, 8),
				component(common.PlaneComponentG, 8, 8),
				component(common.PlaneComponentB, 16, 8),
			},
		}},
		rowAlignment: 1,
		drmFormat:    common.DRMFormatXBGR8888,
		gpuCapable:   true,
		glFormat:     common.GLRGBA,
		glType:       common.GLUnsignedByte,
		// The host backs RGBX with an RGB color buffer so the undefined
		// alpha byte never reaches compositing.
		rcAllocFormat: common.GLRGB,
		emuFwkFormat:  common.EmuFwkFormatGLCompatible,
	},
	common.PixelFormatBGRA8888: {
		planes: []planeSpec{{
			sampleIncrementInBytes: 4,
			components: []extmeta.PlaneLayoutComponent{
				component(common.PlaneComponentB, 0, 8),
				component(common.PlaneComponentG, 8, 8),
				component(common.PlaneComponentR, 16, 8),
				component(common.PlaneComponentA, 24, 8),
			},
		}},
		rowAlignment:  1,
		drmFormat:     common.DRMFormatARGB8888,
		gpuCapable:    true,
		glFormat:      common.GLRGBA,
		glType:        common.GLUnsignedByte,
		rcAllocFormat: common.GLRGBA,
		emuFwkFormat:  common.EmuFwkFormatGLCompatible,
	},
	common.PixelFormatRGB888: {
		planes: []planeSpec{{
			sampleIncrementInBytes: 3,
			components: []extmeta.PlaneLayoutComponent{
				component(common.PlaneComponentR, 0, 8),
				component(common.PlaneComponentG, 8, 8),
				component(common.PlaneComponentB, 16, 8),
			},
		}},
		rowAlignment: 1,
		drmFormat:    common.DRMFormatBGR888,
		glFormat:     common.GLFormatNone,
		glType:       common.GLFormatNone,
	},
	common.PixelFormatRGB565: {
		planes: []planeSpec{{
			sampleIncrementInBytes: 2,
			components: []extmeta.PlaneLayoutComponent{
				component(common.PlaneComponentR, 0, 5),
				component(common.PlaneComponentG, 5, 6),
				component(common.PlaneComponentB, 11, 5),
			},
		}},
		rowAlignment:  1,
		drmFormat:     common.DRMFormatBGR565,
		gpuCapable:    true,
		glFormat:      common.GLRGB565,
		glType:        common.GLUnsignedShort565,
		rcAllocFormat: common.GLRGB565,
		emuFwkFormat:  common.EmuFwkFormatGLCompatible,
	},
	common.PixelFormatRGBAFP16: {
		planes: []planeSpec{{
			sampleIncrementInBytes: 8,
			components: []extmeta.PlaneLayoutComponent{
				component(common.PlaneComponentR, 0, 16),
				component(common.PlaneComponentG, 16, 16),
				component(common.PlaneComponentB, 32, 16),
				component(common.PlaneComponentA, 48, 16),
			},
		}},
		rowAlignment:  1,
		drmFormat:     common.DRMFormatABGR16161616F,
		gpuCapable:    true,
		glFormat:      common.GLRGBA16F,
		glType:        common.GLHalfFloat,
		rcAllocFormat: common.GLRGBA16F,
		emuFwkFormat:  common.EmuFwkFormatGLCompatible,
	},
	common.PixelFormatRGBA1010102: {
		planes: []planeSpec{{
			sampleIncrementInBytes: 4,
			components: []extmeta.PlaneLayoutComponent{
				component(common.PlaneComponentR, 0, 10),
				component(common.PlaneComponentG, 10, 10),
				component(common.PlaneComponentB, 20, 10),
				component(common.PlaneComponentA, 30, 2),
			},
		}},
		rowAlignment:  1,
		drmFormat:     common.DRMFormatABGR2101010,
		gpuCapable:    true,
		glFormat:      common.GLRGB10A2,
		glType:        common.GLUnsignedInt2101010Rev,
		rcAllocFormat: common.GLRGB10A2,
		emuFwkFormat:  common.EmuFwkFormatGLCompatible,
	},
	common.PixelFormatRAW16: {
		planes: []planeSpec{{
			sampleIncrementInBytes: 2,
			components: []extmeta.PlaneLayoutComponent{
				component(common.PlaneComponentRaw, 0, 16),
			},
		}},
		rowAlignment: 16,
		drmFormat:    common.DRMFormatR16,
		glFormat:     common.GLFormatNone,
		glType:       common.GLFormatNone,
	},
	common.PixelFormatY16: {
		planes: []planeSpec{{
			sampleIncrementInBytes: 2,
			components: []extmeta.PlaneLayoutComponent{
				component(common.PlaneComponentY, 0, 16),
			},
		}},
		rowAlignment: 16,
		drmFormat:    common.DRMFormatR16,
		glFormat:     common.GLFormatNone,
		glType:       common.GLFormatNone,
	},
	common.PixelFormatBlob: {
		planes: []planeSpec{{
			sampleIncrementInBytes: 1,
			components: []extmeta.PlaneLayoutComponent{
				component(common.PlaneComponentRaw, 0, 8),
			},
		}},
		rowAlignment: 1,
		drmFormat:    common.DRMFormatNone,
		glFormat:     common.GLFormatNone,
		glType:       common.GLFormatNone,
	},
	common.PixelFormatYCrCb420SP: {
		planes: []planeSpec{
			{
				sampleIncrementInBytes: 1,
				components: []extmeta.PlaneLayoutComponent{
					component(common.PlaneComponentY, 0, 8),
				},
			},
			{
				sampleIncrementInBytes: 2,
				horizontalShift:        1,
				verticalShift:          1,
				components: []extmeta.PlaneLayoutComponent{
					component(common.PlaneComponentCb, 8, 8),
					component(common.PlaneComponentCr, 0, 8),
				},
			},
		},
		rowAlignment: 1,
		drmFormat:    common.DRMFormatYVU420,
		glFormat:     common.GLFormatNone,
		glType:       common.GLFormatNone,
	},
	common.PixelFormatYV12: {
		planes: []planeSpec{
			{
				sampleIncrementInBytes: 1,
				components: []extmeta.PlaneLayoutComponent{
					component(common.PlaneComponentY, 0, 8),
				},
			},
			{
				sampleIncrementInBytes: 1,
				horizontalShift:        1,
				verticalShift:          1,
				components: []extmeta.PlaneLayoutComponent{
					component(common.PlaneComponentCr, 0, 8),
				},
			},
			{
				sampleIncrementInBytes: 1,
				horizontalShift:        1,
				verticalShift:          1,
				components: []extmeta.PlaneLayoutComponent{
					component(common.PlaneComponentCb, 0, 8),
				},
			},
		},
		rowAlignment:  16,
		drmFormat:     common.DRMFormatYVU420,
		gpuCapable:    true,
		glFormat:      common.GLRGBA,
		glType:        common.GLUnsignedByte,
		rcAllocFormat: common.GLRGBA,
		emuFwkFormat:  common.EmuFwkFormatYV12,
	},
	common.PixelFormatYCbCr420888: {
		planes: []planeSpec{
			{
				sampleIncrementInBytes: 1,
				components: []extmeta.PlaneLayoutComponent{
					component(common.PlaneComponentY, 0, 8),
				},
			},
			{
				sampleIncrementInBytes: 1,
				horizontalShift:        1,
				verticalShift:          1,
				components: []extmeta.PlaneLayoutComponent{
					component(common.PlaneComponentCb, 0, 8),
				},
			},
			{
				sampleIncrementInBytes: 1,
				horizontalShift:        1,
				verticalShift:          1,
				components: []extmeta.PlaneLayoutComponent{
					component(common.PlaneComponentCr, 0, 8),
				},
			},
		},
		rowAlignment:  1,
		drmFormat:     common.DRMFormatYUV420,
		gpuCapable:    true,
		glFormat:      common.GLRGBA,
		glType:        common.GLUnsignedByte,
		rcAllocFormat: common.GLRGBA,
		emuFwkFormat:  common.EmuFwkFormatYUV420888,
	},
	common.PixelFormatYCbCrP010: {
		planes: []planeSpec{
			{
				sampleIncrementInBytes: 2,
				components: []extmeta.PlaneLayoutComponent{
					component(common.PlaneComponentY, 6, 10),
				},
			},
			{
				sampleIncrementInBytes: 4,
				horizontalShift:        1,
				verticalShift:          1,
				components: []extmeta.PlaneLayoutComponent{
					component(common.PlaneComponentCb, 6, 10),
					component(common.PlaneComponentCr, 22, 10),
				},
			},
		},
		rowAlignment:  1,
		drmFormat:     common.DRMFormatYUV42010Bit,
		gpuCapable:    true,
		glFormat:      common.GLRGBA,
		glType:        common.GLUnsignedByte,
		rcAllocFormat: common.GLRGBA,
		emuFwkFormat:  common.EmuFwkFormatGLCompatible,
	},
}

// imageLayout is the resolved geometry of one allocation request.
type imageLayout struct {
	planes      []extmeta.PlaneLayout
	components  []extmeta.PlaneLayoutComponent
	bufferSize  uint32
	pixelStride uint32
}

// resolveLayout lays the format's planes out back-to-back for the given
// sampling grid.
func resolveLayout(properties *formatProperties, width, height uint32) (*imageLayout, error) {
	layout := &imageLayout{}

	offset := uint32(0)
	for _, spec := range properties.planes {
		planeWidth := width >> spec.horizontalShift
		planeHeight := height >> spec.verticalShift
		strideBytes := memutils.AlignUp(planeWidth*uint32(spec.sampleIncrementInBytes), properties.rowAlignment)
		totalSize := strideBytes * planeHeight

		componentsBase := len(layout.components)
		if componentsBase+len(spec.components) > extmeta.MaxPlaneComponents {
			return nil, errors.Newf("format components exceed the %d shared slots", extmeta.MaxPlaneComponents)
		}
		layout.components = append(layout.components, spec.components...)

		layout.planes = append(layout.planes, extmeta.PlaneLayout{
			OffsetInBytes:          offset,
			StrideInBytes:          strideBytes,
			TotalSizeInBytes:       totalSize,
			SampleIncrementInBytes: spec.sampleIncrementInBytes,
			HorizontalShift:        spec.horizontalShift,
			VerticalShift:          spec.verticalShift,
			ComponentsBase:         uint8(componentsBase),
			ComponentsSize:         uint8(len(spec.components)),
		})
		offset += totalSize
	}

	layout.bufferSize = offset
	if len(layout.planes) == 1 {
		layout.pixelStride = layout.planes[0].StrideInBytes / uint32(layout.planes[0].SampleIncrementInBytes)
	}
	return layout, nil
}
