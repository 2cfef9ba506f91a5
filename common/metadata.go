package common

import "fmt"

// Tag names under which metadata enums travel on the wire. These are the
// fully-qualified class names the platform uses, kept verbatim so foreign
// mappers agree on the encoding.
const (
	StandardMetadataTypeName     = "android.hardware.graphics.common.StandardMetadataType"
	PlaneLayoutComponentTypeName = "android.hardware.graphics.common.PlaneLayoutComponentType"
	CompressionTypeName          = "android.hardware.graphics.common.Compression"
	InterlacedTypeName           = "android.hardware.graphics.common.Interlaced"
	ChromaSitingTypeName         = "android.hardware.graphics.common.ChromaSiting"
)

// MetadataType identifies one metadata slot: a namespace tag plus a value
// within that namespace.
type MetadataType struct {
	Name  string
	Value int64
}

func (t MetadataType) IsStandard() bool {
	return t.Name == StandardMetadataTypeName
}

// StandardMetadataType enumerates the platform-defined metadata slots.
type StandardMetadataType int64

const (
	StandardMetadataInvalid StandardMetadataType = iota
	StandardMetadataBufferID
	StandardMetadataName
	StandardMetadataWidth
	StandardMetadataHeight
	StandardMetadataLayerCount
	StandardMetadataPixelFormatRequested
	StandardMetadataPixelFormatFourCC
	StandardMetadataPixelFormatModifier
	StandardMetadataUsage
	StandardMetadataAllocationSize
	StandardMetadataProtectedContent
	StandardMetadataCompression
	StandardMetadataInterlaced
	StandardMetadataChromaSiting
	StandardMetadataPlaneLayouts
	StandardMetadataCrop
	StandardMetadataDataspace
	StandardMetadataBlendMode
	StandardMetadataSmpte2086
	StandardMetadataCta861_3
	StandardMetadataSmpte2094_40
	StandardMetadataStride
)

var standardMetadataMapping = make(map[StandardMetadataType]string)

func (t StandardMetadataType) String() string {
	str, ok := standardMetadataMapping[t]
	if !ok {
		return fmt.Sprintf("StandardMetadataType(%d)", int64(t))
	}
	return str
}

// MetadataType returns the wire identity of this standard slot.
func (t StandardMetadataType) MetadataType() MetadataType {
	return MetadataType{Name: StandardMetadataTypeName, Value: int64(t)}
}

func init() {
	standardMetadataMapping[StandardMetadataInvalid] = "Invalid"
	standardMetadataMapping[StandardMetadataBufferID] = "BufferID"
	standardMetadataMapping[StandardMetadataName] = "Name"
	standardMetadataMapping[StandardMetadataWidth] = "Width"
	standardMetadataMapping[StandardMetadataHeight] = "Height"
	standardMetadataMapping[StandardMetadataLayerCount] = "LayerCount"
	standardMetadataMapping[StandardMetadataPixelFormatRequested] = "PixelFormatRequested"
	standardMetadataMapping[StandardMetadataPixelFormatFourCC] = "PixelFormatFourCC"
	standardMetadataMapping[StandardMetadataPixelFormatModifier] = "PixelFormatModifier"
	standardMetadataMapping[StandardMetadataUsage] = "Usage"
	standardMetadataMapping[StandardMetadataAllocationSize] = "AllocationSize"
	standardMetadataMapping[StandardMetadataProtectedContent] = "ProtectedContent"
	standardMetadataMapping[StandardMetadataCompression] = "Compression"
	standardMetadataMapping[StandardMetadataInterlaced] = "Interlaced"
	standardMetadataMapping[StandardMetadataChromaSiting] = "ChromaSiting"
	standardMetadataMapping[StandardMetadataPlaneLayouts] = "PlaneLayouts"
	standardMetadataMapping[StandardMetadataCrop] = "Crop"
	standardMetadataMapping[StandardMetadataDataspace] = "Dataspace"
	standardMetadataMapping[StandardMetadataBlendMode] = "BlendMode"
	standardMetadataMapping[StandardMetadataSmpte2086] = "Smpte2086"
	standardMetadataMapping[StandardMetadataCta861_3] = "Cta861_3"
	standardMetadataMapping[StandardMetadataSmpte2094_40] = "Smpte2094_40"
	standardMetadataMapping[StandardMetadataStride] = "Stride"
}

// PlaneLayoutComponentType names one sample component within a plane.
type PlaneLayoutComponentType uint32

const (
	PlaneComponentY  PlaneLayoutComponentType = 1 << 0
	PlaneComponentCb PlaneLayoutComponentType = 1 << 1
	PlaneComponentCr PlaneLayoutComponentType = 1 << 2

	PlaneComponentR PlaneLayoutComponentType = 1 << 10
	PlaneComponentG PlaneLayoutComponentType = 1 << 11
	PlaneComponentB PlaneLayoutComponentType = 1 << 12
	PlaneComponentA PlaneLayoutComponentType = 1 << 13

	PlaneComponentRaw PlaneLayoutComponentType = 1 << 20
)

var planeComponentMapping = make(map[PlaneLayoutComponentType]string)

func (t PlaneLayoutComponentType) String() string {
	str, ok := planeComponentMapping[t]
	if !ok {
		return fmt.Sprintf("PlaneLayoutComponentType(0x%x)", uint32(t))
	}
	return str
}

func init() {
	planeComponentMapping[PlaneComponentY] = "Y"
	planeComponentMapping[PlaneComponentCb] = "CB"
	planeComponentMapping[PlaneComponentCr] = "CR"
	planeComponentMapping[PlaneComponentR] = "R"
	planeComponentMapping[PlaneComponentG] = "G"
	planeComponentMapping[PlaneComponentB] = "B"
	planeComponentMapping[PlaneComponentA] = "A"
	planeComponentMapping[PlaneComponentRaw] = "RAW"
}

// Dataspace is the mutable per-buffer color space hint.
type Dataspace int32

const DataspaceUnknown Dataspace = 0

// BlendMode is the mutable per-buffer blend hint.
type BlendMode int32

const (
	BlendModeInvalid BlendMode = iota
	BlendModeNone
	BlendModePremultiplied
	BlendModeCoverage
)

// Compression, Interlaced, and ChromaSiting describe fixed layout
// properties; this implementation only ever produces the values below.
const (
	CompressionNone int64 = 0

	InterlacedNone int64 = 0

	ChromaSitingNone              int64 = 0
	ChromaSitingUnknown           int64 = 1
	ChromaSitingSitedInterstitial int64 = 2
)

// XyColor is a CIE 1931 chromaticity coordinate.
type XyColor struct {
	X float32
	Y float32
}

// Smpte2086 is the static HDR mastering metadata descriptor.
type Smpte2086 struct {
	PrimaryRed   XyColor
	PrimaryGreen XyColor
	PrimaryBlue  XyColor
	WhitePoint   XyColor
	MaxLuminance float32
	MinLuminance float32
}

// Cta861_3 is the HDR content light level descriptor.
type Cta861_3 struct {
	MaxContentLightLevel      float32
	MaxFrameAverageLightLevel float32
}

// Rect is an access region within a buffer's sampling grid.
type Rect struct {
	Left   int32
	Top    int32
	Right  int32
	Bottom int32
}

func (r Rect) Width() int32  { return r.Right - r.Left }
func (r Rect) Height() int32 { return r.Bottom - r.Top }
