package extmeta

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/ranchu-emu/gralloc/common"
)

// Magic identifies a well-formed record. It is the first quadword of every
// shared region's metadata header.
const Magic uint64 = 0x247439A87E42E932

const (
	// RecordSize is the exact byte footprint of the record inside the
	// shared region. It is a multiple of 16 so the reserved tail that
	// follows stays 16-aligned.
	RecordSize = 304

	MaxPlanes          = 3
	MaxPlaneComponents = 4
	MaxNameLength      = 127
)

const (
	offMagic        = 0
	offBufferID     = 8
	offPlaneLayouts = 16
	offComponents   = 64
	offSmpte2086    = 96
	offCta861_3     = 136
	offWidth        = 144
	offHeight       = 148
	offGLFormat     = 152
	offGLType       = 156
	offReservedSize = 160
	offDataspace    = 164
	offBlendMode    = 168
	offPlaneCount   = 172
	offNameSize     = 173
	offHasSmpte2086 = 174
	offHasCta861_3  = 175
	offName         = 176

	planeLayoutStride = 16
	componentStride   = 8
)

// PlaneLayout is the geometry of one contiguous plane of the image.
type PlaneLayout struct {
	OffsetInBytes          uint32
	StrideInBytes          uint32
	TotalSizeInBytes       uint32
	SampleIncrementInBytes uint8
	HorizontalShift        uint8
	VerticalShift          uint8
	ComponentsBase         uint8
	ComponentsSize         uint8
}

// PlaneLayoutComponent is the bit placement of one sample component. The
// four component slots of a record are shared by all planes, indexed by
// each plane's ComponentsBase..ComponentsBase+ComponentsSize.
type PlaneLayoutComponent struct {
	Type         common.PlaneLayoutComponentType
	OffsetInBits uint16
	SizeInBits   uint16
}

// Record is a view over the fixed-layout metadata header inside a mapped
// shared region. All accessors read and write the underlying bytes in
// place so changes made by one process are visible to every process with
// the region mapped. Encoding is little-endian throughout.
type Record struct {
	data []byte
}

// At interprets the RecordSize bytes at the start of region as an existing
// record. It does not check the magic; callers that require a well-formed
// record use Validate.
func At(region []byte) (*Record, error) {
	if len(region) < RecordSize {
		return nil, errors.Newf("metadata region is %d bytes, need %d", len(region), RecordSize)
	}
	return &Record{data: region[:RecordSize:RecordSize]}, nil
}

// Init zeroes the RecordSize bytes at the start of region and stamps the
// magic, returning the fresh record.
func Init(region []byte) (*Record, error) {
	record, err := At(region)
	if err != nil {
		return nil, err
	}

	for i := range record.data {
		record.data[i] = 0
	}
	binary.LittleEndian.PutUint64(record.data[offMagic:], Magic)
	record.SetGLFormat(common.GLFormatNone)
	record.SetGLType(common.GLFormatNone)
	return record, nil
}

func (r *Record) Validate() error {
	magic := binary.LittleEndian.Uint64(r.data[offMagic:])
	if magic != Magic {
		return errors.Newf("metadata magic is 0x%016X, want 0x%016X", magic, Magic)
	}
	return nil
}

func (r *Record) BufferID() uint64 {
	return binary.LittleEndian.Uint64(r.data[offBufferID:])
}

func (r *Record) SetBufferID(id uint64) {
	binary.LittleEndian.PutUint64(r.data[offBufferID:], id)
}

func (r *Record) Width() uint32 {
	return binary.LittleEndian.Uint32(r.data[offWidth:])
}

func (r *Record) SetWidth(width uint32) {
	binary.LittleEndian.PutUint32(r.data[offWidth:], width)
}

func (r *Record) Height() uint32 {
	return binary.LittleEndian.Uint32(r.data[offHeight:])
}

func (r *Record) SetHeight(height uint32) {
	binary.LittleEndian.PutUint32(r.data[offHeight:], height)
}

func (r *Record) GLFormat() int32 {
	return int32(binary.LittleEndian.Uint32(r.data[offGLFormat:]))
}

func (r *Record) SetGLFormat(format int32) {
	binary.LittleEndian.PutUint32(r.data[offGLFormat:], uint32(format))
}

func (r *Record) GLType() int32 {
	return int32(binary.LittleEndian.Uint32(r.data[offGLType:]))
}

func (r *Record) SetGLType(glType int32) {
	binary.LittleEndian.PutUint32(r.data[offGLType:], uint32(glType))
}

func (r *Record) ReservedRegionSize() uint32 {
	return binary.LittleEndian.Uint32(r.data[offReservedSize:])
}

func (r *Record) SetReservedRegionSize(size uint32) {
	binary.LittleEndian.PutUint32(r.data[offReservedSize:], size)
}

func (r *Record) Dataspace() common.Dataspace {
	return common.Dataspace(binary.LittleEndian.Uint32(r.data[offDataspace:]))
}

func (r *Record) SetDataspace(dataspace common.Dataspace) {
	binary.LittleEndian.PutUint32(r.data[offDataspace:], uint32(dataspace))
}

func (r *Record) BlendMode() common.BlendMode {
	return common.BlendMode(binary.LittleEndian.Uint32(r.data[offBlendMode:]))
}

func (r *Record) SetBlendMode(mode common.BlendMode) {
	binary.LittleEndian.PutUint32(r.data[offBlendMode:], uint32(mode))
}

func (r *Record) Name() string {
	size := int(r.data[offNameSize])
	if size > MaxNameLength {
		size = MaxNameLength
	}
	return string(r.data[offName : offName+size])
}

// SetName stores name truncated to MaxNameLength bytes.
func (r *Record) SetName(name string) {
	raw := []byte(name)
	if len(raw) > MaxNameLength {
		raw = raw[:MaxNameLength]
	}
	copy(r.data[offName:offName+MaxNameLength], make([]byte, MaxNameLength))
	copy(r.data[offName:], raw)
	r.data[offNameSize] = uint8(len(raw))
}

func (r *Record) PlaneCount() int {
	count := int(r.data[offPlaneCount])
	if count > MaxPlanes {
		count = MaxPlanes
	}
	return count
}

// PlaneLayouts decodes the populated plane slots and the shared component
// table.
func (r *Record) PlaneLayouts() ([]PlaneLayout, []PlaneLayoutComponent) {
	count := r.PlaneCount()
	planes := make([]PlaneLayout, count)
	maxComponent := 0
	for i := 0; i < count; i++ {
		slot := r.data[offPlaneLayouts+i*planeLayoutStride:]
		subsampling := slot[13]
		planes[i] = PlaneLayout{
			OffsetInBytes:          binary.LittleEndian.Uint32(slot),
			StrideInBytes:          binary.LittleEndian.Uint32(slot[4:]),
			TotalSizeInBytes:       binary.LittleEndian.Uint32(slot[8:]),
			SampleIncrementInBytes: slot[12],
			HorizontalShift:        subsampling & 0x0f,
			VerticalShift:          subsampling >> 4,
			ComponentsBase:         slot[14],
			ComponentsSize:         slot[15],
		}

		end := int(planes[i].ComponentsBase) + int(planes[i].ComponentsSize)
		if end > maxComponent {
			maxComponent = end
		}
	}

	if maxComponent > MaxPlaneComponents {
		maxComponent = MaxPlaneComponents
	}
	components := make([]PlaneLayoutComponent, maxComponent)
	for i := 0; i < maxComponent; i++ {
		slot := r.data[offComponents+i*componentStride:]
		components[i] = PlaneLayoutComponent{
			Type:         common.PlaneLayoutComponentType(binary.LittleEndian.Uint32(slot)),
			OffsetInBits: binary.LittleEndian.Uint16(slot[4:]),
			SizeInBits:   binary.LittleEndian.Uint16(slot[6:]),
		}
	}

	return planes, components
}

// SetPlaneLayouts encodes planes and the shared component table into the
// record.
func (r *Record) SetPlaneLayouts(planes []PlaneLayout, components []PlaneLayoutComponent) error {
	if len(planes) > MaxPlanes {
		return errors.Newf("%d planes exceed the %d plane slots", len(planes), MaxPlanes)
	}
	if len(components) > MaxPlaneComponents {
		return errors.Newf("%d components exceed the %d component slots", len(components), MaxPlaneComponents)
	}

	for i, plane := range planes {
		if plane.HorizontalShift > 0x0f || plane.VerticalShift > 0x0f {
			return errors.Newf("plane %d subsampling shifts (%d, %d) do not fit in a nibble", i, plane.HorizontalShift, plane.VerticalShift)
		}

		slot := r.data[offPlaneLayouts+i*planeLayoutStride:]
		binary.LittleEndian.PutUint32(slot, plane.OffsetInBytes)
		binary.LittleEndian.PutUint32(slot[4:], plane.StrideInBytes)
		binary.LittleEndian.PutUint32(slot[8:], plane.TotalSizeInBytes)
		slot[12] = plane.SampleIncrementInBytes
		slot[13] = plane.HorizontalShift | plane.VerticalShift<<4
		slot[14] = plane.ComponentsBase
		slot[15] = plane.ComponentsSize
	}

	for i, component := range components {
		slot := r.data[offComponents+i*componentStride:]
		binary.LittleEndian.PutUint32(slot, uint32(component.Type))
		binary.LittleEndian.PutUint16(slot[4:], component.OffsetInBits)
		binary.LittleEndian.PutUint16(slot[6:], component.SizeInBits)
	}

	r.data[offPlaneCount] = uint8(len(planes))
	return nil
}

// Smpte2086 returns the static HDR descriptor, or ok=false when it has
// been cleared.
func (r *Record) Smpte2086() (common.Smpte2086, bool) {
	if r.data[offHasSmpte2086] == 0 {
		return common.Smpte2086{}, false
	}

	slot := r.data[offSmpte2086:]
	return common.Smpte2086{
		PrimaryRed:   XyColorAt(slot, 0),
		PrimaryGreen: XyColorAt(slot, 8),
		PrimaryBlue:  XyColorAt(slot, 16),
		WhitePoint:   XyColorAt(slot, 24),
		MaxLuminance: float32At(slot, 32),
		MinLuminance: float32At(slot, 36),
	}, true
}

// SetSmpte2086 stores the descriptor; nil clears it.
func (r *Record) SetSmpte2086(value *common.Smpte2086) {
	if value == nil {
		r.data[offHasSmpte2086] = 0
		return
	}

	slot := r.data[offSmpte2086:]
	putXyColor(slot, 0, value.PrimaryRed)
	putXyColor(slot, 8, value.PrimaryGreen)
	putXyColor(slot, 16, value.PrimaryBlue)
	putXyColor(slot, 24, value.WhitePoint)
	putFloat32(slot, 32, value.MaxLuminance)
	putFloat32(slot, 36, value.MinLuminance)
	r.data[offHasSmpte2086] = 1
}

// Cta861_3 returns the content light level descriptor, or ok=false when it
// has been cleared.
func (r *Record) Cta861_3() (common.Cta861_3, bool) {
	if r.data[offHasCta861_3] == 0 {
		return common.Cta861_3{}, false
	}

	slot := r.data[offCta861_3:]
	return common.Cta861_3{
		MaxContentLightLevel:      float32At(slot, 0),
		MaxFrameAverageLightLevel: float32At(slot, 4),
	}, true
}

// SetCta861_3 stores the descriptor; nil clears it.
func (r *Record) SetCta861_3(value *common.Cta861_3) {
	if value == nil {
		r.data[offHasCta861_3] = 0
		return
	}

	slot := r.data[offCta861_3:]
	putFloat32(slot, 0, value.MaxContentLightLevel)
	putFloat32(slot, 4, value.MaxFrameAverageLightLevel)
	r.data[offHasCta861_3] = 1
}

func XyColorAt(data []byte, offset int) common.XyColor {
	return common.XyColor{
		X: float32At(data, offset),
		Y: float32At(data, offset+4),
	}
}

func putXyColor(data []byte, offset int, color common.XyColor) {
	putFloat32(data, offset, color.X)
	putFloat32(data, offset+4, color.Y)
}

func float32At(data []byte, offset int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[offset:]))
}

func putFloat32(data []byte, offset int, value float32) {
	binary.LittleEndian.PutUint32(data[offset:], math.Float32bits(value))
}
