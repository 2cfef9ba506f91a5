package mapper

import (
	"github.com/cockroachdb/errors"
	"github.com/ranchu-emu/gralloc/cb"
	"github.com/ranchu-emu/gralloc/common"
	"github.com/ranchu-emu/gralloc/extmeta"
	"github.com/ranchu-emu/gralloc/internal/debug"
	"github.com/ranchu-emu/gralloc/metawire"
	"golang.org/x/exp/slog"
)

// MetadataTypeDescription names one supported metadata slot and its
// access directions.
type MetadataTypeDescription struct {
	Type     common.MetadataType
	Gettable bool
	Settable bool
}

var metadataTypeDescriptions = []MetadataTypeDescription{
	{Type: common.StandardMetadataBufferID.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataName.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataWidth.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataHeight.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataLayerCount.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataPixelFormatRequested.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataPixelFormatFourCC.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataPixelFormatModifier.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataUsage.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataAllocationSize.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataProtectedContent.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataCompression.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataInterlaced.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataChromaSiting.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataPlaneLayouts.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataCrop.MetadataType(), Gettable: true},
	{Type: common.StandardMetadataDataspace.MetadataType(), Gettable: true, Settable: true},
	{Type: common.StandardMetadataBlendMode.MetadataType(), Gettable: true, Settable: true},
	{Type: common.StandardMetadataSmpte2086.MetadataType(), Gettable: true, Settable: true},
	{Type: common.StandardMetadataCta861_3.MetadataType(), Gettable: true, Settable: true},
	{Type: common.StandardMetadataStride.MetadataType(), Gettable: true},
}

// SupportedMetadataTypes lists every metadata slot the mapper serves.
// The returned slice is shared; callers must not mutate it.
func SupportedMetadataTypes() []MetadataTypeDescription {
	return metadataTypeDescriptions
}

// GetMetadata encodes one metadata value into dst and returns the byte
// count the encoded form needs. When dst is too small nothing past its
// end is written and the caller retries with the returned size.
func (m *Mapper) GetMetadata(handle *cb.Handle, metadataType common.MetadataType, dst []byte) (int, error) {
	if !metadataType.IsStandard() {
		return 0, errors.Wrapf(common.StatusUnsupported, "unknown metadata tag %q", metadataType.Name)
	}
	return m.GetStandardMetadata(handle, common.StandardMetadataType(metadataType.Value), dst)
}

// GetStandardMetadata is GetMetadata for the standard slots.
func (m *Mapper) GetStandardMetadata(handle *cb.Handle, metadataType common.StandardMetadataType, dst []byte) (int, error) {
	record := m.lookup(handle)
	if record == nil {
		return 0, errors.Wrap(common.StatusBadBuffer, "metadata of an unknown handle")
	}

	// Dry-run sizing probes are not worth a log line.
	if len(dst) > 0 && m.debugLevel >= debug.LevelMetadata {
		m.logger.Debug("reading metadata",
			slog.Uint64("bufferID", record.BufferID()),
			slog.String("type", metadataType.String()),
		)
	}

	writer := metawire.NewWriter(dst)
	err := encodeStandardMetadata(writer, handle, record, metadataType)
	if err != nil {
		return 0, err
	}
	return writer.DesiredSize(), nil
}

func encodeStandardMetadata(
	writer *metawire.Writer,
	handle *cb.Handle,
	record *extmeta.Record,
	metadataType common.StandardMetadataType,
) error {
	header := func() {
		writer.WriteMetadataType(metadataType.MetadataType())
	}

	switch metadataType {
	case common.StandardMetadataBufferID:
		header()
		writer.WriteUint64(record.BufferID())

	case common.StandardMetadataName:
		header()
		writer.WriteString(record.Name())

	case common.StandardMetadataWidth:
		header()
		writer.WriteUint64(uint64(record.Width()))

	case common.StandardMetadataHeight:
		header()
		writer.WriteUint64(uint64(record.Height()))

	case common.StandardMetadataLayerCount:
		header()
		writer.WriteUint64(1)

	case common.StandardMetadataPixelFormatRequested:
		header()
		writer.WriteUint32(uint32(handle.Format))

	case common.StandardMetadataPixelFormatFourCC:
		header()
		writer.WriteUint32(uint32(handle.DRMFormat))

	case common.StandardMetadataPixelFormatModifier:
		header()
		writer.WriteUint64(common.DRMFormatModLinear)

	case common.StandardMetadataUsage:
		header()
		writer.WriteUint64(uint64(handle.Usage))

	case common.StandardMetadataAllocationSize:
		header()
		writer.WriteUint64(uint64(handle.MmapedSize))

	case common.StandardMetadataProtectedContent:
		header()
		value := uint64(0)
		if handle.Usage&common.BufferUsageProtected != 0 {
			value = 1
		}
		writer.WriteUint64(value)

	case common.StandardMetadataCompression:
		header()
		writer.WriteMetadataType(common.MetadataType{
			Name:  common.CompressionTypeName,
			Value: common.CompressionNone,
		})

	case common.StandardMetadataInterlaced:
		header()
		writer.WriteMetadataType(common.MetadataType{
			Name:  common.InterlacedTypeName,
			Value: common.InterlacedNone,
		})

	case common.StandardMetadataChromaSiting:
		header()
		siting := common.ChromaSitingNone
		if handle.Format.IsYUV() {
			siting = common.ChromaSitingSitedInterstitial
		}
		writer.WriteMetadataType(common.MetadataType{
			Name:  common.ChromaSitingTypeName,
			Value: siting,
		})

	case common.StandardMetadataPlaneLayouts:
		planes, components := record.PlaneLayouts()
		if len(planes) == 0 {
			return errors.Wrap(common.StatusUnsupported, "buffer has no image planes")
		}

		header()
		writer.WriteInt64(int64(len(planes)))
		for _, plane := range planes {
			planeComponents := components[plane.ComponentsBase : int(plane.ComponentsBase)+int(plane.ComponentsSize)]
			writer.WriteInt64(int64(len(planeComponents)))
			for _, component := range planeComponents {
				writer.WriteMetadataType(common.MetadataType{
					Name:  common.PlaneLayoutComponentTypeName,
					Value: int64(component.Type),
				})
				writer.WriteInt64(int64(component.OffsetInBits))
				writer.WriteInt64(int64(component.SizeInBits))
			}

			horizontalSubsampling := int64(1) << plane.HorizontalShift
			verticalSubsampling := int64(1) << plane.VerticalShift
			writer.WriteInt64(int64(plane.OffsetInBytes))
			writer.WriteInt64(int64(plane.SampleIncrementInBytes) * 8)
			writer.WriteInt64(int64(plane.StrideInBytes))
			writer.WriteInt64(int64(record.Width()) / horizontalSubsampling)
			writer.WriteInt64(int64(record.Height()) / verticalSubsampling)
			writer.WriteInt64(int64(plane.TotalSizeInBytes))
			writer.WriteInt64(horizontalSubsampling)
			writer.WriteInt64(verticalSubsampling)
		}

	case common.StandardMetadataCrop:
		planeCount := record.PlaneCount()
		if planeCount == 0 {
			return errors.Wrap(common.StatusUnsupported, "buffer has no image planes")
		}

		header()
		writer.WriteUint64(uint64(planeCount))
		for i := 0; i < planeCount; i++ {
			// The platform metadata parser consumes crop rectangles as
			// int32 even though the slot is declared uint64.
			writer.WriteInt32(0)
			writer.WriteInt32(0)
			writer.WriteInt32(int32(record.Width()))
			writer.WriteInt32(int32(record.Height()))
		}

	case common.StandardMetadataDataspace:
		header()
		writer.WriteInt32(int32(record.Dataspace()))

	case common.StandardMetadataBlendMode:
		header()
		writer.WriteInt32(int32(record.BlendMode()))

	case common.StandardMetadataSmpte2086:
		value, ok := record.Smpte2086()
		if ok {
			header()
			writer.WriteFloat32(value.PrimaryRed.X)
			writer.WriteFloat32(value.PrimaryRed.Y)
			writer.WriteFloat32(value.PrimaryGreen.X)
			writer.WriteFloat32(value.PrimaryGreen.Y)
			writer.WriteFloat32(value.PrimaryBlue.X)
			writer.WriteFloat32(value.PrimaryBlue.Y)
			writer.WriteFloat32(value.WhitePoint.X)
			writer.WriteFloat32(value.WhitePoint.Y)
			writer.WriteFloat32(value.MaxLuminance)
			writer.WriteFloat32(value.MinLuminance)
		}

	case common.StandardMetadataCta861_3:
		value, ok := record.Cta861_3()
		if ok {
			header()
			writer.WriteFloat32(value.MaxContentLightLevel)
			writer.WriteFloat32(value.MaxFrameAverageLightLevel)
		}

	case common.StandardMetadataStride:
		stride := uint32(0)
		planes, _ := record.PlaneLayouts()
		if len(planes) == 1 {
			stride = planes[0].StrideInBytes / uint32(planes[0].SampleIncrementInBytes)
		}
		header()
		writer.WriteUint32(stride)

	default:
		return errors.Wrapf(common.StatusUnsupported, "metadata type %s is not served", metadataType)
	}
	return nil
}

// SetMetadata updates one mutable metadata slot from its encoded form.
func (m *Mapper) SetMetadata(handle *cb.Handle, metadataType common.MetadataType, payload []byte) error {
	if !metadataType.IsStandard() {
		return errors.Wrapf(common.StatusUnsupported, "unknown metadata tag %q", metadataType.Name)
	}
	return m.SetStandardMetadata(handle, common.StandardMetadataType(metadataType.Value), payload)
}

// SetStandardMetadata is SetMetadata for the standard slots. Only
// Dataspace, BlendMode, Smpte2086, and Cta861_3 are mutable; the two HDR
// slots treat an empty payload as a clear.
func (m *Mapper) SetStandardMetadata(handle *cb.Handle, metadataType common.StandardMetadataType, payload []byte) error {
	record := m.lookup(handle)
	if record == nil {
		return errors.Wrap(common.StatusBadBuffer, "metadata of an unknown handle")
	}

	if m.debugLevel >= debug.LevelMetadata {
		m.logger.Debug("writing metadata",
			slog.Uint64("bufferID", record.BufferID()),
			slog.String("type", metadataType.String()),
		)
	}

	reader := metawire.NewReader(payload)
	badValue := func() error {
		return errors.Wrapf(common.StatusBadValue,
			"malformed %s payload for buffer %d", metadataType, record.BufferID())
	}
	checkHeader := func() bool {
		header := reader.MetadataType()
		return reader.Err() == nil &&
			header.Name == common.StandardMetadataTypeName &&
			header.Value == int64(metadataType)
	}

	switch metadataType {
	case common.StandardMetadataDataspace:
		if !checkHeader() {
			return badValue()
		}
		value := reader.Int32()
		if reader.Err() != nil {
			return badValue()
		}
		record.SetDataspace(common.Dataspace(value))

	case common.StandardMetadataBlendMode:
		if !checkHeader() {
			return badValue()
		}
		value := reader.Int32()
		if reader.Err() != nil {
			return badValue()
		}
		record.SetBlendMode(common.BlendMode(value))

	case common.StandardMetadataSmpte2086:
		if reader.Remaining() == 0 {
			record.SetSmpte2086(nil)
			break
		}
		if !checkHeader() {
			return badValue()
		}
		value := common.Smpte2086{
			PrimaryRed:   common.XyColor{X: reader.Float32(), Y: reader.Float32()},
			PrimaryGreen: common.XyColor{X: reader.Float32(), Y: reader.Float32()},
			PrimaryBlue:  common.XyColor{X: reader.Float32(), Y: reader.Float32()},
			WhitePoint:   common.XyColor{X: reader.Float32(), Y: reader.Float32()},
			MaxLuminance: reader.Float32(),
			MinLuminance: reader.Float32(),
		}
		if reader.Err() != nil {
			return badValue()
		}
		record.SetSmpte2086(&value)

	case common.StandardMetadataCta861_3:
		if reader.Remaining() == 0 {
			record.SetCta861_3(nil)
			break
		}
		if !checkHeader() {
			return badValue()
		}
		value := common.Cta861_3{
			MaxContentLightLevel:      reader.Float32(),
			MaxFrameAverageLightLevel: reader.Float32(),
		}
		if reader.Err() != nil {
			return badValue()
		}
		record.SetCta861_3(&value)

	default:
		return errors.Wrapf(common.StatusUnsupported, "metadata type %s is not settable", metadataType)
	}
	return nil
}
