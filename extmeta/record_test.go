package extmeta

import (
	"strings"
	"testing"

	"github.com/ranchu-emu/gralloc/common"
	"github.com/stretchr/testify/require"
)

func TestRecordSizeStaysAligned(t *testing.T) {
	require.Zero(t, RecordSize%16)
}

func TestAtRejectsShortRegions(t *testing.T) {
	_, err := At(make([]byte, RecordSize-1))
	require.Error(t, err)
}

func TestInitStampsMagic(t *testing.T) {
	region := make([]byte, RecordSize)
	record, err := Init(region)
	require.NoError(t, err)
	require.NoError(t, record.Validate())
	require.EqualValues(t, common.GLFormatNone, record.GLFormat())
	require.EqualValues(t, common.GLFormatNone, record.GLType())
}

func TestValidateRejectsUninitializedRegions(t *testing.T) {
	record, err := At(make([]byte, RecordSize))
	require.NoError(t, err)
	require.Error(t, record.Validate())
}

func TestScalarFieldsRoundTrip(t *testing.T) {
	record, err := Init(make([]byte, RecordSize))
	require.NoError(t, err)

	record.SetBufferID(0xDEADBEEF00000001)
	record.SetWidth(1920)
	record.SetHeight(1080)
	record.SetGLFormat(0x1908)
	record.SetGLType(0x1401)
	record.SetReservedRegionSize(64)
	record.SetDataspace(common.Dataspace(0x8C2))
	record.SetBlendMode(common.BlendModePremultiplied)

	require.EqualValues(t, uint64(0xDEADBEEF00000001), record.BufferID())
	require.EqualValues(t, 1920, record.Width())
	require.EqualValues(t, 1080, record.Height())
	require.EqualValues(t, 0x1908, record.GLFormat())
	require.EqualValues(t, 0x1401, record.GLType())
	require.EqualValues(t, 64, record.ReservedRegionSize())
	require.EqualValues(t, 0x8C2, record.Dataspace())
	require.Equal(t, common.BlendModePremultiplied, record.BlendMode())
}

func TestNameTruncatesToCapacity(t *testing.T) {
	record, err := Init(make([]byte, RecordSize))
	require.NoError(t, err)

	record.SetName("swapchain-image")
	require.Equal(t, "swapchain-image", record.Name())

	long := strings.Repeat("x", 300)
	record.SetName(long)
	require.Equal(t, long[:MaxNameLength], record.Name())

	// A shorter name must not leak tail bytes of the longer one.
	record.SetName("short")
	require.Equal(t, "short", record.Name())
}

func TestPlaneLayoutsRoundTrip(t *testing.T) {
	record, err := Init(make([]byte, RecordSize))
	require.NoError(t, err)

	planes := []PlaneLayout{
		{
			OffsetInBytes:          0,
			StrideInBytes:          640,
			TotalSizeInBytes:       307200,
			SampleIncrementInBytes: 1,
			ComponentsBase:         0,
			ComponentsSize:         1,
		},
		{
			OffsetInBytes:          307200,
			StrideInBytes:          320,
			TotalSizeInBytes:       76800,
			SampleIncrementInBytes: 1,
			HorizontalShift:        1,
			VerticalShift:          1,
			ComponentsBase:         1,
			ComponentsSize:         1,
		},
		{
			OffsetInBytes:          384000,
			StrideInBytes:          320,
			TotalSizeInBytes:       76800,
			SampleIncrementInBytes: 1,
			HorizontalShift:        1,
			VerticalShift:          1,
			ComponentsBase:         2,
			ComponentsSize:         1,
		},
	}
	components := []PlaneLayoutComponent{
		{Type: common.PlaneComponentY, OffsetInBits: 0, SizeInBits: 8},
		{Type: common.PlaneComponentCr, OffsetInBits: 0, SizeInBits: 8},
		{Type: common.PlaneComponentCb, OffsetInBits: 0, SizeInBits: 8},
	}

	require.NoError(t, record.SetPlaneLayouts(planes, components))
	require.Equal(t, 3, record.PlaneCount())

	gotPlanes, gotComponents := record.PlaneLayouts()
	require.Equal(t, planes, gotPlanes)
	require.Equal(t, components, gotComponents)
}

func TestPlaneLayoutsRejectOverflow(t *testing.T) {
	record, err := Init(make([]byte, RecordSize))
	require.NoError(t, err)

	tooManyPlanes := make([]PlaneLayout, MaxPlanes+1)
	require.Error(t, record.SetPlaneLayouts(tooManyPlanes, nil))

	tooManyComponents := make([]PlaneLayoutComponent, MaxPlaneComponents+1)
	require.Error(t, record.SetPlaneLayouts(nil, tooManyComponents))

	wideShift := []PlaneLayout{{HorizontalShift: 16}}
	require.Error(t, record.SetPlaneLayouts(wideShift, nil))
}

func TestHdrDescriptorsSetAndClear(t *testing.T) {
	record, err := Init(make([]byte, RecordSize))
	require.NoError(t, err)

	_, ok := record.Smpte2086()
	require.False(t, ok)
	_, ok = record.Cta861_3()
	require.False(t, ok)

	smpte := common.Smpte2086{
		PrimaryRed:   common.XyColor{X: 0.680, Y: 0.320},
		PrimaryGreen: common.XyColor{X: 0.265, Y: 0.690},
		PrimaryBlue:  common.XyColor{X: 0.150, Y: 0.060},
		WhitePoint:   common.XyColor{X: 0.3127, Y: 0.3290},
		MaxLuminance: 1000,
		MinLuminance: 0.005,
	}
	record.SetSmpte2086(&smpte)
	got, ok := record.Smpte2086()
	require.True(t, ok)
	require.Equal(t, smpte, got)

	cta := common.Cta861_3{MaxContentLightLevel: 1000, MaxFrameAverageLightLevel: 400}
	record.SetCta861_3(&cta)
	gotCta, ok := record.Cta861_3()
	require.True(t, ok)
	require.Equal(t, cta, gotCta)

	record.SetSmpte2086(nil)
	_, ok = record.Smpte2086()
	require.False(t, ok)
	record.SetCta861_3(nil)
	_, ok = record.Cta861_3()
	require.False(t, ok)
}

func TestMutationsShareTheRegion(t *testing.T) {
	region := make([]byte, RecordSize)
	first, err := Init(region)
	require.NoError(t, err)

	second, err := At(region)
	require.NoError(t, err)
	require.NoError(t, second.Validate())

	first.SetWidth(640)
	first.SetDataspace(common.Dataspace(2))
	require.EqualValues(t, 640, second.Width())
	require.EqualValues(t, 2, second.Dataspace())
}
