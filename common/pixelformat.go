package common

import "fmt"

// PixelFormat is the client-facing format tag carried in allocation
// descriptors and buffer handles. Values match the platform's pixel
// format constants so handles survive process boundaries unchanged.
type PixelFormat int32

const (
	PixelFormatRGBA8888              PixelFormat = 1
	PixelFormatRGBX8888              PixelFormat = 2
	PixelFormatRGB888                PixelFormat = 3
	PixelFormatRGB565                PixelFormat = 4
	PixelFormatBGRA8888              PixelFormat = 5
	PixelFormatYCrCb420SP            PixelFormat = 0x11
	PixelFormatRGBAFP16              PixelFormat = 0x16
	PixelFormatRAW16                 PixelFormat = 0x20
	PixelFormatBlob                  PixelFormat = 0x21
	PixelFormatImplementationDefined PixelFormat = 0x22
	PixelFormatYCbCr420888           PixelFormat = 0x23
	PixelFormatRGBA1010102           PixelFormat = 0x2B
	PixelFormatYCbCrP010             PixelFormat = 0x36
	PixelFormatY16                   PixelFormat = 0x20363159
	PixelFormatYV12                  PixelFormat = 0x32315659
)

var pixelFormatMapping = make(map[PixelFormat]string)

func (f PixelFormat) String() string {
	str, ok := pixelFormatMapping[f]
	if !ok {
		return fmt.Sprintf("PixelFormat(0x%x)", int32(f))
	}
	return str
}

// IsYUV reports whether the format carries chroma-subsampled planes.
func (f PixelFormat) IsYUV() bool {
	switch f {
	case PixelFormatYCrCb420SP, PixelFormatYV12, PixelFormatYCbCr420888, PixelFormatYCbCrP010:
		return true
	}
	return false
}

func init() {
	pixelFormatMapping[PixelFormatRGBA8888] = "PixelFormatRGBA8888"
	pixelFormatMapping[PixelFormatRGBX8888] = "PixelFormatRGBX8888"
	pixelFormatMapping[PixelFormatRGB888] = "PixelFormatRGB888"
	pixelFormatMapping[PixelFormatRGB565] = "PixelFormatRGB565"
	pixelFormatMapping[PixelFormatBGRA8888] = "PixelFormatBGRA8888"
	pixelFormatMapping[PixelFormatYCrCb420SP] = "PixelFormatYCrCb420SP"
	pixelFormatMapping[PixelFormatRGBAFP16] = "PixelFormatRGBAFP16"
	pixelFormatMapping[PixelFormatRAW16] = "PixelFormatRAW16"
	pixelFormatMapping[PixelFormatBlob] = "PixelFormatBlob"
	pixelFormatMapping[PixelFormatImplementationDefined] = "PixelFormatImplementationDefined"
	pixelFormatMapping[PixelFormatYCbCr420888] = "PixelFormatYCbCr420888"
	pixelFormatMapping[PixelFormatRGBA1010102] = "PixelFormatRGBA1010102"
	pixelFormatMapping[PixelFormatYCbCrP010] = "PixelFormatYCbCrP010"
	pixelFormatMapping[PixelFormatY16] = "PixelFormatY16"
	pixelFormatMapping[PixelFormatYV12] = "PixelFormatYV12"
}
