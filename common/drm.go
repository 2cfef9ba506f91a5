package common

import "fmt"

// DRMFormat is a little-endian fourcc code naming a concrete pixel layout.
type DRMFormat uint32

func fourcc(a, b, c, d byte) DRMFormat {
	return DRMFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

const DRMFormatModLinear uint64 = 0

var (
	DRMFormatNone DRMFormat = 0

	DRMFormatABGR8888      = fourcc('A', 'B', '2', '4')
	DRMFormatXBGR8888      = fourcc('X', 'B', '2', '4')
	DRMFormatARGB8888      = fourcc('A', 'R', '2', '4')
	DRMFormatBGR888        = fourcc('B', 'G', '2', '4')
	DRMFormatBGR565        = fourcc('B', 'G', '1', '6')
	DRMFormatR16           = fourcc('R', '1', '6', ' ')
	DRMFormatYVU420        = fourcc('Y', 'V', '1', '2')
	DRMFormatYUV420        = fourcc('Y', 'U', '1', '2')
	DRMFormatYUV42010Bit   = fourcc('Y', 'U', '1', '0')
	DRMFormatABGR2101010   = fourcc('A', 'B', '3', '0')
	DRMFormatABGR16161616F = fourcc('A', 'B', '4', 'H')
)

func (f DRMFormat) String() string {
	if f == 0 {
		return "DRMFormatNone"
	}
	return fmt.Sprintf("%c%c%c%c", byte(f), byte(f>>8), byte(f>>16), byte(f>>24))
}
