package allocator

import (
	"github.com/cockroachdb/errors"
	"github.com/ranchu-emu/gralloc/common"
)

// DescriptorInfo describes one requested buffer.
type DescriptorInfo struct {
	Name              string
	Width             int32
	Height            int32
	LayerCount        int32
	Format            common.PixelFormat
	Usage             common.BufferUsage
	ReservedSize      int64
	AdditionalOptions []string
}

// validate rejects malformed descriptors with StatusBadDescriptor. Format
// support is judged separately.
func (d *DescriptorInfo) validate() error {
	if d.Width <= 0 {
		return errors.Wrapf(common.StatusBadDescriptor, "width is %d", d.Width)
	}
	if d.Height <= 0 {
		return errors.Wrapf(common.StatusBadDescriptor, "height is %d", d.Height)
	}
	if d.LayerCount != 1 {
		return errors.Wrapf(common.StatusBadDescriptor, "layer count is %d, only single-layer buffers are supported", d.LayerCount)
	}
	if d.ReservedSize < 0 {
		return errors.Wrapf(common.StatusBadDescriptor, "reserved size is %d", d.ReservedSize)
	}
	if len(d.AdditionalOptions) > 0 {
		return errors.Wrapf(common.StatusBadDescriptor, "%d additional options requested, none are supported", len(d.AdditionalOptions))
	}
	if d.Usage.HasReservedBits() {
		return errors.Wrapf(common.StatusBadDescriptor, "usage %s carries reserved bits", d.Usage)
	}
	return nil
}

// resolveFormat returns the format-table entry for the descriptor, or
// StatusUnsupported when the format is unknown or cannot carry the
// requested GPU usage.
func (d *DescriptorInfo) resolveFormat() (*formatProperties, error) {
	properties, ok := formatTable[d.Format]
	if !ok {
		return nil, errors.Wrapf(common.StatusUnsupported, "no layout for format %s", d.Format)
	}
	if d.Usage.HasGPU() && !properties.gpuCapable {
		return nil, errors.Wrapf(common.StatusUnsupported, "format %s cannot back a color buffer but usage is %s", d.Format, d.Usage)
	}
	return &properties, nil
}
