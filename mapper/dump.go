package mapper

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/ranchu-emu/gralloc/cb"
	"github.com/ranchu-emu/gralloc/common"
	"github.com/ranchu-emu/gralloc/extmeta"
)

// dumpBufferInitialSize is the starting scratch size for metadata
// dumps. A single PlaneLayouts record for a three-plane format fits; the
// dump grows the buffer once if a value reports a larger desired size.
const dumpBufferInitialSize = 1024

// DumpMetadataFunc receives one encoded metadata value during a dump.
// The byte slice is only valid for the duration of the call.
type DumpMetadataFunc func(metadataType common.MetadataType, encoded []byte)

// DumpBuffer feeds every gettable metadata value of one imported buffer
// to callback.
func (m *Mapper) DumpBuffer(handle *cb.Handle, callback DumpMetadataFunc) error {
	if m.lookup(handle) == nil {
		return errors.Wrap(common.StatusBadBuffer, "dumping an unknown handle")
	}

	scratch := make([]byte, dumpBufferInitialSize)
	m.dumpBufferMetadata(handle, callback, &scratch)
	return nil
}

// DumpAllBuffers dumps every imported buffer. begin is called once per
// buffer before its metadata values. The imported set is locked for the
// whole walk, so no import or free can interleave.
func (m *Mapper) DumpAllBuffers(begin func(), callback DumpMetadataFunc) {
	scratch := make([]byte, dumpBufferInitialSize)

	m.importedMutex.Lock()
	defer m.importedMutex.Unlock()
	m.imported.Iter(func(handle *cb.Handle, _ struct{}) bool {
		begin()
		m.dumpBufferMetadata(handle, callback, &scratch)
		return false
	})
}

func (m *Mapper) dumpBufferMetadata(handle *cb.Handle, callback DumpMetadataFunc, scratch *[]byte) {
	for _, description := range metadataTypeDescriptions {
		if !description.Gettable {
			continue
		}
		metadataType := common.StandardMetadataType(description.Type.Value)

		desired, err := m.GetStandardMetadata(handle, metadataType, *scratch)
		if err != nil {
			// Unsupported for this buffer, e.g. PlaneLayouts without
			// an image region.
			continue
		}
		if desired > len(*scratch) {
			*scratch = make([]byte, desired)
			desired, err = m.GetStandardMetadata(handle, metadataType, *scratch)
			if err != nil || desired > len(*scratch) {
				panic("metadata grew between sizing and writing")
			}
		}
		callback(description.Type, (*scratch)[:desired])
	}
}

// DumpBufferJSON renders one imported buffer's metadata as a JSON
// object.
func (m *Mapper) DumpBufferJSON(handle *cb.Handle) (string, error) {
	record := m.lookup(handle)
	if record == nil {
		return "", errors.Wrap(common.StatusBadBuffer, "dumping an unknown handle")
	}

	writer := jwriter.NewWriter()
	obj := writer.Object()
	printBufferParameters(&obj, handle, record)
	obj.End()

	err := writer.Error()
	if err != nil {
		return "", err
	}
	return string(writer.Bytes()), nil
}

// DumpAllBuffersJSON renders every imported buffer as one JSON array,
// holding the imported set locked for the whole walk.
func (m *Mapper) DumpAllBuffersJSON() (string, error) {
	writer := jwriter.NewWriter()
	arr := writer.Array()

	m.importedMutex.Lock()
	m.imported.Iter(func(handle *cb.Handle, _ struct{}) bool {
		obj := arr.Object()
		printBufferParameters(&obj, handle, m.mustRecord(handle))
		obj.End()
		return false
	})
	m.importedMutex.Unlock()

	arr.End()
	err := writer.Error()
	if err != nil {
		return "", err
	}
	return string(writer.Bytes()), nil
}

func printBufferParameters(json *jwriter.ObjectState, handle *cb.Handle, record *extmeta.Record) {
	json.Name("BufferID").Int(int(record.BufferID()))
	json.Name("Name").String(record.Name())
	json.Name("Width").Int(int(record.Width()))
	json.Name("Height").Int(int(record.Height()))
	json.Name("Format").String(handle.Format.String())
	json.Name("DRMFormat").String(handle.DRMFormat.String())
	json.Name("Usage").String(handle.Usage.String())
	json.Name("AllocationSize").Int(int(handle.MmapedSize))
	json.Name("HostHandle").Int(int(handle.HostHandle))
	json.Name("Dataspace").Int(int(record.Dataspace()))
	json.Name("BlendMode").Int(int(record.BlendMode()))
	json.Name("ReservedRegionSize").Int(int(record.ReservedRegionSize()))

	planes, components := record.PlaneLayouts()
	planesArr := json.Name("Planes").Array()
	for _, plane := range planes {
		planeObj := planesArr.Object()
		planeObj.Name("OffsetInBytes").Int(int(plane.OffsetInBytes))
		planeObj.Name("StrideInBytes").Int(int(plane.StrideInBytes))
		planeObj.Name("TotalSizeInBytes").Int(int(plane.TotalSizeInBytes))
		planeObj.Name("SampleIncrementInBytes").Int(int(plane.SampleIncrementInBytes))
		planeObj.Name("HorizontalSubsampling").Int(1 << plane.HorizontalShift)
		planeObj.Name("VerticalSubsampling").Int(1 << plane.VerticalShift)

		componentsArr := planeObj.Name("Components").Array()
		for _, component := range components[plane.ComponentsBase : int(plane.ComponentsBase)+int(plane.ComponentsSize)] {
			componentObj := componentsArr.Object()
			componentObj.Name("Type").Int(int(component.Type))
			componentObj.Name("OffsetInBits").Int(int(component.OffsetInBits))
			componentObj.Name("SizeInBits").Int(int(component.SizeInBits))
			componentObj.End()
		}
		componentsArr.End()
		planeObj.End()
	}
	planesArr.End()

	if smpte, ok := record.Smpte2086(); ok {
		smpteObj := json.Name("Smpte2086").Object()
		smpteObj.Name("MaxLuminance").Float64(float64(smpte.MaxLuminance))
		smpteObj.Name("MinLuminance").Float64(float64(smpte.MinLuminance))
		smpteObj.End()
	}
	if cta, ok := record.Cta861_3(); ok {
		ctaObj := json.Name("Cta861_3").Object()
		ctaObj.Name("MaxContentLightLevel").Float64(float64(cta.MaxContentLightLevel))
		ctaObj.Name("MaxFrameAverageLightLevel").Float64(float64(cta.MaxFrameAverageLightLevel))
		ctaObj.End()
	}
}
