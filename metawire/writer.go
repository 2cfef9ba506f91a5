package metawire

import (
	"encoding/binary"
	"math"

	"github.com/ranchu-emu/gralloc/common"
)

// Writer appends metadata values to a caller-supplied buffer in the
// platform's byte encoding: integers little-endian fixed width, strings a
// u32 byte length plus contents padded to a 4-byte boundary.
//
// The writer always accounts the full encoded size, but stores a value
// only while the buffer still fits everything written so far. Callers run
// the same sequence against a nil buffer to learn the required size.
type Writer struct {
	dst     []byte
	desired int
}

func NewWriter(dst []byte) *Writer {
	return &Writer{dst: dst}
}

// DesiredSize returns the byte count the sequence written so far encodes
// to, whether or not it fit.
func (w *Writer) DesiredSize() int {
	return w.desired
}

// Fits reports whether everything written so far landed in the buffer.
func (w *Writer) Fits() bool {
	return w.desired <= len(w.dst)
}

func (w *Writer) reserve(size int) []byte {
	at := w.desired
	w.desired += size
	if w.desired > len(w.dst) {
		return nil
	}
	return w.dst[at : at+size]
}

func (w *Writer) WriteUint32(value uint32) {
	slot := w.reserve(4)
	if slot != nil {
		binary.LittleEndian.PutUint32(slot, value)
	}
}

func (w *Writer) WriteInt32(value int32) {
	w.WriteUint32(uint32(value))
}

func (w *Writer) WriteUint64(value uint64) {
	slot := w.reserve(8)
	if slot != nil {
		binary.LittleEndian.PutUint64(slot, value)
	}
}

func (w *Writer) WriteInt64(value int64) {
	w.WriteUint64(uint64(value))
}

func (w *Writer) WriteFloat32(value float32) {
	w.WriteUint32(math.Float32bits(value))
}

// WriteString encodes the length prefix and contents, padding the
// contents to the next 4-byte boundary with zeroes.
func (w *Writer) WriteString(value string) {
	w.WriteUint32(uint32(len(value)))

	padded := (len(value) + 3) &^ 3
	slot := w.reserve(padded)
	if slot != nil {
		copied := copy(slot, value)
		for i := copied; i < padded; i++ {
			slot[i] = 0
		}
	}
}

// WriteMetadataType encodes a namespace tag and value pair.
func (w *Writer) WriteMetadataType(metadataType common.MetadataType) {
	w.WriteString(metadataType.Name)
	w.WriteInt64(metadataType.Value)
}
