package metawire

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/ranchu-emu/gralloc/common"
)

// Reader consumes the byte encoding produced by Writer. The first
// malformed or truncated field sticks as Err; subsequent reads return
// zero values.
type Reader struct {
	src []byte
	off int
	err error
}

func NewReader(src []byte) *Reader {
	return &Reader{src: src}
}

func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the unread byte count.
func (r *Reader) Remaining() int {
	return len(r.src) - r.off
}

func (r *Reader) take(size int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+size > len(r.src) {
		r.err = errors.Newf("metadata payload truncated at byte %d, need %d more", r.off, r.off+size-len(r.src))
		return nil
	}

	slot := r.src[r.off : r.off+size]
	r.off += size
	return slot
}

func (r *Reader) Uint32() uint32 {
	slot := r.take(4)
	if slot == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(slot)
}

func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

func (r *Reader) Uint64() uint64 {
	slot := r.take(8)
	if slot == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(slot)
}

func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

func (r *Reader) Float32() float32 {
	return math.Float32frombits(r.Uint32())
}

func (r *Reader) String() string {
	length := r.Uint32()
	if r.err != nil {
		return ""
	}

	padded := (int(length) + 3) &^ 3
	slot := r.take(padded)
	if slot == nil {
		return ""
	}
	return string(slot[:length])
}

func (r *Reader) MetadataType() common.MetadataType {
	name := r.String()
	value := r.Int64()
	return common.MetadataType{Name: name, Value: value}
}
