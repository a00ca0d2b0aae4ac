package codec

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

var bufPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// Writer appends msgpack-encoded values to an in-memory buffer.
//
// Writer shadows the msgpack encode methods with variants that don't return
// errors. The first failure is kept and reported by Err, so record encoders
// can write a whole structure and check once at the end.
type Writer struct {
	enc *msgpack.Encoder
	buf *bytes.Buffer
	err error
}

// NewWriter returns a Writer backed by a pooled buffer.
// Call Release when the encoded bytes are no longer needed.
func NewWriter() *Writer {
	enc := msgpack.GetEncoder()
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	enc.Reset(buf)
	enc.UseCompactInts(true)

	return &Writer{enc: enc, buf: buf}
}

// Release returns the encoder and buffer to their pools.
func (w *Writer) Release() {
	msgpack.PutEncoder(w.enc)
	w.buf.Reset()
	bufPool.Put(w.buf)
	w.enc = nil
	w.buf = nil
}

// Bytes returns a copy of the encoded bytes.
func (w *Writer) Bytes() []byte {
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Err returns the first encode error, if any.
func (w *Writer) Err() error {
	return w.err
}

// Fail records err unless an earlier error is already recorded.
func (w *Writer) Fail(err error) {
	if w.err == nil && err != nil {
		w.err = err
	}
}

func (w *Writer) keep(err error) {
	if w.err == nil && err != nil {
		w.err = fmt.Errorf("%w: %v", ErrEncode, err)
	}
}

// WriteBool encodes a boolean.
func (w *Writer) WriteBool(v bool) { w.keep(w.enc.EncodeBool(v)) }

// WriteInt encodes a signed integer.
func (w *Writer) WriteInt(v int64) { w.keep(w.enc.EncodeInt(v)) }

// WriteUint encodes an unsigned integer.
func (w *Writer) WriteUint(v uint64) { w.keep(w.enc.EncodeUint(v)) }

// WriteUint8 encodes a small enum value.
func (w *Writer) WriteUint8(v uint8) { w.keep(w.enc.EncodeUint8(v)) }

// WriteFloat encodes a float64.
func (w *Writer) WriteFloat(v float64) { w.keep(w.enc.EncodeFloat64(v)) }

// WriteString encodes a string.
func (w *Writer) WriteString(v string) { w.keep(w.enc.EncodeString(v)) }

// WriteBytes encodes a byte slice. A nil slice round-trips as nil.
func (w *Writer) WriteBytes(v []byte) { w.keep(w.enc.EncodeBytes(v)) }

// WriteLen encodes an array length prefix.
func (w *Writer) WriteLen(n int) { w.keep(w.enc.EncodeArrayLen(n)) }

// WriteMapLen encodes a map length prefix.
func (w *Writer) WriteMapLen(n int) { w.keep(w.enc.EncodeMapLen(n)) }

// WriteRaw appends bytes without any framing.
func (w *Writer) WriteRaw(b []byte) {
	if _, err := w.buf.Write(b); err != nil {
		w.keep(err)
	}
}

// Reader decodes values written by Writer.
//
// Like Writer it keeps the first error; after a failure every read returns
// the zero value. Version is the context every nested object decode drawn
// from this stream must use.
type Reader struct {
	dec     *msgpack.Decoder
	src     *bytes.Reader
	err     error
	Version VersionContext
}

// NewReader returns a Reader over b using the given version context.
func NewReader(b []byte, version VersionContext) *Reader {
	src := bytes.NewReader(b)
	dec := msgpack.GetDecoder()
	dec.Reset(src)
	return &Reader{dec: dec, src: src, Version: version}
}

// Release returns the decoder to its pool.
func (r *Reader) Release() {
	msgpack.PutDecoder(r.dec)
	r.dec = nil
}

// Err returns the first decode error, if any.
func (r *Reader) Err() error {
	return r.err
}

// Fail records err unless an earlier error is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return r.src.Len()
}

func (r *Reader) keep(err error) bool {
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return false
	}
	return true
}

// ReadBool decodes a boolean.
func (r *Reader) ReadBool() bool {
	if r.err != nil {
		return false
	}
	v, err := r.dec.DecodeBool()
	r.keep(err)
	return v
}

// ReadInt decodes a signed integer.
func (r *Reader) ReadInt() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeInt64()
	r.keep(err)
	return v
}

// ReadUint decodes an unsigned integer.
func (r *Reader) ReadUint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeUint64()
	r.keep(err)
	return v
}

// ReadUint8 decodes a small enum value.
func (r *Reader) ReadUint8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeUint8()
	r.keep(err)
	return v
}

// ReadFloat decodes a float64.
func (r *Reader) ReadFloat() float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeFloat64()
	r.keep(err)
	return v
}

// ReadString decodes a string.
func (r *Reader) ReadString() string {
	if r.err != nil {
		return ""
	}
	v, err := r.dec.DecodeString()
	r.keep(err)
	return v
}

// ReadBytes decodes a byte slice.
func (r *Reader) ReadBytes() []byte {
	if r.err != nil {
		return nil
	}
	v, err := r.dec.DecodeBytes()
	r.keep(err)
	return v
}

// ReadLen decodes an array length prefix. A nil array reads as zero.
func (r *Reader) ReadLen() int {
	if r.err != nil {
		return 0
	}
	n, err := r.dec.DecodeArrayLen()
	if !r.keep(err) || n < 0 {
		return 0
	}
	return n
}

// ReadMapLen decodes a map length prefix. A nil map reads as zero.
func (r *Reader) ReadMapLen() int {
	if r.err != nil {
		return 0
	}
	n, err := r.dec.DecodeMapLen()
	if !r.keep(err) || n < 0 {
		return 0
	}
	return n
}
