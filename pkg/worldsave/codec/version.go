package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FormatTag marks a versioned blob. Blobs written before versioning start
// directly with their body.
const FormatTag uint32 = 0x56415357 // "WSAV" little-endian

const (
	// SchemaVersion is the schema version written by this build.
	SchemaVersion uint32 = 3

	// LegacySchemaVersion is assumed for data that carries no version marker.
	LegacySchemaVersion uint32 = 1

	// RuntimeVersion identifies the engine build that wrote a blob.
	RuntimeVersion = "worldsave-1.4"

	// PluginVersion is written into every trailer.
	PluginVersion = "1.4.0"
)

// ObjectTag is appended to per-object payloads that may be decoded out of
// band from an archive of a different vintage.
var ObjectTag = [8]byte{'W', 'S', 'O', 'B', 'J', 'V', 0x01, 0x00}

// Header is the fixed prefix of every top-level blob.
type Header struct {
	Schema  uint32
	Runtime string

	// Legacy is set when the blob had no format tag.
	Legacy bool
}

// headerLen is the encoded size of a header with an empty runtime string.
const headerLen = 4 + 4 + 2

// AppendHeader appends the binary header to dst.
// Layout: u32 format tag, u32 schema version, u16 length + runtime version.
func AppendHeader(dst []byte, h Header) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, FormatTag)
	dst = binary.LittleEndian.AppendUint32(dst, h.Schema)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(h.Runtime)))
	return append(dst, h.Runtime...)
}

// ParseHeader reads the header at the start of blob and returns it with the
// number of bytes consumed. A blob without the format tag is legacy: nothing
// is consumed and the legacy schema version is reported.
func ParseHeader(blob []byte, legacy uint32) (Header, int, error) {
	if len(blob) < 4 || binary.LittleEndian.Uint32(blob) != FormatTag {
		return Header{Schema: legacy, Legacy: true}, 0, nil
	}
	if len(blob) < headerLen {
		return Header{}, 0, fmt.Errorf("%w: truncated version header", ErrDecode)
	}

	h := Header{Schema: binary.LittleEndian.Uint32(blob[4:])}
	n := int(binary.LittleEndian.Uint16(blob[8:]))
	if len(blob) < headerLen+n {
		return Header{}, 0, fmt.Errorf("%w: truncated runtime version", ErrDecode)
	}
	h.Runtime = string(blob[headerLen : headerLen+n])
	return h, headerLen + n, nil
}

// Trailer is the compatibility record written after a blob's body.
type Trailer struct {
	Plugin string
	Game   int64
}

// WriteTrailer appends the trailer to the stream.
func (w *Writer) WriteTrailer(t Trailer) {
	w.WriteString(t.Plugin)
	w.WriteInt(t.Game)
}

// ReadTrailer reads the trailer if the stream has bytes left.
// It reports false for blobs written without one.
func (r *Reader) ReadTrailer() (Trailer, bool) {
	if r.err != nil || r.Remaining() == 0 {
		return Trailer{}, false
	}
	t := Trailer{Plugin: r.ReadString(), Game: r.ReadInt()}
	return t, r.err == nil
}

// Compatible reports whether two trailers describe the same content version.
func (t Trailer) Compatible(other Trailer) bool {
	return t.Game == other.Game && t.Plugin == other.Plugin
}

// AppendTag returns payload with ObjectTag appended.
func AppendTag(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(ObjectTag))
	out = append(out, payload...)
	return append(out, ObjectTag[:]...)
}

// SplitTag strips a trailing ObjectTag. It reports whether the tag was present.
func SplitTag(payload []byte) ([]byte, bool) {
	if len(payload) < len(ObjectTag) {
		return payload, false
	}
	body := payload[:len(payload)-len(ObjectTag)]
	if !bytes.Equal(payload[len(body):], ObjectTag[:]) {
		return payload, false
	}
	return body, true
}

// VersionContext carries the versions governing one decode stream.
type VersionContext struct {
	// Schema is the version read from the blob header.
	Schema uint32

	// Legacy is used for objects that should carry a tag but don't.
	Legacy uint32
}

// Current returns the context for data written by this build.
func Current() VersionContext {
	return VersionContext{Schema: SchemaVersion, Legacy: LegacySchemaVersion}
}

// Object resolves the payload body and schema version of one object.
// When tagged is false the object never carries a tag and the stream's
// version applies. Otherwise an untagged payload falls back to Legacy.
func (vc VersionContext) Object(payload []byte, tagged bool) ([]byte, uint32) {
	if !tagged {
		return payload, vc.Schema
	}
	body, ok := SplitTag(payload)
	if !ok {
		return payload, vc.Legacy
	}
	return body, vc.Schema
}

// EncodeObject encodes st and appends ObjectTag when tagged is set.
func EncodeObject(s *Schema, st State, v uint32, tagged bool) ([]byte, error) {
	b, err := Encode(s, st, v)
	if err != nil {
		return nil, err
	}
	if tagged {
		return AppendTag(b), nil
	}
	return b, nil
}

// DecodeObject decodes a payload produced by EncodeObject, choosing the
// schema version through vc. An empty payload decodes to a nil State.
func DecodeObject(s *Schema, payload []byte, vc VersionContext, tagged bool) (State, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	body, v := vc.Object(payload, tagged)
	return Decode(s, body, v)
}
