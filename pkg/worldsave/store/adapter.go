package store

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/s2"

	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
)

// Envelope markers written after the version header.
const (
	envelopeRaw byte = 0
	envelopeS2  byte = 1
)

// Options configure how an Adapter frames blobs.
type Options struct {
	// Compression wraps blob bodies in an s2 envelope.
	Compression bool

	// Schema is the schema version written to new blobs.
	Schema uint32

	// Legacy is the schema version assumed for blobs without a header.
	Legacy uint32

	// Game is the content version written to every trailer.
	Game int64

	// Retry governs backend reads and writes.
	Retry wserrors.RetryConfig
}

// DefaultOptions returns options for the current build.
func DefaultOptions() Options {
	return Options{
		Compression: true,
		Schema:      codec.SchemaVersion,
		Legacy:      codec.LegacySchemaVersion,
		Retry:       wserrors.StoreRetry,
	}
}

// Adapter frames, compresses and stores blobs on a Backend.
type Adapter struct {
	backend Backend
	opts    Options
}

// NewAdapter creates an adapter over backend.
func NewAdapter(backend Backend, opts Options) *Adapter {
	if opts.Schema == 0 {
		opts.Schema = codec.SchemaVersion
	}
	if opts.Legacy == 0 {
		opts.Legacy = codec.LegacySchemaVersion
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = wserrors.StoreRetry
	}
	return &Adapter{backend: backend, opts: opts}
}

// Backend returns the underlying backend.
func (a *Adapter) Backend() Backend { return a.backend }

// Options returns the adapter's options.
func (a *Adapter) Options() Options { return a.opts }

// Trailer returns the trailer this adapter writes.
func (a *Adapter) Trailer() codec.Trailer {
	return codec.Trailer{Plugin: codec.PluginVersion, Game: a.opts.Game}
}

// VersionContext returns the context used to encode new payloads.
func (a *Adapter) VersionContext() codec.VersionContext {
	return codec.VersionContext{Schema: a.opts.Schema, Legacy: a.opts.Legacy}
}

// Encode builds a blob: the version header, then the body written by write
// followed by the trailer, compressed when enabled.
func (a *Adapter) Encode(write func(*codec.Writer) error) ([]byte, error) {
	w := codec.NewWriter()
	defer w.Release()

	if err := write(w); err != nil {
		return nil, wserrors.SerializationFault("encode blob", "", err)
	}
	w.WriteTrailer(a.Trailer())
	if err := w.Err(); err != nil {
		return nil, wserrors.SerializationFault("encode blob", "", err)
	}

	body := w.Bytes()
	out := codec.AppendHeader(nil, codec.Header{Schema: a.opts.Schema, Runtime: codec.RuntimeVersion})
	if a.opts.Compression {
		out = append(out, envelopeS2)
		return append(out, s2.Encode(nil, body)...), nil
	}
	out = append(out, envelopeRaw)
	return append(out, body...), nil
}

// Decode reads a blob built by Encode. Blobs without a header are legacy:
// uncompressed, decoded with the legacy schema version, possibly without a
// trailer. The returned trailer is zero when the blob has none.
func (a *Adapter) Decode(blob []byte, read func(*codec.Reader) error) (codec.Header, codec.Trailer, error) {
	h, n, err := codec.ParseHeader(blob, a.opts.Legacy)
	if err != nil {
		return h, codec.Trailer{}, wserrors.SerializationFault("decode header", "", err)
	}
	if h.Schema > codec.SchemaVersion {
		return h, codec.Trailer{}, wserrors.VersionMismatch("decode header", "",
			fmt.Errorf("schema version %d is newer than supported %d", h.Schema, codec.SchemaVersion))
	}

	body := blob[n:]
	if !h.Legacy {
		if len(body) == 0 {
			return h, codec.Trailer{}, wserrors.SerializationFault("decode envelope", "",
				fmt.Errorf("%w: missing envelope", codec.ErrDecode))
		}
		switch env := body[0]; env {
		case envelopeRaw:
			body = body[1:]
		case envelopeS2:
			body, err = s2.Decode(nil, body[1:])
			if err != nil {
				return h, codec.Trailer{}, wserrors.SerializationFault("decompress", "",
					fmt.Errorf("%w: %w", codec.ErrDecode, err))
			}
		default:
			return h, codec.Trailer{}, wserrors.SerializationFault("decode envelope", "",
				fmt.Errorf("%w: unknown envelope %d", codec.ErrDecode, env))
		}
	}

	r := codec.NewReader(body, codec.VersionContext{Schema: h.Schema, Legacy: a.opts.Legacy})
	defer r.Release()

	if err := read(r); err != nil {
		return h, codec.Trailer{}, wserrors.SerializationFault("decode blob", "", err)
	}
	tr, _ := r.ReadTrailer()
	if err := r.Err(); err != nil {
		return h, tr, wserrors.SerializationFault("decode blob", "", err)
	}
	if r.Remaining() > 0 {
		return h, tr, wserrors.SerializationFault("decode blob", "",
			fmt.Errorf("%w: %d trailing bytes", codec.ErrDecode, r.Remaining()))
	}
	return h, tr, nil
}

// Put writes blob under key, retrying transient backend failures.
func (a *Adapter) Put(key string, blob []byte) error {
	_, _, err := wserrors.Retry(a.opts.Retry, func() (struct{}, error) {
		return struct{}{}, a.backend.Write(key, blob)
	})
	if err != nil {
		return wserrors.IoFailure("write blob", key, err)
	}
	return nil
}

// Get reads the blob under key. A missing or empty blob returns ErrNoSave.
func (a *Adapter) Get(key string) ([]byte, error) {
	blob, _, err := wserrors.Retry(a.opts.Retry, func() ([]byte, error) {
		return a.backend.Read(key)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoSave
	}
	if err != nil {
		return nil, wserrors.IoFailure("read blob", key, err)
	}
	if len(blob) == 0 {
		return nil, ErrNoSave
	}
	return blob, nil
}

// Load reads and decodes the blob under key.
// It returns ErrNoSave when nothing is stored.
func (a *Adapter) Load(key string, read func(*codec.Reader) error) (codec.Header, codec.Trailer, error) {
	blob, err := a.Get(key)
	if err != nil {
		return codec.Header{}, codec.Trailer{}, err
	}
	h, tr, err := a.Decode(blob, read)
	if err != nil {
		var e *wserrors.Error
		if errors.As(err, &e) {
			e.Key = key
		}
		return h, tr, err
	}
	return h, tr, nil
}

// Store encodes a blob with write and puts it under key.
// It returns the stored size.
func (a *Adapter) Store(key string, write func(*codec.Writer) error) (int, error) {
	blob, err := a.Encode(write)
	if err != nil {
		var e *wserrors.Error
		if errors.As(err, &e) {
			e.Key = key
		}
		return 0, err
	}
	if err := a.Put(key, blob); err != nil {
		return 0, err
	}
	return len(blob), nil
}

// Exists reports whether a blob is stored under key.
func (a *Adapter) Exists(key string) bool {
	ok, err := a.backend.Exists(key)
	return err == nil && ok
}

// Delete removes the blob under key.
func (a *Adapter) Delete(key string) error {
	if err := a.backend.Delete(key); err != nil {
		return wserrors.IoFailure("delete blob", key, err)
	}
	return nil
}
