/*
Package codec encodes object state to bytes using explicitly declared schemas.

# Schemas

Every persisted type declares its fields once, in order, with a type tag:

	var crateSchema = codec.MustCompile("Crate",
	    codec.Int("health"),
	    codec.String("owner"),
	    codec.StructArray("items", itemSchema),
	    codec.Float("durability").Added(2),
	)

Encoding walks the declared fields positionally; no field names or runtime
type information are written. A field carries the schema versions it exists
in, so data written at version 1 decodes correctly with a version 1 context
even after fields were added or removed.

# Version Framing

Top-level blobs start with a header (format tag, schema version, runtime
version) and end with a Trailer (plugin version, game version). A blob
without the format tag predates versioning and decodes with the legacy
schema version.

Objects that can be decoded out of band from an archive of a different
vintage carry ObjectTag at the end of their payload. An untagged payload in
a tagged position decodes with the legacy schema version instead of the
version from the enclosing header; see VersionContext.Object.

# Wire Format

Values are msgpack encoded through Writer and Reader, which keep the first
error instead of returning one per call.
*/
package codec
