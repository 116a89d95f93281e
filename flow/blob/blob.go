// Package blob provides the content-addressed object store used to keep
// large binary parameter payloads (images, audio, documents) out of the
// execution journal.
//
// A successful Put is durable before it returns and a Get after a Put
// always sees the written bytes. References are globally unique, stable
// strings; stored content is never mutated. The executor never deletes
// blobs; Delete exists only for retention sweeps.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a reference does not resolve to stored bytes.
var ErrNotFound = errors.New("blob not found")

// ErrCorrupt is returned when stored bytes no longer match the content hash
// embedded in their reference.
var ErrCorrupt = errors.New("blob content corrupt")

// Ref is an opaque key identifying immutable byte content. The format is
// "<sha256-prefix>-<uuid>": the hash prefix makes keys content-derived and
// cheap to verify, the random suffix keeps them unique even for duplicate
// content.
type Ref string

// hashPrefixLen is how many hex characters of the sha256 digest appear in a
// reference.
const hashPrefixLen = 16

// NewRef derives a reference for the given bytes.
func NewRef(data []byte) Ref {
	sum := sha256.Sum256(data)
	return Ref(hex.EncodeToString(sum[:])[:hashPrefixLen] + "-" + uuid.NewString())
}

// HashPrefix returns the content-hash component of the reference, or ""
// if the reference is malformed.
func (r Ref) HashPrefix() string {
	if len(r) < hashPrefixLen {
		return ""
	}
	return string(r[:hashPrefixLen])
}

// Verify checks data against the hash prefix embedded in the reference.
func (r Ref) Verify(data []byte) bool {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:hashPrefixLen] == r.HashPrefix()
}

// Info describes stored content without its bytes.
type Info struct {
	SizeBytes int64
	MimeType  string
	ETag      string
}

// Store is a write-once, read-many blob repository.
//
// Implementations must guarantee:
//   - Put is durable before it returns
//   - Get after Put sees the bytes (read-your-write)
//   - references never collide and never change meaning
type Store interface {
	// Put writes the bytes and returns their reference. The mime type is
	// advisory metadata; empty is allowed.
	Put(ctx context.Context, data []byte, mimeType string) (Ref, error)

	// Get returns the bytes for a reference. Fails with ErrNotFound for
	// unknown references and ErrCorrupt when the stored bytes no longer
	// match the reference's content hash.
	Get(ctx context.Context, ref Ref) ([]byte, error)

	// Head returns metadata for a reference without reading the bytes.
	Head(ctx context.Context, ref Ref) (Info, error)

	// Delete removes a blob. Used only by retention policy; the executor
	// never calls it. Deleting an unknown reference is not an error.
	Delete(ctx context.Context, ref Ref) error
}
