package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore is a filesystem-backed Store implementation.
//
// Each blob is a pair of files under the root directory: "<ref>" holding
// the raw bytes and "<ref>.meta" holding JSON metadata. Writes go through a
// temp file followed by rename so a crash never leaves a partially written
// blob addressable, and the file is fsynced before rename so a successful
// Put is durable.
//
// Suitable for single-host deployments; swap in a bucket-backed Store for
// distributed ones.
type FSStore struct {
	root string
}

type fsMeta struct {
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

// NewFSStore creates a filesystem store rooted at dir, creating the
// directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: dir}, nil
}

func (f *FSStore) dataPath(ref Ref) string { return filepath.Join(f.root, string(ref)) }
func (f *FSStore) metaPath(ref Ref) string { return filepath.Join(f.root, string(ref)+".meta") }

// Put writes the bytes durably and returns their reference.
func (f *FSStore) Put(_ context.Context, data []byte, mimeType string) (Ref, error) {
	ref := NewRef(data)

	tmp, err := os.CreateTemp(f.root, ".put-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpName, f.dataPath(ref)); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}

	meta, err := json.Marshal(fsMeta{MimeType: mimeType, SizeBytes: int64(len(data))})
	if err != nil {
		return "", fmt.Errorf("marshal blob meta: %w", err)
	}
	if err := os.WriteFile(f.metaPath(ref), meta, 0o644); err != nil {
		return "", fmt.Errorf("write blob meta: %w", err)
	}

	return ref, nil
}

// Get reads the bytes back and verifies them against the reference hash.
func (f *FSStore) Get(_ context.Context, ref Ref) ([]byte, error) {
	data, err := os.ReadFile(f.dataPath(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if !ref.Verify(data) {
		return nil, ErrCorrupt
	}
	return data, nil
}

// Head reads metadata without touching the data file contents.
func (f *FSStore) Head(_ context.Context, ref Ref) (Info, error) {
	raw, err := os.ReadFile(f.metaPath(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, ErrNotFound
		}
		return Info{}, fmt.Errorf("read blob meta: %w", err)
	}

	var meta fsMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Info{}, fmt.Errorf("decode blob meta: %w", err)
	}
	return Info{
		SizeBytes: meta.SizeBytes,
		MimeType:  meta.MimeType,
		ETag:      ref.HashPrefix(),
	}, nil
}

// Delete removes the blob and its metadata if present.
func (f *FSStore) Delete(_ context.Context, ref Ref) error {
	if err := os.Remove(f.dataPath(ref)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	if err := os.Remove(f.metaPath(ref)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob meta: %w", err)
	}
	return nil
}
