package blob

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRefFormat(t *testing.T) {
	ref := NewRef([]byte("hello"))

	parts := strings.SplitN(string(ref), "-", 2)
	if len(parts) != 2 {
		t.Fatalf("expected <hash>-<uuid> format, got %q", ref)
	}
	if len(parts[0]) != hashPrefixLen {
		t.Errorf("expected %d-char hash prefix, got %q", hashPrefixLen, parts[0])
	}
	if !ref.Verify([]byte("hello")) {
		t.Error("reference does not verify its own content")
	}
	if ref.Verify([]byte("tampered")) {
		t.Error("reference verified foreign content")
	}
}

func TestNewRefUniqueForDuplicateContent(t *testing.T) {
	a := NewRef([]byte("same"))
	b := NewRef([]byte("same"))
	if a == b {
		t.Errorf("duplicate content produced identical refs: %q", a)
	}
	if a.HashPrefix() != b.HashPrefix() {
		t.Errorf("duplicate content produced different hash prefixes: %q vs %q", a, b)
	}
}

// storeTest exercises the Store contract shared by all implementations.
func storeTest(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	payload := bytes.Repeat([]byte("x"), 1<<20)
	ref, err := s.Put(ctx, payload, "application/octet-stream")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	t.Run("get round-trip", func(t *testing.T) {
		got, err := s.Get(ctx, ref)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("Get returned %d bytes, want %d matching bytes", len(got), len(payload))
		}
	})

	t.Run("head metadata", func(t *testing.T) {
		info, err := s.Head(ctx, ref)
		if err != nil {
			t.Fatalf("Head failed: %v", err)
		}
		if info.SizeBytes != int64(len(payload)) {
			t.Errorf("SizeBytes = %d, want %d", info.SizeBytes, len(payload))
		}
		if info.MimeType != "application/octet-stream" {
			t.Errorf("MimeType = %q", info.MimeType)
		}
		if info.ETag != ref.HashPrefix() {
			t.Errorf("ETag = %q, want %q", info.ETag, ref.HashPrefix())
		}
	})

	t.Run("unknown ref", func(t *testing.T) {
		if _, err := s.Get(ctx, NewRef([]byte("never stored"))); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get unknown ref: expected ErrNotFound, got %v", err)
		}
		if _, err := s.Head(ctx, NewRef([]byte("never stored"))); !errors.Is(err, ErrNotFound) {
			t.Errorf("Head unknown ref: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		small, err := s.Put(ctx, []byte("short lived"), "text/plain")
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Delete(ctx, small); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get(ctx, small); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		// Deleting again must not fail.
		if err := s.Delete(ctx, small); err != nil {
			t.Errorf("repeat Delete failed: %v", err)
		}
	})
}

func TestMemStore(t *testing.T) {
	storeTest(t, NewMemStore())
}

func TestMemStoreCopiesOnPut(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	data := []byte("original")
	ref, err := s.Put(ctx, data, "")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	copy(data, "mutated!")

	got, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "original" {
		t.Errorf("caller mutation leaked into store: %q", got)
	}
}

func TestFSStore(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	storeTest(t, s)
}

func TestFSStoreDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	ref, err := s.Put(ctx, []byte("pristine"), "text/plain")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, string(ref)), []byte("bit rot"), 0o644); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	if _, err := s.Get(ctx, ref); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestFSStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	ref, err := s.Put(ctx, []byte("durable"), "text/plain")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	reopened, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := reopened.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != "durable" {
		t.Errorf("got %q after reopen", got)
	}
}
