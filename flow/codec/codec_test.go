package codec

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/nodeflow/nodeflow/flow"
	"github.com/nodeflow/nodeflow/flow/blob"
)

func newTestCodec(t *testing.T, opts ...Option) (*Codec, *blob.MemStore) {
	t.Helper()
	store := blob.NewMemStore()
	c, err := New(store, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, store
}

func TestNewRejectsNilStore(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestPrimitiveIdentity(t *testing.T) {
	c, _ := newTestCodec(t)
	ctx := context.Background()

	cases := []struct {
		name string
		typ  flow.ParamType
		val  any
	}{
		{"string", flow.TypeString, "hello"},
		{"number", flow.TypeNumber, 4.5},
		{"boolean", flow.TypeBoolean, true},
		{"json object", flow.TypeJSON, map[string]any{"k": "v"}},
		{"any", flow.TypeAny, []any{1.0, "two"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node, err := c.WireToNode(ctx, tc.typ, tc.val)
			if err != nil {
				t.Fatalf("WireToNode failed: %v", err)
			}
			wire, err := c.NodeToWire(ctx, tc.typ, node)
			if err != nil {
				t.Fatalf("NodeToWire failed: %v", err)
			}
			switch want := tc.val.(type) {
			case string:
				if wire != want {
					t.Errorf("round trip changed value: %v", wire)
				}
			case float64:
				if wire != want {
					t.Errorf("round trip changed value: %v", wire)
				}
			case bool:
				if wire != want {
					t.Errorf("round trip changed value: %v", wire)
				}
			}
		})
	}
}

func TestPrimitiveRejectsWrongKind(t *testing.T) {
	c, _ := newTestCodec(t)
	ctx := context.Background()

	cases := []struct {
		name string
		typ  flow.ParamType
		val  any
	}{
		{"number as string", flow.TypeString, 42.0},
		{"string as number", flow.TypeNumber, "42"},
		{"string as boolean", flow.TypeBoolean, "true"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.WireToNode(ctx, tc.typ, tc.val); !errors.Is(err, ErrBadValue) {
				t.Errorf("expected ErrBadValue, got %v", err)
			}
		})
	}
}

func TestNumberNormalizesIntegers(t *testing.T) {
	c, _ := newTestCodec(t)

	v, err := c.WireToNode(context.Background(), flow.TypeNumber, 7)
	if err != nil {
		t.Fatalf("WireToNode failed: %v", err)
	}
	if f, ok := v.(float64); !ok || f != 7 {
		t.Errorf("expected float64(7), got %T %v", v, v)
	}
}

func TestGeoJSONIngress(t *testing.T) {
	c, _ := newTestCodec(t)
	ctx := context.Background()

	point := map[string]any{"type": "Point", "coordinates": []any{125.6, 10.1}}
	feature := map[string]any{"type": "Feature", "geometry": point, "properties": map[string]any{}}

	t.Run("valid point passes through unchanged", func(t *testing.T) {
		v, err := c.WireToNode(ctx, flow.TypeGeoJSON, point)
		if err != nil {
			t.Fatalf("WireToNode failed: %v", err)
		}
		if got, ok := v.(map[string]any); !ok || got["type"] != "Point" {
			t.Errorf("value was transformed: %v", v)
		}
	})

	t.Run("feature collection", func(t *testing.T) {
		fc := map[string]any{"type": "FeatureCollection", "features": []any{feature}}
		if _, err := c.WireToNode(ctx, flow.TypeGeoJSON, fc); err != nil {
			t.Errorf("WireToNode failed: %v", err)
		}
	})

	t.Run("missing coordinates", func(t *testing.T) {
		bad := map[string]any{"type": "Point"}
		if _, err := c.WireToNode(ctx, flow.TypeGeoJSON, bad); !errors.Is(err, ErrBadValue) {
			t.Errorf("expected ErrBadValue, got %v", err)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		bad := map[string]any{"type": "Circle", "coordinates": []any{0.0, 0.0}}
		if _, err := c.WireToNode(ctx, flow.TypeGeoJSON, bad); !errors.Is(err, ErrBadValue) {
			t.Errorf("expected ErrBadValue, got %v", err)
		}
	})

	t.Run("not an object", func(t *testing.T) {
		if _, err := c.WireToNode(ctx, flow.TypeGeoJSON, "not geojson"); !errors.Is(err, ErrBadValue) {
			t.Errorf("expected ErrBadValue, got %v", err)
		}
	})
}

func TestBinaryInlineRoundTrip(t *testing.T) {
	c, store := newTestCodec(t)
	ctx := context.Background()

	payload := []byte("small image bytes")
	wire := map[string]any{
		"data":     base64.StdEncoding.EncodeToString(payload),
		"mimeType": "image/png",
	}

	node, err := c.WireToNode(ctx, flow.TypeImage, wire)
	if err != nil {
		t.Fatalf("WireToNode failed: %v", err)
	}
	bin, ok := node.(Binary)
	if !ok {
		t.Fatalf("expected Binary, got %T", node)
	}
	if !bytes.Equal(bin.Data, payload) || bin.MimeType != "image/png" {
		t.Errorf("decoded %q (%s)", bin.Data, bin.MimeType)
	}

	out, err := c.NodeToWire(ctx, flow.TypeImage, bin)
	if err != nil {
		t.Fatalf("NodeToWire failed: %v", err)
	}
	env, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected envelope, got %T", out)
	}
	if env["data"] != base64.StdEncoding.EncodeToString(payload) {
		t.Errorf("small payload was not inlined: %v", env["data"])
	}
	if store.Len() != 0 {
		t.Errorf("small payload leaked into object store")
	}
}

func TestBinaryOffloadAboveThreshold(t *testing.T) {
	c, store := newTestCodec(t, WithInlineThreshold(64))
	ctx := context.Background()

	payload := bytes.Repeat([]byte("a"), 65)
	out, err := c.NodeToWire(ctx, flow.TypeAudio, Binary{Data: payload, MimeType: "audio/wav"})
	if err != nil {
		t.Fatalf("NodeToWire failed: %v", err)
	}

	env := out.(map[string]any)
	ref, ok := env["data"].(string)
	if !ok || !IsBlobRef(ref) {
		t.Fatalf("expected blob reference, got %v", env["data"])
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 stored blob, got %d", store.Len())
	}

	// Ingress resolves the reference back to bytes.
	node, err := c.WireToNode(ctx, flow.TypeAudio, env)
	if err != nil {
		t.Fatalf("WireToNode failed: %v", err)
	}
	bin := node.(Binary)
	if !bytes.Equal(bin.Data, payload) {
		t.Errorf("resolved %d bytes, want %d", len(bin.Data), len(payload))
	}
	if bin.MimeType != "audio/wav" {
		t.Errorf("MimeType = %q", bin.MimeType)
	}
}

func TestBinaryLargeRoundTrip(t *testing.T) {
	// A payload above the default threshold must survive a full
	// egress-then-ingress cycle byte for byte.
	c, _ := newTestCodec(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte{0xAB}, 1<<20)
	wire, err := c.NodeToWire(ctx, flow.TypeDocument, Binary{Data: payload, MimeType: "application/pdf"})
	if err != nil {
		t.Fatalf("NodeToWire failed: %v", err)
	}
	node, err := c.WireToNode(ctx, flow.TypeDocument, wire)
	if err != nil {
		t.Fatalf("WireToNode failed: %v", err)
	}
	if !bytes.Equal(node.(Binary).Data, payload) {
		t.Error("payload corrupted across offload round trip")
	}
}

func TestBinaryIdempotent(t *testing.T) {
	c, _ := newTestCodec(t)
	ctx := context.Background()

	t.Run("node form through ingress", func(t *testing.T) {
		in := Binary{Data: []byte("bytes"), MimeType: "image/png"}
		out, err := c.WireToNode(ctx, flow.TypeImage, in)
		if err != nil {
			t.Fatalf("WireToNode failed: %v", err)
		}
		if !bytes.Equal(out.(Binary).Data, in.Data) {
			t.Error("ingress changed an already-canonical value")
		}
	})

	t.Run("wire reference through egress", func(t *testing.T) {
		ref, err := c.store.Put(ctx, []byte("stored"), "image/png")
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		in := map[string]any{"data": string(ref), "mimeType": "image/png"}
		out, err := c.NodeToWire(ctx, flow.TypeImage, in)
		if err != nil {
			t.Fatalf("NodeToWire failed: %v", err)
		}
		if out.(map[string]any)["data"] != string(ref) {
			t.Error("egress rewrote an existing blob reference")
		}
	})
}

func TestBinaryUnknownRefFails(t *testing.T) {
	c, _ := newTestCodec(t)

	wire := map[string]any{
		"data":     string(blob.NewRef([]byte("never stored"))),
		"mimeType": "image/png",
	}
	if _, err := c.WireToNode(context.Background(), flow.TypeImage, wire); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("expected blob.ErrNotFound, got %v", err)
	}
}

func TestIsBlobRef(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"real ref", string(blob.NewRef([]byte("x"))), true},
		{"base64", base64.StdEncoding.EncodeToString([]byte("some payload")), false},
		{"short hash", "abc-6ba7b810-9dad-11d1-80b4-00c04fd430c8", false},
		{"bad uuid", "0123456789abcdef-not-a-uuid", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsBlobRef(tc.in); got != tc.want {
				t.Errorf("IsBlobRef(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
