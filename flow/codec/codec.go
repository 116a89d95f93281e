// Package codec converts parameter values between their wire form (the
// JSON-safe shape stored in workflow definitions, journals and trigger
// payloads) and their node form (the materialized shape node implementations
// consume).
//
// The conversion table is fixed at construction: exactly one converter per
// declared parameter type, verified when the codec is built. Both directions
// are idempotent, so feeding an already-canonical value back through the
// codec returns an equivalent value.
package codec

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nodeflow/nodeflow/flow"
	"github.com/nodeflow/nodeflow/flow/blob"
)

// DefaultInlineThreshold is the egress size above which binary payloads are
// written to the object store and replaced by a reference.
const DefaultInlineThreshold = 128 << 10

// ErrBadValue is wrapped by all conversion failures caused by a value that
// does not match its declared parameter type.
var ErrBadValue = errors.New("value does not match parameter type")

// Binary is the node form of image, audio and document parameters: the
// bytes are always materialized, never a reference.
type Binary struct {
	Data     []byte
	MimeType string
}

// Codec holds the per-type converter table and the object store used to
// resolve and offload binary payloads.
type Codec struct {
	store     blob.Store
	threshold int
	table     map[flow.ParamType]converter
}

type converter struct {
	wireToNode func(ctx context.Context, c *Codec, v any) (any, error)
	nodeToWire func(ctx context.Context, c *Codec, v any) (any, error)
}

// Option configures a Codec.
type Option func(*Codec) error

// WithInlineThreshold overrides the egress offload threshold in bytes.
func WithInlineThreshold(n int) Option {
	return func(c *Codec) error {
		if n < 0 {
			return fmt.Errorf("inline threshold must be non-negative, got %d", n)
		}
		c.threshold = n
		return nil
	}
}

// New builds a codec backed by the given object store. It fails if any
// declared parameter type lacks a converter, so a table gap surfaces at
// startup rather than mid-run.
func New(store blob.Store, opts ...Option) (*Codec, error) {
	if store == nil {
		return nil, errors.New("codec requires a blob store")
	}

	c := &Codec{
		store:     store,
		threshold: DefaultInlineThreshold,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	identity := converter{
		wireToNode: func(_ context.Context, _ *Codec, v any) (any, error) { return v, nil },
		nodeToWire: func(_ context.Context, _ *Codec, v any) (any, error) { return v, nil },
	}
	binary := converter{
		wireToNode: binaryWireToNode,
		nodeToWire: binaryNodeToWire,
	}

	c.table = map[flow.ParamType]converter{
		flow.TypeString: {
			wireToNode: wantKind[string]("string"),
			nodeToWire: wantKind[string]("string"),
		},
		flow.TypeNumber: {
			wireToNode: wantNumber,
			nodeToWire: wantNumber,
		},
		flow.TypeBoolean: {
			wireToNode: wantKind[bool]("boolean"),
			nodeToWire: wantKind[bool]("boolean"),
		},
		flow.TypeJSON: identity,
		flow.TypeAny:  identity,
		flow.TypeGeoJSON: {
			wireToNode: geoJSONPassThrough,
			nodeToWire: func(_ context.Context, _ *Codec, v any) (any, error) { return v, nil },
		},
		flow.TypeImage:    binary,
		flow.TypeAudio:    binary,
		flow.TypeDocument: binary,
	}

	for _, t := range flow.ParamTypes() {
		if _, ok := c.table[t]; !ok {
			return nil, fmt.Errorf("no converter registered for parameter type %q", t)
		}
	}
	return c, nil
}

// WireToNode converts a wire value into the form nodes consume.
func (c *Codec) WireToNode(ctx context.Context, t flow.ParamType, v any) (any, error) {
	conv, ok := c.table[t]
	if !ok {
		return nil, fmt.Errorf("unknown parameter type %q", t)
	}
	out, err := conv.wireToNode(ctx, c, v)
	if err != nil {
		return nil, fmt.Errorf("type %s: %w", t, err)
	}
	return out, nil
}

// NodeToWire converts a node value back into its journal-safe wire form.
// Binary payloads above the inline threshold are written to the object
// store and replaced with their reference.
func (c *Codec) NodeToWire(ctx context.Context, t flow.ParamType, v any) (any, error) {
	conv, ok := c.table[t]
	if !ok {
		return nil, fmt.Errorf("unknown parameter type %q", t)
	}
	out, err := conv.nodeToWire(ctx, c, v)
	if err != nil {
		return nil, fmt.Errorf("type %s: %w", t, err)
	}
	return out, nil
}

// wantKind accepts exactly one Go kind and rejects everything else.
func wantKind[T any](name string) func(context.Context, *Codec, any) (any, error) {
	return func(_ context.Context, _ *Codec, v any) (any, error) {
		got, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("%w: expected %s, got %T", ErrBadValue, name, v)
		}
		return got, nil
	}
}

// wantNumber normalizes any numeric kind to float64, the shape JSON
// decoding produces.
func wantNumber(_ context.Context, _ *Codec, v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadValue, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: expected number, got %T", ErrBadValue, v)
	}
}

// IsBlobRef reports whether a wire string is a blob reference rather than
// inline base64 data. References are "<16 hex chars>-<uuid>"; the uuid tail
// cannot appear in standard base64, so the check is unambiguous.
func IsBlobRef(s string) bool {
	hash, rest, ok := strings.Cut(s, "-")
	if !ok || len(hash) != 16 {
		return false
	}
	for _, r := range hash {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

func binaryWireToNode(ctx context.Context, c *Codec, v any) (any, error) {
	// Already in node form: idempotent pass-through.
	if b, ok := v.(Binary); ok {
		return b, nil
	}

	env, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected {data, mimeType} envelope, got %T", ErrBadValue, v)
	}

	mime, _ := env["mimeType"].(string)

	switch data := env["data"].(type) {
	case []byte:
		return Binary{Data: data, MimeType: mime}, nil
	case string:
		if IsBlobRef(data) {
			raw, err := c.store.Get(ctx, blob.Ref(data))
			if err != nil {
				return nil, fmt.Errorf("resolve blob %s: %w", data, err)
			}
			return Binary{Data: raw, MimeType: mime}, nil
		}
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("%w: data is neither a blob reference nor base64: %v", ErrBadValue, err)
		}
		return Binary{Data: raw, MimeType: mime}, nil
	default:
		return nil, fmt.Errorf("%w: envelope data must be bytes or string, got %T", ErrBadValue, env["data"])
	}
}

func binaryNodeToWire(ctx context.Context, c *Codec, v any) (any, error) {
	var b Binary
	switch val := v.(type) {
	case Binary:
		b = val
	case map[string]any:
		// Already in wire form with a reference or inline string: keep it.
		if s, ok := val["data"].(string); ok {
			if IsBlobRef(s) || isBase64(s) {
				return val, nil
			}
		}
		if raw, ok := val["data"].([]byte); ok {
			mime, _ := val["mimeType"].(string)
			b = Binary{Data: raw, MimeType: mime}
			break
		}
		return nil, fmt.Errorf("%w: envelope data must be bytes or encoded string", ErrBadValue)
	default:
		return nil, fmt.Errorf("%w: expected binary payload, got %T", ErrBadValue, v)
	}

	if len(b.Data) > c.threshold {
		ref, err := c.store.Put(ctx, b.Data, b.MimeType)
		if err != nil {
			return nil, fmt.Errorf("offload blob: %w", err)
		}
		return map[string]any{"data": string(ref), "mimeType": b.MimeType}, nil
	}
	return map[string]any{
		"data":     base64.StdEncoding.EncodeToString(b.Data),
		"mimeType": b.MimeType,
	}, nil
}

func isBase64(s string) bool {
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}
