package codec

import (
	"context"
	"fmt"
)

// geoJSONTypes is the set of object types RFC 7946 defines.
var geoJSONTypes = map[string]bool{
	"Point":              true,
	"MultiPoint":         true,
	"LineString":         true,
	"MultiLineString":    true,
	"Polygon":            true,
	"MultiPolygon":       true,
	"GeometryCollection": true,
	"Feature":            true,
	"FeatureCollection":  true,
}

// geoJSONPassThrough validates GeoJSON structure on ingress and returns the
// value unchanged. The check is shallow on purpose: it confirms the object
// shape (type discriminator plus the member that type requires) without
// walking coordinate arrays, because nodes consume the raw value anyway.
func geoJSONPassThrough(_ context.Context, _ *Codec, v any) (any, error) {
	if err := checkGeoJSON(v); err != nil {
		return nil, err
	}
	return v, nil
}

func checkGeoJSON(v any) error {
	obj, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: geojson must be a JSON object, got %T", ErrBadValue, v)
	}

	typ, ok := obj["type"].(string)
	if !ok {
		return fmt.Errorf("%w: geojson object missing \"type\" member", ErrBadValue)
	}
	if !geoJSONTypes[typ] {
		return fmt.Errorf("%w: unknown geojson type %q", ErrBadValue, typ)
	}

	switch typ {
	case "Feature":
		if _, ok := obj["geometry"]; !ok {
			return fmt.Errorf("%w: Feature missing \"geometry\" member", ErrBadValue)
		}
	case "FeatureCollection":
		features, ok := obj["features"].([]any)
		if !ok {
			return fmt.Errorf("%w: FeatureCollection missing \"features\" array", ErrBadValue)
		}
		for i, f := range features {
			if err := checkGeoJSON(f); err != nil {
				return fmt.Errorf("feature %d: %w", i, err)
			}
		}
	case "GeometryCollection":
		if _, ok := obj["geometries"].([]any); !ok {
			return fmt.Errorf("%w: GeometryCollection missing \"geometries\" array", ErrBadValue)
		}
	default:
		if _, ok := obj["coordinates"]; !ok {
			return fmt.Errorf("%w: %s missing \"coordinates\" member", ErrBadValue, typ)
		}
	}
	return nil
}
