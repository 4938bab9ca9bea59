// Package storage holds encoded building features between classification and
// merge, so the merger can run without the ingested batches in memory.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"doppa/internal/geometry"
	"doppa/internal/model"
)

// ErrNotFound is returned when a feature key is not in the store
var ErrNotFound = errors.New("feature not found")

// Record is a building with its geometry kept as WKB
type Record struct {
	WKB          []byte            `json:"-"`
	BuildingType *string           `json:"type,omitempty"`
	RegisterID   *int64            `json:"register_id,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Entry pairs a record with its key
type Entry struct {
	Key    model.FeatureKey
	Record Record
}

// FeatureStore persists records by source-qualified id
type FeatureStore interface {
	Put(ctx context.Context, entries ...Entry) error
	Get(ctx context.Context, key model.FeatureKey) (Record, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// Encode converts a building into a store entry
func Encode(f *model.BuildingFeature) (Entry, error) {
	data, err := geometry.EncodeWKB(f.Geometry)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode %s: %w", f.Key(), err)
	}

	return Entry{
		Key: f.Key(),
		Record: Record{
			WKB:          data,
			BuildingType: f.BuildingType,
			RegisterID:   f.RegisterID,
			Attributes:   f.Attributes,
		},
	}, nil
}

// Decode restores the building stored under key. Undecodable WKB yields an
// error wrapping geometry.ErrDecodeGeometry.
func Decode(key model.FeatureKey, rec Record) (model.BuildingFeature, error) {
	geom, err := geometry.DecodeWKB(rec.WKB)
	if err != nil {
		return model.BuildingFeature{}, fmt.Errorf("feature %s: %w", key, err)
	}

	return model.BuildingFeature{
		ExternalID:   key.ID,
		Source:       key.Source,
		Geometry:     geom,
		BuildingType: rec.BuildingType,
		RegisterID:   rec.RegisterID,
		Attributes:   rec.Attributes,
	}, nil
}

// PutFeatures encodes and stores a batch of buildings
func PutFeatures(ctx context.Context, store FeatureStore, features []model.BuildingFeature) error {
	entries := make([]Entry, 0, len(features))
	for i := range features {
		entry, err := Encode(&features[i])
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}
	return store.Put(ctx, entries...)
}

func marshalMeta(rec Record) ([]byte, error) {
	return json.Marshal(rec)
}

func unmarshalMeta(data []byte, rec *Record) error {
	return json.Unmarshal(data, rec)
}
