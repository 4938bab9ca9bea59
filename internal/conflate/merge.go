package conflate

import (
	"context"
	"errors"
	"maps"
	"strconv"

	"doppa/internal/geometry"
	"doppa/internal/model"
	"doppa/internal/storage"
	"doppa/internal/util"

	"github.com/sirupsen/logrus"
)

// Attribute keys added by the merger
const (
	AttrAreaM2         = "area_m2"
	AttrCentroidShiftM = "centroid_shift_m"
)

// MergeStats counts the merge outcome
type MergeStats struct {
	Merged  int // Canonical buildings produced
	Pairs   int // Of which from matched pairs
	Dropped int // Records dropped for undecodable or missing geometry
}

// Merger folds classification records into canonical buildings, reading the
// stored features of both sources
type Merger struct {
	store     storage.FeatureStore
	preferred model.Source
	log       *logrus.Entry
}

// NewMerger creates a merger whose matched pairs keep the geometry of the
// authoritative source
func NewMerger(store storage.FeatureStore, log *logrus.Entry) *Merger {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Merger{store: store, preferred: model.SourceFKB, log: log}
}

// Merge emits one building per record. A record whose stored geometry cannot be
// decoded is dropped with a warning; in a matched pair the readable side is
// kept as a single-source building. Only store failures abort the merge.
func (m *Merger) Merge(ctx context.Context, result Result) ([]model.MergedFeature, MergeStats, error) {
	var stats MergeStats
	merged := make([]model.MergedFeature, 0, len(result.Records))

	for _, rec := range result.Records {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		var a, b *model.BuildingFeature
		if rec.AID != nil {
			f, err := m.load(ctx, model.FeatureKey{Source: result.ASource, ID: *rec.AID})
			if err != nil {
				return nil, stats, err
			}
			a = f
		}
		if rec.BID != nil {
			f, err := m.load(ctx, model.FeatureKey{Source: result.BSource, ID: *rec.BID})
			if err != nil {
				return nil, stats, err
			}
			b = f
		}

		switch {
		case a != nil && b != nil:
			merged = append(merged, m.mergePair(a, b, rec.IoU))
			stats.Pairs++
		case a != nil:
			merged = append(merged, single(a))
		case b != nil:
			merged = append(merged, single(b))
		}

		if rec.AID != nil && a == nil {
			stats.Dropped++
		}
		if rec.BID != nil && b == nil {
			stats.Dropped++
		}
	}

	stats.Merged = len(merged)
	m.log.Infof("Merged %d canonical buildings (%d from matched pairs), dropped %d unreadable records",
		stats.Merged, stats.Pairs, stats.Dropped)

	return merged, stats, nil
}

// load returns nil without error for records that are missing or corrupt
func (m *Merger) load(ctx context.Context, key model.FeatureKey) (*model.BuildingFeature, error) {
	rec, err := m.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		m.log.Warnf("Dropping %s: not in feature store", key)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	f, err := storage.Decode(key, rec)
	if err != nil {
		if errors.Is(err, geometry.ErrDecodeGeometry) || errors.Is(err, geometry.ErrNotPolygonal) {
			m.log.Warnf("Dropping %s due to geometry error: %v", key, err)
			return nil, nil
		}
		return nil, err
	}

	return &f, nil
}

// mergePair builds the representative of a matched pair
func (m *Merger) mergePair(a, b *model.BuildingFeature, iou *float64) model.MergedFeature {
	rep, other := a, b
	if b.Source == m.preferred {
		rep, other = b, a
	}

	out := single(rep)
	out.Provenance = model.ProvenanceMatched
	out.IoU = iou
	if out.BuildingType == nil {
		out.BuildingType = other.BuildingType
	}
	if out.RegisterID == nil {
		out.RegisterID = other.RegisterID
	}
	setCrossRef(&out, other)

	shift := util.PointDistance(rep.Centroid(), other.Centroid())
	out.Attributes[AttrCentroidShiftM] = strconv.FormatFloat(shift, 'f', 2, 64)

	return out
}

// single wraps one source building unchanged
func single(f *model.BuildingFeature) model.MergedFeature {
	attributes := make(map[string]string, len(f.Attributes)+2)
	maps.Copy(attributes, f.Attributes)
	attributes[AttrAreaM2] = strconv.FormatFloat(util.GeodesicArea(f.Geometry), 'f', 2, 64)

	out := model.MergedFeature{
		ExternalID:   f.ExternalID,
		Source:       f.Source,
		Provenance:   model.Provenance(f.Source),
		Geometry:     f.Geometry,
		BuildingType: f.BuildingType,
		RegisterID:   f.RegisterID,
		Attributes:   attributes,
	}
	setCrossRef(&out, f)

	return out
}

func setCrossRef(out *model.MergedFeature, f *model.BuildingFeature) {
	id := f.ExternalID
	switch f.Source {
	case model.SourceOSM:
		out.OSMID = &id
	case model.SourceFKB:
		out.FKBID = &id
	}
}
