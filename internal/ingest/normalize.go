package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"doppa/internal/geometry"
	"doppa/internal/model"

	"github.com/paulmach/orb"
)

// OSM tag keys
const (
	osmBuildingTag = "building"
	osmRegisterTag = "ref:bygningsnr"
)

// osmColumnsToKeep lists the OSM tags carried into the attributes map
var osmColumnsToKeep = []string{
	"name",
	"building:levels",
	"height",
	"addr:street",
	"addr:housenumber",
	"addr:postcode",
	"addr:city",
}

// OSMNormalizer maps OpenStreetMap building ways onto buildings
type OSMNormalizer struct{}

func (OSMNormalizer) Source() model.Source { return model.SourceOSM }

// Normalize keeps records tagged building=* (except building=no) and rewrites
// the generic building=yes to "unspecified"
func (OSMNormalizer) Normalize(rec RawRecord, geom orb.Geometry) (model.BuildingFeature, error) {
	buildingType, ok := rec.Tags[osmBuildingTag]
	if !ok || buildingType == "no" {
		return model.BuildingFeature{}, ErrMissingBuildingTag
	}
	if strings.EqualFold(buildingType, "yes") {
		buildingType = "unspecified"
	}

	attributes := make(map[string]string)
	for _, key := range osmColumnsToKeep {
		if v, ok := rec.Tags[key]; ok {
			attributes[key] = v
		}
	}

	return model.BuildingFeature{
		ExternalID:   rec.ID,
		Source:       model.SourceOSM,
		Geometry:     geom,
		BuildingType: model.StringPtr(buildingType),
		RegisterID:   parseRegisterID(rec.Tags[osmRegisterTag]),
		Attributes:   attributes,
	}, nil
}

// FKB property keys
const (
	fkbIDProperty       = "lokalId"
	fkbTypeProperty     = "bygningstype"
	fkbRegisterProperty = "bygningsnummer"
)

// FKBNormalizer maps cadastral building features onto buildings, reprojecting
// them from the dataset CRS to WGS84. A record EPSG overrides the default.
type FKBNormalizer struct {
	EPSG int
}

func (FKBNormalizer) Source() model.Source { return model.SourceFKB }

// Normalize requires a building type and prefers lokalId as the external id
func (n FKBNormalizer) Normalize(rec RawRecord, geom orb.Geometry) (model.BuildingFeature, error) {
	buildingType, ok := rec.Tags[fkbTypeProperty]
	if !ok || strings.TrimSpace(buildingType) == "" {
		return model.BuildingFeature{}, ErrMissingBuildingTag
	}

	id := rec.Tags[fkbIDProperty]
	if id == "" {
		id = rec.ID
	}
	if id == "" {
		return model.BuildingFeature{}, fmt.Errorf("record has no %s", fkbIDProperty)
	}

	epsg := rec.EPSG
	if epsg == 0 {
		epsg = n.EPSG
	}
	if epsg == 0 {
		epsg = geometry.EPSGWGS84
	}
	projected, err := geometry.ToWGS84(geom, epsg)
	if err != nil {
		return model.BuildingFeature{}, err
	}

	attributes := make(map[string]string)
	for k, v := range rec.Tags {
		switch k {
		case fkbIDProperty, fkbTypeProperty, fkbRegisterProperty:
			continue
		}
		attributes[k] = v
	}

	return model.BuildingFeature{
		ExternalID:   id,
		Source:       model.SourceFKB,
		Geometry:     projected,
		BuildingType: model.StringPtr(buildingType),
		RegisterID:   parseRegisterID(rec.Tags[fkbRegisterProperty]),
		Attributes:   attributes,
	}, nil
}

// parseRegisterID mirrors a lenient integer cast: anything unparseable is null
func parseRegisterID(v string) *int64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}
