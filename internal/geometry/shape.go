package geometry

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"
)

// ErrInvalidGeometry is returned for geometries that are not topologically valid
var ErrInvalidGeometry = errors.New("invalid geometry")

// Shape is a footprint prepared for overlay operations. The GEOS handle is built
// once so repeated intersection tests against many candidates stay cheap.
type Shape struct {
	geom  *geos.Geom
	wkb   []byte
	area  float64
	bound orb.Bound
}

// NewShape prepares an orb geometry for overlay operations
func NewShape(g orb.Geometry) (*Shape, error) {
	data, err := EncodeWKB(g)
	if err != nil {
		return nil, err
	}

	geom, err := geos.NewGeomFromWKB(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeGeometry, err)
	}

	return &Shape{
		geom:  geom,
		wkb:   data,
		area:  geom.Area(),
		bound: g.Bound(),
	}, nil
}

// Validate returns ErrInvalidGeometry with the GEOS reason when the shape is
// empty, self-intersecting or otherwise invalid
func (s *Shape) Validate() error {
	if s.geom.IsEmpty() {
		return fmt.Errorf("%w: empty", ErrInvalidGeometry)
	}
	if !s.geom.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidGeometry, s.geom.IsValidReason())
	}
	return nil
}

// Area returns the planar area in squared degrees
func (s *Shape) Area() float64 {
	return s.area
}

// Bound returns the bounding box of the shape
func (s *Shape) Bound() orb.Bound {
	return s.bound
}

// Intersects reports whether the two shapes share at least one point
func (s *Shape) Intersects(other *Shape) bool {
	if !s.bound.Intersects(other.bound) {
		return false
	}
	return s.geom.Intersects(other.geom)
}

// Validate checks that g is a valid footprint
func Validate(g orb.Geometry) error {
	shape, err := NewShape(g)
	if err != nil {
		return err
	}
	return shape.Validate()
}

// IoU returns area(a ∩ b) / area(a ∪ b), in [0, 1]. Operands are put in a
// canonical order first so that IoU(a, b) == IoU(b, a) bit for bit.
func IoU(a, b *Shape) (iou float64, err error) {
	if !a.Intersects(b) {
		return 0, nil
	}

	if compareShapes(a, b) > 0 {
		a, b = b, a
	}

	// GEOS raises on topology failures; report them as errors for the pair
	defer func() {
		if r := recover(); r != nil {
			iou, err = 0, fmt.Errorf("overlay failed: %v", r)
		}
	}()

	intersection := a.geom.Intersection(b.geom).Area()
	union := a.geom.Union(b.geom).Area()
	if union <= 0 {
		return 0, nil
	}

	iou = intersection / union
	if iou < 0 {
		iou = 0
	}
	if iou > 1 {
		iou = 1
	}

	return iou, nil
}

// IoUGeometries is a convenience wrapper for one-off comparisons
func IoUGeometries(a, b orb.Geometry) (float64, error) {
	sa, err := NewShape(a)
	if err != nil {
		return 0, err
	}
	sb, err := NewShape(b)
	if err != nil {
		return 0, err
	}
	return IoU(sa, sb)
}

func compareShapes(a, b *Shape) int {
	switch {
	case a.area < b.area:
		return -1
	case a.area > b.area:
		return 1
	}
	return bytes.Compare(a.wkb, b.wkb)
}
