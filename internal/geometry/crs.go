package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// EPSG codes understood by the normalization pass
const (
	EPSGWGS84  = 4326
	EPSGUTM32N = 25832
	EPSGUTM33N = 25833
)

// ToWGS84 reprojects a geometry from the given EPSG code to WGS84 lon/lat.
// ETRS89 and WGS84 are treated as identical datums.
func ToWGS84(g orb.Geometry, epsg int) (orb.Geometry, error) {
	var zone int
	switch epsg {
	case EPSGWGS84:
		return g, nil
	case EPSGUTM32N, 32632:
		zone = 32
	case EPSGUTM33N, 32633:
		zone = 33
	default:
		return nil, fmt.Errorf("unsupported CRS EPSG:%d", epsg)
	}

	return project.Geometry(orb.Clone(g), func(p orb.Point) orb.Point {
		return utmToLonLat(p[0], p[1], zone)
	}), nil
}

// GRS80 / WGS84 ellipsoid
const (
	utmA  = 6378137.0
	utmF  = 1 / 298.257222101
	utmK0 = 0.9996
)

// utmToLonLat inverts the northern-hemisphere transverse mercator projection
// (Snyder, Map Projections: A Working Manual, eq. 8-18 to 8-25)
func utmToLonLat(easting, northing float64, zone int) orb.Point {
	e2 := utmF * (2 - utmF)
	ep2 := e2 / (1 - e2)
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

	x := easting - 500000.0
	m := northing / utmK0
	mu := m / (utmA * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))

	phi1 := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sin1, cos1, tan1 := math.Sin(phi1), math.Cos(phi1), math.Tan(phi1)
	n1 := utmA / math.Sqrt(1-e2*sin1*sin1)
	t1 := tan1 * tan1
	c1 := ep2 * cos1 * cos1
	r1 := utmA * (1 - e2) / math.Pow(1-e2*sin1*sin1, 1.5)
	d := x / (n1 * utmK0)

	lat := phi1 - (n1*tan1/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)

	lon := (d - (1+2*t1+c1)*math.Pow(d, 3)/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120) / cos1

	centralMeridian := float64(zone-1)*6 - 180 + 3

	return orb.Point{centralMeridian + lon*180/math.Pi, lat * 180 / math.Pi}
}
