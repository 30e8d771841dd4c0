package geom

import "math"

// WGS84 ellipsoid.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
)

var wgs84E = math.Sqrt(wgs84F * (2 - wgs84F))

// Projection is an ellipsoidal polar stereographic projection with a
// standard parallel (variant B).
type Projection struct {
	Code string

	south   bool
	lambda0 float64
	scale   float64 // a * m_c / t_c
}

// EPSG:3031 Antarctic Polar Stereographic and EPSG:3413 NSIDC Sea Ice Polar
// Stereographic North.
var (
	AntarcticPolarStereographic = newProjection("EPSG:3031", true, -71, 0)
	ArcticPolarStereographic    = newProjection("EPSG:3413", false, 70, -45)
)

// ProjectionFor returns the polar projection of a hemisphere.
func ProjectionFor(h Hemisphere) (Projection, bool) {
	switch h {
	case HemisphereSouth:
		return AntarcticPolarStereographic, true
	case HemisphereNorth:
		return ArcticPolarStereographic, true
	default:
		return Projection{}, false
	}
}

func newProjection(code string, south bool, stdParallel, centralMeridian float64) Projection {
	phiC := radians(math.Abs(stdParallel))
	sinC := math.Sin(phiC)
	mC := math.Cos(phiC) / math.Sqrt(1-wgs84E*wgs84E*sinC*sinC)
	return Projection{
		Code:    code,
		south:   south,
		lambda0: radians(centralMeridian),
		scale:   wgs84A * mC / isometricT(phiC),
	}
}

// Forward projects lon/lat degrees to metres.
func (p Projection) Forward(lon, lat float64) (x, y float64) {
	phi := radians(lat)
	if p.south {
		phi = -phi
	}
	rho := p.scale * isometricT(phi)
	dl := radians(lon) - p.lambda0
	if p.south {
		return rho * math.Sin(dl), rho * math.Cos(dl)
	}
	return rho * math.Sin(dl), -rho * math.Cos(dl)
}

// isometricT is Snyder's t for latitude phi measured toward the projection pole.
func isometricT(phi float64) float64 {
	es := wgs84E * math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-es)/(1+es), wgs84E/2)
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
