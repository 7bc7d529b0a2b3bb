package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/tb3nav/navseq/pkg/core"
)

// Map frame coordinates are metres in a local planar frame. When the frame
// origin is anchored to WGS84, positions are projected through EPSG:3857.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Origin anchors the map frame origin to a WGS84 longitude/latitude.
type Origin struct {
	Lon float64
	Lat float64
}

// OriginFromString parses "lon,lat" into an Origin.
func OriginFromString(coords string) (Origin, error) {
	parts := strings.Split(coords, ",")
	if len(parts) != 2 {
		return Origin{}, ErrInvalidCoordinates
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Origin{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Origin{}, ErrInvalidCoordinates
	}
	if lon < -180 || lon > 180 || lat < -85 || lat > 85 {
		return Origin{}, ErrInvalidCoordinates
	}
	return Origin{Lon: lon, Lat: lat}, nil
}

// ToWGS84 converts a map-frame position (metres east, metres north of the
// origin) to longitude and latitude.
func (o Origin) ToWGS84(x, y float64) (lon, lat float64) {
	epsg := wgs84.EPSG()
	to3857 := epsg.Transform(4326, 3857)
	to4326 := epsg.Transform(3857, 4326)

	ox, oy, _ := to3857(o.Lon, o.Lat, 0)
	// web mercator stretches distances by 1/cos(lat)
	scale := 1 / math.Cos(o.Lat*math.Pi/180)
	lon, lat, _ = to4326(ox+x*scale, oy+y*scale, 0)
	return lon, lat
}

// PointFromGoal returns the goal position as a 2D point. NaN or infinite
// coordinates are rejected.
func PointFromGoal(g core.Goal) (geom.Point, error) {
	p, err := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: g.X, Y: g.Y}})
	if err != nil {
		return geom.Point{}, fmt.Errorf("invalid goal position: %w", err)
	}
	return p, nil
}

// Yaw returns the heading in radians encoded by the goal orientation
// quaternion. The quaternion is not normalized first.
func Yaw(g core.Goal) float64 {
	sinyCosp := 2 * (g.QW*g.QZ + g.QX*g.QY)
	cosyCosp := 1 - 2*(g.QY*g.QY+g.QZ*g.QZ)
	return math.Atan2(sinyCosp, cosyCosp)
}

// YawDegrees is Yaw in degrees, in (-180, 180].
func YawDegrees(g core.Goal) float64 {
	return Yaw(g) * 180 / math.Pi
}
