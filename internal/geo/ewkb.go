package geo

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/price-discovery/internal/model"
)

// SRID4326 is WGS84.
const SRID4326 = 4326

// EncodePoint converts a coordinate to EWKB bytes with SRID 4326, ready for
// ST_GeomFromEWKB.
func EncodePoint(p model.Point) ([]byte, error) {
	if !ValidPoint(p) {
		return nil, eris.Errorf("geo: invalid point (%v, %v)", p.Lat, p.Lng)
	}
	g := geom.NewPointFlat(geom.XY, []float64{p.Lng, p.Lat}).SetSRID(SRID4326)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode EWKB")
	}
	return data, nil
}

// DecodePoint parses EWKB point bytes back into a coordinate.
func DecodePoint(data []byte) (model.Point, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return model.Point{}, eris.Wrap(err, "geo: decode EWKB")
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return model.Point{}, eris.Errorf("geo: expected point, got %T", g)
	}
	return model.Point{Lat: pt.Y(), Lng: pt.X()}, nil
}
