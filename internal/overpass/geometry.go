package overpass

import (
	_ "embed"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"gopkg.in/yaml.v3"
)

//go:embed shapes.yaml
var shapesYAML []byte

// shapeTable maps ISO codes to polygon rings of [lon, lat] vertices.
type shapeTable struct {
	Shapes map[string][][][]float64 `yaml:"shapes"`
}

var (
	shapesOnce sync.Once
	shapes     shapeTable
	shapesErr  error
)

func loadShapes() (map[string][][][]float64, error) {
	shapesOnce.Do(func() {
		shapesErr = yaml.Unmarshal(shapesYAML, &shapes)
	})
	if shapesErr != nil {
		return nil, eris.Wrap(shapesErr, "overpass: parse shape table")
	}
	return shapes.Shapes, nil
}

// MaterializeGeometry converts a territory code into a concrete boundary
// geometry using the embedded reference-shape table. Full reconstruction
// from Overpass way/node members is not attempted; the table holds coarse
// outlines per code. Codes absent from the table cannot be materialized.
func MaterializeGeometry(code string) (geom.T, error) {
	table, err := loadShapes()
	if err != nil {
		return nil, err
	}

	rings, ok := table[code]
	if !ok || len(rings) == 0 {
		return nil, eris.Errorf("overpass: no reference shape for %q", code)
	}

	polys := make([]*geom.Polygon, 0, len(rings))
	for _, ring := range rings {
		if len(ring) < 4 {
			return nil, eris.Errorf("overpass: degenerate ring for %q", code)
		}
		flat := make([]float64, 0, len(ring)*2)
		for _, v := range ring {
			if len(v) != 2 {
				return nil, eris.Errorf("overpass: malformed vertex for %q", code)
			}
			flat = append(flat, v[0], v[1])
		}
		poly := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326)
		polys = append(polys, poly)
	}

	if len(polys) == 1 {
		return polys[0], nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for _, p := range polys {
		if err := mp.Push(p); err != nil {
			return nil, eris.Wrapf(err, "overpass: assemble multipolygon for %q", code)
		}
	}
	return mp, nil
}
