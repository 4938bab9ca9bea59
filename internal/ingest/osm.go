package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/qedus/osmpbf"
	"github.com/sirupsen/logrus"
)

// OSM relation roles of multipolygon members
const (
	roleOuter = "outer"
	roleInner = "inner"
)

// OSMSource reads buildings from an OSM PBF file: closed ways tagged
// building=* and multipolygon relations tagged building=*
type OSMSource struct {
	Path string
	log  *logrus.Entry
}

// NewOSMSource creates a source over the PBF file at path
func NewOSMSource(path string, log *logrus.Entry) *OSMSource {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &OSMSource{Path: path, log: log}
}

// Open resolves the coordinates of every node referenced by a building way or
// a building relation member and returns a reader positioned at the start of
// the file
func (s *OSMSource) Open(ctx context.Context) (RecordReader, error) {
	s.log.Infof("Processing OSM file: %s", s.Path)

	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open OSM file: %w", err)
	}

	// First pass: node ids of building ways, way ids of building relations
	s.log.Info("First pass: collecting building ways and relations...")
	wanted := make(map[int64]struct{})
	memberWays := make(map[int64][]int64)
	err = s.scan(ctx, file, func(obj interface{}) {
		switch o := obj.(type) {
		case *osmpbf.Way:
			if isBuilding(o.Tags) {
				for _, id := range o.NodeIDs {
					wanted[id] = struct{}{}
				}
			}
		case *osmpbf.Relation:
			if isBuildingRelation(o) {
				for _, m := range o.Members {
					if m.Type == osmpbf.WayType {
						memberWays[m.ID] = nil
					}
				}
			}
		}
	})
	if err != nil {
		file.Close()
		return nil, err
	}

	// Second pass: node lists of relation member ways
	if len(memberWays) > 0 {
		s.log.Infof("Second pass: resolving %d relation member ways...", len(memberWays))
		err = s.scan(ctx, file, func(obj interface{}) {
			way, ok := obj.(*osmpbf.Way)
			if !ok {
				return
			}
			if _, member := memberWays[way.ID]; member {
				memberWays[way.ID] = way.NodeIDs
				for _, id := range way.NodeIDs {
					wanted[id] = struct{}{}
				}
			}
		})
		if err != nil {
			file.Close()
			return nil, err
		}
	}

	// Third pass: resolve the wanted nodes only
	s.log.Infof("Third pass: resolving %d nodes...", len(wanted))
	nodes := make(map[int64]orb.Point, len(wanted))
	err = s.scan(ctx, file, func(obj interface{}) {
		if node, ok := obj.(*osmpbf.Node); ok {
			if _, needed := wanted[node.ID]; needed {
				nodes[node.ID] = orb.Point{node.Lon, node.Lat}
			}
		}
	})
	if err != nil {
		file.Close()
		return nil, err
	}

	// Last pass is driven lazily by the reader
	decoder, err := s.restart(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &osmReader{file: file, decoder: decoder, nodes: nodes, memberWays: memberWays}, nil
}

// scan rewinds the file and hands every decoded object to fn
func (s *OSMSource) scan(ctx context.Context, file *os.File, fn func(obj interface{})) error {
	decoder, err := s.restart(file)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			drain(decoder)
			return err
		}

		obj, err := decoder.Decode()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error decoding OSM data: %w", err)
		}
		fn(obj)
	}
}

func (s *OSMSource) restart(file *os.File) (*osmpbf.Decoder, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind OSM file: %w", err)
	}

	decoder := osmpbf.NewDecoder(file)
	decoder.SetBufferSize(osmpbf.MaxBlobSize)

	// Use all available CPU cores for blob decompression
	if err := decoder.Start(runtime.GOMAXPROCS(-1)); err != nil {
		return nil, fmt.Errorf("failed to start OSM decoder: %w", err)
	}
	return decoder, nil
}

// drain consumes the decoder until it reports an error so its goroutines can
// exit. The decoder has no stop method; once the underlying file is closed or
// exhausted the remaining blobs are few.
func drain(decoder *osmpbf.Decoder) {
	for {
		if _, err := decoder.Decode(); err != nil {
			return
		}
	}
}

type osmReader struct {
	file       *os.File
	decoder    *osmpbf.Decoder
	nodes      map[int64]orb.Point
	memberWays map[int64][]int64
	done       bool
}

func (r *osmReader) Next() (RawRecord, error) {
	for {
		obj, err := r.decoder.Decode()
		if err != nil {
			r.done = true
			return RawRecord{}, err
		}

		switch o := obj.(type) {
		case *osmpbf.Way:
			if !isBuilding(o.Tags) {
				continue
			}

			rec := RawRecord{ID: strconv.FormatInt(o.ID, 10), Tags: o.Tags}
			polygon, err := wayPolygon(o, r.nodes)
			if err != nil {
				rec.Err = err
			} else {
				rec.Geometry = polygon
			}
			return rec, nil

		case *osmpbf.Relation:
			if !isBuildingRelation(o) {
				continue
			}

			rec := RawRecord{ID: relationID(o.ID), Tags: o.Tags}
			mp, err := relationMultiPolygon(o, r.memberWays, r.nodes)
			if err != nil {
				rec.Err = err
			} else {
				rec.Geometry = mp
			}
			return rec, nil
		}
	}
}

// Close releases the file and lets the decoder goroutines finish
func (r *osmReader) Close() error {
	err := r.file.Close()
	if !r.done {
		drain(r.decoder)
		r.done = true
	}
	return err
}

// isBuilding reports whether the tags carry a building key. building=no is
// passed through so the normalizer can count it as untagged.
func isBuilding(tags map[string]string) bool {
	_, ok := tags[osmBuildingTag]
	return ok
}

func isBuildingRelation(rel *osmpbf.Relation) bool {
	return rel.Tags["type"] == "multipolygon" && isBuilding(rel.Tags)
}

// relationID keeps relation ids apart from way ids
func relationID(id int64) string {
	return "r" + strconv.FormatInt(id, 10)
}

// wayPolygon builds a closed polygon from the way nodes
func wayPolygon(way *osmpbf.Way, nodes map[int64]orb.Point) (orb.Polygon, error) {
	// Skip if not enough nodes to form a polygon
	if len(way.NodeIDs) < 4 {
		return nil, fmt.Errorf("way %d has %d nodes, need at least 4", way.ID, len(way.NodeIDs))
	}
	if way.NodeIDs[0] != way.NodeIDs[len(way.NodeIDs)-1] {
		return nil, fmt.Errorf("way %d is not closed", way.ID)
	}

	ring, err := resolveRing(way.NodeIDs, nodes)
	if err != nil {
		return nil, fmt.Errorf("way %d: %w", way.ID, err)
	}
	return orb.Polygon{ring}, nil
}

// relationMultiPolygon stitches the outer and inner member ways of a
// multipolygon relation into rings and assigns every inner ring to the outer
// ring containing it
func relationMultiPolygon(rel *osmpbf.Relation, memberWays map[int64][]int64, nodes map[int64]orb.Point) (orb.MultiPolygon, error) {
	var outerIDs, innerIDs []int64
	for _, m := range rel.Members {
		if m.Type != osmpbf.WayType {
			continue
		}
		switch m.Role {
		case roleInner:
			innerIDs = append(innerIDs, m.ID)
		case roleOuter, "":
			outerIDs = append(outerIDs, m.ID)
		}
	}
	if len(outerIDs) == 0 {
		return nil, fmt.Errorf("relation %d has no outer ways", rel.ID)
	}

	outers, err := relationRings(rel.ID, outerIDs, memberWays, nodes)
	if err != nil {
		return nil, err
	}
	inners, err := relationRings(rel.ID, innerIDs, memberWays, nodes)
	if err != nil {
		return nil, err
	}

	mp := make(orb.MultiPolygon, len(outers))
	for i, outer := range outers {
		mp[i] = orb.Polygon{outer}
	}
	for _, inner := range inners {
		placed := false
		for i := range mp {
			if planar.RingContains(mp[i][0], inner[0]) {
				mp[i] = append(mp[i], inner)
				placed = true
				break
			}
		}
		if !placed {
			return nil, fmt.Errorf("relation %d has an inner ring outside every outer ring", rel.ID)
		}
	}

	return mp, nil
}

func relationRings(relID int64, wayIDs []int64, memberWays map[int64][]int64, nodes map[int64]orb.Point) ([]orb.Ring, error) {
	ways := make([][]int64, 0, len(wayIDs))
	for _, id := range wayIDs {
		refs := memberWays[id]
		if len(refs) == 0 {
			return nil, fmt.Errorf("relation %d references missing way %d", relID, id)
		}
		ways = append(ways, refs)
	}

	chains, err := joinWays(ways)
	if err != nil {
		return nil, fmt.Errorf("relation %d: %w", relID, err)
	}

	rings := make([]orb.Ring, 0, len(chains))
	for _, chain := range chains {
		ring, err := resolveRing(chain, nodes)
		if err != nil {
			return nil, fmt.Errorf("relation %d: %w", relID, err)
		}
		rings = append(rings, ring)
	}
	return rings, nil
}

var errOpenRing = errors.New("member ways do not form closed rings")

// joinWays chains node lists sharing end nodes into closed rings. Ways may be
// reversed to fit.
func joinWays(ways [][]int64) ([][]int64, error) {
	used := make([]bool, len(ways))
	var rings [][]int64

	for start := range ways {
		if used[start] {
			continue
		}
		used[start] = true
		chain := append([]int64(nil), ways[start]...)

		for chain[0] != chain[len(chain)-1] {
			last := chain[len(chain)-1]
			extended := false
			for i, way := range ways {
				if used[i] {
					continue
				}
				switch last {
				case way[0]:
					chain = append(chain, way[1:]...)
				case way[len(way)-1]:
					for k := len(way) - 2; k >= 0; k-- {
						chain = append(chain, way[k])
					}
				default:
					continue
				}
				used[i] = true
				extended = true
				break
			}
			if !extended {
				return nil, errOpenRing
			}
		}

		if len(chain) < 4 {
			return nil, fmt.Errorf("ring of %d nodes, need at least 4", len(chain))
		}
		rings = append(rings, chain)
	}

	return rings, nil
}

// resolveRing looks up the coordinates of a closed node list
func resolveRing(nodeIDs []int64, nodes map[int64]orb.Point) (orb.Ring, error) {
	ring := make(orb.Ring, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		point, exists := nodes[nodeID]
		if !exists {
			return nil, fmt.Errorf("references missing node %d", nodeID)
		}
		ring = append(ring, point)
	}
	return ring, nil
}
