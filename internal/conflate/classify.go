// Package conflate pairs buildings across the two sources by overlap and
// folds the pairs into one canonical building set.
package conflate

import (
	"cmp"
	"fmt"
	"slices"

	"doppa/internal/geometry"
	"doppa/internal/index"
	"doppa/internal/model"

	"github.com/sirupsen/logrus"
)

// Class labels how a building relates to the other source
type Class string

const (
	// ClassOnly buildings intersect nothing in the other source
	ClassOnly Class = "only"
	// ClassMatched buildings were paired 1:1 with a counterpart above the threshold
	ClassMatched Class = "matched"
	// ClassOverlap buildings intersect the other source but won no match
	ClassOverlap Class = "overlap"
)

// Candidate is an intersecting cross-source pair and its overlap score
type Candidate struct {
	A   int // Position in the A features
	B   int // Position in the B features
	IoU float64
}

// Record is the classification outcome for one building or one matched pair.
// Exactly one of AID and BID is nil unless Class is ClassMatched.
type Record struct {
	AID   *string
	BID   *string
	IoU   *float64
	Class Class
}

// Summary counts the classification outcome
type Summary struct {
	AOnly      int
	BOnly      int
	Matched    int
	AOverlap   int
	BOverlap   int
	Candidates int // Intersecting pairs examined
	Failures   int // Pairs whose overlay failed
	Duplicates int // Repeated ids ignored
}

// Result is the output of one classification
type Result struct {
	ASource model.Source
	BSource model.Source
	Records []Record
	Summary Summary
}

// Options configure a Classifier
type Options struct {
	Threshold float64 // Minimum IoU, exclusive
	Index     string  // index.KindGrid or index.KindRTree
	GridScale float64
	Log       *logrus.Entry
}

// Classifier labels buildings of two sources as source-only, matched or
// overlapping-but-unmatched
type Classifier struct {
	threshold float64
	indexKind string
	scale     float64
	log       *logrus.Entry
}

// NewClassifier creates a classifier
func NewClassifier(opts Options) (*Classifier, error) {
	if opts.Threshold < 0 || opts.Threshold >= 1 {
		return nil, fmt.Errorf("IoU threshold must be in [0, 1), got %g", opts.Threshold)
	}
	if opts.Index == "" {
		opts.Index = index.KindGrid
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Classifier{
		threshold: opts.Threshold,
		indexKind: opts.Index,
		scale:     opts.GridScale,
		log:       opts.Log,
	}, nil
}

// Accepts reports whether an IoU is high enough to merge a pair
func (c *Classifier) Accepts(iou float64) bool {
	return iou > c.threshold
}

// Classify pairs every building of a with the candidates of b. Every distinct
// id of either source ends up in exactly one record. A building is source-only
// iff no candidate in the other source intersects it; among intersecting pairs
// above the threshold, matches are assigned greedily by descending IoU with
// ties broken by the lowest (a id, b id).
func (c *Classifier) Classify(a, b []model.BuildingFeature) (Result, error) {
	a, dupA := c.distinct(a)
	b, dupB := c.distinct(b)

	result := Result{
		ASource: sourceOf(a, model.SourceOSM),
		BSource: sourceOf(b, model.SourceFKB),
	}
	result.Summary.Duplicates = dupA + dupB

	shapesA := c.prepare(a)
	shapesB := c.prepare(b)

	idx, err := index.New(c.indexKind, b, c.scale)
	if err != nil {
		return Result{}, err
	}

	candidates := c.candidates(a, b, shapesA, shapesB, idx, &result.Summary)
	c.log.Infof("Found %d intersecting candidate pairs between %d %s and %d %s buildings",
		len(candidates), len(a), result.ASource, len(b), result.BSource)

	matchOfA, matchOfB := c.match(a, b, candidates)

	intersectsA := make([]bool, len(a))
	intersectsB := make([]bool, len(b))
	for _, cand := range candidates {
		intersectsA[cand.A] = true
		intersectsB[cand.B] = true
	}

	records := make([]Record, 0, len(a)+len(b))
	for i := range a {
		id := &a[i].ExternalID
		if m, ok := matchOfA[i]; ok {
			iou := m.IoU
			records = append(records, Record{AID: id, BID: &b[m.B].ExternalID, IoU: &iou, Class: ClassMatched})
			result.Summary.Matched++
			continue
		}
		if intersectsA[i] {
			records = append(records, Record{AID: id, Class: ClassOverlap})
			result.Summary.AOverlap++
			continue
		}
		records = append(records, Record{AID: id, Class: ClassOnly})
		result.Summary.AOnly++
	}

	for j := range b {
		if _, ok := matchOfB[j]; ok {
			continue
		}
		id := &b[j].ExternalID
		if intersectsB[j] {
			records = append(records, Record{BID: id, Class: ClassOverlap})
			result.Summary.BOverlap++
			continue
		}
		records = append(records, Record{BID: id, Class: ClassOnly})
		result.Summary.BOnly++
	}

	result.Records = records
	return result, nil
}

// candidates returns every intersecting pair found through the index
func (c *Classifier) candidates(a, b []model.BuildingFeature, shapesA, shapesB []*geometry.Shape, idx index.CandidateIndex, summary *Summary) []Candidate {
	var out []Candidate
	for i := range a {
		if shapesA[i] == nil {
			continue
		}
		for _, j := range idx.Candidates(&a[i]) {
			if shapesB[j] == nil || !shapesA[i].Intersects(shapesB[j]) {
				continue
			}

			iou, err := geometry.IoU(shapesA[i], shapesB[j])
			if err != nil {
				// The pair still intersects, it just cannot be scored
				c.log.Warnf("Skipping overlap score of %s/%s: %v", a[i].Key(), b[j].Key(), err)
				summary.Failures++
				iou = 0
			}
			out = append(out, Candidate{A: i, B: j, IoU: iou})
		}
	}
	summary.Candidates = len(out)
	return out
}

// match assigns accepted pairs 1:1, best IoU first
func (c *Classifier) match(a, b []model.BuildingFeature, candidates []Candidate) (map[int]Candidate, map[int]Candidate) {
	accepted := make([]Candidate, 0)
	for _, cand := range candidates {
		if c.Accepts(cand.IoU) {
			accepted = append(accepted, cand)
		}
	}

	slices.SortFunc(accepted, func(x, y Candidate) int {
		if r := cmp.Compare(y.IoU, x.IoU); r != 0 {
			return r
		}
		if r := cmp.Compare(a[x.A].ExternalID, a[y.A].ExternalID); r != 0 {
			return r
		}
		return cmp.Compare(b[x.B].ExternalID, b[y.B].ExternalID)
	})

	matchOfA := make(map[int]Candidate)
	matchOfB := make(map[int]Candidate)
	for _, cand := range accepted {
		if _, taken := matchOfA[cand.A]; taken {
			continue
		}
		if _, taken := matchOfB[cand.B]; taken {
			continue
		}
		matchOfA[cand.A] = cand
		matchOfB[cand.B] = cand
	}

	return matchOfA, matchOfB
}

// prepare builds overlay shapes. A building whose shape cannot be built takes
// part in no pair and is reported as source-only.
func (c *Classifier) prepare(features []model.BuildingFeature) []*geometry.Shape {
	shapes := make([]*geometry.Shape, len(features))
	for i := range features {
		shape, err := geometry.NewShape(features[i].Geometry)
		if err != nil {
			c.log.Warnf("Cannot compare %s: %v", features[i].Key(), err)
			continue
		}
		shapes[i] = shape
	}
	return shapes
}

// distinct drops repeated ids, keeping the first occurrence. The input is
// returned as is when every id is unique.
func (c *Classifier) distinct(features []model.BuildingFeature) ([]model.BuildingFeature, int) {
	seen := make(map[string]struct{}, len(features))
	var out []model.BuildingFeature
	for i, f := range features {
		if _, dup := seen[f.ExternalID]; dup {
			if out == nil {
				out = make([]model.BuildingFeature, i, len(features))
				copy(out, features[:i])
			}
			c.log.Warnf("Ignoring repeated id %s", f.Key())
			continue
		}
		seen[f.ExternalID] = struct{}{}
		if out != nil {
			out = append(out, f)
		}
	}
	if out == nil {
		return features, 0
	}
	return out, len(features) - len(out)
}

func sourceOf(features []model.BuildingFeature, fallback model.Source) model.Source {
	if len(features) > 0 {
		return features[0].Source
	}
	return fallback
}

// LogSummary writes the conflation summary line
func (r Result) LogSummary(log *logrus.Entry) {
	s := r.Summary
	log.Infof("Conflation summary: %d %s-only, %d %s-only, %d matched pairs, %d/%d overlapping without match, %d candidate pairs",
		s.AOnly, r.ASource, s.BOnly, r.BSource, s.Matched, s.AOverlap, s.BOverlap, s.Candidates)
	if s.Failures > 0 || s.Duplicates > 0 {
		log.Warnf("Conflation issues: %d failed overlays, %d repeated ids ignored", s.Failures, s.Duplicates)
	}
}
