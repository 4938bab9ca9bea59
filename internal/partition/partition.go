// Package partition groups buildings into geohash partitions for output.
package partition

import (
	"fmt"
	"slices"

	"doppa/internal/model"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
)

// MaxPrecision is the longest geohash the partitioner will produce
const MaxPrecision = 12

// Partitioner groups rows by the geohash of their centroid
type Partitioner struct {
	precision uint
}

// NewPartitioner creates a partitioner producing keys of the given length
func NewPartitioner(precision uint) (*Partitioner, error) {
	if precision < 1 || precision > MaxPrecision {
		return nil, fmt.Errorf("geohash precision must be in [1, %d], got %d", MaxPrecision, precision)
	}
	return &Partitioner{precision: precision}, nil
}

// Key returns the partition key of a point
func (p *Partitioner) Key(pt orb.Point) string {
	return geohash.EncodeWithPrecision(pt.Lat(), pt.Lon(), p.precision)
}

// Partition groups the rows of batch by key. Partitions are ordered by key and
// keep the input order of their rows; the batch is not modified.
func (p *Partitioner) Partition(batch model.Batch) []model.Partition {
	groups := make(map[string][]model.Row)
	for _, row := range batch.Rows {
		key := p.Key(row.Centroid())
		groups[key] = append(groups[key], row)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	partitions := make([]model.Partition, 0, len(keys))
	for _, k := range keys {
		partitions = append(partitions, model.Partition{Key: k, Rows: groups[k]})
	}

	return partitions
}

// Chunk splits a partition into pieces of at most maxRows rows. A partition
// within the bound is returned as the only piece.
func Chunk(part model.Partition, maxRows int) []model.Partition {
	if maxRows <= 0 || len(part.Rows) <= maxRows {
		return []model.Partition{part}
	}

	chunks := make([]model.Partition, 0, (len(part.Rows)+maxRows-1)/maxRows)
	for rows := range slices.Chunk(part.Rows, maxRows) {
		chunks = append(chunks, model.Partition{Key: part.Key, Rows: rows})
	}
	return chunks
}

// PartitionBounded partitions batch and chunks every partition above maxRows
func (p *Partitioner) PartitionBounded(batch model.Batch, maxRows int) []model.Partition {
	var out []model.Partition
	for _, part := range p.Partition(batch) {
		out = append(out, Chunk(part, maxRows)...)
	}
	return out
}
