// Package sink writes partitions as zstd-compressed GeoJSON text sequences
// under the release path layout.
package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"doppa/internal/model"
	"doppa/internal/release"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
)

// Target addresses the partitions of one region within a release. An empty
// Dataset denotes the conflated output.
type Target struct {
	Release string
	Dataset string
	Region  string
}

// Asset describes one written partition file
type Asset struct {
	Path         string // Release-relative path
	PartitionKey string
	Rows         int
	Bytes        int64
	Bound        orb.Bound
}

// Writer persists partitions
type Writer interface {
	Write(ctx context.Context, target Target, parts []model.Partition) ([]Asset, error)
}

// LocalWriter writes partition files below a root directory
type LocalWriter struct {
	root  string
	level zstd.EncoderLevel
	log   *logrus.Entry
}

// NewLocalWriter creates a writer rooted at dir
func NewLocalWriter(dir string, log *logrus.Entry) *LocalWriter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LocalWriter{root: dir, level: zstd.SpeedDefault, log: log}
}

// Write stores each partition as part_{n}. Identifiers are validated before
// any file is created.
func (w *LocalWriter) Write(ctx context.Context, target Target, parts []model.Partition) ([]Asset, error) {
	if err := release.Validate(target.Release, target.Region, release.FileName(0)); err != nil {
		return nil, err
	}

	assets := make([]Asset, 0, len(parts))
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return assets, err
		}

		rel, err := release.Path(target.Release, target.Dataset, target.Region, release.FileName(i))
		if err != nil {
			return assets, err
		}

		asset, err := w.writeFile(rel, part)
		if err != nil {
			return assets, fmt.Errorf("failed to write %s: %w", rel, err)
		}
		assets = append(assets, asset)
	}

	w.log.Infof("Wrote %d partitions for region %s", len(assets), target.Region)
	return assets, nil
}

func (w *LocalWriter) writeFile(rel string, part model.Partition) (Asset, error) {
	full := filepath.Join(w.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Asset{}, err
	}

	// Write to a temporary file first so readers never see a partial partition
	tmp, err := os.CreateTemp(filepath.Dir(full), ".part-*")
	if err != nil {
		return Asset{}, err
	}
	defer os.Remove(tmp.Name())

	bound, err := w.encode(tmp, part)
	if err != nil {
		tmp.Close()
		return Asset{}, err
	}
	if err := tmp.Close(); err != nil {
		return Asset{}, err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return Asset{}, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return Asset{}, err
	}

	return Asset{
		Path:         rel,
		PartitionKey: part.Key,
		Rows:         len(part.Rows),
		Bytes:        info.Size(),
		Bound:        bound,
	}, nil
}

func (w *LocalWriter) encode(f *os.File, part model.Partition) (orb.Bound, error) {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(w.level))
	if err != nil {
		return orb.Bound{}, err
	}

	buf := bufio.NewWriter(enc)
	var bound orb.Bound
	for i, row := range part.Rows {
		line, err := json.Marshal(RowFeature(row, part.Key))
		if err != nil {
			enc.Close()
			return orb.Bound{}, err
		}
		buf.Write(line)
		buf.WriteByte('\n')

		if i == 0 {
			bound = row.Geometry.Bound()
		} else {
			bound = bound.Union(row.Geometry.Bound())
		}
	}

	if err := buf.Flush(); err != nil {
		enc.Close()
		return orb.Bound{}, err
	}
	return bound, enc.Close()
}

// ColumnPartitionKey is the property carrying the partition key in written files
const ColumnPartitionKey = "partition_key"

// RowFeature converts a row to a GeoJSON feature. Null columns are kept as
// null properties so every line carries the full schema.
func RowFeature(row model.Row, partitionKey string) *geojson.Feature {
	f := geojson.NewFeature(row.Geometry)
	for column, v := range row.Columns {
		if v == nil {
			f.Properties[column] = nil
			continue
		}
		f.Properties[column] = *v
	}
	f.Properties[ColumnPartitionKey] = partitionKey

	f.BBox = geojson.NewBBox(row.Geometry.Bound())
	if id, ok := row.Value(model.ColumnExternalID); ok {
		f.ID = id
	}
	return f
}
