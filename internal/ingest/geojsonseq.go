package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"
)

// maxLineSize bounds a single GeoJSON feature line
const maxLineSize = 64 * 1024 * 1024

// GeoJSONSeqSource reads newline-delimited GeoJSON features. Files ending in
// .zst are decompressed on the fly.
type GeoJSONSeqSource struct {
	Path string
}

// NewGeoJSONSeqSource creates a source over the file at path
func NewGeoJSONSeqSource(path string) *GeoJSONSeqSource {
	return &GeoJSONSeqSource{Path: path}
}

func (s *GeoJSONSeqSource) Open(ctx context.Context) (RecordReader, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoJSON file: %w", err)
	}

	if !strings.HasSuffix(s.Path, ".zst") {
		return NewGeoJSONSeqReader(file), nil
	}

	decoder, err := zstd.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open zstd stream: %w", err)
	}
	reader := NewGeoJSONSeqReader(decoder)
	reader.closers = append(reader.closers, func() error { decoder.Close(); return nil }, file.Close)
	return reader, nil
}

// GeoJSONSeqReader decodes one GeoJSON feature per line
type GeoJSONSeqReader struct {
	scanner *bufio.Scanner
	line    int
	closers []func() error
}

// NewGeoJSONSeqReader wraps r. If r is an io.Closer it is closed with the reader.
func NewGeoJSONSeqReader(r io.Reader) *GeoJSONSeqReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	reader := &GeoJSONSeqReader{scanner: scanner}
	if c, ok := r.(io.Closer); ok {
		reader.closers = append(reader.closers, c.Close)
	}
	return reader
}

func (r *GeoJSONSeqReader) Next() (RawRecord, error) {
	for r.scanner.Scan() {
		r.line++

		// RFC 8142 record separators and blank lines carry no feature
		line := bytes.TrimSpace(bytes.TrimPrefix(r.scanner.Bytes(), []byte{0x1e}))
		if len(line) == 0 {
			continue
		}

		feature, err := geojson.UnmarshalFeature(line)
		if err != nil {
			return RawRecord{
				ID:  "line " + strconv.Itoa(r.line),
				Err: fmt.Errorf("failed to parse feature: %w", err),
			}, nil
		}

		rec := RawRecord{
			ID:       featureID(feature),
			Tags:     stringProperties(feature.Properties),
			Geometry: feature.Geometry,
		}
		if rec.Geometry == nil {
			rec.Err = fmt.Errorf("feature %s has no geometry", rec.ID)
		}
		return rec, nil
	}

	if err := r.scanner.Err(); err != nil {
		return RawRecord{}, err
	}
	return RawRecord{}, io.EOF
}

func (r *GeoJSONSeqReader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func featureID(f *geojson.Feature) string {
	switch id := f.ID.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}

// stringProperties flattens GeoJSON properties to strings, dropping nulls
func stringProperties(props geojson.Properties) map[string]string {
	tags := make(map[string]string, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			tags[k] = val
		case float64:
			tags[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			tags[k] = strconv.FormatBool(val)
		default:
			tags[k] = fmt.Sprint(val)
		}
	}
	return tags
}
