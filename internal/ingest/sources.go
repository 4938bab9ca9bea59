package ingest

import (
	"context"
	"io"
)

// WithEPSG tags every record of source with the CRS of its coordinates
func WithEPSG(source RecordSource, epsg int) RecordSource {
	return &epsgSource{source: source, epsg: epsg}
}

type epsgSource struct {
	source RecordSource
	epsg   int
}

func (s *epsgSource) Open(ctx context.Context) (RecordReader, error) {
	reader, err := s.source.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &epsgReader{RecordReader: reader, epsg: s.epsg}, nil
}

type epsgReader struct {
	RecordReader
	epsg int
}

func (r *epsgReader) Next() (RawRecord, error) {
	rec, err := r.RecordReader.Next()
	if err == nil && rec.EPSG == 0 {
		rec.EPSG = r.epsg
	}
	return rec, err
}

// Concat reads the given sources one after another as a single source
func Concat(sources ...RecordSource) RecordSource {
	if len(sources) == 1 {
		return sources[0]
	}
	return concatSource(sources)
}

type concatSource []RecordSource

func (s concatSource) Open(ctx context.Context) (RecordReader, error) {
	return &concatReader{ctx: ctx, sources: s}, nil
}

// concatReader opens each source lazily when the previous one is exhausted
type concatReader struct {
	ctx     context.Context
	sources []RecordSource
	current RecordReader
}

func (r *concatReader) Next() (RawRecord, error) {
	for {
		if r.current == nil {
			if len(r.sources) == 0 {
				return RawRecord{}, io.EOF
			}
			reader, err := r.sources[0].Open(r.ctx)
			if err != nil {
				return RawRecord{}, err
			}
			r.current, r.sources = reader, r.sources[1:]
		}

		rec, err := r.current.Next()
		if err == io.EOF {
			closeErr := r.current.Close()
			r.current = nil
			if closeErr != nil {
				return RawRecord{}, closeErr
			}
			continue
		}
		return rec, err
	}
}

func (r *concatReader) Close() error {
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}
