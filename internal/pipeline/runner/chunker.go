package runner

import (
	"fmt"
	"io"
	"os"

	resticchunker "github.com/restic/chunker"
)

// chunkReader yields successive byte slices from the input file. Next
// returns io.EOF (with a nil slice) once the stream is exhausted, matching
// io.Reader's end-of-stream convention so the reader task can treat both
// chunking strategies identically.
type chunkReader interface {
	Next() ([]byte, error)
}

// fixedChunkReader emits ChunkSize-byte slices, the last one shorter
// (spec.md §3 default fixed-size chunking path, §4.4 reader task).
type fixedChunkReader struct {
	r         io.Reader
	chunkSize int
}

func newFixedChunkReader(r io.Reader, chunkSize int) *fixedChunkReader {
	return &fixedChunkReader{r: r, chunkSize: chunkSize}
}

func (f *fixedChunkReader) Next() ([]byte, error) {
	buf := make([]byte, f.chunkSize)
	n, err := io.ReadFull(f.r, buf)
	if n == 0 && err == io.EOF {
		return nil, io.EOF
	}
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:n], nil
}

// fastCDCChunkReader emits content-defined chunk boundaries using the
// FastCDC rolling-hash chunker. Grounded on the teacher's
// internal/crypto.FastCDCChunker (same resticchunker.NewWithBoundaries
// call, same min/max shape and per-run random polynomial), adapted from a
// channel-of-ChunkResult producer to the pull-based chunkReader contract
// the reader task drives (spec.md §9 design note: only the fixed-size path
// is named directly by spec.md §3/§4.4; content-defined sizing is an
// additional mode, selected per pipeline, that still produces the same
// FileChunk/container shape downstream).
type fastCDCChunkReader struct {
	chunker *resticchunker.Chunker
	buf     []byte
}

func newFastCDCChunkReader(r io.Reader, minSize, avgSize, maxSize int) (*fastCDCChunkReader, error) {
	if minSize <= 0 || avgSize <= 0 || maxSize <= 0 || minSize > avgSize || avgSize > maxSize {
		return nil, fmt.Errorf("runner: fastcdc chunk sizes must satisfy 0 < min <= avg <= max (got %d <= %d <= %d)",
			minSize, avgSize, maxSize)
	}
	pol, err := resticchunker.RandomPolynomial()
	if err != nil {
		return nil, fmt.Errorf("runner: generate fastcdc polynomial: %w", err)
	}
	return &fastCDCChunkReader{
		chunker: resticchunker.NewWithBoundaries(r, pol, uint(minSize), uint(maxSize)),
		buf:     make([]byte, maxSize),
	}, nil
}

func (f *fastCDCChunkReader) Next() ([]byte, error) {
	c, err := f.chunker.Next(f.buf)
	if err != nil {
		return nil, err
	}
	data := make([]byte, c.Length)
	copy(data, c.Data)
	return data, nil
}

// defaultFastCDCBounds are the teacher's DefaultFastCDCChunker figures
// (1 MB / 4 MB / 16 MB), used when a run enables FastCDC without
// overriding the bounds explicitly.
const (
	defaultFastCDCMin int64 = 1 * 1024 * 1024
	defaultFastCDCAvg int64 = 4 * 1024 * 1024
	defaultFastCDCMax int64 = 16 * 1024 * 1024
)

func newChunkReader(cfg Config, f *os.File) (chunkReader, error) {
	if cfg.FastCDC {
		min, avg, max := cfg.FastCDCMin, cfg.FastCDCAvg, cfg.FastCDCMax
		if min == 0 {
			min = defaultFastCDCMin
		}
		if avg == 0 {
			avg = defaultFastCDCAvg
		}
		if max == 0 {
			max = defaultFastCDCMax
		}
		return newFastCDCChunkReader(f, int(min), int(avg), int(max))
	}
	return newFixedChunkReader(f, int(cfg.ChunkSize.Bytes())), nil
}
