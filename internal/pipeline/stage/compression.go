package stage

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression stage services. Grounded on internal/crypto/compression.go's
// Compressor interface and ZstdCompressor/NoopCompressor implementations,
// adapted from whole-buffer Compress/Decompress methods into the
// chunk-at-a-time stage.Service contract with explicit Forward/Reverse
// operations instead of separate method names.

// ZstdService compresses/decompresses chunks with zstd.
// Parameters: {"level": "1".."19"}.
type ZstdService struct{}

func NewZstdService() *ZstdService { return &ZstdService{} }

func (s *ZstdService) Position() Position  { return PreBinary }
func (s *ZstdService) IsReversible() bool  { return true }
func (s *ZstdService) StageType() Type     { return TypeCompression }

func (s *ZstdService) ProcessChunk(_ context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error) {
	level, err := zstdLevel(cfg)
	if err != nil {
		return Chunk{}, NewStageError("zstd", err)
	}

	var out []byte
	if cfg.Operation == Reverse {
		out, err = zstdDecompress(chunk.Data)
		if err != nil {
			return Chunk{}, NewStageError("zstd", fmt.Errorf("%w: %v", ErrCorruptedInput, err))
		}
	} else {
		out, err = zstdCompress(chunk.Data, level)
		if err != nil {
			return Chunk{}, NewStageError("zstd", fmt.Errorf("%w: %v", ErrCompressionFailed, err))
		}
	}

	if pctx != nil && pctx.Metrics != nil {
		pctx.Metrics.AddBytesIn("zstd", int64(len(chunk.Data)))
		pctx.Metrics.AddBytesOut("zstd", int64(len(out)))
	}

	chunk.Data = out
	return chunk, nil
}

func zstdLevel(cfg Config) (zstd.EncoderLevel, error) {
	lvl := 3
	if v, ok := cfg.Param("level"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: level %q is not an integer", ErrInvalidParameter, v)
		}
		lvl = n
	}
	if lvl < 1 || lvl > 19 {
		return 0, fmt.Errorf("%w: zstd level must be 1-19, got %d", ErrInvalidParameter, lvl)
	}
	return zstd.EncoderLevelFromZstd(lvl), nil
}

func zstdCompress(data []byte, level zstd.EncoderLevel) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func zstdDecompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(256*1024*1024))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// GzipService compresses/decompresses chunks with stdlib gzip. See
// DESIGN.md's standard-library justification: gzip is a wire format, not an
// algorithm choice with a competing ecosystem implementation in the pack.
type GzipService struct{}

func NewGzipService() *GzipService { return &GzipService{} }

func (s *GzipService) Position() Position { return PreBinary }
func (s *GzipService) IsReversible() bool { return true }
func (s *GzipService) StageType() Type    { return TypeCompression }

func (s *GzipService) ProcessChunk(_ context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error) {
	var out []byte
	var err error
	if cfg.Operation == Reverse {
		out, err = gzipDecompress(chunk.Data)
		if err != nil {
			return Chunk{}, NewStageError("gzip", fmt.Errorf("%w: %v", ErrCorruptedInput, err))
		}
	} else {
		out, err = gzipCompress(chunk.Data)
		if err != nil {
			return Chunk{}, NewStageError("gzip", fmt.Errorf("%w: %v", ErrCompressionFailed, err))
		}
	}
	if pctx != nil && pctx.Metrics != nil {
		pctx.Metrics.AddBytesIn("gzip", int64(len(chunk.Data)))
		pctx.Metrics.AddBytesOut("gzip", int64(len(out)))
	}
	chunk.Data = out
	return chunk, nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// SnappyService compresses/decompresses chunks with snappy. Exercises a
// teacher go.mod dependency (github.com/golang/snappy) that the teacher
// declares but never wires into its own pipeline.
type SnappyService struct{}

func NewSnappyService() *SnappyService { return &SnappyService{} }

func (s *SnappyService) Position() Position { return PreBinary }
func (s *SnappyService) IsReversible() bool { return true }
func (s *SnappyService) StageType() Type    { return TypeCompression }

func (s *SnappyService) ProcessChunk(_ context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error) {
	var out []byte
	var err error
	if cfg.Operation == Reverse {
		out, err = snappy.Decode(nil, chunk.Data)
		if err != nil {
			return Chunk{}, NewStageError("snappy", fmt.Errorf("%w: %v", ErrCorruptedInput, err))
		}
	} else {
		out = snappy.Encode(nil, chunk.Data)
	}
	if pctx != nil && pctx.Metrics != nil {
		pctx.Metrics.AddBytesIn("snappy", int64(len(chunk.Data)))
		pctx.Metrics.AddBytesOut("snappy", int64(len(out)))
	}
	chunk.Data = out
	return chunk, nil
}

// LZ4Service compresses/decompresses chunks with LZ4, exercising
// github.com/pierrec/lz4/v4 — the LZ4 implementation the retrieval pack
// uses (dolthub-dolt's go.mod), since neither the teacher nor
// klauspost/compress ships an LZ4 codec. Parameters: {"level": "0".."9"},
// 0 meaning the library default.
type LZ4Service struct{}

func NewLZ4Service() *LZ4Service { return &LZ4Service{} }

func (s *LZ4Service) Position() Position { return PreBinary }
func (s *LZ4Service) IsReversible() bool { return true }
func (s *LZ4Service) StageType() Type    { return TypeCompression }

func (s *LZ4Service) ProcessChunk(_ context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error) {
	var out []byte
	var err error
	if cfg.Operation == Reverse {
		out, err = lz4Decompress(chunk.Data)
		if err != nil {
			return Chunk{}, NewStageError("lz4", fmt.Errorf("%w: %v", ErrCorruptedInput, err))
		}
	} else {
		level, lerr := lz4Level(cfg)
		if lerr != nil {
			return Chunk{}, NewStageError("lz4", lerr)
		}
		out, err = lz4Compress(chunk.Data, level)
		if err != nil {
			return Chunk{}, NewStageError("lz4", fmt.Errorf("%w: %v", ErrCompressionFailed, err))
		}
	}
	if pctx != nil && pctx.Metrics != nil {
		pctx.Metrics.AddBytesIn("lz4", int64(len(chunk.Data)))
		pctx.Metrics.AddBytesOut("lz4", int64(len(out)))
	}
	chunk.Data = out
	return chunk, nil
}

func lz4Level(cfg Config) (lz4.CompressionLevel, error) {
	if v, ok := cfg.Param("level"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: level %q is not an integer", ErrInvalidParameter, v)
		}
		if n < 0 || n > 9 {
			return 0, fmt.Errorf("%w: lz4 level must be 0-9, got %d", ErrInvalidParameter, n)
		}
		levels := [...]lz4.CompressionLevel{lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
			lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9}
		return levels[n], nil
	}
	return lz4.Fast, nil
}

// lz4Compress frames the payload with its original length so Decompress
// can size its output buffer without guessing (lz4's block API does not
// self-describe the decompressed size).
func lz4Compress(data []byte, level lz4.CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

// BrotliService compresses/decompresses chunks with andybalholm/brotli, a
// pure-Go codec for the one algorithm in spec.md's closed enum that neither
// the teacher nor the rest of the retrieval pack ships a library for.
// Parameters: {"level": "0".."11"}.
type BrotliService struct{}

func NewBrotliService() *BrotliService { return &BrotliService{} }

func (s *BrotliService) Position() Position { return PreBinary }
func (s *BrotliService) IsReversible() bool { return true }
func (s *BrotliService) StageType() Type    { return TypeCompression }

func (s *BrotliService) ProcessChunk(_ context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error) {
	var out []byte
	var err error
	if cfg.Operation == Reverse {
		out, err = brotliDecompress(chunk.Data)
		if err != nil {
			return Chunk{}, NewStageError("brotli", fmt.Errorf("%w: %v", ErrCorruptedInput, err))
		}
	} else {
		level, lerr := brotliLevel(cfg)
		if lerr != nil {
			return Chunk{}, NewStageError("brotli", lerr)
		}
		out, err = brotliCompress(chunk.Data, level)
		if err != nil {
			return Chunk{}, NewStageError("brotli", fmt.Errorf("%w: %v", ErrCompressionFailed, err))
		}
	}
	if pctx != nil && pctx.Metrics != nil {
		pctx.Metrics.AddBytesIn("brotli", int64(len(chunk.Data)))
		pctx.Metrics.AddBytesOut("brotli", int64(len(out)))
	}
	chunk.Data = out
	return chunk, nil
}

func brotliLevel(cfg Config) (int, error) {
	lvl := brotli.DefaultCompression
	if v, ok := cfg.Param("level"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: level %q is not an integer", ErrInvalidParameter, v)
		}
		if n < 0 || n > 11 {
			return 0, fmt.Errorf("%w: brotli level must be 0-11, got %d", ErrInvalidParameter, n)
		}
		lvl = n
	}
	return lvl, nil
}

func brotliCompress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, level)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func brotliDecompress(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}

// PassThroughService leaves chunk data untouched; usable both as the
// explicit "passthrough" stage and as a default no-op for disabled stages.
type PassThroughService struct{}

func NewPassThroughService() *PassThroughService { return &PassThroughService{} }

func (s *PassThroughService) Position() Position { return Any }
func (s *PassThroughService) IsReversible() bool { return true }
func (s *PassThroughService) StageType() Type    { return TypePassThrough }

func (s *PassThroughService) ProcessChunk(_ context.Context, chunk Chunk, _ Config, _ *Context) (Chunk, error) {
	return chunk, nil
}
