package pipeline

import (
	"fmt"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

// FileChunk is an immutable chunk of a file being processed. It carries a
// sequence number, its byte offset into the original input, its payload, an
// optional digest over that payload, and a final-chunk flag.
//
// Grounded on internal/crypto's Chunk struct (teacher), extended with the
// Digest field and stricter IsFinal semantics spec.md §3 requires: created
// by the reader task, never mutated afterward, dropped once the writer task
// commits it.
type FileChunk struct {
	sequence values.ChunkSequence
	offset   int64
	data     []byte
	digest   []byte
	isFinal  bool
}

// NewFileChunk validates and constructs a FileChunk.
func NewFileChunk(sequence values.ChunkSequence, offset int64, data []byte, isFinal bool) (FileChunk, error) {
	size := values.ChunkSize(len(data))
	if size < values.MinChunkSize || size > values.MaxChunkSize {
		return FileChunk{}, fmt.Errorf("chunk %d payload size %d out of range [%d, %d]",
			sequence, len(data), values.MinChunkSize, values.MaxChunkSize)
	}
	return FileChunk{
		sequence: sequence,
		offset:   offset,
		data:     data,
		isFinal:  isFinal,
	}, nil
}

// Sequence returns the chunk's 0-based sequence number.
func (c FileChunk) Sequence() values.ChunkSequence { return c.sequence }

// Offset returns the chunk's byte offset into the original input.
func (c FileChunk) Offset() int64 { return c.offset }

// Data returns the chunk's payload. Callers must not mutate the returned
// slice; FileChunk is otherwise immutable.
func (c FileChunk) Data() []byte { return c.data }

// Digest returns the chunk's optional cryptographic digest, or nil if none
// has been computed yet.
func (c FileChunk) Digest() []byte { return c.digest }

// IsFinal reports whether this is the last chunk of the run.
func (c FileChunk) IsFinal() bool { return c.isFinal }

// WithData returns a copy of the chunk with its payload replaced, used by
// stage services that transform the payload (compression, encryption, ...).
// The sequence, offset, and final-flag are carried over unchanged; offsets
// for variable-length output are recomputed by the writer, not here.
func (c FileChunk) WithData(data []byte) FileChunk {
	c.data = data
	return c
}

// WithDigest returns a copy of the chunk with its digest set.
func (c FileChunk) WithDigest(digest []byte) FileChunk {
	c.digest = digest
	return c
}
