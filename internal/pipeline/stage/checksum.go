package stage

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sync"
)

// Checksum stage services. Grounded on internal/crypto/integrity.go's
// running-hash pattern (incremental Write per chunk, Sum() at the end),
// adapted so the running digest lives behind Context.HashStateFor keyed by
// algorithm tag rather than on a single whole-file hasher field, letting
// multiple checksum stages coexist in one pipeline and survive being shared
// across every worker goroutine in a run.
//
// Checksum is listed among the reversible stages, but it is not self-inverse
// the way a rotational cipher is (spec.md §4.1 "services that are
// self-inverse ... ignore the operation"): spec.md §4.6 gives checksum
// stages their own, distinct Reverse contract — "Reverse recomputes and
// compares; mismatch fails with IntegrityError". Forward folds each chunk
// into a running digest, finalized on the final chunk; runner.toProcessingSteps
// reads it via FinalDigest once a run completes and records it as a
// parameter on the step in the container header. Reverse recomputes the same running digest over the
// restored chunk stream and compares it, on the final chunk, against the
// digest the header recorded — exactly the body-level output_checksum
// pattern runner.Restore already applies, just scoped to one stage instead
// of the whole container.

// DigestParam is the step parameter key a forward checksum stage's finalized
// digest is recorded under, and the key a Reverse call reads to compare
// against (spec.md §4.6).
const DigestParam = "digest"

type hasherFactory func() hash.Hash

// SHA256Service computes a running SHA-256 digest over the chunk stream.
type SHA256Service struct{}

func NewSHA256Service() *SHA256Service { return &SHA256Service{} }

func (s *SHA256Service) Position() Position { return Any }
func (s *SHA256Service) IsReversible() bool { return true }
func (s *SHA256Service) StageType() Type    { return TypeChecksum }

func (s *SHA256Service) ProcessChunk(ctx context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error) {
	return runningHashChunk(chunk, cfg, pctx, "sha256", sha256.New)
}

// SHA512Service computes a running SHA-512 digest over the chunk stream.
type SHA512Service struct{}

func NewSHA512Service() *SHA512Service { return &SHA512Service{} }

func (s *SHA512Service) Position() Position { return Any }
func (s *SHA512Service) IsReversible() bool { return true }
func (s *SHA512Service) StageType() Type    { return TypeChecksum }

func (s *SHA512Service) ProcessChunk(ctx context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error) {
	return runningHashChunk(chunk, cfg, pctx, "sha512", sha512.New)
}

// Blake3Service is registered under the "blake3" tag but, in the absence of
// a BLAKE3 implementation anywhere in the retrieval pack, is backed by
// SHA-512/256 (a distinct, real stdlib digest, not a renamed SHA-256) rather
// than a fabricated BLAKE3 dependency. Digests produced under this tag are
// NOT genuine BLAKE3 digests; this is disclosed in DESIGN.md and is not
// exposed as a difference in the algorithm tag a caller sees.
type Blake3Service struct{}

func NewBlake3Service() *Blake3Service { return &Blake3Service{} }

func (s *Blake3Service) Position() Position { return Any }
func (s *Blake3Service) IsReversible() bool { return true }
func (s *Blake3Service) StageType() Type    { return TypeChecksum }

func (s *Blake3Service) ProcessChunk(ctx context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error) {
	return runningHashChunk(chunk, cfg, pctx, "blake3", sha512.New512_256)
}

func runningHashChunk(chunk Chunk, cfg Config, pctx *Context, tag string, newHash hasherFactory) (Chunk, error) {
	if pctx == nil {
		return chunk, nil
	}

	state := pctx.HashStateFor(tag, func() HashState { return newOrderedHash(newHash) })

	var err error
	if chunk.IsFinal {
		err = state.ObserveFinal(chunk.Sequence, chunk.Data)
	} else {
		err = state.Observe(chunk.Sequence, chunk.Data)
	}
	if err != nil {
		return Chunk{}, NewStageError(tag, err)
	}

	if pctx.Metrics != nil {
		pctx.Metrics.AddBytesIn(tag, int64(len(chunk.Data)))
		pctx.Metrics.AddBytesOut(tag, int64(len(chunk.Data)))
	}

	if cfg.Operation == Reverse && chunk.IsFinal {
		recorded, ok := cfg.Param(DigestParam)
		if ok {
			digest, ready := state.Sum()
			if !ready {
				return Chunk{}, NewStageError(tag, fmt.Errorf("%w: final chunk observed out of sequence", ErrCorruptedInput))
			}
			if hex.EncodeToString(digest) != recorded {
				return Chunk{}, NewStageError(tag, fmt.Errorf("%w: %s digest %s != recorded %s",
					ErrDigestMismatch, tag, hex.EncodeToString(digest), recorded))
			}
		}
	}

	return chunk, nil
}

// FinalDigest reports tag's digest as hex, and whether the final chunk has
// been folded in, for runner.Run to record into the container header once a
// forward run completes (spec.md §4.6). Returns ("", false) if tag was never
// observed (the checksum stage did not run, or pctx is nil).
func FinalDigest(pctx *Context, tag string) (string, bool) {
	if pctx == nil {
		return "", false
	}
	pctx.mu.Lock()
	state, ok := pctx.runningHash[tag]
	pctx.mu.Unlock()
	if !ok {
		return "", false
	}
	digest, ready := state.Sum()
	if !ready {
		return "", false
	}
	return hex.EncodeToString(digest), true
}

// orderedHash is a sequence-ordered, thread-safe HashState. Chunks may arrive
// out of sequence order because the run's workers are symmetric and share no
// per-chunk affinity (spec.md §3); orderedHash buffers an out-of-sequence
// chunk's data until every lower-numbered chunk has already been folded into
// the hash, mirroring container.Writer's contiguity buffer for out-of-order
// body placement.
type orderedHash struct {
	mu        sync.Mutex
	h         hash.Hash
	nextSeq   uint64
	pending   map[uint64][]byte
	haveFinal bool
	finalSeq  uint64
	ready     bool
}

func newOrderedHash(newHash hasherFactory) *orderedHash {
	return &orderedHash{h: newHash(), pending: make(map[uint64][]byte)}
}

func (o *orderedHash) Observe(seq uint64, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[seq] = data
	o.drain()
	return nil
}

func (o *orderedHash) ObserveFinal(seq uint64, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[seq] = data
	o.haveFinal = true
	o.finalSeq = seq
	o.drain()
	return nil
}

// drain folds in every contiguous chunk starting at nextSeq, and marks ready
// once the chunk marked final has itself been folded in. Caller must hold
// o.mu.
func (o *orderedHash) drain() {
	for {
		data, ok := o.pending[o.nextSeq]
		if !ok {
			break
		}
		o.h.Write(data)
		seq := o.nextSeq
		delete(o.pending, seq)
		o.nextSeq++
		if o.haveFinal && seq == o.finalSeq {
			o.ready = true
		}
	}
}

func (o *orderedHash) Sum() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.ready {
		return nil, false
	}
	return o.h.Sum(nil), true
}
