package container

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash"
	"os"
	"sort"
	"sync"
)

// PlacedChunk is one chunk ready for the writer: its sequence number, its
// already-encoded body record, and whether it is the run's final chunk.
type PlacedChunk struct {
	Sequence uint64
	Record   []byte
	IsFinal  bool
}

// EncodeChunkRecord builds a chunk's body record: [length:u32 LE][payload]
// (spec.md §3 container body layout). When the pipeline's last stage is an
// AEAD cipher, payload is itself [nonce:12][ciphertext] — the encryption
// stage service prefixes its own nonce onto the data it returns, so the
// container format only ever needs to frame one opaque payload per chunk
// rather than parse cipher-specific structure out of the body.
func EncodeChunkRecord(payload []byte) []byte {
	var buf bytes.Buffer
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	buf.Write(lenPrefix[:])
	buf.Write(payload)
	return buf.Bytes()
}

// Writer places processed chunks into a container body using positioned
// writes and finalises the header/trailer once the final chunk has been
// seen and no more chunks remain.
//
// Chunks may arrive out of sequence order (workers complete independently),
// but the container body must hold them in sequence order (spec.md §3
// invariant iv). Writer resolves this with a small contiguity buffer: it
// tracks the next sequence number expected at the current body offset and
// holds out-of-order arrivals in memory only until their predecessors have
// been placed, at which point the buffered run is flushed with ordinary
// positioned WriteAt calls. This differs from a full reordering buffer in
// that only contiguity gaps are held, never a bound on total pipeline
// depth beyond what the channel's own backpressure already admits.
type Writer struct {
	f *os.File

	mu       sync.Mutex
	nextSeq  uint64
	nextOff  int64
	pending  map[uint64]PlacedChunk
	lengths  map[uint64]uint32
	sawFinal bool
	bodyHash hash.Hash
}

// NewWriter opens (creating/truncating) path for positioned output writes.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("container: open output: %w", err)
	}
	if err := lockExclusive(int(f.Fd())); err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{
		f:        f,
		pending:  make(map[uint64]PlacedChunk),
		lengths:  make(map[uint64]uint32),
		bodyHash: sha256.New(),
	}, nil
}

// Place writes (or buffers) one chunk, flushing any now-contiguous run.
func (w *Writer) Place(chunk PlacedChunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[chunk.Sequence] = chunk
	if chunk.IsFinal {
		w.sawFinal = true
	}

	for {
		next, ok := w.pending[w.nextSeq]
		if !ok {
			break
		}
		if _, err := w.f.WriteAt(next.Record, w.nextOff); err != nil {
			return fmt.Errorf("container: write chunk %d at offset %d: %w", next.Sequence, w.nextOff, err)
		}
		w.bodyHash.Write(next.Record)
		w.lengths[next.Sequence] = uint32(len(next.Record))
		w.nextOff += int64(len(next.Record))
		delete(w.pending, w.nextSeq)
		w.nextSeq++
	}
	return nil
}

// Pending reports how many chunks are buffered waiting for a predecessor
// (a sequence gap that has not closed yet).
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Finalize serialises header as JSON, appends it, and writes the trailer
// (header length, format version, magic), fsyncing before returning so a
// successfully-returned Finalize guarantees the container is complete on
// disk (spec.md §4.2 writer contract).
func (w *Writer) Finalize(header FileHeader) error {
	w.mu.Lock()
	if len(w.pending) != 0 {
		w.mu.Unlock()
		return fmt.Errorf("container: finalize called with %d chunks still pending placement", len(w.pending))
	}
	// A run over a zero-byte input never produces a chunk at all (the
	// reader's very first read is EOF) — nextSeq stays 0 and sawFinal
	// stays false. That is a legitimate empty container, not a stalled
	// run, so only runs that placed at least one chunk must have seen
	// the final one (spec.md §3 boundary behaviour: file size 0 succeeds).
	if !w.sawFinal && w.nextSeq != 0 {
		w.mu.Unlock()
		return fmt.Errorf("container: finalize called without having seen the final chunk")
	}

	lengths := make([]uint32, w.nextSeq)
	for seq, n := range w.lengths {
		lengths[seq] = n
	}
	bodyOffset := w.nextOff
	outputChecksum := fmt.Sprintf("%x", w.bodyHash.Sum(nil))
	w.mu.Unlock()

	header.FormatVersion = CurrentFormatVersion
	header.ChunkCount = uint32(len(lengths))
	header.ChunkLengths = lengths
	header.OutputChecksum = outputChecksum

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("container: marshal header: %w", err)
	}

	if _, err := w.f.WriteAt(headerBytes, bodyOffset); err != nil {
		return fmt.Errorf("container: write header: %w", err)
	}

	var trailer [TrailerSize]byte
	binary.LittleEndian.PutUint32(trailer[0:4], uint32(len(headerBytes)))
	binary.LittleEndian.PutUint16(trailer[4:6], CurrentFormatVersion)
	copy(trailer[6:14], Magic[:])

	if _, err := w.f.WriteAt(trailer[:], bodyOffset+int64(len(headerBytes))); err != nil {
		return fmt.Errorf("container: write trailer: %w", err)
	}

	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("container: fsync: %w", err)
	}
	return nil
}

// SortedLengths returns the recorded chunk lengths in sequence order, for
// callers that want to inspect the body layout before Finalize.
func (w *Writer) SortedLengths() []uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	seqs := make([]uint64, 0, len(w.lengths))
	for seq := range w.lengths {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	out := make([]uint32, len(seqs))
	for i, seq := range seqs {
		out[i] = w.lengths[seq]
	}
	return out
}

// Close releases the lock and closes the underlying file without
// finalizing or removing it. runner.Run calls it after a successful
// Finalize; the cancellation/failure path uses Abort instead.
func (w *Writer) Close() error {
	_ = unlock(int(w.f.Fd()))
	return w.f.Close()
}

// Abort closes and removes the output file, used when a run is cancelled
// or fails before Finalize so no trailing partial file with a misleading
// name is left behind.
func (w *Writer) Abort() error {
	path := w.f.Name()
	_ = unlock(int(w.f.Fd()))
	_ = w.f.Close()
	return os.Remove(path)
}
