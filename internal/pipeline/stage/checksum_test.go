package stage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func TestChecksumForwardAccumulatesRunningDigest(t *testing.T) {
	svc := NewSHA256Service()
	pctx := &Context{}

	parts := [][]byte{[]byte("hello, "), []byte("world"), []byte("!")}
	for i, p := range parts {
		chunk := Chunk{Sequence: uint64(i), Data: p, IsFinal: i == len(parts)-1}
		if _, err := svc.ProcessChunk(context.Background(), chunk, Config{Operation: Forward}, pctx); err != nil {
			t.Fatalf("ProcessChunk chunk %d: %v", i, err)
		}
	}

	got, ready := FinalDigest(pctx, "sha256")
	if !ready {
		t.Fatal("FinalDigest not ready after final chunk observed")
	}
	want := sha256.Sum256([]byte("hello, world!"))
	if got != hex.EncodeToString(want[:]) {
		t.Errorf("digest = %s, want %s", got, hex.EncodeToString(want[:]))
	}
}

// TestChecksumReverseMatchesRecordedDigest covers spec.md §4.6's checksum
// Reverse contract on the success path: recomputing over the restored
// stream and finding it matches the recorded digest must not error.
func TestChecksumReverseMatchesRecordedDigest(t *testing.T) {
	svc := NewSHA256Service()
	data := []byte("restored content")
	sum := sha256.Sum256(data)
	recorded := hex.EncodeToString(sum[:])

	pctx := &Context{}
	cfg := Config{Operation: Reverse, Parameters: map[string]string{DigestParam: recorded}}
	if _, err := svc.ProcessChunk(context.Background(), Chunk{Data: data, IsFinal: true}, cfg, pctx); err != nil {
		t.Fatalf("expected Reverse to succeed with a matching digest, got %v", err)
	}
}

// TestChecksumReverseDetectsMismatch is the maintainer-flagged gap: a
// checksum stage's Reverse call must recompute and compare against the
// digest recorded at Forward time, failing with ErrDigestMismatch on a
// mismatch rather than silently succeeding.
func TestChecksumReverseDetectsMismatch(t *testing.T) {
	svc := NewSHA256Service()
	pctx := &Context{}
	cfg := Config{Operation: Reverse, Parameters: map[string]string{DigestParam: "0000000000000000000000000000000000000000000000000000000000000000"}}

	_, err := svc.ProcessChunk(context.Background(), Chunk{Data: []byte("tampered content"), IsFinal: true}, cfg, pctx)
	if err == nil {
		t.Fatal("expected an error when the recomputed digest does not match the recorded one")
	}
	if !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("expected ErrDigestMismatch, got %v", err)
	}
}

// TestChecksumOutOfOrderChunksStillAccumulateCorrectly exercises orderedHash
// directly: workers are symmetric and may submit chunks to a shared Context
// out of sequence order (spec.md §3), so the running digest must only
// become ready once every chunk up to and including the final one has been
// folded in, in sequence order, regardless of arrival order.
func TestChecksumOutOfOrderChunksStillAccumulateCorrectly(t *testing.T) {
	svc := NewSHA256Service()
	pctx := &Context{}

	parts := [][]byte{[]byte("aaa"), []byte("bbb"), []byte("ccc")}

	// Submit the final chunk first, then the others out of order.
	if _, err := svc.ProcessChunk(context.Background(), Chunk{Sequence: 2, Data: parts[2], IsFinal: true}, Config{Operation: Forward}, pctx); err != nil {
		t.Fatalf("submit final chunk early: %v", err)
	}
	if _, ready := FinalDigest(pctx, "sha256"); ready {
		t.Fatal("digest reported ready before every lower-sequence chunk arrived")
	}

	if _, err := svc.ProcessChunk(context.Background(), Chunk{Sequence: 0, Data: parts[0]}, Config{Operation: Forward}, pctx); err != nil {
		t.Fatalf("submit chunk 0: %v", err)
	}
	if _, ready := FinalDigest(pctx, "sha256"); ready {
		t.Fatal("digest reported ready before chunk 1 arrived")
	}

	if _, err := svc.ProcessChunk(context.Background(), Chunk{Sequence: 1, Data: parts[1]}, Config{Operation: Forward}, pctx); err != nil {
		t.Fatalf("submit chunk 1: %v", err)
	}

	got, ready := FinalDigest(pctx, "sha256")
	if !ready {
		t.Fatal("digest not ready once every chunk has been observed")
	}
	want := sha256.Sum256([]byte("aaabbbccc"))
	if got != hex.EncodeToString(want[:]) {
		t.Errorf("digest = %s, want %s", got, hex.EncodeToString(want[:]))
	}
}

func TestChecksumStagesUseDistinctTags(t *testing.T) {
	pctx := &Context{}
	data := []byte("shared payload")

	if _, err := NewSHA256Service().ProcessChunk(context.Background(), Chunk{Data: data, IsFinal: true}, Config{Operation: Forward}, pctx); err != nil {
		t.Fatalf("sha256: %v", err)
	}
	if _, err := NewSHA512Service().ProcessChunk(context.Background(), Chunk{Data: data, IsFinal: true}, Config{Operation: Forward}, pctx); err != nil {
		t.Fatalf("sha512: %v", err)
	}
	if _, err := NewBlake3Service().ProcessChunk(context.Background(), Chunk{Data: data, IsFinal: true}, Config{Operation: Forward}, pctx); err != nil {
		t.Fatalf("blake3: %v", err)
	}

	sha256Digest, _ := FinalDigest(pctx, "sha256")
	sha512Digest, _ := FinalDigest(pctx, "sha512")
	blake3Digest, _ := FinalDigest(pctx, "blake3")

	if sha256Digest == "" || sha512Digest == "" || blake3Digest == "" {
		t.Fatal("expected all three checksum tags to have a recorded digest")
	}
	if sha256Digest == sha512Digest || sha256Digest == blake3Digest || sha512Digest == blake3Digest {
		t.Error("distinct checksum stages over the same pctx collided on the same digest")
	}
}
