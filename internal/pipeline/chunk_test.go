package pipeline

import (
	"bytes"
	"testing"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

func TestNewFileChunk(t *testing.T) {
	data := []byte("hello world")
	c, err := NewFileChunk(0, 0, data, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Sequence() != 0 {
		t.Errorf("Sequence() = %d, want 0", c.Sequence())
	}
	if !bytes.Equal(c.Data(), data) {
		t.Errorf("Data() = %v, want %v", c.Data(), data)
	}
	if !c.IsFinal() {
		t.Error("IsFinal() = false, want true")
	}
	if c.Digest() != nil {
		t.Error("Digest() should be nil before WithDigest")
	}
}

func TestNewFileChunkRejectsOversized(t *testing.T) {
	oversized := make([]byte, values.MaxChunkSize+1)
	if _, err := NewFileChunk(0, 0, oversized, false); err == nil {
		t.Error("expected error for oversized chunk payload")
	}
}

func TestFileChunkWithDataAndDigest(t *testing.T) {
	c, err := NewFileChunk(1, 100, []byte("abc"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated := c.WithData([]byte("xyz"))
	if !bytes.Equal(updated.Data(), []byte("xyz")) {
		t.Errorf("WithData did not replace payload")
	}
	if updated.Sequence() != c.Sequence() || updated.Offset() != c.Offset() {
		t.Error("WithData must preserve sequence and offset")
	}

	digested := updated.WithDigest([]byte{0xde, 0xad})
	if !bytes.Equal(digested.Digest(), []byte{0xde, 0xad}) {
		t.Errorf("WithDigest did not set digest")
	}
	if !bytes.Equal(updated.Data(), []byte("xyz")) {
		t.Error("WithDigest must not mutate the receiver it was called on")
	}
}
