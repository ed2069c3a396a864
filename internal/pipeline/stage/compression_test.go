package stage

import (
	"bytes"
	"context"
	"testing"
)

// roundTrip runs data forward then reverse through svc and returns the
// final bytes, failing the test on any error.
func roundTrip(t *testing.T, svc Service, data []byte, params map[string]string) []byte {
	t.Helper()
	fwd, err := svc.ProcessChunk(context.Background(), Chunk{Data: data, IsFinal: true},
		Config{Operation: Forward, Parameters: params}, nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	rev, err := svc.ProcessChunk(context.Background(), Chunk{Data: fwd.Data, IsFinal: true},
		Config{Operation: Reverse, Parameters: params}, nil)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	return rev.Data
}

func TestCompressionServicesRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 64)

	cases := []struct {
		name   string
		svc    Service
		params map[string]string
	}{
		{"zstd", NewZstdService(), nil},
		{"zstd-level1", NewZstdService(), map[string]string{"level": "1"}},
		{"gzip", NewGzipService(), nil},
		{"snappy", NewSnappyService(), nil},
		{"lz4", NewLZ4Service(), nil},
		{"lz4-level3", NewLZ4Service(), map[string]string{"level": "3"}},
		{"brotli", NewBrotliService(), nil},
		{"brotli-level9", NewBrotliService(), map[string]string{"level": "9"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := roundTrip(t, tc.svc, payload, tc.params)
			if !bytes.Equal(got, payload) {
				t.Errorf("%s round trip = %d bytes, want original %d bytes", tc.name, len(got), len(payload))
			}
		})
	}
}

// TestCompressionServicesActuallyCompress guards against a service that
// silently passes data through unmodified instead of compressing it: for
// reasonably repetitive input the compressed form must be meaningfully
// smaller. Brotli is the service the maintainer flagged as previously
// returning ErrAlgorithmNotCompiledIn unconditionally, so this asserts it
// produces real output, not just a round-trippable one.
func TestCompressionServicesActuallyCompress(t *testing.T) {
	payload := bytes.Repeat([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), 256)

	for _, tc := range []struct {
		name string
		svc  Service
	}{
		{"zstd", NewZstdService()},
		{"gzip", NewGzipService()},
		{"lz4", NewLZ4Service()},
		{"brotli", NewBrotliService()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out, err := tc.svc.ProcessChunk(context.Background(), Chunk{Data: payload, IsFinal: true},
				Config{Operation: Forward}, nil)
			if err != nil {
				t.Fatalf("forward: %v", err)
			}
			if len(out.Data) >= len(payload) {
				t.Errorf("%s compressed size %d >= input size %d", tc.name, len(out.Data), len(payload))
			}
		})
	}
}

func TestBrotliInvalidLevelRejected(t *testing.T) {
	svc := NewBrotliService()
	_, err := svc.ProcessChunk(context.Background(), Chunk{Data: []byte("x"), IsFinal: true},
		Config{Operation: Forward, Parameters: map[string]string{"level": "12"}}, nil)
	if err == nil {
		t.Fatal("expected an error for an out-of-range brotli level")
	}
}

func TestGzipDecompressCorruptedInput(t *testing.T) {
	svc := NewGzipService()
	_, err := svc.ProcessChunk(context.Background(), Chunk{Data: []byte("not gzip data"), IsFinal: true},
		Config{Operation: Reverse}, nil)
	if err == nil {
		t.Fatal("expected an error decompressing non-gzip data")
	}
}

func TestPassThroughServiceLeavesDataUnchanged(t *testing.T) {
	svc := NewPassThroughService()
	data := []byte("untouched")
	out, err := svc.ProcessChunk(context.Background(), Chunk{Data: data, IsFinal: true}, Config{Operation: Forward}, nil)
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if !bytes.Equal(out.Data, data) {
		t.Errorf("PassThroughService modified data: got %q, want %q", out.Data, data)
	}
}
