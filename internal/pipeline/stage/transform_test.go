package stage

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestBase64ServiceRoundTrip(t *testing.T) {
	svc := NewBase64Service()
	plaintext := []byte("binary-looking payload \x00\x01\x02 data")

	encoded, err := svc.ProcessChunk(context.Background(), Chunk{Data: plaintext, IsFinal: true}, Config{Operation: Forward}, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.Equal(encoded.Data, plaintext) {
		t.Fatal("encoded data equals plaintext; base64 did not run")
	}

	decoded, err := svc.ProcessChunk(context.Background(), Chunk{Data: encoded.Data, IsFinal: true}, Config{Operation: Reverse}, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Data, plaintext) {
		t.Errorf("decoded = %q, want %q", decoded.Data, plaintext)
	}
}

func TestBase64ServiceRejectsCorruptInput(t *testing.T) {
	svc := NewBase64Service()
	_, err := svc.ProcessChunk(context.Background(), Chunk{Data: []byte("not valid base64!!"), IsFinal: true}, Config{Operation: Reverse}, nil)
	if !errors.Is(err, ErrCorruptedInput) {
		t.Errorf("expected ErrCorruptedInput, got %v", err)
	}
}

// TestPIIMaskServiceMasksSSNsAndEmails exercises the actual masking output
// the maintainer flagged as untested: SSN-shaped and email-shaped
// substrings must be replaced, everything else left alone.
func TestPIIMaskServiceMasksSSNsAndEmails(t *testing.T) {
	svc := NewPIIMaskService()
	input := []byte("contact jane.doe@example.com or ssn 123-45-6789 for details")

	out, err := svc.ProcessChunk(context.Background(), Chunk{Data: input, IsFinal: true}, Config{Operation: Forward}, nil)
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}

	got := string(out.Data)
	if bytes.Contains(out.Data, []byte("jane.doe@example.com")) {
		t.Errorf("email was not masked: %q", got)
	}
	if bytes.Contains(out.Data, []byte("123-45-6789")) {
		t.Errorf("SSN was not masked: %q", got)
	}
	want := "contact *** or ssn *** for details"
	if got != want {
		t.Errorf("masked output = %q, want %q", got, want)
	}
}

func TestPIIMaskServiceLeavesCleanTextUnchanged(t *testing.T) {
	svc := NewPIIMaskService()
	input := []byte("nothing sensitive in this sentence at all")
	out, err := svc.ProcessChunk(context.Background(), Chunk{Data: input, IsFinal: true}, Config{Operation: Forward}, nil)
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if !bytes.Equal(out.Data, input) {
		t.Errorf("clean input was modified: got %q, want %q", out.Data, input)
	}
}

// TestPIIMaskServiceRefusesReverse covers spec.md §4.7: an irreversible
// stage must refuse to run under Operation Reverse rather than silently
// no-op or corrupt data.
func TestPIIMaskServiceRefusesReverse(t *testing.T) {
	svc := NewPIIMaskService()
	if svc.IsReversible() {
		t.Fatal("PIIMaskService must report IsReversible() == false")
	}
	_, err := svc.ProcessChunk(context.Background(), Chunk{Data: []byte("x"), IsFinal: true}, Config{Operation: Reverse}, nil)
	if !errors.Is(err, ErrNotReversible) {
		t.Errorf("expected ErrNotReversible, got %v", err)
	}
}

type recordingTeeSink struct {
	observed []Chunk
}

func (s *recordingTeeSink) Observe(c Chunk) error {
	s.observed = append(s.observed, c)
	return nil
}

func TestTeeServicePassesThroughAndForwardsCopy(t *testing.T) {
	sink := &recordingTeeSink{}
	svc := NewTeeService(sink)
	data := []byte("copy me")

	out, err := svc.ProcessChunk(context.Background(), Chunk{Data: data, IsFinal: true}, Config{Operation: Forward}, nil)
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if !bytes.Equal(out.Data, data) {
		t.Errorf("TeeService modified data: got %q, want %q", out.Data, data)
	}
	if len(sink.observed) != 1 || !bytes.Equal(sink.observed[0].Data, data) {
		t.Errorf("sink did not receive a copy of the chunk: %+v", sink.observed)
	}
}
