package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	ppl "github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/governor"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

func newTestRegistry(t *testing.T) *stage.Registry {
	t.Helper()
	r := stage.NewRegistry()
	if err := stage.RegisterBuiltins(r, stage.Keys{}); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return r
}

func newKeyedTestRegistry(t *testing.T, aes256gcmKey []byte) *stage.Registry {
	t.Helper()
	r := stage.NewRegistry()
	if err := stage.RegisterBuiltins(r, stage.Keys{AES256GCM: aes256gcmKey}); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return r
}

func runConfig(t *testing.T, input, output string, steps []ppl.StageStep) Config {
	t.Helper()
	in, err := values.NewFilePath(input, values.Input)
	if err != nil {
		t.Fatalf("NewFilePath(input): %v", err)
	}
	out, err := values.NewFilePath(output, values.Output)
	if err != nil {
		t.Fatalf("NewFilePath(output): %v", err)
	}
	chunkSize, err := values.NewChunkSize(8)
	if err != nil {
		t.Fatalf("NewChunkSize: %v", err)
	}
	workers, err := values.NewWorkerCount(3)
	if err != nil {
		t.Fatalf("NewWorkerCount: %v", err)
	}
	global := governor.NewGlobal(governor.Config{CPUTokens: 4, IOTokens: 4})

	return Config{
		InputPath:    in,
		OutputPath:   out,
		ChunkSize:    chunkSize,
		Workers:      workers,
		ChannelDepth: 4,
		Steps:        steps,
		Operation:    stage.Forward,
		PipelineID:   "test-pipeline",
		AppVersion:   "test",
		Registry:     newTestRegistry(t),
		Local:        governor.NewLocal(global, workers.Int()),
	}
}

// TestRoundTripIdentity exercises spec.md testable property 1: for a
// reversible pipeline, restore(process(f, p), p) == f byte-for-byte.
func TestRoundTripIdentity(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.txt")
	container_ := filepath.Join(dir, "out.adapipe")
	restored := filepath.Join(dir, "restored.txt")

	original := []byte("Hello, World! This spans more than one chunk of data.")
	if err := os.WriteFile(input, original, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	steps := []ppl.StageStep{
		{Name: "hash", Algorithm: "sha256"},
		{Name: "compress", Algorithm: "zstd"},
	}

	cfg := runConfig(t, input, container_, steps)
	result := Run(context.Background(), cfg)
	if result.State != StateDone {
		t.Fatalf("Run: state = %v, err = %v", result.State, result.Err)
	}

	// Property 2: the last 8 bytes of the output equal the magic constant.
	data, err := os.ReadFile(container_)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) < 8 || string(data[len(data)-8:]) != "ADAPIPE\x00" {
		t.Errorf("output does not end with magic bytes, got tail %q", data[max(0, len(data)-8):])
	}

	restoreCfg := RestoreConfig{
		ContainerPath: mustFilePath(t, container_, values.Input),
		OutputPath:    mustFilePath(t, restored, values.Output),
		Registry:      newTestRegistry(t),
	}
	rres, err := Restore(context.Background(), restoreCfg)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if rres.State != StateDone {
		t.Fatalf("Restore: state = %v", rres.State)
	}

	got, err := os.ReadFile(restored)
	if err != nil {
		t.Fatalf("ReadFile(restored): %v", err)
	}
	if string(got) != string(original) {
		t.Errorf("restored = %q, want %q", got, original)
	}
}

// TestEmptyFileRoundTrip covers the spec.md §8 boundary behaviour: files of
// size 0 must both process and restore successfully.
func TestEmptyFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "empty.txt")
	container_ := filepath.Join(dir, "empty.adapipe")
	restored := filepath.Join(dir, "empty.restored")

	if err := os.WriteFile(input, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := runConfig(t, input, container_, nil)
	result := Run(context.Background(), cfg)
	if result.State != StateDone {
		t.Fatalf("Run on empty file: state = %v, err = %v", result.State, result.Err)
	}
	if result.ChunkCount != 0 {
		t.Errorf("ChunkCount = %d, want 0", result.ChunkCount)
	}

	restoreCfg := RestoreConfig{
		ContainerPath: mustFilePath(t, container_, values.Input),
		OutputPath:    mustFilePath(t, restored, values.Output),
		Registry:      newTestRegistry(t),
	}
	if _, err := Restore(context.Background(), restoreCfg); err != nil {
		t.Fatalf("Restore on empty file: %v", err)
	}

	got, err := os.ReadFile(restored)
	if err != nil {
		t.Fatalf("ReadFile(restored): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("restored empty file has %d bytes, want 0", len(got))
	}
}

// TestTamperDetected covers spec.md testable property 6: flipping a body
// bit causes restore to fail with an integrity error.
func TestTamperDetected(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.txt")
	containerPath := filepath.Join(dir, "out.adapipe")
	restored := filepath.Join(dir, "restored.txt")

	if err := os.WriteFile(input, []byte("integrity matters a great deal here"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	steps := []ppl.StageStep{{Name: "hash", Algorithm: "sha256"}}
	cfg := runConfig(t, input, containerPath, steps)
	if result := Run(context.Background(), cfg); result.State != StateDone {
		t.Fatalf("Run: state = %v, err = %v", result.State, result.Err)
	}

	data, err := os.ReadFile(containerPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[0] ^= 0xFF
	if err := os.WriteFile(containerPath, data, 0o644); err != nil {
		t.Fatalf("WriteFile(tampered): %v", err)
	}

	restoreCfg := RestoreConfig{
		ContainerPath: mustFilePath(t, containerPath, values.Input),
		OutputPath:    mustFilePath(t, restored, values.Output),
		Registry:      newTestRegistry(t),
	}
	if _, err := Restore(context.Background(), restoreCfg); err == nil {
		t.Error("expected Restore to fail on a tampered body")
	}
}

// TestNonReversibleRefusal covers spec.md testable property 7: a
// restoration run over a pipeline containing a non-reversible stage
// (pii_mask) must fail validation before any I/O occurs.
func TestNonReversibleRefusal(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.txt")
	containerPath := filepath.Join(dir, "out.adapipe")
	restored := filepath.Join(dir, "restored.txt")

	if err := os.WriteFile(input, []byte("ssn 123-45-6789 in the clear"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	steps := []ppl.StageStep{{Name: "mask", Algorithm: "pii_mask"}}
	cfg := runConfig(t, input, containerPath, steps)
	if result := Run(context.Background(), cfg); result.State != StateDone {
		t.Fatalf("Run: state = %v, err = %v", result.State, result.Err)
	}

	restoreCfg := RestoreConfig{
		ContainerPath: mustFilePath(t, containerPath, values.Input),
		OutputPath:    mustFilePath(t, restored, values.Output),
		Registry:      newTestRegistry(t),
	}
	if _, err := Restore(context.Background(), restoreCfg); err == nil {
		t.Error("expected Restore to refuse a pipeline containing a non-reversible stage")
	}
	if _, err := os.Stat(restored); err == nil {
		t.Error("restore output should not exist when validation refuses the pipeline")
	}
}

// TestRestoreWithWrongKeyFailsIntegrity covers the mandatory wrong-key
// scenario (spec.md §7 E2): restoring an AES-256-GCM-encrypted container
// with the wrong key must fail with an error satisfying
// errors.Is(err, pipeline.ErrIntegrity), end to end through Run and
// Restore, not just at the stage level.
func TestRestoreWithWrongKeyFailsIntegrity(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "secret.txt")
	containerPath := filepath.Join(dir, "secret.adapipe")
	restored := filepath.Join(dir, "secret.restored")

	if err := os.WriteFile(input, []byte("the vault combination is 00-00-00"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	correctKey := bytes.Repeat([]byte{0xAA}, 32)
	wrongKey := bytes.Repeat([]byte{0xBB}, 32)

	steps := []ppl.StageStep{{Name: "encrypt", Algorithm: "aes256gcm"}}
	cfg := runConfig(t, input, containerPath, steps)
	cfg.Registry = newKeyedTestRegistry(t, correctKey)

	if result := Run(context.Background(), cfg); result.State != StateDone {
		t.Fatalf("Run: state = %v, err = %v", result.State, result.Err)
	}

	restoreCfg := RestoreConfig{
		ContainerPath: mustFilePath(t, containerPath, values.Input),
		OutputPath:    mustFilePath(t, restored, values.Output),
		Registry:      newKeyedTestRegistry(t, wrongKey),
	}

	_, err := Restore(context.Background(), restoreCfg)
	if err == nil {
		t.Fatal("expected Restore with the wrong key to fail")
	}
	if !errors.Is(err, ppl.ErrIntegrity) {
		t.Errorf("expected an error satisfying errors.Is(err, ppl.ErrIntegrity), got %v", err)
	}
}

func mustFilePath(t *testing.T, path string, cat values.Category) values.FilePath {
	t.Helper()
	fp, err := values.NewFilePath(path, cat)
	if err != nil {
		t.Fatalf("NewFilePath(%q): %v", path, err)
	}
	return fp
}
