package stage

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
)

// Transform stage services: user-facing, non-cryptographic chunk mutators.
// Grounded on internal/crypto's transform pipeline stages (base64 envelope,
// PII redaction) adapted to the chunk-at-a-time Service contract.

// Base64Service encodes/decodes chunk data as standard base64. Reversible:
// decode is Base64Service run with Operation Reverse.
type Base64Service struct{}

func NewBase64Service() *Base64Service { return &Base64Service{} }

func (s *Base64Service) Position() Position { return PreBinary }
func (s *Base64Service) IsReversible() bool { return true }
func (s *Base64Service) StageType() Type    { return TypeTransform }

func (s *Base64Service) ProcessChunk(_ context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error) {
	var out []byte
	if cfg.Operation == Reverse {
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(chunk.Data)))
		n, err := base64.StdEncoding.Decode(decoded, chunk.Data)
		if err != nil {
			return Chunk{}, NewStageError("base64", fmt.Errorf("%w: %v", ErrCorruptedInput, err))
		}
		out = decoded[:n]
	} else {
		out = make([]byte, base64.StdEncoding.EncodedLen(len(chunk.Data)))
		base64.StdEncoding.Encode(out, chunk.Data)
	}
	if pctx != nil && pctx.Metrics != nil {
		pctx.Metrics.AddBytesIn("base64", int64(len(chunk.Data)))
		pctx.Metrics.AddBytesOut("base64", int64(len(out)))
	}
	chunk.Data = out
	return chunk, nil
}

// piiPatterns is a small, deliberately conservative set of PII-shaped
// substrings masked by PIIMaskService: SSNs and email addresses. Grounded on
// the teacher's compliance-scrubbing regexes (now-deleted internal/compliance
// package), narrowed to what a file-processing transform stage needs rather
// than a full compliance engine.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
}

// PIIMaskService replaces PII-shaped substrings with "***". It is a
// destructive, one-way transform: IsReversible reports false, and the
// executor must refuse to run it under Operation Reverse (spec.md §4.7
// irreversible-stage-in-reverse-run edge case).
type PIIMaskService struct{}

func NewPIIMaskService() *PIIMaskService { return &PIIMaskService{} }

func (s *PIIMaskService) Position() Position { return PreBinary }
func (s *PIIMaskService) IsReversible() bool { return false }
func (s *PIIMaskService) StageType() Type    { return TypeTransform }

func (s *PIIMaskService) ProcessChunk(_ context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error) {
	if cfg.Operation == Reverse {
		return Chunk{}, NewStageError("pii_mask", ErrNotReversible)
	}
	out := chunk.Data
	for _, pattern := range piiPatterns {
		out = pattern.ReplaceAll(out, []byte("***"))
	}
	if pctx != nil && pctx.Metrics != nil {
		pctx.Metrics.AddBytesIn("pii_mask", int64(len(chunk.Data)))
		pctx.Metrics.AddBytesOut("pii_mask", int64(len(out)))
	}
	chunk.Data = out
	return chunk, nil
}

// TeeSink receives a copy of every chunk a TeeService observes, in addition
// to the chunk continuing down the pipeline unmodified. Used for auditing
// or side-channel persistence (e.g. writing a plaintext copy before
// encryption) without the stage itself owning file handles.
type TeeSink interface {
	Observe(chunk Chunk) error
}

// TeeService passes chunk data through unmodified while also forwarding a
// copy to a TeeSink. Position Any: it can sit anywhere in the stage order.
type TeeService struct {
	sink TeeSink
}

func NewTeeService(sink TeeSink) *TeeService { return &TeeService{sink: sink} }

func (s *TeeService) Position() Position { return Any }
func (s *TeeService) IsReversible() bool { return true }
func (s *TeeService) StageType() Type    { return TypeTransform }

func (s *TeeService) ProcessChunk(_ context.Context, chunk Chunk, _ Config, _ *Context) (Chunk, error) {
	if s.sink != nil {
		if err := s.sink.Observe(chunk); err != nil {
			return Chunk{}, NewStageError("tee", err)
		}
	}
	return chunk, nil
}
