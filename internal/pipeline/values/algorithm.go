package values

import "strings"

// Algorithm is a case-insensitive tag naming a stage implementation.
// Extension is by registry entry (see internal/pipeline/stage), not by
// enum growth — this type only normalizes and compares tags.
type Algorithm string

// Well-known algorithm tags. The registry is not limited to these; unknown
// tags are rejected at pipeline construction, not here.
const (
	AlgoBrotli           Algorithm = "brotli"
	AlgoGzip             Algorithm = "gzip"
	AlgoZstd             Algorithm = "zstd"
	AlgoLZ4              Algorithm = "lz4"
	AlgoSnappy           Algorithm = "snappy"
	AlgoAES256GCM        Algorithm = "aes256gcm"
	AlgoChaCha20Poly1305 Algorithm = "chacha20poly1305"
	AlgoSHA256           Algorithm = "sha256"
	AlgoSHA512           Algorithm = "sha512"
	AlgoBlake3           Algorithm = "blake3"
	AlgoBase64           Algorithm = "base64"
	AlgoPIIMask          Algorithm = "pii_mask"
	AlgoTee              Algorithm = "tee"
	AlgoPassThrough      Algorithm = "passthrough"
)

// NewAlgorithm normalizes an algorithm tag to its canonical (lowercase) form.
func NewAlgorithm(tag string) Algorithm {
	return Algorithm(strings.ToLower(strings.TrimSpace(tag)))
}

// String returns the canonical tag.
func (a Algorithm) String() string { return string(a) }
