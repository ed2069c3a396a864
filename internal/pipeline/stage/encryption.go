package stage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Encryption stage services. Grounded on internal/crypto/encryption.go's
// AES-GCM envelope (random nonce prefixed to ciphertext, AEAD seal/open),
// adapted to operate per-chunk: each chunk carries its own nonce prefix
// rather than one nonce for a whole object, so chunks can be decrypted
// independently by the writer/reader without buffering the whole file.
//
// Parameters: {"key": "<32-byte key, hex or raw>"} is not accepted in
// Config.Parameters (key material must never round-trip through pipeline
// configuration storage, and so never through the container header either);
// both services instead take their key through their constructor, supplied
// by the registry builder from the run's resolved secrets.

// AES256GCMService implements authenticated encryption with AES-256 in GCM
// mode. The key is supplied to NewAES256GCMService at construction.
type AES256GCMService struct {
	aead cipher.AEAD
}

// NewAES256GCMService constructs the service with a 32-byte key.
func NewAES256GCMService(key []byte) (*AES256GCMService, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: AES-256-GCM requires a 32-byte key, got %d", ErrInvalidParameter, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes-256-gcm: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aes-256-gcm: %w", err)
	}
	return &AES256GCMService{aead: aead}, nil
}

func (s *AES256GCMService) Position() Position { return PostBinary }
func (s *AES256GCMService) IsReversible() bool { return true }
func (s *AES256GCMService) StageType() Type    { return TypeEncryption }

func (s *AES256GCMService) ProcessChunk(_ context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error) {
	out, err := aeadProcessChunk(s.aead, chunk.Data, cfg.Operation)
	if err != nil {
		return Chunk{}, NewStageError("aes256gcm", err)
	}
	if pctx != nil && pctx.Metrics != nil {
		pctx.Metrics.AddBytesIn("aes256gcm", int64(len(chunk.Data)))
		pctx.Metrics.AddBytesOut("aes256gcm", int64(len(out)))
	}
	chunk.Data = out
	return chunk, nil
}

// ChaCha20Poly1305Service implements authenticated encryption with
// ChaCha20-Poly1305, exercising golang.org/x/crypto's AEAD the way the
// teacher's encryption.go does for its alternate cipher suite.
type ChaCha20Poly1305Service struct {
	aead cipher.AEAD
}

// NewChaCha20Poly1305Service constructs the service with a 32-byte key.
func NewChaCha20Poly1305Service(key []byte) (*ChaCha20Poly1305Service, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return &ChaCha20Poly1305Service{aead: aead}, nil
}

func (s *ChaCha20Poly1305Service) Position() Position { return PostBinary }
func (s *ChaCha20Poly1305Service) IsReversible() bool { return true }
func (s *ChaCha20Poly1305Service) StageType() Type    { return TypeEncryption }

func (s *ChaCha20Poly1305Service) ProcessChunk(_ context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error) {
	out, err := aeadProcessChunk(s.aead, chunk.Data, cfg.Operation)
	if err != nil {
		return Chunk{}, NewStageError("chacha20poly1305", err)
	}
	if pctx != nil && pctx.Metrics != nil {
		pctx.Metrics.AddBytesIn("chacha20poly1305", int64(len(chunk.Data)))
		pctx.Metrics.AddBytesOut("chacha20poly1305", int64(len(out)))
	}
	chunk.Data = out
	return chunk, nil
}

// aeadProcessChunk seals data with a fresh random nonce prefixed to the
// ciphertext on Forward, or splits the nonce back off and opens on Reverse.
func aeadProcessChunk(aead cipher.AEAD, data []byte, op Operation) ([]byte, error) {
	nonceSize := aead.NonceSize()

	if op == Reverse {
		if len(data) < nonceSize {
			return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrCorruptedInput)
		}
		nonce, ciphertext := data[:nonceSize], data[nonceSize:]
		plain, err := aead.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		return plain, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("encryption: generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, data, nil)
	return sealed, nil
}
