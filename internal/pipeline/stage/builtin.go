package stage

import "fmt"

// Keys carries the keying material a run's encryption stages need. The
// registry never synthesizes a zero key (spec.md §9 Open Question iii):
// callers must supply explicit key bytes for every encryption algorithm
// tag they intend to use, or RegisterBuiltins skips registering it.
type Keys struct {
	AES256GCM        []byte
	ChaCha20Poly1305 []byte
	// TeeSink, if set, receives a copy of every chunk that passes through
	// a "tee" stage.
	TeeSink TeeSink
}

// RegisterBuiltins registers every built-in stage service under its
// algorithm tag (spec.md §4.6). Grounded on the "one trait, many
// algorithms" registry policy (spec.md §4.1): adding a stage means
// implementing Service and inserting it here, no executor change.
//
// Encryption services are only registered when their corresponding key is
// present in keys; a pipeline referencing an unregistered encryption tag
// fails at validation with ErrUnknownAlgorithm, not with a silently
// generated key.
func RegisterBuiltins(r *Registry, keys Keys) error {
	builtins := map[string]Service{
		"zstd":        NewZstdService(),
		"gzip":        NewGzipService(),
		"snappy":      NewSnappyService(),
		"lz4":         NewLZ4Service(),
		"brotli":      NewBrotliService(),
		"sha256":      NewSHA256Service(),
		"sha512":      NewSHA512Service(),
		"blake3":      NewBlake3Service(),
		"base64":      NewBase64Service(),
		"pii_mask":    NewPIIMaskService(),
		"tee":         NewTeeService(keys.TeeSink),
		"passthrough": NewPassThroughService(),
	}

	for tag, svc := range builtins {
		if err := r.Register(tag, svc); err != nil {
			return fmt.Errorf("stage: register builtin %q: %w", tag, err)
		}
	}

	if len(keys.AES256GCM) > 0 {
		svc, err := NewAES256GCMService(keys.AES256GCM)
		if err != nil {
			return fmt.Errorf("stage: build aes256gcm service: %w", err)
		}
		if err := r.Register("aes256gcm", svc); err != nil {
			return fmt.Errorf("stage: register builtin %q: %w", "aes256gcm", err)
		}
	}
	if len(keys.ChaCha20Poly1305) > 0 {
		svc, err := NewChaCha20Poly1305Service(keys.ChaCha20Poly1305)
		if err != nil {
			return fmt.Errorf("stage: build chacha20poly1305 service: %w", err)
		}
		if err := r.Register("chacha20poly1305", svc); err != nil {
			return fmt.Errorf("stage: register builtin %q: %w", "chacha20poly1305", err)
		}
	}

	return nil
}
