package container

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// sentinel errors wrapped into pipeline.ErrInvalidFormat /
// pipeline.ErrUnsupportedVersion by the caller; kept local here (same
// reasoning as internal/pipeline/stage/errors.go) to avoid an import cycle
// between container and its parent package.
var (
	ErrTruncated        = fmt.Errorf("container: trailer missing")
	ErrNotAnAdapipeFile = fmt.Errorf("container: not an adapipe file")
	ErrMalformedHeader  = fmt.Errorf("container: malformed JSON header")
	ErrUnsupportedVersion = fmt.Errorf("container: unsupported format version")
)

// Reader provides random access to a container's body and parses its
// reverse-placed header without a forward scan (spec.md §4.2 reader
// contract: seek to end-8 for magic, end-10 for version, end-14 for header
// length).
type Reader struct {
	f      *os.File
	size   int64
	Header FileHeader

	// bodyEnd is the byte offset where the body ends and the JSON header
	// begins; computed once during Open.
	bodyEnd int64
}

// Open validates the trailer and parses the header, returning a Reader
// whose body is read via BodyReader or DecodeChunks.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("container: stat: %w", err)
	}
	size := info.Size()
	if size < TrailerSize {
		f.Close()
		return nil, ErrTruncated
	}

	var trailer [TrailerSize]byte
	if _, err := f.ReadAt(trailer[:], size-TrailerSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	if !bytes.Equal(trailer[6:14], Magic[:]) {
		f.Close()
		return nil, ErrNotAnAdapipeFile
	}

	headerLen := binary.LittleEndian.Uint32(trailer[0:4])
	formatVersion := binary.LittleEndian.Uint16(trailer[4:6])
	if formatVersion > CurrentFormatVersion {
		f.Close()
		return nil, fmt.Errorf("%w: file is format_version %d, this build supports up to %d",
			ErrUnsupportedVersion, formatVersion, CurrentFormatVersion)
	}

	headerStart := size - TrailerSize - int64(headerLen)
	if headerStart < 0 {
		f.Close()
		return nil, ErrTruncated
	}

	headerBytes := make([]byte, headerLen)
	if _, err := f.ReadAt(headerBytes, headerStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	var header FileHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	return &Reader{f: f, size: size, Header: header, bodyEnd: headerStart}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }

// ErrOutputChecksumMismatch is returned by VerifyBody when the recorded
// output_checksum does not match the actual body bytes on disk (spec.md
// §4.2 failure semantics: "output-checksum mismatch on a completed body").
var ErrOutputChecksumMismatch = fmt.Errorf("container: output checksum mismatch")

// VerifyBody recomputes the SHA-256 over the container's body and compares
// it against the header's recorded output_checksum (spec.md §3 invariant
// iii). An empty recorded checksum (older/partial headers) is treated as
// nothing to verify against.
func (r *Reader) VerifyBody() error {
	if r.Header.OutputChecksum == "" {
		return nil
	}
	h := sha256.New()
	if _, err := io.Copy(h, r.BodyReader()); err != nil {
		return fmt.Errorf("container: read body for checksum: %w", err)
	}
	got := fmt.Sprintf("%x", h.Sum(nil))
	if got != r.Header.OutputChecksum {
		return fmt.Errorf("%w: body checksum %s != recorded %s", ErrOutputChecksumMismatch, got, r.Header.OutputChecksum)
	}
	return nil
}

// BodyReader returns an io.SectionReader over exactly the container's body
// (everything before the JSON header), for sequential chunk decoding.
func (r *Reader) BodyReader() *io.SectionReader {
	return io.NewSectionReader(r.f, 0, r.bodyEnd)
}

// ChunkRecord is one decoded body record's payload. When the pipeline's
// last applied stage was an AEAD cipher, Payload is [nonce:12][ciphertext];
// the encryption stage's Reverse operation splits the nonce back off, so
// the container layer does not need to know cipher-specific nonce sizes.
type ChunkRecord struct {
	Payload []byte
}

// DecodeChunks walks the body once, splitting it into per-chunk records
// using Header.ChunkLengths (the writer's recorded on-disk lengths). It
// returns records in sequence order, matching body placement order
// (spec.md §3 invariant iv).
func (r *Reader) DecodeChunks() ([]ChunkRecord, error) {
	body := r.BodyReader()
	records := make([]ChunkRecord, 0, len(r.Header.ChunkLengths))

	var offset int64
	for seq, recordLen := range r.Header.ChunkLengths {
		buf := make([]byte, recordLen)
		if _, err := io.ReadFull(io.NewSectionReader(body, offset, int64(recordLen)), buf); err != nil {
			return nil, fmt.Errorf("container: read chunk %d: %w", seq, err)
		}
		offset += int64(recordLen)

		if len(buf) < 4 {
			return nil, fmt.Errorf("container: chunk %d missing length prefix", seq)
		}
		length := binary.LittleEndian.Uint32(buf[0:4])
		payload := buf[4:]
		if uint32(len(payload)) != length {
			return nil, fmt.Errorf("container: chunk %d length prefix %d does not match record", seq, length)
		}

		records = append(records, ChunkRecord{Payload: payload})
	}
	return records, nil
}
