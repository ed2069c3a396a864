// Package container implements the reverse-header self-describing binary
// format a run's output is written in (extension .adapipe): a body of
// processed chunks, a trailing JSON header describing every step applied,
// and a fixed 14-byte trailer locating that header from the end of the
// file.
//
// Grounded on the teacher's artifact storage codecs (now-deleted
// internal/storage backends) for the positioned-write/seek-from-end style,
// generalized from "store an opaque blob plus metadata" to "store a
// self-describing, order-replayable processing record".
package container

import "time"

// CurrentFormatVersion is the format_version this implementation writes.
// Readers accept any v <= CurrentFormatVersion (spec.md §4.2 versioning).
const CurrentFormatVersion uint16 = 1

// Magic is the fixed 8-byte trailer suffix identifying an adapipe
// container: "ADAPIPE\0".
var Magic = [8]byte{'A', 'D', 'A', 'P', 'I', 'P', 'E', 0}

// TrailerSize is the fixed byte length of the trailer:
// header_length(4) + format_version(2) + magic(8).
const TrailerSize = 14

// ProcessingStep records one stage applied during processing, in
// application order, with enough information to reconstruct the reverse
// traversal during restoration.
type ProcessingStep struct {
	StepType   string            `json:"step_type"`
	Algorithm  string            `json:"algorithm"`
	Parameters map[string]string `json:"parameters"`
	Order      uint32            `json:"order"`
}

// FileHeader is the JSON-serialised metadata block written after the body
// and before the trailer. Field names are bit-exact to spec.md §6.
type FileHeader struct {
	AppVersion       string           `json:"app_version"`
	FormatVersion    uint16           `json:"format_version"`
	OriginalFilename string           `json:"original_filename"`
	OriginalSize     uint64           `json:"original_size"`
	OriginalChecksum string           `json:"original_checksum"`
	OutputChecksum   string           `json:"output_checksum"`
	ProcessingSteps  []ProcessingStep `json:"processing_steps"`
	ChunkSize        uint32           `json:"chunk_size"`
	ChunkCount       uint32           `json:"chunk_count"`
	ProcessedAt      time.Time        `json:"processed_at"`
	PipelineID       string           `json:"pipeline_id"`
	Metadata         map[string]string `json:"metadata"`

	// ChunkLengths records the actual on-disk length of each chunk in
	// sequence order. Required when chunk sizes vary after processing
	// (e.g. encryption ciphertext, compression); the writer always
	// populates it so readers never need to assume chunk_size is exact
	// (spec.md's §9 design note on variable-size ciphertext).
	ChunkLengths []uint32 `json:"chunk_lengths,omitempty"`
}
