package audio

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrEmptyChunk is returned for zero-length frames.
	ErrEmptyChunk = errors.New("audio chunk is empty")
	// ErrChunkTooLarge is returned when a frame exceeds the configured limit.
	ErrChunkTooLarge = errors.New("audio chunk exceeds size limit")
)

// Chunk is one short segment of captured audio. The bytes are opaque to the
// pipeline; MIMEType is only a hint for providers that need one.
type Chunk struct {
	Data     []byte
	MIMEType string
	Seq      int // 1-based position within the session stream
}

// NewChunk wraps data, sniffing its container and falling back to
// defaultMIME when the header is not recognised.
func NewChunk(data []byte, seq int, defaultMIME string) Chunk {
	mime := DetectMIME(data)
	if mime == "" {
		mime = defaultMIME
	}
	return Chunk{Data: data, MIMEType: mime, Seq: seq}
}

// Len returns the chunk size in bytes
func (c Chunk) Len() int {
	return len(c.Data)
}

// Validate checks the chunk against the size limit.
func (c Chunk) Validate(maxBytes int) error {
	if len(c.Data) == 0 {
		return ErrEmptyChunk
	}
	if maxBytes > 0 && len(c.Data) > maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrChunkTooLarge, len(c.Data), maxBytes)
	}
	return nil
}

var (
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
	oggMagic  = []byte("OggS")
	riffMagic = []byte("RIFF")
	waveMagic = []byte("WAVE")
	id3Magic  = []byte("ID3")
	flacMagic = []byte("fLaC")
)

// DetectMIME identifies common browser and recorder containers from the
// leading bytes. It returns "" when nothing matches.
//
// Continuation chunks from a MediaRecorder stream carry no EBML header, so
// callers should keep a default.
func DetectMIME(data []byte) string {
	switch {
	case bytes.HasPrefix(data, ebmlMagic):
		return "audio/webm"
	case bytes.HasPrefix(data, oggMagic):
		return "audio/ogg"
	case len(data) >= 12 && bytes.Equal(data[0:4], riffMagic) && bytes.Equal(data[8:12], waveMagic):
		return "audio/wav"
	case bytes.HasPrefix(data, flacMagic):
		return "audio/flac"
	case bytes.HasPrefix(data, id3Magic), len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "audio/mpeg"
	}
	return ""
}
