package narration

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Format represents the container of a synthesized payload.
type Format string

// Recognized payload formats.
const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOGG     Format = "ogg"
	FormatFLAC    Format = "flac"
	FormatUnknown Format = "bin"
)

// Limits applied to a decoded WAV header.
const (
	maxSampleRate = 192000
	maxChannels   = 8
	bitDepth8     = 8
	bitDepth16    = 16
	bitDepth24    = 24
	bitDepth32    = 32
)

const (
	riffHeaderSize   = 12
	chunkHeaderSize  = 8
	fmtChunkMinSize  = 16
	streamingSize    = 0xFFFFFFFF
	mp3FrameSyncMask = 0xE0
)

// Errors returned while decoding a WAV header.
var (
	ErrNotWAV         = errors.New("payload is not a RIFF/WAVE file")
	ErrMissingChunk   = errors.New("wav chunk missing")
	ErrInvalidQuality = errors.New("invalid wav header values")
)

// WAVInfo is the decoded subset of a WAV header.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	ByteRate   int
	DataSize   int64
	Duration   time.Duration
}

// DetectFormat sniffs the container from the leading bytes.
func DetectFormat(audio []byte) Format {
	switch {
	case len(audio) >= riffHeaderSize && bytes.Equal(audio[0:4], []byte("RIFF")) &&
		bytes.Equal(audio[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(audio, []byte("ID3")):
		return FormatMP3
	case len(audio) >= 2 && audio[0] == 0xFF && audio[1]&mp3FrameSyncMask == mp3FrameSyncMask:
		return FormatMP3
	case bytes.HasPrefix(audio, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(audio, []byte("fLaC")):
		return FormatFLAC
	default:
		return FormatUnknown
	}
}

// Extension returns the file extension for the format, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// ParseWAV walks the RIFF chunks and derives the duration from the fmt byte rate and
// the data chunk size.
func ParseWAV(audio []byte) (WAVInfo, error) {
	if DetectFormat(audio) != FormatWAV {
		return WAVInfo{}, ErrNotWAV
	}

	var (
		info    WAVInfo
		haveFmt bool
		offset  = riffHeaderSize
	)

	for offset+chunkHeaderSize <= len(audio) {
		chunkID := string(audio[offset : offset+4])
		chunkSize := int64(binary.LittleEndian.Uint32(audio[offset+4 : offset+8]))
		body := offset + chunkHeaderSize
		remaining := int64(len(audio) - body)

		switch chunkID {
		case "fmt ":
			if chunkSize < fmtChunkMinSize || remaining < fmtChunkMinSize {
				return WAVInfo{}, fmt.Errorf("%w: fmt chunk too short", ErrNotWAV)
			}

			info.Channels = int(binary.LittleEndian.Uint16(audio[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(audio[body+4 : body+8]))
			info.ByteRate = int(binary.LittleEndian.Uint32(audio[body+8 : body+12]))
			info.BitDepth = int(binary.LittleEndian.Uint16(audio[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, fmt.Errorf("%w: fmt before data", ErrMissingChunk)
			}

			if chunkSize == streamingSize || chunkSize > remaining {
				chunkSize = remaining
			}

			info.DataSize = chunkSize

			validateErr := info.validate()
			if validateErr != nil {
				return WAVInfo{}, validateErr
			}

			info.Duration = time.Duration(float64(info.DataSize) / float64(info.ByteRate) * float64(time.Second))

			return info, nil
		}

		offset = body + int(chunkSize) + int(chunkSize%2)
	}

	return WAVInfo{}, fmt.Errorf("%w: data", ErrMissingChunk)
}

func (i WAVInfo) validate() error {
	if i.SampleRate <= 0 || i.SampleRate > maxSampleRate {
		return fmt.Errorf("%w: sample rate must be between 1 and %d Hz", ErrInvalidQuality, maxSampleRate)
	}

	if i.Channels <= 0 || i.Channels > maxChannels {
		return fmt.Errorf("%w: channels must be between 1 and %d", ErrInvalidQuality, maxChannels)
	}

	switch i.BitDepth {
	case bitDepth8, bitDepth16, bitDepth24, bitDepth32:
	default:
		return fmt.Errorf("%w: bit depth must be 8, 16, 24, or 32", ErrInvalidQuality)
	}

	if i.ByteRate <= 0 {
		return fmt.Errorf("%w: byte rate must be positive", ErrInvalidQuality)
	}

	return nil
}
