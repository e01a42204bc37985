package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// HeaderSize is the length of the canonical RIFF/WAVE header written by BuildWAV.
const HeaderSize = 44

const (
	DefaultSampleRate  = 24000
	DefaultChannels    = 1
	DefaultSampleWidth = 2
)

// Format describes raw PCM samples. It travels next to the bytes, never inside them.
type Format struct {
	SampleRate  int
	Channels    int
	SampleWidth int // bytes per sample
}

// DefaultFormat is 24 kHz mono PCM16.
func DefaultFormat() Format {
	return Format{
		SampleRate:  DefaultSampleRate,
		Channels:    DefaultChannels,
		SampleWidth: DefaultSampleWidth,
	}
}

func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * f.SampleWidth
}

func (f Format) BlockAlign() int {
	return f.Channels * f.SampleWidth
}

// Duration returns the playback time of n bytes of audio in this format.
func (f Format) Duration(n int) time.Duration {
	rate := f.ByteRate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(rate) * float64(time.Second))
}

func (f Format) validate() error {
	if f.SampleRate <= 0 || int64(f.SampleRate) > math.MaxUint32 {
		return fmt.Errorf("sample rate out of range: %d", f.SampleRate)
	}
	if f.Channels <= 0 || f.Channels > math.MaxUint16 {
		return fmt.Errorf("channel count out of range: %d", f.Channels)
	}
	if f.SampleWidth <= 0 || f.SampleWidth*8 > math.MaxUint16 {
		return fmt.Errorf("sample width out of range: %d", f.SampleWidth)
	}
	if f.BlockAlign() > math.MaxUint16 {
		return fmt.Errorf("block align out of range: %d", f.BlockAlign())
	}
	if int64(f.ByteRate()) > math.MaxUint32 {
		return fmt.Errorf("byte rate out of range: %d", f.ByteRate())
	}
	return nil
}

// Header is the on-disk layout of a canonical PCM WAV header.
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // total length - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // len(samples)
}

// PCMFormat returns the sample format described by the header.
func (h Header) PCMFormat() Format {
	return Format{
		SampleRate:  int(h.SampleRate),
		Channels:    int(h.NumChannels),
		SampleWidth: int(h.BitsPerSample) / 8,
	}
}

// BuildWAV frames raw PCM samples in a RIFF/WAVE container.
// The samples are copied through untouched; a length that is not a multiple
// of the block align is accepted as is.
func BuildWAV(pcm []byte, f Format) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid audio format: %w", err)
	}
	if uint64(len(pcm))+HeaderSize-8 > math.MaxUint32 {
		return nil, fmt.Errorf("audio too large for WAV container: %d bytes", len(pcm))
	}

	dataSize := uint32(len(pcm))
	header := Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     HeaderSize - 8 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.ByteRate()),
		BlockAlign:    uint16(f.BlockAlign()),
		BitsPerSample: uint16(f.SampleWidth * 8),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// ParseHeader decodes the 44-byte header at the start of a WAV container.
func ParseHeader(data []byte) (Header, error) {
	var header Header
	if len(data) < HeaderSize {
		return header, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &header); err != nil {
		return header, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return header, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return header, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(header.Subchunk1ID[:]) != "fmt ":
		return header, fmt.Errorf("invalid WAV file: missing fmt chunk")
	case string(header.Subchunk2ID[:]) != "data":
		return header, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return header, nil
}
