package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWave(sampleRate int, duration float64) []byte {
	n := int(float64(sampleRate) * duration)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		sample := int16(16383.0 * math.Sin(2*math.Pi*440*t))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
	}
	return pcm
}

func TestBuildWAV(t *testing.T) {
	pcm := sineWave(DefaultSampleRate, 0.1)

	wav, err := BuildWAV(pcm, DefaultFormat())
	require.NoError(t, err)
	require.Len(t, wav, HeaderSize+len(pcm))

	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(len(wav)-8), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(wav[16:20]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[20:22]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(wav[32:34]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, wav[HeaderSize:])
}

func TestBuildWAVEmpty(t *testing.T) {
	wav, err := BuildWAV(nil, DefaultFormat())
	require.NoError(t, err)
	require.Len(t, wav, HeaderSize)

	header, err := ParseHeader(wav)
	require.NoError(t, err)
	assert.Equal(t, uint32(36), header.ChunkSize)
	assert.Equal(t, uint32(0), header.Subchunk2Size)
}

func TestBuildWAVRoundTripFormats(t *testing.T) {
	formats := []Format{
		{SampleRate: 8000, Channels: 1, SampleWidth: 2},
		{SampleRate: 16000, Channels: 2, SampleWidth: 2},
		{SampleRate: 44100, Channels: 2, SampleWidth: 3},
		{SampleRate: 48000, Channels: 6, SampleWidth: 4},
		{SampleRate: 22050, Channels: 1, SampleWidth: 1},
	}
	sizes := []int{0, 1, 7, 1024}

	for _, f := range formats {
		for _, size := range sizes {
			pcm := make([]byte, size)
			for i := range pcm {
				pcm[i] = byte(i)
			}

			wav, err := BuildWAV(pcm, f)
			require.NoError(t, err)

			header, err := ParseHeader(wav)
			require.NoError(t, err)
			assert.Equal(t, uint32(HeaderSize+size-8), header.ChunkSize)
			assert.Equal(t, uint32(size), header.Subchunk2Size)
			assert.Equal(t, f, header.PCMFormat())
			assert.Equal(t, uint32(f.ByteRate()), header.ByteRate)
			assert.Equal(t, uint16(f.BlockAlign()), header.BlockAlign)
		}
	}
}

func TestBuildWAVPassesMisalignedSamples(t *testing.T) {
	// 3 bytes is not a whole PCM16 sample
	pcm := []byte{0x01, 0x02, 0x03}
	wav, err := BuildWAV(pcm, DefaultFormat())
	require.NoError(t, err)
	assert.Equal(t, pcm, wav[HeaderSize:])
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestBuildWAVRejectsBadFormat(t *testing.T) {
	bad := []Format{
		{SampleRate: 0, Channels: 1, SampleWidth: 2},
		{SampleRate: 16000, Channels: 0, SampleWidth: 2},
		{SampleRate: 16000, Channels: 1, SampleWidth: 0},
		{SampleRate: -1, Channels: 1, SampleWidth: 2},
		{SampleRate: 16000, Channels: 70000, SampleWidth: 2},
	}
	for _, f := range bad {
		_, err := BuildWAV([]byte{0, 0}, f)
		assert.Error(t, err, "format %+v", f)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	_, err := ParseHeader([]byte("RIFF"))
	assert.Error(t, err)

	wav, err := BuildWAV([]byte{1, 2}, DefaultFormat())
	require.NoError(t, err)

	corrupt := append([]byte(nil), wav...)
	copy(corrupt[8:12], "AVI ")
	_, err = ParseHeader(corrupt)
	assert.ErrorContains(t, err, "WAVE")

	corrupt = append([]byte(nil), wav...)
	copy(corrupt[36:40], "LIST")
	_, err = ParseHeader(corrupt)
	assert.ErrorContains(t, err, "data chunk")
}

func TestFormatDuration(t *testing.T) {
	f := DefaultFormat()
	assert.Equal(t, time.Second, f.Duration(48000))
	assert.Equal(t, 500*time.Millisecond, f.Duration(24000))
	assert.Equal(t, time.Duration(0), Format{}.Duration(100))
}
