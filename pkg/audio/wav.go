package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Format describes a mono or multi-channel 16-bit PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// NewWavBuffer wraps mono 16-bit PCM in a canonical 44-byte WAV header.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// IsWav reports whether data starts with a RIFF/WAVE header.
func IsWav(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWav extracts the PCM payload of a 16-bit integer WAV file. Chunks
// other than "fmt " and "data" are skipped.
func DecodeWav(data []byte) (Format, []byte, error) {
	if !IsWav(data) {
		return Format{}, nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		format  Format
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			// Streaming encoders often leave the data size unset; take what is there.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return Format{}, nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if audioFormat != 1 || bits != 16 {
				return Format{}, nil, fmt.Errorf("%w: unsupported encoding (format %d, %d bits)", ErrInvalidWAV, audioFormat, bits)
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, nil, fmt.Errorf("%w: data before fmt chunk", ErrInvalidWAV)
			}
			return format, data[body:end], nil
		}

		// Chunks are word aligned.
		pos = end + size%2
	}
	return Format{}, nil, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}

// PCMDuration returns the playback length of 16-bit PCM in the given format.
func PCMDuration(pcmLen int, f Format) time.Duration {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	if f.SampleRate <= 0 {
		return 0
	}
	frames := pcmLen / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}
