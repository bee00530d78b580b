package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Supported container names.
const (
	FormatWAV  = "wav"
	FormatMP3  = "mp3"
	FormatWebM = "webm"
	FormatOgg  = "ogg"
	FormatFLAC = "flac"
	FormatM4A  = "m4a"
)

// ErrUnsupportedFormat is returned when a duration cannot be derived from
// the container without a full decoder.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// FormatFromMediaType maps a MIME type, or a bare container name such as a
// file extension, to a container name. Parameters such as "codecs=opus" are
// ignored.
func FormatFromMediaType(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "audio/wav", "audio/wave", "audio/x-wav", FormatWAV:
		return FormatWAV
	case "audio/mpeg", "audio/mp3", FormatMP3:
		return FormatMP3
	case "audio/webm", "video/webm", FormatWebM:
		return FormatWebM
	case "audio/ogg", FormatOgg, "opus":
		return FormatOgg
	case "audio/flac", FormatFLAC:
		return FormatFLAC
	case "audio/m4a", "audio/mp4", "audio/x-m4a", FormatM4A, "mp4":
		return FormatM4A
	default:
		return ""
	}
}

// DetectFormat sniffs the container from magic bytes, falling back to the
// declared media type.
func DetectFormat(data []byte, mediaType string) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatWebM
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return FormatOgg
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return FormatFLAC
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return FormatM4A
	}
	return FormatFromMediaType(mediaType)
}

// ProbeDuration returns the clip length in seconds for formats whose
// duration can be read without a full decode pipeline.
func ProbeDuration(data []byte, format string) (float64, error) {
	if len(data) == 0 {
		return 0, errors.New("empty audio")
	}
	switch format {
	case FormatWAV:
		return wavDuration(data)
	case FormatMP3:
		return mp3Duration(data)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func wavDuration(data []byte) (float64, error) {
	info, err := ParseWAV(data)
	if err != nil {
		return 0, err
	}
	return info.Duration(), nil
}

// WAVInfo describes the PCM payload of a RIFF/WAVE file.
type WAVInfo struct {
	AudioFormat   int
	Channels      int
	SampleRate    int
	BitsPerSample int
	ByteRate      int
	Data          []byte
}

// Duration is the payload length in seconds.
func (w WAVInfo) Duration() float64 {
	if w.ByteRate <= 0 {
		return 0
	}
	return float64(len(w.Data)) / float64(w.ByteRate)
}

// ParseWAV walks the RIFF chunks of a WAVE file.
func ParseWAV(data []byte) (WAVInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("not a WAV")
	}
	var info WAVInfo
	var sawFmt, sawData bool
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		end := pos + chunkSize
		if chunkSize < 0 || end > len(data) {
			// Streaming encoders often write a placeholder size for data.
			end = len(data)
		}
		switch chunkID {
		case "fmt ":
			if end-pos < 16 {
				return WAVInfo{}, errors.New("fmt chunk too small")
			}
			info.AudioFormat = int(binary.LittleEndian.Uint16(data[pos : pos+2]))
			info.Channels = int(binary.LittleEndian.Uint16(data[pos+2 : pos+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
			info.ByteRate = int(binary.LittleEndian.Uint32(data[pos+8 : pos+12]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[pos+14 : pos+16]))
			sawFmt = true
		case "data":
			info.Data = data[pos:end]
			sawData = true
		}
		pos = end + (chunkSize & 1)
	}
	if !sawFmt || !sawData {
		return WAVInfo{}, errors.New("wav missing fmt or data chunk")
	}
	return info, nil
}

// EncodeWAV wraps 16-bit little-endian PCM in a RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
