package player

import "encoding/binary"

// Convert remaps pcm to the given rate and channel count. Channels are
// averaged down or duplicated up; rates are linearly interpolated.
func Convert(pcm PCM, sampleRate, channels int) PCM {
	if pcm.SampleRate == sampleRate && pcm.Channels == channels {
		return pcm
	}
	if pcm.SampleRate <= 0 || pcm.Channels <= 0 || sampleRate <= 0 || channels <= 0 {
		return PCM{SampleRate: sampleRate, Channels: channels}
	}

	frames := len(pcm.Data) / (2 * pcm.Channels)
	src := make([][]float64, frames)
	for i := 0; i < frames; i++ {
		src[i] = mapChannels(pcm.Data[i*2*pcm.Channels:(i+1)*2*pcm.Channels], pcm.Channels, channels)
	}

	outFrames := frames
	if pcm.SampleRate != sampleRate && frames > 0 {
		outFrames = int(int64(frames) * int64(sampleRate) / int64(pcm.SampleRate))
	}
	out := make([]byte, outFrames*channels*2)
	ratio := float64(pcm.SampleRate) / float64(sampleRate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		j := int(pos)
		frac := pos - float64(j)
		for c := 0; c < channels; c++ {
			v := src[j][c]
			if j+1 < frames {
				v += (src[j+1][c] - v) * frac
			}
			binary.LittleEndian.PutUint16(out[(i*channels+c)*2:], uint16(int16(clamp16(v))))
		}
	}
	return PCM{Data: out, SampleRate: sampleRate, Channels: channels}
}

func mapChannels(frame []byte, from, to int) []float64 {
	in := make([]float64, from)
	for c := 0; c < from; c++ {
		in[c] = float64(int16(binary.LittleEndian.Uint16(frame[c*2:])))
	}
	out := make([]float64, to)
	switch {
	case from == to:
		copy(out, in)
	case to == 1:
		var sum float64
		for _, v := range in {
			sum += v
		}
		out[0] = sum / float64(from)
	default:
		for c := 0; c < to; c++ {
			out[c] = in[c%from]
		}
	}
	return out
}

func clamp16(v float64) float64 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return v
	}
}
