package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zeozeozeo/gomplerate"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

// WhisperSampleRate is what whisper.cpp expects.
const WhisperSampleRate = 16000

// WAVInfo is the subset of a RIFF/WAVE header we care about.
type WAVInfo struct {
	Format        uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataOffset    int64
	DataSize      int64
}

// Duration derived from the data chunk size.
func (w WAVInfo) Duration() time.Duration {
	bytesPerSec := int64(w.SampleRate) * int64(w.Channels) * int64(w.BitsPerSample/8)
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(w.DataSize) * time.Second / time.Duration(bytesPerSec)
}

var errNotWAV = errors.New("not a RIFF/WAVE file")

// ProbeWAV parses the header chunks of a WAV file.
func ProbeWAV(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, err
	}
	defer f.Close()
	return readWAVHeader(f)
}

func readWAVHeader(r io.ReadSeeker) (WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVInfo{}, errNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, errNotWAV
	}

	var info WAVInfo
	offset := int64(12)
	haveFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return WAVInfo{}, fmt.Errorf("wav: missing data chunk: %w", err)
		}
		offset += 8
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil || size < 16 {
				return WAVInfo{}, fmt.Errorf("wav: short fmt chunk")
			}
			info.Format = binary.LittleEndian.Uint16(buf[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(buf[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(buf[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(buf[14:16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, fmt.Errorf("wav: data before fmt chunk")
			}
			info.DataOffset = offset
			info.DataSize = size
			return info, nil
		default:
			if _, err := r.Seek(size, io.SeekCurrent); err != nil {
				return WAVInfo{}, err
			}
		}
		offset += size
		// Chunks are word aligned.
		if size%2 == 1 {
			if _, err := r.Seek(1, io.SeekCurrent); err != nil {
				return WAVInfo{}, err
			}
			offset++
		}
	}
}

// ReadWAVSamples loads a 16-bit PCM WAV as mono float32 at 16 kHz.
func ReadWAVSamples(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := readWAVHeader(f)
	if err != nil {
		return nil, err
	}
	if info.Format != 1 || info.BitsPerSample != 16 {
		return nil, fmt.Errorf("wav: need 16-bit PCM, got format %d with %d bits", info.Format, info.BitsPerSample)
	}

	raw := make([]byte, info.DataSize)
	if _, err := io.ReadFull(f, raw); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("wav: read data: %w", err)
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2])) // #nosec G115 - PCM sample reinterpretation
	}

	samples = toMono(samples, info.Channels)
	if info.SampleRate != WhisperSampleRate {
		L_debug("audio: resampling", "from", info.SampleRate, "to", WhisperSampleRate)
		samples = resampleInt16(samples, info.SampleRate, WhisperSampleRate)
	}
	return int16ToFloat32(samples), nil
}

// toMono averages interleaved channels.
func toMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		mono[i] = int16(sum / int32(channels)) // #nosec G115 - channels is 1 or 2
	}
	return mono
}

func resampleInt16(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		return samples
	}
	resampler, err := gomplerate.NewResampler(1, fromRate, toRate)
	if err != nil {
		L_warn("audio: resampler creation failed, keeping original rate", "error", err)
		return samples
	}
	return resampler.ResampleInt16(samples)
}

func int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
