// Package audiofile decodes audio blobs into mono PCM at the engine's
// target sample rate.
package audiofile

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sonicgen/sonicgen/internal/errors"
)

// AudioInfo contains properties of a decoded audio file.
type AudioInfo struct {
	SampleRate   int
	TotalSamples int
	NumChannels  int
	BitDepth     int
}

// DurationMs returns the audio duration in milliseconds at the file's
// native sample rate.
func (info *AudioInfo) DurationMs() int64 {
	if info.SampleRate == 0 {
		return 0
	}
	return int64(info.TotalSamples) * 1000 / int64(info.SampleRate)
}

// ReadInfo returns the properties of a WAV file without decoding samples.
func ReadInfo(path string) (AudioInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return AudioInfo{}, errors.New(err).
			Component("audiofile").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer file.Close()
	return readWAVInfo(file)
}

func readWAVInfo(file *os.File) (AudioInfo, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()

	if !decoder.IsValidFile() {
		return AudioInfo{}, errors.NewStd("invalid WAV file format")
	}

	if decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32 {
		return AudioInfo{}, fmt.Errorf("unsupported bit depth: %d", decoder.BitDepth)
	}

	if decoder.NumChans < 1 {
		return AudioInfo{}, fmt.Errorf("unsupported number of channels: %d", decoder.NumChans)
	}

	// The data chunk length gives the exact sample count; the file size
	// would include the RIFF header.
	if err := decoder.FwdToPCM(); err != nil {
		return AudioInfo{}, fmt.Errorf("locating PCM data: %w", err)
	}

	bytesPerSample := int(decoder.BitDepth / 8)
	totalSamples := int(decoder.PCMSize) / bytesPerSample / int(decoder.NumChans)

	return AudioInfo{
		SampleRate:   int(decoder.SampleRate),
		TotalSamples: totalSamples,
		NumChannels:  int(decoder.NumChans),
		BitDepth:     int(decoder.BitDepth),
	}, nil
}

// ReadFile decodes a WAV file into mono PCM at targetRate. Multi-channel
// audio is down-mixed by arithmetic mean, and the stream is resampled when
// the file rate differs from targetRate.
func ReadFile(path string, targetRate int) ([]float64, AudioInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, AudioInfo{}, errors.New(err).
			Component("audiofile").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer file.Close()

	info, err := readWAVInfo(file)
	if err != nil {
		return nil, AudioInfo{}, errors.New(err).
			Component("audiofile").
			Category(errors.CategoryAudio).
			Context("path", path).
			Build()
	}

	if _, err := file.Seek(0, 0); err != nil {
		return nil, AudioInfo{}, err
	}

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()

	divisor, err := getAudioDivisor(info.BitDepth)
	if err != nil {
		return nil, AudioInfo{}, err
	}

	// Decode in fixed-size buffers to bound peak memory on long files.
	const bufferFrames = 262144
	buf := &audio.IntBuffer{
		Data:   make([]int, bufferFrames*info.NumChannels),
		Format: &audio.Format{SampleRate: info.SampleRate, NumChannels: info.NumChannels},
	}

	pcm := make([]float64, 0, info.TotalSamples)
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, AudioInfo{}, errors.New(err).
				Component("audiofile").
				Category(errors.CategoryAudio).
				Context("path", path).
				Build()
		}
		if n == 0 {
			break
		}
		pcm = appendMonoSamples(pcm, buf.Data[:n], info.NumChannels, divisor)
	}

	if info.SampleRate != targetRate {
		pcm = Resample(pcm, info.SampleRate, targetRate)
	}

	return pcm, info, nil
}

// appendMonoSamples converts interleaved integer samples to float64 mono
// by arithmetic mean across channels.
func appendMonoSamples(dst []float64, data []int, numChans int, divisor float64) []float64 {
	if numChans == 1 {
		for _, sample := range data {
			dst = append(dst, float64(sample)/divisor)
		}
		return dst
	}
	frames := len(data) / numChans
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < numChans; c++ {
			sum += float64(data[i*numChans+c])
		}
		dst = append(dst, sum/float64(numChans)/divisor)
	}
	return dst
}

func getAudioDivisor(bitDepth int) (float64, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, errors.NewStd("unsupported audio file bit depth")
	}
}
