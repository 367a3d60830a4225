package spectral

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWave(freq float64, rate, n int) []float64 {
	pcm := make([]float64, n)
	for i := range pcm {
		pcm[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(rate))
	}
	return pcm
}

func TestSpectrogramShape(t *testing.T) {
	a := NewAnalyzer(22050, 2048, 512)

	tests := []struct {
		name      string
		samples   int
		numFrames int
	}{
		{"one window exactly", 2048, 1},
		{"one window plus hop", 2048 + 512, 2},
		{"partial hop discarded", 2048 + 511, 1},
		{"ten seconds", 220500, (220500-2048)/512 + 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := a.Spectrogram(sineWave(440, 22050, tc.samples))
			assert.Equal(t, tc.numFrames, spec.NumFrames())
			assert.Equal(t, 1025, spec.NumBins())
			if spec.NumFrames() > 0 {
				assert.Len(t, spec.Frame(0), 1025)
			}
		})
	}
}

func TestSpectrogramShortInput(t *testing.T) {
	a := NewAnalyzer(22050, 2048, 512)

	spec := a.Spectrogram(sineWave(440, 22050, 2047))
	assert.Equal(t, 0, spec.NumFrames())

	spec = a.Spectrogram(nil)
	assert.Equal(t, 0, spec.NumFrames())
}

func TestSpectrogramTonePeak(t *testing.T) {
	const rate, nfft = 22050, 2048
	a := NewAnalyzer(rate, nfft, 512)

	// A pure tone must concentrate energy at its frequency bin.
	freq := 1000.0
	spec := a.Spectrogram(sineWave(freq, rate, rate))
	require.Positive(t, spec.NumFrames())

	expectedBin := int(math.Round(freq / rate * nfft))
	maxBin := 0
	for f := 1; f < spec.NumBins(); f++ {
		if spec.Mag(f, 0) > spec.Mag(maxBin, 0) {
			maxBin = f
		}
	}
	assert.InDelta(t, expectedBin, maxBin, 1)
}

func TestSpectrogramDeterministic(t *testing.T) {
	a := NewAnalyzer(22050, 2048, 512)
	pcm := sineWave(523.25, 22050, 44100)

	first := a.Spectrogram(pcm)
	second := a.Spectrogram(pcm)

	require.Equal(t, first.NumFrames(), second.NumFrames())
	for tt := 0; tt < first.NumFrames(); tt++ {
		assert.Equal(t, first.Frame(tt), second.Frame(tt))
	}
}

func TestFrameToMs(t *testing.T) {
	spec := &Spectrogram{NFFT: 2048, Hop: 512, SampleRate: 22050}

	assert.Equal(t, int64(0), spec.FrameToMs(0))
	// 512 samples at 22050 Hz is 23.2 ms per frame
	assert.Equal(t, int64(23), spec.FrameToMs(1))
	assert.Equal(t, int64(2321), spec.FrameToMs(100))
}
