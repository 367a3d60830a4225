// Package spectral implements the spectral front-end: it converts mono PCM
// into a magnitude spectrogram that the landmark extractor operates on.
package spectral

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrogram is a time-frequency magnitude representation. Frames are
// stored frame-major; frame t covers samples [t*Hop, t*Hop+NFFT) of the
// input, so frame index t corresponds to time t*Hop/SampleRate seconds.
type Spectrogram struct {
	frames     [][]float64 // frames[t][f]
	NFFT       int
	Hop        int
	SampleRate int
}

// NumBins returns the number of frequency bins (NFFT/2 + 1).
func (s *Spectrogram) NumBins() int {
	return s.NFFT/2 + 1
}

// NumFrames returns the number of time frames.
func (s *Spectrogram) NumFrames() int {
	return len(s.frames)
}

// Mag returns the magnitude at frequency bin f and frame t.
func (s *Spectrogram) Mag(f, t int) float64 {
	return s.frames[t][f]
}

// Frame returns the magnitudes of one time frame.
func (s *Spectrogram) Frame(t int) []float64 {
	return s.frames[t]
}

// FrameToMs converts a frame index to a millisecond offset.
func (s *Spectrogram) FrameToMs(t int64) int64 {
	return t * int64(s.Hop) * 1000 / int64(s.SampleRate)
}

// Analyzer computes magnitude spectrograms with a Hann window.
type Analyzer struct {
	nfft       int
	hop        int
	sampleRate int
	window     []float64
	fft        *fourier.FFT
}

// NewAnalyzer creates an Analyzer for the given STFT parameters.
func NewAnalyzer(sampleRate, nfft, hop int) *Analyzer {
	return &Analyzer{
		nfft:       nfft,
		hop:        hop,
		sampleRate: sampleRate,
		window:     hannWindow(nfft),
		fft:        fourier.NewFFT(nfft),
	}
}

// hannWindow returns a periodic Hann window of length n.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

// Spectrogram computes the magnitude spectrogram of pcm. No padding is
// applied: inputs shorter than one window yield a spectrogram with zero
// frames, which downstream components accept and turn into zero hashes.
func (a *Analyzer) Spectrogram(pcm []float64) *Spectrogram {
	spec := &Spectrogram{
		NFFT:       a.nfft,
		Hop:        a.hop,
		SampleRate: a.sampleRate,
	}
	if len(pcm) < a.nfft {
		return spec
	}

	numFrames := (len(pcm)-a.nfft)/a.hop + 1
	numBins := a.nfft/2 + 1
	spec.frames = make([][]float64, numFrames)

	windowed := make([]float64, a.nfft)
	coeffs := make([]complex128, numBins)

	for t := 0; t < numFrames; t++ {
		offset := t * a.hop
		for i := 0; i < a.nfft; i++ {
			windowed[i] = pcm[offset+i] * a.window[i]
		}
		coeffs = a.fft.Coefficients(coeffs, windowed)

		frame := make([]float64, numBins)
		for f := 0; f < numBins; f++ {
			frame[f] = cmplx.Abs(coeffs[f])
		}
		spec.frames[t] = frame
	}

	return spec
}
