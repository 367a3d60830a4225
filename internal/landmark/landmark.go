// Package landmark extracts landmark hashes from a magnitude spectrogram.
// Spectral peaks are paired anchor to target and each pair is packed into a
// fixed-width hash token; the resulting (hash, t_ref) stream is the
// fingerprint of the audio.
package landmark

import (
	"sort"

	"github.com/sonicgen/sonicgen/internal/conf"
	"github.com/sonicgen/sonicgen/internal/spectral"
)

// Occurrence is one emission of a landmark hash at a specific frame of the
// analyzed audio.
type Occurrence struct {
	Hash string // fixed-width lowercase hex token
	TRef uint32 // anchor frame index
}

// Peak is a spectral peak at frequency bin F and frame T.
type Peak struct {
	F int
	T int
}

// Extractor picks peaks and pairs them into landmark hashes.
type Extractor struct {
	cfg conf.LandmarkSettings
}

// NewExtractor creates an Extractor with the given settings.
func NewExtractor(cfg conf.LandmarkSettings) *Extractor {
	return &Extractor{cfg: cfg}
}

// Fingerprint runs peak picking and pairing on spec and returns the ordered
// fingerprint. The order is anchor-major, fan-minor and fully determined by
// the input; duplicates are possible and left to the ingest layer to
// coalesce.
func (e *Extractor) Fingerprint(spec *spectral.Spectrogram) []Occurrence {
	return e.Pairs(e.Peaks(spec))
}

// Peaks returns the spectral peaks of spec: strict local maxima within a
// rectangle of radius (PeakNeighborhoodFreq, PeakNeighborhoodTime) that
// exceed the percentile magnitude floor. Magnitude ties inside a
// neighborhood are resolved in favor of the lexicographically smaller
// (t, f) point. The result is sorted by (t, f) ascending.
func (e *Extractor) Peaks(spec *spectral.Spectrogram) []Peak {
	numFrames := spec.NumFrames()
	if numFrames == 0 {
		return nil
	}
	numBins := spec.NumBins()

	floor := percentile(spec, e.cfg.PeakPercentile)
	neighborhood := maxFilter(spec, e.cfg.PeakNeighborhoodFreq, e.cfg.PeakNeighborhoodTime)

	df := e.cfg.PeakNeighborhoodFreq
	dt := e.cfg.PeakNeighborhoodTime

	var peaks []Peak
	for t := 0; t < numFrames; t++ {
		for f := 0; f < numBins; f++ {
			mag := spec.Mag(f, t)
			if mag <= floor || mag != neighborhood[t][f] {
				continue
			}
			if losesTie(spec, f, t, df, dt, mag) {
				continue
			}
			peaks = append(peaks, Peak{F: f, T: t})
		}
	}
	return peaks
}

// losesTie reports whether an equal-magnitude point earlier in (t, f) order
// exists inside the neighborhood of (f, t).
func losesTie(spec *spectral.Spectrogram, f, t, df, dt int, mag float64) bool {
	numFrames := spec.NumFrames()
	numBins := spec.NumBins()
	for tt := max(0, t-dt); tt <= min(numFrames-1, t+dt); tt++ {
		if tt > t {
			break
		}
		for ff := max(0, f-df); ff <= min(numBins-1, f+df); ff++ {
			if tt == t && ff >= f {
				break
			}
			if spec.Mag(ff, tt) == mag {
				return true
			}
		}
	}
	return false
}

// Pairs emits the anchor-to-target pairs of the sorted peak list. For each
// anchor, subsequent peaks within the fan window (1 <= dt <= FanDT,
// |df| <= FanDF) are paired until FanOut pairs have been emitted.
func (e *Extractor) Pairs(peaks []Peak) []Occurrence {
	if len(peaks) == 0 {
		return nil
	}

	sorted := make([]Peak, len(peaks))
	copy(sorted, peaks)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].T != sorted[j].T {
			return sorted[i].T < sorted[j].T
		}
		return sorted[i].F < sorted[j].F
	})

	var out []Occurrence
	for i, anchor := range sorted {
		emitted := 0
		for k := i + 1; k < len(sorted); k++ {
			target := sorted[k]
			dt := target.T - anchor.T
			if dt < 1 {
				continue
			}
			if dt > e.cfg.FanDT {
				// sorted by time, nothing closer follows
				break
			}
			df := target.F - anchor.F
			if df < 0 {
				df = -df
			}
			if df > e.cfg.FanDF {
				continue
			}
			out = append(out, Occurrence{
				Hash: EncodeHash(anchor.F, target.F, dt),
				TRef: uint32(anchor.T),
			})
			emitted++
			if emitted >= e.cfg.FanOut {
				break
			}
		}
	}
	return out
}

// percentile returns the p-th percentile of all magnitudes in spec, using
// linear interpolation between closest ranks.
func percentile(spec *spectral.Spectrogram, p float64) float64 {
	numFrames := spec.NumFrames()
	numBins := spec.NumBins()
	values := make([]float64, 0, numFrames*numBins)
	for t := 0; t < numFrames; t++ {
		values = append(values, spec.Frame(t)...)
	}
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)

	if p <= 0 {
		return values[0]
	}
	if p >= 100 {
		return values[len(values)-1]
	}
	pos := p / 100 * float64(len(values)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= len(values) {
		return values[lo]
	}
	return values[lo] + frac*(values[lo+1]-values[lo])
}

// maxFilter computes the sliding maximum of spec over a rectangle of radius
// (df, dt) with two monotonic-deque passes, one along time and one along
// frequency.
func maxFilter(spec *spectral.Spectrogram, df, dt int) [][]float64 {
	numFrames := spec.NumFrames()
	numBins := spec.NumBins()

	// Pass 1: maximum over the time axis per frequency bin.
	timeMax := make([][]float64, numFrames)
	for t := range timeMax {
		timeMax[t] = make([]float64, numBins)
	}
	deque := make([]int, 0, 2*dt+2)
	for f := 0; f < numBins; f++ {
		deque = deque[:0]
		for t := 0; t < numFrames+dt; t++ {
			if t < numFrames {
				v := spec.Mag(f, t)
				for len(deque) > 0 && spec.Mag(f, deque[len(deque)-1]) <= v {
					deque = deque[:len(deque)-1]
				}
				deque = append(deque, t)
			}
			out := t - dt
			if out < 0 {
				continue
			}
			for deque[0] < out-dt {
				deque = deque[1:]
			}
			timeMax[out][f] = spec.Mag(f, deque[0])
		}
	}

	// Pass 2: maximum over the frequency axis of the time maxima.
	result := make([][]float64, numFrames)
	fdeque := make([]int, 0, 2*df+2)
	for t := 0; t < numFrames; t++ {
		row := timeMax[t]
		result[t] = make([]float64, numBins)
		fdeque = fdeque[:0]
		for f := 0; f < numBins+df; f++ {
			if f < numBins {
				v := row[f]
				for len(fdeque) > 0 && row[fdeque[len(fdeque)-1]] <= v {
					fdeque = fdeque[:len(fdeque)-1]
				}
				fdeque = append(fdeque, f)
			}
			out := f - df
			if out < 0 {
				continue
			}
			for fdeque[0] < out-df {
				fdeque = fdeque[1:]
			}
			result[t][out] = row[fdeque[0]]
		}
	}
	return result
}
