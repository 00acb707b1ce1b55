// Package shazam generates and encodes audio fingerprints compatible with
// Shazam's recognition service. A fingerprint ("signature") describes the
// salient spectral peaks of a short excerpt of 16-bit 16 kHz mono PCM audio,
// serialized in the binary format understood by Shazam's tag endpoint.
package shazam

import "math"

// FrequencyBand buckets spectral peaks by their frequency range in Hz.
type FrequencyBand int

const (
	Band250To520 FrequencyBand = iota
	Band520To1450
	Band1450To3500
	Band3500To5500
	numBands
)

// bandNone marks frequencies outside the 250 Hz - 5.5 kHz range; such peaks
// are never stored.
const bandNone FrequencyBand = -1

func bandFor(hz float64) FrequencyBand {
	switch {
	case hz < 250:
		return bandNone
	case hz < 520:
		return Band250To520
	case hz < 1450:
		return Band520To1450
	case hz < 3500:
		return Band1450To3500
	case hz <= 5500:
		return Band3500To5500
	default:
		return bandNone
	}
}

func (b FrequencyBand) String() string {
	switch b {
	case Band250To520:
		return "250-520"
	case Band520To1450:
		return "520-1450"
	case Band1450To3500:
		return "1450-3500"
	case Band3500To5500:
		return "3500-5500"
	default:
		return "invalid"
	}
}

// A FrequencyPeak is a single spectral peak detected by the signature
// generator. Pass is the number of 128-sample hops since the start of the
// signature; Magnitude and Bin are stored as 16-bit values on the wire.
type FrequencyPeak struct {
	Pass       int
	Magnitude  int
	Bin        int
	SampleRate int
}

// Frequency returns the peak frequency in Hz. Bin is the FFT bin multiplied
// by 64 before storage, and only 1024 bins are useful, hence the scaling.
func (p FrequencyPeak) Frequency() float64 {
	return float64(p.Bin) * (float64(p.SampleRate) / 2 / 1024 / 64)
}

// Seconds returns the position of the peak within its excerpt.
func (p FrequencyPeak) Seconds() float64 {
	return float64(p.Pass*128) / float64(p.SampleRate)
}

// Amplitude converts the log-domain magnitude back to an approximate linear
// PCM amplitude.
func (p FrequencyPeak) Amplitude() float64 {
	return math.Sqrt(math.Exp(float64(p.Magnitude-6144)/1477.3)*(1<<17)/2) / 1024
}

// A Signature is a bounded collection of band-bucketed frequency peaks plus
// the sample rate and sample count of the audio that produced them. Within a
// band, peaks are ordered by ascending Pass.
type Signature struct {
	SampleRate int
	NumSamples int
	Peaks      [numBands][]FrequencyPeak
}

// Seconds returns the duration of audio described by the signature.
func (s Signature) Seconds() float64 {
	return float64(s.NumSamples) / float64(s.SampleRate)
}

// NumPeaks returns the total peak count across all bands.
func (s Signature) NumPeaks() int {
	n := 0
	for _, peaks := range s.Peaks {
		n += len(peaks)
	}
	return n
}
