package shazam

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// SampleRate is the PCM sample rate consumed by the generator. The codec
	// understands other rates, but Shazam's client pipeline always
	// fingerprints 16 kHz audio.
	SampleRate = 16000

	hopSize     = 128
	fftSize     = 2048
	spectrumLen = 1025
	ringFrames  = 256

	// A signature is considered complete once it spans MaxSeconds of audio
	// AND holds at least maxPeaks peaks; it keeps growing while either
	// budget is unspent.
	defaultMaxSeconds = 3.1
	maxPeaks          = 255

	// Peak recognition examines the FFT frame 46 hops back, so it only runs
	// once 46 frames have been written. Its spread neighborhood reaches
	// further back (up to 91 hops, through the modular time offsets); frames
	// not yet written since the last reset read as zeros.
	recognitionDelay = 46
)

// hanning is the standard symmetric Hanning window of length 2050 with the
// two zero end samples removed.
var hanning [fftSize]float64

func init() {
	for i := range hanning {
		hanning[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i+1)/2049))
	}
}

var (
	freqNeighbors = [...]int{-10, -7, -4, -3, 1, 2, 5, 8}
	timeNeighbors = [...]int{-53, -45, 165, 172, 179, 186, 193, 200, 214, 221, 228, 235, 242, 249}
)

// A SignatureGenerator incrementally fingerprints a stream of signed 16-bit
// 16 kHz mono PCM samples. Feed samples with FeedInput, then drain signatures
// with NextSignature. A generator owns its buffers exclusively and is not
// safe for concurrent use.
type SignatureGenerator struct {
	// MaxSeconds bounds how much audio feeds a single signature. It may be
	// raised before iterating to produce longer excerpts.
	MaxSeconds float64

	pending   []int16
	processed int // cursor into pending
	consumed  int // total samples consumed since construction

	samples *ring[int16]
	ffts    *ring[[spectrumLen]float64]
	spreads *ring[[spectrumLen]float64]

	fft   *fourier.FFT
	frame [fftSize]float64
	sig   Signature
}

func NewSignatureGenerator() *SignatureGenerator {
	return &SignatureGenerator{
		MaxSeconds: defaultMaxSeconds,
		samples:    newRing[int16](fftSize),
		ffts:       newRing[[spectrumLen]float64](ringFrames),
		spreads:    newRing[[spectrumLen]float64](ringFrames),
		fft:        fourier.NewFFT(fftSize),
		sig:        Signature{SampleRate: SampleRate},
	}
}

// FeedInput buffers samples for later consumption by NextSignature.
func (g *SignatureGenerator) FeedInput(samples []int16) {
	g.pending = append(g.pending, samples...)
}

// SkipSamples advances the input cursor without fingerprinting the skipped
// audio. Skipping past the end of the buffered input is allowed; the skip
// still applies to input fed later.
func (g *SignatureGenerator) SkipSamples(n int) {
	g.processed += n
	g.consumed += n
}

// SamplesProcessed returns the total number of input samples consumed (or
// skipped) since the generator was constructed.
func (g *SignatureGenerator) SamplesProcessed() int {
	return g.consumed
}

// NextSignature consumes buffered input in 128-sample strides and returns the
// resulting signature. It reports false when fewer than 128 unconsumed
// samples remain. On return the generator is reset for the next excerpt; the
// input cursor is preserved, so subsequent signatures cover later audio.
func (g *SignatureGenerator) NextSignature() (Signature, bool) {
	if len(g.pending)-g.processed < hopSize {
		return Signature{}, false
	}
	for len(g.pending)-g.processed >= hopSize &&
		(g.sig.Seconds() < g.MaxSeconds || g.sig.NumPeaks() < maxPeaks) {
		g.processChunk(g.pending[g.processed : g.processed+hopSize])
		g.processed += hopSize
		g.consumed += hopSize
	}

	sig := g.sig
	g.sig = Signature{SampleRate: SampleRate}
	g.samples.reset()
	g.ffts.reset()
	g.spreads.reset()

	// Drop the consumed prefix. The cursor may point past the end of the
	// buffered input after SkipSamples, in which case it is preserved.
	n := min(g.processed, len(g.pending))
	g.pending = append([]int16(nil), g.pending[n:]...)
	g.processed -= n

	return sig, true
}

// ComputeSignature fingerprints an entire buffer of 16 kHz mono samples as a
// single signature, ignoring the time and peak budgets.
func ComputeSignature(samples []int16) Signature {
	g := NewSignatureGenerator()
	for i := 0; i+hopSize <= len(samples); i += hopSize {
		g.processChunk(samples[i : i+hopSize])
	}
	return g.sig
}

func (g *SignatureGenerator) processChunk(chunk []int16) {
	g.sig.NumSamples += len(chunk)
	g.doFFT(chunk)
	g.doPeakSpreading()
	if g.spreads.numWritten >= recognitionDelay {
		g.doPeakRecognition()
	}
}

func (g *SignatureGenerator) doFFT(chunk []int16) {
	g.samples.write(chunk)

	// Reorder so the oldest sample lands at index 0, and apply the window.
	for i := range g.frame {
		g.frame[i] = float64(*g.samples.at(i)) * hanning[i]
	}

	coeffs := g.fft.Coefficients(nil, g.frame[:])
	if len(coeffs) != spectrumLen {
		panic("fft returned an unexpected number of bins")
	}

	var out [spectrumLen]float64
	for i, c := range coeffs {
		re, im := real(c), imag(c)
		out[i] = max((re*re+im*im)/(1<<17), 1e-10)
	}
	g.ffts.append(out)
}

func (g *SignatureGenerator) doPeakSpreading() {
	spread := *g.ffts.at(-1)

	// Frequency-domain spreading: each bin takes the maximum of itself and
	// the next two bins, cascading in ascending order.
	for i := 0; i < spectrumLen-2; i++ {
		spread[i] = max(spread[i], spread[i+1], spread[i+2])
	}

	// Time-domain spreading: smear each bin's maximum backward into three
	// prior frames, accumulating as it goes.
	for i := 0; i < spectrumLen; i++ {
		m := spread[i]
		for _, back := range []int{-1, -3, -6} {
			former := g.spreads.at(back)
			m = max(m, former[i])
			former[i] = m
		}
	}

	g.spreads.append(spread)
}

func (g *SignatureGenerator) doPeakRecognition() {
	fft46 := g.ffts.at(-recognitionDelay)
	spread49 := g.spreads.at(-49)

	for bin := 10; bin < 1015; bin++ {
		// The bin must be loud enough to be a peak at all.
		if fft46[bin] < 1.0/64 || fft46[bin] < spread49[bin-1] {
			continue
		}

		// It must strictly exceed its spread frequency-domain neighborhood.
		maxNeighbor := 0.0
		for _, off := range freqNeighbors {
			maxNeighbor = max(maxNeighbor, spread49[bin+off])
		}
		if fft46[bin] <= maxNeighbor {
			continue
		}

		// And its spread time-domain neighborhood, at the adjacent bin.
		for _, off := range timeNeighbors {
			maxNeighbor = max(maxNeighbor, g.spreads.at(off)[bin-1])
		}
		if fft46[bin] <= maxNeighbor {
			continue
		}

		pass := g.spreads.numWritten - recognitionDelay

		logMag := func(x float64) float64 {
			return math.Log(max(x, 1.0/64))*1477.3 + 6144
		}
		mag := logMag(fft46[bin])
		before := logMag(fft46[bin-1])
		after := logMag(fft46[bin+1])

		variation := mag*2 - before - after
		if variation <= 0 {
			panic("peak interpolation produced non-positive curvature")
		}
		correctedBin := float64(bin*64) + (after-before)*32/variation

		hz := correctedBin * (SampleRate / 2.0 / 1024 / 64)
		band := bandFor(hz)
		if band == bandNone {
			continue
		}
		g.sig.Peaks[band] = append(g.sig.Peaks[band], FrequencyPeak{
			Pass:       pass,
			Magnitude:  int(mag),
			Bin:        int(correctedBin),
			SampleRate: SampleRate,
		})
	}
}
