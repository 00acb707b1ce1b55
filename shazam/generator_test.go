package shazam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq float64, amplitude float64, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
	}
	return samples
}

// multiTone mixes several sines with a slow amplitude sweep, which produces
// the onsets peak recognition latches onto.
func multiTone(n int) []int16 {
	freqs := []float64{310, 640, 1250, 2400, 4700}
	samples := make([]int16, n)
	for i := range samples {
		env := 0.5 + 0.5*math.Sin(2*math.Pi*float64(i)/(SampleRate/2))
		var v float64
		for j, f := range freqs {
			v += env * 2400 * math.Sin(2*math.Pi*f*float64(i)/SampleRate+float64(j))
		}
		samples[i] = int16(v)
	}
	return samples
}

func TestSilenceProducesEmptySignature(t *testing.T) {
	g := NewSignatureGenerator()
	g.FeedInput(make([]int16, 2048))
	sig, ok := g.NextSignature()
	require.True(t, ok)
	assert.Equal(t, 2048, sig.NumSamples)
	assert.Equal(t, 16000, sig.SampleRate)
	assert.Zero(t, sig.NumPeaks())

	bin, err := sig.EncodeToBinary()
	require.NoError(t, err)
	assert.Len(t, bin, 56)

	// Everything was consumed, so there is no second signature.
	_, ok = g.NextSignature()
	assert.False(t, ok)
}

func TestNotEnoughInput(t *testing.T) {
	g := NewSignatureGenerator()
	_, ok := g.NextSignature()
	assert.False(t, ok)

	g.FeedInput(make([]int16, 127))
	_, ok = g.NextSignature()
	assert.False(t, ok)

	g.FeedInput(make([]int16, 1))
	_, ok = g.NextSignature()
	assert.True(t, ok)
}

func TestSteadySinusoidHasNoPeaks(t *testing.T) {
	// A 1000 Hz tone repeats exactly every 128-sample hop, so every frame
	// is identical and nothing ever strictly dominates its time
	// neighborhood, which includes frames after the examined one.
	sig := ComputeSignature(sine(1000, 10000, 3*SampleRate))
	assert.Equal(t, 3*SampleRate, sig.NumSamples)
	assert.Zero(t, sig.NumPeaks())
}

func TestFadingSinusoidPeaks(t *testing.T) {
	// A decaying tone leaves each frame strictly louder than its future
	// neighborhood, so the fundamental is picked up.
	n := 3 * SampleRate
	samples := make([]int16, n)
	for i := range samples {
		env := 1 - float64(i)/float64(n)
		samples[i] = int16(10000 * env * math.Sin(2*math.Pi*1000*float64(i)/SampleRate))
	}
	sig := ComputeSignature(samples)
	require.NotEmpty(t, sig.Peaks[Band520To1450])
	for _, p := range sig.Peaks[Band520To1450] {
		assert.InDelta(t, 1000, p.Frequency(), 10)
	}
}

func TestPeakOrderingAndBandCoverage(t *testing.T) {
	sig := ComputeSignature(multiTone(4 * SampleRate))
	require.NotZero(t, sig.NumPeaks())
	for band, peaks := range sig.Peaks {
		for i, p := range peaks {
			assert.GreaterOrEqual(t, p.Frequency(), 250.0, "band %d", band)
			assert.LessOrEqual(t, p.Frequency(), 5500.0, "band %d", band)
			if i > 0 {
				assert.GreaterOrEqual(t, p.Pass, peaks[i-1].Pass, "band %d", band)
			}
		}
	}
}

func TestDeterminism(t *testing.T) {
	samples := multiTone(4 * SampleRate)

	g1 := NewSignatureGenerator()
	g1.FeedInput(samples)
	sig1, ok := g1.NextSignature()
	require.True(t, ok)

	g2 := NewSignatureGenerator()
	g2.FeedInput(samples)
	sig2, ok := g2.NextSignature()
	require.True(t, ok)

	bin1, err := sig1.EncodeToBinary()
	require.NoError(t, err)
	bin2, err := sig2.EncodeToBinary()
	require.NoError(t, err)
	assert.Equal(t, bin1, bin2)
}

func TestIncrementalFeeding(t *testing.T) {
	samples := multiTone(4 * SampleRate)

	all := NewSignatureGenerator()
	all.FeedInput(samples)
	sigAll, ok := all.NextSignature()
	require.True(t, ok)

	chunked := NewSignatureGenerator()
	for i := 0; i < len(samples); i += 1000 {
		end := min(i+1000, len(samples))
		chunked.FeedInput(samples[i:end])
	}
	sigChunked, ok := chunked.NextSignature()
	require.True(t, ok)

	require.Equal(t, sigAll, sigChunked)
}

func TestBudgetTermination(t *testing.T) {
	total := 10 * SampleRate
	g := NewSignatureGenerator()
	g.FeedInput(multiTone(total))

	consumed := 0
	for {
		sig, ok := g.NextSignature()
		if !ok {
			break
		}
		consumed += sig.NumSamples
		if consumed < total {
			// The generator stopped early, so both budgets must be spent.
			assert.GreaterOrEqual(t, sig.Seconds(), 3.1)
			assert.GreaterOrEqual(t, sig.NumPeaks(), 255)
		}
	}
	assert.LessOrEqual(t, consumed, total)
	assert.Less(t, total-consumed, 128)
}

func TestSignaturesCoverSuccessiveAudio(t *testing.T) {
	g := NewSignatureGenerator()

	// Silence never reaches the peak budget, so each call consumes all of
	// the input buffered so far.
	g.FeedInput(make([]int16, 2*SampleRate))
	sig1, ok := g.NextSignature()
	require.True(t, ok)
	assert.Equal(t, 2*SampleRate, sig1.NumSamples)
	assert.Equal(t, sig1.NumSamples, g.SamplesProcessed())

	g.FeedInput(make([]int16, SampleRate))
	sig2, ok := g.NextSignature()
	require.True(t, ok)
	assert.Equal(t, SampleRate, sig2.NumSamples)
	assert.Equal(t, sig1.NumSamples+sig2.NumSamples, g.SamplesProcessed())
}

func TestSkipSamples(t *testing.T) {
	g := NewSignatureGenerator()
	g.FeedInput(make([]int16, 2*SampleRate))
	g.SkipSamples(SampleRate)

	sig, ok := g.NextSignature()
	require.True(t, ok)
	assert.Equal(t, SampleRate+sig.NumSamples, g.SamplesProcessed())

	// Skipping past the end of the input leaves nothing to consume.
	g.SkipSamples(10 * SampleRate)
	_, ok = g.NextSignature()
	assert.False(t, ok)
}

func TestMaxSecondsOverride(t *testing.T) {
	g := NewSignatureGenerator()
	g.MaxSeconds = 1.0
	g.FeedInput(make([]int16, 3*SampleRate))
	sig, ok := g.NextSignature()
	require.True(t, ok)
	// Silence never reaches the peak budget, so the whole input is consumed
	// regardless of the time budget.
	assert.Equal(t, 3*SampleRate, sig.NumSamples)
}

func TestHanningWindow(t *testing.T) {
	// Standard symmetric Hanning of length 2050 with the end zeros removed:
	// symmetric around the center, never zero.
	assert.InDelta(t, hanning[0], hanning[2047], 1e-12)
	assert.InDelta(t, hanning[100], hanning[1947], 1e-12)
	assert.Greater(t, hanning[0], 0.0)
	assert.InDelta(t, 1.0, hanning[1023], 1e-5)
}
