package main

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sonictag/earworm/shazam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerDecode(t *testing.T) {
	srv := httptest.NewServer(newServer())
	defer srv.Close()

	sig := shazam.Signature{SampleRate: 16000, NumSamples: 48000}
	sig.Peaks[shazam.Band520To1450] = []shazam.FrequencyPeak{
		{Pass: 12, Magnitude: 4000, Bin: 8000, SampleRate: 16000},
	}
	uri, err := sig.EncodeToURI()
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/decode", "text/plain", strings.NewReader(uri))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view signatureView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, 16000, view.SampleRate)
	assert.Equal(t, 48000, view.NumSamples)
	require.Contains(t, view.Bands, "520-1450")
	assert.Equal(t, 12, view.Bands["520-1450"][0].Pass)
}

func TestServerDecodeRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(newServer())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/decode", "text/plain", strings.NewReader("data:audio/x-wav;base64,AAAA"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerSig(t *testing.T) {
	srv := httptest.NewServer(newServer())
	defer srv.Close()

	n := 2 * shazam.SampleRate
	samples := make([]int16, n)
	for i := range samples {
		env := 1 - float64(i)/float64(n)
		samples[i] = int16(9000 * env * math.Sin(2*math.Pi*900*float64(i)/shazam.SampleRate))
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, writeWAV(path, samples))
	wavBytes, err := os.ReadFile(path)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/sig", "audio/wave", bytes.NewReader(wavBytes))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result sigResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Signatures, 1)
	sig, err := shazam.DecodeURI(result.Signatures[0].URI)
	require.NoError(t, err)
	assert.Equal(t, n, sig.NumSamples)
	assert.NotZero(t, sig.NumPeaks())
}

func TestServerSigRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(newServer())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sig", "text/plain", strings.NewReader("definitely not audio"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
