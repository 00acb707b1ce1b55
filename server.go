package main

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"
	"github.com/sonictag/earworm/shazam"
)

type sigEntry struct {
	URI      string  `json:"uri"`
	Offset   float64 `json:"offset"`
	SampleMS int     `json:"samplems"`
	Peaks    int     `json:"peaks"`
}

type sigResponse struct {
	Signatures []sigEntry `json:"signatures"`
}

type server struct{}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// handleSig fingerprints the audio file in the request body and returns one
// signature URI per excerpt.
func (s *server) handleSig(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	start := time.Now()
	// The decoders want a seekable file, so spool the body to disk.
	tmp, err := os.CreateTemp("", "earworm-*")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := io.Copy(tmp, http.MaxBytesReader(w, req.Body, 50<<20)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pcm, err := loadPCM(tmp.Name(), 0, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g := shazam.NewSignatureGenerator()
	g.FeedInput(pcm)
	var resp sigResponse
	for {
		sig, ok := g.NextSignature()
		if !ok {
			break
		}
		uri, err := sig.EncodeToURI()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Signatures = append(resp.Signatures, sigEntry{
			URI:      uri,
			Offset:   float64(g.SamplesProcessed()) / shazam.SampleRate,
			SampleMS: int(sig.Seconds() * 1000),
			Peaks:    sig.NumPeaks(),
		})
	}
	log.Info("Fingerprinted upload",
		"seconds", float64(len(pcm))/shazam.SampleRate,
		"signatures", len(resp.Signatures),
		"elapsed", time.Since(start))
	writeJSON(w, resp)
}

// handleDecode decodes the signature URI in the request body.
func (s *server) handleDecode(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, req.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sig, err := shazam.DecodeURI(strings.TrimSpace(string(raw)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, viewSignature(sig))
}

func newServer() http.Handler {
	srv := &server{}
	mux := httprouter.New()
	mux.POST("/sig", srv.handleSig)
	mux.POST("/decode", srv.handleDecode)
	return mux
}
