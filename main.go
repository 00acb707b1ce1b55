package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/sonictag/earworm/shazam"
	"lukechampine.com/flagg"
)

var (
	rootUsage = `Usage:
    earworm [flags] [action]

Actions:
    sig           fingerprint an audio file
    decode        decode a signature to JSON
    id            identify a track
    pcm           dump normalized PCM as wav
    serve         run as a service
`
	versionUsage = rootUsage
	sigUsage     = `Usage:
    earworm sig [flags] [file]

Fingerprints an audio file and prints one signature URI per excerpt.
`
	decodeUsage = `Usage:
    earworm decode [uri|file]

Decodes a signature URI (or a file containing one) and prints its peaks
as JSON.
`
	idUsage = `Usage:
    earworm id [file]

Fingerprints an audio file and identifies it against Shazam's servers.
`
	pcmUsage = `Usage:
    earworm pcm [file] [out.wav]

Normalizes an audio file to 16-bit 16 kHz mono PCM and writes it as a
wav file.
`
	serveUsage = `Usage:
    earworm serve [flags]

Runs an HTTP service exposing the fingerprinter and the decoder.
`
)

type peakView struct {
	Pass      int     `json:"fft_pass_number"`
	Magnitude int     `json:"peak_magnitude"`
	Bin       int     `json:"corrected_peak_frequency_bin"`
	Frequency float64 `json:"frequency_hz"`
	Amplitude float64 `json:"amplitude_pcm"`
	Seconds   float64 `json:"seconds"`
}

type signatureView struct {
	SampleRate int                   `json:"sample_rate_hz"`
	NumSamples int                   `json:"number_samples"`
	Seconds    float64               `json:"seconds"`
	Bands      map[string][]peakView `json:"frequency_band_to_peaks"`
}

func viewSignature(sig shazam.Signature) signatureView {
	v := signatureView{
		SampleRate: sig.SampleRate,
		NumSamples: sig.NumSamples,
		Seconds:    sig.Seconds(),
		Bands:      make(map[string][]peakView),
	}
	for band, peaks := range sig.Peaks {
		if len(peaks) == 0 {
			continue
		}
		views := make([]peakView, len(peaks))
		for i, p := range peaks {
			views[i] = peakView{
				Pass:      p.Pass,
				Magnitude: p.Magnitude,
				Bin:       p.Bin,
				Frequency: p.Frequency(),
				Amplitude: p.Amplitude(),
				Seconds:   p.Seconds(),
			}
		}
		v.Bands[shazam.FrequencyBand(band).String()] = views
	}
	return v
}

func main() {
	rootCmd := flagg.Root
	rootCmd.Usage = flagg.SimpleUsage(rootCmd, rootUsage)
	versionCmd := flagg.New("version", versionUsage)
	sigCmd := flagg.New("sig", sigUsage)
	sigOffset := sigCmd.Duration("offset", 0, "start fingerprinting this far into the file")
	sigDuration := sigCmd.Duration("duration", 0, "fingerprint at most this much audio")
	sigSeconds := sigCmd.Float64("seconds", 0, "audio budget per signature (default 3.1)")
	decodeCmd := flagg.New("decode", decodeUsage)
	idCmd := flagg.New("id", idUsage)
	pcmCmd := flagg.New("pcm", pcmUsage)
	srvCmd := flagg.New("serve", serveUsage)
	srvAddr := srvCmd.String("addr", ":8080", "address to listen on")

	cmd := flagg.Parse(flagg.Tree{
		Cmd: rootCmd,
		Sub: []flagg.Tree{
			{Cmd: versionCmd},
			{Cmd: sigCmd},
			{Cmd: decodeCmd},
			{Cmd: idCmd},
			{Cmd: pcmCmd},
			{Cmd: srvCmd},
		},
	})
	args := cmd.Args()

	switch cmd {
	case rootCmd, versionCmd:
		if len(args) > 0 {
			cmd.Usage()
			return
		}
		fmt.Println("Earworm v0.1.0")

	case sigCmd:
		if len(args) != 1 {
			cmd.Usage()
			return
		}
		pcm, err := loadPCM(args[0], *sigOffset, *sigDuration)
		if err != nil {
			log.Fatal("Could not load audio", "path", args[0], "err", err)
		}
		g := shazam.NewSignatureGenerator()
		if *sigSeconds > 0 {
			g.MaxSeconds = *sigSeconds
		}
		g.FeedInput(pcm)
		for {
			sig, ok := g.NextSignature()
			if !ok {
				break
			}
			uri, err := sig.EncodeToURI()
			if err != nil {
				log.Fatal("Could not encode signature", "err", err)
			}
			fmt.Println(uri)
		}

	case decodeCmd:
		if len(args) != 1 {
			cmd.Usage()
			return
		}
		uri := args[0]
		if !strings.HasPrefix(uri, shazam.DataURIPrefix) {
			raw, err := os.ReadFile(uri)
			if err != nil {
				log.Fatal("Could not read signature", "path", uri, "err", err)
			}
			uri = strings.TrimSpace(string(raw))
		}
		sig, err := shazam.DecodeURI(uri)
		if err != nil {
			log.Fatal("Could not decode signature", "err", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(viewSignature(sig))

	case idCmd:
		if len(args) != 1 {
			cmd.Usage()
			return
		}
		pcm, err := loadPCM(args[0], 0, 0)
		if err != nil {
			log.Fatal("Could not load audio", "path", args[0], "err", err)
		}
		var found *shazam.Result
		err = shazam.Recognize(pcm, func(offset float64, res shazam.Result) bool {
			if !res.Found {
				log.Info("No match yet", "offset", fmt.Sprintf("%.0fs", offset))
				return true
			}
			found = &res
			return false
		})
		if err != nil {
			log.Fatal("Recognition failed", "err", err)
		}
		if found == nil {
			log.Info("No match found")
			return
		}
		fmt.Printf("%s - %s", found.Artist, found.Title)
		if found.Album != "" {
			fmt.Printf(" (%s)", found.Album)
		}
		fmt.Println()
		if found.AppleID != "" {
			if links, err := shazam.Links(found.AppleID); err == nil {
				for platform, url := range links {
					fmt.Printf("%s: %s\n", platform, url)
				}
			}
		}

	case pcmCmd:
		if len(args) != 2 {
			cmd.Usage()
			return
		}
		pcm, err := loadPCM(args[0], 0, 0)
		if err != nil {
			log.Fatal("Could not load audio", "path", args[0], "err", err)
		}
		if err := writeWAV(args[1], pcm); err != nil {
			log.Fatal("Could not write wav", "path", args[1], "err", err)
		}
		log.Info("Wrote normalized PCM", "path", args[1],
			"seconds", fmt.Sprintf("%.1f", float64(len(pcm))/shazam.SampleRate))

	case srvCmd:
		log.Info("Listening", "addr", *srvAddr)
		if err := http.ListenAndServe(*srvAddr, newServer()); err != nil {
			log.Fatal("Server exited", "err", err)
		}
	}
}
