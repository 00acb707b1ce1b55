package shazam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var tagBaseURL = "https://amp.shazam.com/discovery/v5/en/US/android/-/tag"

const tagQuery = "?sync=true&webv3=true&sampling=true&connected=&shazamapiversion=v3&sharehub=true&hubv5minorversion=v5.1&hidelb=true&video=v3"

var throttle = func() func() {
	rl := rate.NewLimiter(rate.Every(3*time.Second), 1)
	return func() {
		rl.Wait(context.Background())
	}
}()

// Result holds the interesting parts of a tag endpoint response.
type Result struct {
	Found   bool
	Skew    float64
	Artist  string
	Title   string
	Album   string
	Year    string
	AppleID string
}

type tagRequest struct {
	Timezone  string `json:"timezone"`
	Signature struct {
		URI      string `json:"uri"`
		SampleMS int    `json:"samplems"`
	} `json:"signature"`
	Timestamp   int64    `json:"timestamp"`
	Context     struct{} `json:"context"`
	Geolocation struct{} `json:"geolocation"`
}

// Identify submits a signature to Shazam's tag endpoint and reports the
// match, if any. Requests are throttled to one per three seconds.
func Identify(sig Signature) (Result, error) {
	uri, err := sig.EncodeToURI()
	if err != nil {
		return Result{}, err
	}
	var reqData tagRequest
	reqData.Timezone = "Europe/Berlin"
	reqData.Signature.URI = uri
	reqData.Signature.SampleMS = int(float64(sig.NumSamples) / float64(sig.SampleRate) * 1000)
	reqData.Timestamp = time.Now().UnixMilli()
	body, err := json.Marshal(reqData)
	if err != nil {
		return Result{}, err
	}

	url := fmt.Sprintf("%v/%v/%v%v", tagBaseURL, strings.ToUpper(uuid.NewString()), uuid.NewString(), tagQuery)

again:
	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Content-Language", "en_US")
	req.Header.Set("Content-Type", "application/json")

	throttle()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{}, err
	} else if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		time.Sleep(3 * time.Second)
		goto again
	} else if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return Result{}, fmt.Errorf("bad status: %v (%v)", resp.Status, string(body))
	}
	defer resp.Body.Close()
	var respData struct {
		Matches []struct {
			ID            string
			Offset        float64
			TimeSkew      float64
			FrequencySkew float64
		}
		Track struct {
			Title    string
			Subtitle string
			Key      string
			Hub      struct {
				Actions []struct {
					Name string
					ID   string
				}
			}
			Sections []struct {
				Type     string
				Metadata []struct {
					Title string
					Text  string
				}
			}
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return Result{}, err
	}
	if len(respData.Matches) == 0 {
		return Result{Found: false}, nil
	}
	album, year := "", ""
	for _, section := range respData.Track.Sections {
		for _, meta := range section.Metadata {
			switch meta.Title {
			case "Album":
				album = meta.Text
			case "Released", "Sortie":
				year = meta.Text
			}
		}
	}
	appleID := ""
	for _, action := range respData.Track.Hub.Actions {
		if action.Name == "apple" && action.ID != "" {
			appleID = action.ID
			break
		}
	}

	return Result{
		Found:   true,
		Artist:  respData.Track.Subtitle,
		Title:   respData.Track.Title,
		Album:   album,
		Year:    year,
		Skew:    respData.Matches[0].TimeSkew,
		AppleID: appleID,
	}, nil
}

// Recognize fingerprints samples excerpt by excerpt and queries the tag
// endpoint for each signature. fn receives the offset (in seconds) of each
// excerpt's end along with its result, and returns false to stop early.
//
// Long inputs skip ahead so that recognition starts near the middle of the
// recording rather than in a potentially silent intro.
func Recognize(samples []int16, fn func(offset float64, res Result) bool) error {
	g := NewSignatureGenerator()
	g.MaxSeconds = 8
	g.FeedInput(samples)
	if seconds := float64(len(samples)) / SampleRate; seconds > 36 {
		if skip := SampleRate * (int(seconds/16) - 6); skip > 0 {
			g.SkipSamples(skip)
		}
	}
	for {
		sig, ok := g.NextSignature()
		if !ok {
			return nil
		}
		res, err := Identify(sig)
		if err != nil {
			return err
		}
		if !fn(float64(g.SamplesProcessed())/SampleRate, res) {
			return nil
		}
	}
}

// Links resolves an Apple Music ID to listening links on other platforms.
func Links(appleID string) (map[string]string, error) {
	resp, err := http.Get(fmt.Sprintf("https://api.song.link/v1-alpha.1/links?type=song&songIfSingle=true&platform=appleMusic&id=%v", appleID))
	if err != nil {
		return nil, err
	} else if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("bad status: %v (%v)", resp.Status, string(body))
	}
	defer resp.Body.Close()
	var respData struct {
		LinksByPlatform struct {
			YouTube struct {
				URL string
			}
			Spotify struct {
				URL string
			}
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, err
	}
	links := map[string]string{
		"YouTube": respData.LinksByPlatform.YouTube.URL,
		"Spotify": respData.LinksByPlatform.Spotify.URL,
	}
	for k, v := range links {
		if v == "" {
			delete(links, k)
		}
	}
	return links, nil
}

var userAgents = []string{
	"Dalvik/2.1.0 (Linux; U; Android 5.0.2; VS980 4G Build/LRX22G)",
	"Dalvik/1.6.0 (Linux; U; Android 4.4.2; SM-T210 Build/KOT49H)",
	"Dalvik/2.1.0 (Linux; U; Android 5.1.1; SM-P905V Build/LMY47X)",
	"Dalvik/1.6.0 (Linux; U; Android 4.4.4; SM-G360H Build/KTU84P)",
	"Dalvik/2.1.0 (Linux; U; Android 5.0.2; SM-S920L Build/LRX22G)",
	"Dalvik/2.1.0 (Linux; U; Android 5.0; Fire Pro Build/LRX21M)",
	"Dalvik/2.1.0 (Linux; U; Android 6.0.1; SM-G920F Build/MMB29K)",
	"Dalvik/2.1.0 (Linux; U; Android 5.0; SM-G900F Build/LRX21T)",
	"Dalvik/2.1.0 (Linux; U; Android 6.0.1; SM-G928F Build/MMB29K)",
	"Dalvik/2.1.0 (Linux; U; Android 5.1.1; SM-J500FN Build/LMY48B)",
	"Dalvik/2.1.0 (Linux; U; Android 6.0.1; D6603 Build/23.5.A.0.570)",
	"Dalvik/2.1.0 (Linux; U; Android 5.1.1; SM-J700H Build/LMY48B)",
	"Dalvik/2.1.0 (Linux; U; Android 5.1.1; SM-N910G Build/LMY47X)",
	"Dalvik/1.6.0 (Linux; U; Android 4.4.4; C6903 Build/14.4.A.0.157)",
	"Dalvik/2.1.0 (Linux; U; Android 6.0; LG-H811 Build/MRA58K)",
	"Dalvik/1.6.0 (Linux; U; Android 4.4.2; GT-N7100 Build/KOT49H)",
}
