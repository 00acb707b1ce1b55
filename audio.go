package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/vorbis"
	beepwav "github.com/faiface/beep/wav"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sonictag/earworm/shazam"
)

func openStreamer(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}
	mimeBuf := make([]byte, 512)
	if _, err := f.ReadAt(mimeBuf, 0); err != nil && err != io.EOF {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("could not detect audio format: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, beep.Format{}, err
	}
	// DetectContentType doesn't know flac, so sniff its signature first.
	if bytes.HasPrefix(mimeBuf, []byte("fLaC")) {
		return newFLACStreamer(f)
	}
	switch mime := http.DetectContentType(mimeBuf); mime {
	case "audio/wave":
		return beepwav.Decode(f)
	case "audio/mpeg":
		return mp3.Decode(f)
	case "application/ogg":
		return vorbis.Decode(f)
	default:
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported mime type: %s", mime)
	}
}

// flacStreamer adapts a mewkiz/flac stream to the beep streamer interface.
type flacStreamer struct {
	stream *flac.Stream
	f      *os.File
	buf    [][2]float64
	pos    int
	err    error
}

func newFLACStreamer(f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("could not parse flac stream: %w", err)
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(stream.Info.SampleRate),
		NumChannels: int(stream.Info.NChannels),
		Precision:   int(stream.Info.BitsPerSample+7) / 8,
	}
	return &flacStreamer{stream: stream, f: f}, format, nil
}

func (fs *flacStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for n < len(samples) {
		if len(fs.buf) == 0 {
			frame, err := fs.stream.ParseNext()
			if err != nil {
				if err != io.EOF {
					fs.err = err
				}
				return n, n > 0
			}
			scale := float64(int64(1) << (frame.BitsPerSample - 1))
			for i := range frame.Subframes[0].Samples {
				left := float64(frame.Subframes[0].Samples[i]) / scale
				right := left
				if len(frame.Subframes) > 1 {
					right = float64(frame.Subframes[1].Samples[i]) / scale
				}
				fs.buf = append(fs.buf, [2]float64{left, right})
			}
		}
		c := copy(samples[n:], fs.buf)
		n += c
		fs.pos += c
		fs.buf = fs.buf[c:]
	}
	return n, true
}

func (fs *flacStreamer) Err() error { return fs.err }

func (fs *flacStreamer) Len() int { return int(fs.stream.Info.NSamples) }

func (fs *flacStreamer) Position() int { return fs.pos }

func (fs *flacStreamer) Seek(p int) error {
	return fmt.Errorf("seeking is not supported for flac streams")
}

func (fs *flacStreamer) Close() error {
	fs.stream.Close()
	return fs.f.Close()
}

// collectPCM drains up to limit of audio from s, mixing channels down to
// mono and clamping to signed 16-bit. A zero limit collects the whole
// stream.
func collectPCM(s beep.Streamer, rate beep.SampleRate, limit time.Duration) []int16 {
	rem := -1
	if limit > 0 {
		rem = rate.N(limit)
	}
	frames := make([][2]float64, 512)
	var mono []int16
	for rem != 0 {
		n := len(frames)
		if rem > 0 && n > rem {
			n = rem
		}
		n, ok := s.Stream(frames[:n])
		if !ok {
			break
		}
		if rem > 0 {
			rem -= n
		}
		for _, frame := range frames[:n] {
			v := (frame[0] + frame[1]) / 2 * (1 << 15)
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			mono = append(mono, int16(v))
		}
	}
	return mono
}

// loadPCM decodes an audio file and normalizes it to the signed 16-bit
// 16 kHz mono samples the fingerprinting pipeline consumes.
func loadPCM(path string, offset, duration time.Duration) ([]int16, error) {
	stream, format, err := openStreamer(path)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	var s beep.Streamer = stream
	if format.SampleRate != shazam.SampleRate {
		s = beep.Resample(6, format.SampleRate, shazam.SampleRate, stream)
	}
	if offset > 0 {
		skip := beep.SampleRate(shazam.SampleRate).N(offset)
		frames := make([][2]float64, 512)
		for skip > 0 {
			n := len(frames)
			if n > skip {
				n = skip
			}
			n, ok := s.Stream(frames[:n])
			if !ok {
				break
			}
			skip -= n
		}
	}
	pcm := collectPCM(s, shazam.SampleRate, duration)
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return pcm, nil
}

// writeWAV dumps normalized PCM as a 16-bit mono wav file.
func writeWAV(path string, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := wav.NewEncoder(f, shazam.SampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: shazam.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
