package shazam

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"strings"
)

// DataURIPrefix armors binary signatures for transmission inside JSON.
const DataURIPrefix = "data:audio/vnd.shazam.sig;base64,"

const (
	headerSize = 48
	magic1     = 0xcafe2580
	magic2     = 0x94119c00
	magic3     = (15 << 19) + 0x40000

	preambleMagic = 0x40000000
	tlvBandBase   = 0x60030040
)

var (
	// ErrInvalidURI is returned when a signature URI lacks the
	// audio/vnd.shazam.sig data-URI prefix or is not valid base64.
	ErrInvalidURI = errors.New("not an audio/vnd.shazam.sig data URI")

	// ErrMalformedHeader is returned when a signature's header has wrong
	// magic values, a wrong size, a wrong checksum, or an unknown rate tag.
	ErrMalformedHeader = errors.New("malformed signature header")

	// ErrMalformedBody is returned when a signature's payload has a bad
	// preamble, a truncated entry, or an unknown band tag.
	ErrMalformedBody = errors.New("malformed signature body")

	// ErrUnsortedPeaks is returned by the encoder when a band's peaks are
	// not sorted by ascending pass number.
	ErrUnsortedPeaks = errors.New("peaks not sorted by FFT pass number")
)

// The header's rate tag is a small enum shifted into the top bits.
func rateToTag(hz int) uint32 {
	switch hz {
	case 8000:
		return 1 << 27
	case 11025:
		return 2 << 27
	case 16000:
		return 3 << 27
	case 32000:
		return 4 << 27
	case 44100:
		return 5 << 27
	case 48000:
		return 6 << 27
	default:
		return 0
	}
}

func tagToRate(tag uint32) int {
	switch tag {
	case 1 << 27:
		return 8000
	case 2 << 27:
		return 11025
	case 3 << 27:
		return 16000
	case 4 << 27:
		return 32000
	case 5 << 27:
		return 44100
	case 6 << 27:
		return 48000
	default:
		return 0
	}
}

// EncodeToBinary serializes the signature into Shazam's wire format: a
// 48-byte checksummed header, an 8-byte preamble, and one length-prefixed
// peak stream per non-empty band.
func (s Signature) EncodeToBinary() ([]byte, error) {
	rateTag := rateToTag(s.SampleRate)
	if rateTag == 0 {
		return nil, fmt.Errorf("unsupported sample rate %d", s.SampleRate)
	}

	var body bytes.Buffer
	for band, peaks := range s.Peaks {
		if len(peaks) == 0 {
			continue
		}
		var peakBuf bytes.Buffer
		prev := 0
		for _, peak := range peaks {
			if peak.Pass < prev {
				return nil, fmt.Errorf("%w: band %v", ErrUnsortedPeaks, FrequencyBand(band))
			}
			// Pass numbers are delta-coded in one byte; 0xFF escapes to an
			// absolute 32-bit resync when the gap is too large.
			if peak.Pass-prev >= 255 {
				peakBuf.WriteByte(0xff)
				binary.Write(&peakBuf, binary.LittleEndian, uint32(peak.Pass))
				prev = peak.Pass
			}
			peakBuf.WriteByte(byte(peak.Pass - prev))
			binary.Write(&peakBuf, binary.LittleEndian, uint16(peak.Magnitude))
			binary.Write(&peakBuf, binary.LittleEndian, uint16(peak.Bin))
			prev = peak.Pass
		}
		writeUint32(&body, uint32(tlvBandBase+band))
		writeUint32(&body, uint32(peakBuf.Len()))
		for peakBuf.Len()%4 != 0 {
			peakBuf.WriteByte(0)
		}
		body.Write(peakBuf.Bytes())
	}

	sizeMinusHeader := uint32(body.Len() + 8)
	buf := make([]byte, 0, headerSize+8+body.Len())
	appendUint32 := func(v uint32) {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	appendUint32(magic1)
	appendUint32(0) // crc32, patched below
	appendUint32(sizeMinusHeader)
	appendUint32(magic2)
	appendUint32(0)
	appendUint32(0)
	appendUint32(0)
	appendUint32(rateTag)
	appendUint32(0)
	appendUint32(0)
	appendUint32(uint32(float64(s.NumSamples) + float64(s.SampleRate)*0.24))
	appendUint32(magic3)
	appendUint32(preambleMagic)
	appendUint32(sizeMinusHeader)
	buf = append(buf, body.Bytes()...)
	binary.LittleEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(buf[8:]))
	return buf, nil
}

// EncodeToURI serializes the signature and armors it as a data URI.
func (s Signature) EncodeToURI() (string, error) {
	bin, err := s.EncodeToBinary()
	if err != nil {
		return "", err
	}
	return DataURIPrefix + base64.StdEncoding.EncodeToString(bin), nil
}

func writeUint32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

// DecodeBinary parses a binary signature, validating the header magic
// values, total size, CRC-32, rate tag, preamble, and band tags.
func DecodeBinary(data []byte) (Signature, error) {
	var s Signature
	if len(data) < headerSize+8 {
		return s, fmt.Errorf("%w: %d bytes is too short", ErrMalformedHeader, len(data))
	}
	uint32At := func(off int) uint32 {
		return binary.LittleEndian.Uint32(data[off:])
	}
	if uint32At(0) != magic1 {
		return s, fmt.Errorf("%w: bad magic1", ErrMalformedHeader)
	} else if uint32At(12) != magic2 {
		// magic3 is deliberately not checked; it varies across signature
		// types and the reference decoder ignores it.
		return s, fmt.Errorf("%w: bad magic2", ErrMalformedHeader)
	} else if int(uint32At(8)) != len(data)-headerSize {
		return s, fmt.Errorf("%w: wrong size", ErrMalformedHeader)
	} else if uint32At(4) != crc32.ChecksumIEEE(data[8:]) {
		return s, fmt.Errorf("%w: wrong checksum", ErrMalformedHeader)
	}
	s.SampleRate = tagToRate(uint32At(28))
	if s.SampleRate == 0 {
		return s, fmt.Errorf("%w: unknown sample rate tag %#x", ErrMalformedHeader, uint32At(28))
	}
	s.NumSamples = int(math.Round(float64(uint32At(40)) - float64(s.SampleRate)*0.24))

	if uint32At(48) != preambleMagic || int(uint32At(52)) != len(data)-headerSize {
		return s, fmt.Errorf("%w: bad preamble", ErrMalformedBody)
	}

	buf := data[56:]
	for len(buf) > 0 {
		if len(buf) < 8 {
			return s, fmt.Errorf("%w: truncated entry", ErrMalformedBody)
		}
		tag := binary.LittleEndian.Uint32(buf)
		size := int(binary.LittleEndian.Uint32(buf[4:]))
		buf = buf[8:]

		band := int(tag) - tlvBandBase
		if band < 0 || band >= int(numBands) {
			return s, fmt.Errorf("%w: unknown band tag %#x", ErrMalformedBody, tag)
		}
		padded := (size + 3) &^ 3
		if size < 0 || padded > len(buf) {
			return s, fmt.Errorf("%w: truncated peak stream", ErrMalformedBody)
		}
		stream := buf[:size]
		buf = buf[padded:]

		pass := 0
		for len(stream) > 0 {
			offset := stream[0]
			stream = stream[1:]
			if offset == 0xff {
				if len(stream) < 4 {
					return s, fmt.Errorf("%w: truncated peak stream", ErrMalformedBody)
				}
				pass = int(binary.LittleEndian.Uint32(stream))
				stream = stream[4:]
				continue
			}
			pass += int(offset)
			if len(stream) < 4 {
				return s, fmt.Errorf("%w: truncated peak stream", ErrMalformedBody)
			}
			s.Peaks[band] = append(s.Peaks[band], FrequencyPeak{
				Pass:       pass,
				Magnitude:  int(binary.LittleEndian.Uint16(stream)),
				Bin:        int(binary.LittleEndian.Uint16(stream[2:])),
				SampleRate: s.SampleRate,
			})
			stream = stream[4:]
		}
	}
	return s, nil
}

// DecodeURI strips the data-URI armor and decodes the binary signature.
func DecodeURI(uri string) (Signature, error) {
	if !strings.HasPrefix(uri, DataURIPrefix) {
		return Signature{}, ErrInvalidURI
	}
	bin, err := base64.StdEncoding.DecodeString(uri[len(DataURIPrefix):])
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	return DecodeBinary(bin)
}
