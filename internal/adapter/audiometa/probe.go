// Package audiometa validates uploaded audio by content signature and reads
// the track duration from container headers. Only MP3, WAV, FLAC, and OGG
// are accepted; extension and client-declared content type are ignored.
package audiometa

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/videogen/internal/domain"
)

// Info describes a probed upload.
type Info struct {
	Format      string
	ContentType string
	Duration    float64
}

// Probe sniffs the payload and extracts its duration in seconds.
// Unsupported or unreadable audio fails with ErrValidation.
func Probe(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, fmt.Errorf("op=audiometa.Probe: empty file: %w", domain.ErrValidation)
	}

	mtype := mimetype.Detect(data)
	var (
		format   string
		duration float64
		err      error
	)
	switch {
	case mtype.Is("audio/mpeg"):
		format = "mp3"
		duration, err = mp3Duration(data)
	case mtype.Is("audio/wav"), mtype.Is("audio/x-wav"):
		format = "wav"
		duration, err = wavDuration(data)
	case mtype.Is("audio/flac"):
		format = "flac"
		duration, err = flacDuration(data)
	case mtype.Is("audio/ogg"), mtype.Is("application/ogg"):
		format = "ogg"
		duration, err = oggDuration(data)
	default:
		return Info{}, fmt.Errorf("op=audiometa.Probe: unsupported audio format %s: %w", mtype.String(), domain.ErrValidation)
	}
	if err != nil {
		return Info{}, fmt.Errorf("op=audiometa.Probe: %v: %w", err, domain.ErrValidation)
	}
	if duration <= 0 {
		return Info{}, fmt.Errorf("op=audiometa.Probe: zero-length audio: %w", domain.ErrValidation)
	}

	return Info{Format: format, ContentType: mtype.String(), Duration: duration}, nil
}

// wavDuration walks RIFF chunks for the fmt byte rate and the data size.
func wavDuration(data []byte) (float64, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, fmt.Errorf("malformed wav header")
	}

	var byteRate uint32
	var dataLen uint32
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8
		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, fmt.Errorf("truncated wav fmt chunk")
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			dataLen = size
		}
		off = body + int(size)
		if size%2 == 1 {
			off++
		}
	}
	if byteRate == 0 || dataLen == 0 {
		return 0, fmt.Errorf("wav missing fmt or data chunk")
	}
	return float64(dataLen) / float64(byteRate), nil
}

// flacDuration reads sample rate and total samples from STREAMINFO.
func flacDuration(data []byte) (float64, error) {
	if len(data) < 42 || string(data[0:4]) != "fLaC" {
		return 0, fmt.Errorf("malformed flac header")
	}
	if data[4]&0x7F != 0 {
		return 0, fmt.Errorf("flac streaminfo block missing")
	}

	info := data[8:]
	sampleRate := uint32(info[10])<<12 | uint32(info[11])<<4 | uint32(info[12])>>4
	totalSamples := uint64(info[13]&0x0F)<<32 |
		uint64(info[14])<<24 |
		uint64(info[15])<<16 |
		uint64(info[16])<<8 |
		uint64(info[17])
	if sampleRate == 0 || totalSamples == 0 {
		return 0, fmt.Errorf("flac streaminfo lacks duration")
	}
	return float64(totalSamples) / float64(sampleRate), nil
}

var (
	// MPEG1 layer III bitrates in kbit/s, indexed by the header bitrate field.
	mp3BitratesV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	// MPEG2/2.5 layer III bitrates.
	mp3BitratesV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
)

// mp3Duration estimates length from the first frame's bitrate, assuming a
// constant-bitrate stream. ID3v2 prefix and ID3v1 trailer bytes are excluded
// from the payload size.
func mp3Duration(data []byte) (float64, error) {
	audio := data
	if len(audio) >= 10 && string(audio[0:3]) == "ID3" {
		size := synchsafe(audio[6:10]) + 10
		if audio[5]&0x10 != 0 {
			size += 10
		}
		if size >= len(audio) {
			return 0, fmt.Errorf("mp3 is all tag, no frames")
		}
		audio = audio[size:]
	}
	if len(audio) >= 128 && string(audio[len(audio)-128:len(audio)-125]) == "TAG" {
		audio = audio[:len(audio)-128]
	}

	// Tolerate padding before the first frame sync.
	sync := -1
	limit := len(audio) - 4
	if limit > 2048 {
		limit = 2048
	}
	for i := 0; i <= limit; i++ {
		if audio[i] == 0xFF && audio[i+1]&0xE0 == 0xE0 {
			sync = i
			break
		}
	}
	if sync < 0 {
		return 0, fmt.Errorf("mp3 frame sync not found")
	}

	h1, h2 := audio[sync+1], audio[sync+2]
	version := (h1 >> 3) & 0x3
	layer := (h1 >> 1) & 0x3
	if version == 1 || layer != 1 {
		return 0, fmt.Errorf("unsupported mpeg frame header")
	}
	bitrateIdx := (h2 >> 4) & 0xF
	var kbps int
	if version == 3 {
		kbps = mp3BitratesV1[bitrateIdx]
	} else {
		kbps = mp3BitratesV2[bitrateIdx]
	}
	if kbps == 0 {
		return 0, fmt.Errorf("mp3 bitrate unreadable")
	}

	payload := len(audio) - sync
	return float64(payload) * 8 / float64(kbps*1000), nil
}

func synchsafe(b []byte) int {
	return int(b[0]&0x7F)<<21 | int(b[1]&0x7F)<<14 | int(b[2]&0x7F)<<7 | int(b[3]&0x7F)
}

// oggDuration divides the final page's granule position by the stream's
// sample rate (Vorbis) or the fixed 48 kHz Opus clock.
func oggDuration(data []byte) (float64, error) {
	if len(data) < 58 || string(data[0:4]) != "OggS" {
		return 0, fmt.Errorf("malformed ogg header")
	}

	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}

	var rate float64
	var preskip float64
	if idx := bytes.Index(head, []byte("\x01vorbis")); idx >= 0 && idx+16 <= len(head) {
		rate = float64(binary.LittleEndian.Uint32(head[idx+12 : idx+16]))
	} else if idx := bytes.Index(head, []byte("OpusHead")); idx >= 0 && idx+12 <= len(head) {
		rate = 48000
		preskip = float64(binary.LittleEndian.Uint16(head[idx+10 : idx+12]))
	} else {
		return 0, fmt.Errorf("ogg codec not recognized")
	}
	if rate == 0 {
		return 0, fmt.Errorf("ogg sample rate unreadable")
	}

	last := bytes.LastIndex(data, []byte("OggS"))
	if last < 0 || last+14 > len(data) {
		return 0, fmt.Errorf("ogg final page unreadable")
	}
	granule := binary.LittleEndian.Uint64(data[last+6 : last+14])
	if granule == 0 || granule == ^uint64(0) {
		return 0, fmt.Errorf("ogg granule position unreadable")
	}
	return (float64(granule) - preskip) / rate, nil
}
