// Package audio turns call recordings into inline payloads and reads their
// duration for timestamp bounds.
package audio

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-audio/wav"

	"github.com/joescharf/callsage/internal/apperr"
	"github.com/joescharf/callsage/internal/models"
)

// MaxBytes caps the size of a recording sent inline to the model.
const MaxBytes = 20 << 20

var supported = map[string]bool{
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/mpeg":  true,
}

// Recording is a loaded call recording.
type Recording struct {
	Payload  *models.AudioPayload
	Duration time.Duration // zero when unknown
}

// LoadFile reads a recording from disk.
func LoadFile(path string) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	return Load(data)
}

// Load sniffs the MIME type of raw audio bytes, encodes them and reads the
// duration from the WAV header when there is one.
func Load(data []byte) (*Recording, error) {
	if len(data) == 0 {
		return nil, apperr.Invalid("audio", "recording is empty")
	}
	if len(data) > MaxBytes {
		return nil, apperr.Invalid("audio", "recording is %d bytes, limit is %d", len(data), MaxBytes)
	}
	mime := mimetype.Detect(data).String()
	if !supported[mime] {
		return nil, apperr.Invalid("audio", "unsupported audio type %q (want WAV or MP3)", mime)
	}

	rec := &Recording{
		Payload: &models.AudioPayload{
			MIMEType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		},
	}
	if strings.Contains(mime, "wav") {
		rec.Duration = WAVDuration(data)
	}
	return rec, nil
}

// WAVDuration returns the playing time encoded in a WAV header, or zero if
// the header cannot be read.
func WAVDuration(data []byte) time.Duration {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return 0
	}
	dur, err := d.Duration()
	if err != nil {
		return 0
	}
	return dur
}

// DataURI renders a payload as data:<mime>;base64,<data>.
func DataURI(p *models.AudioPayload) string {
	return "data:" + p.MIMEType + ";base64," + p.Data
}

// ParseDataURI accepts a data URI or bare base64 and returns a recording.
func ParseDataURI(s string) (*Recording, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.Index(s, ",")
		if comma < 0 || !strings.Contains(s[:comma], ";base64") {
			return nil, apperr.Invalid("audio", "malformed data URI")
		}
		s = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.Invalid("audio", "audio is not valid base64: %v", err)
	}
	return Load(data)
}
