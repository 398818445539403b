// Package timecode parses the HH:MM:SS call offsets used for durations and
// timestamped review points.
package timecode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	clockRe  = regexp.MustCompile(`^(\d{1,2}):([0-5]\d):([0-5]\d)$`)
	markerRe = regexp.MustCompile(`\[(\d{1,2}:[0-5]\d:[0-5]\d)\]`)
)

// Parse accepts "HH:MM:SS" or "[HH:MM:SS]" and returns the offset in seconds.
func Parse(s string) (int, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(v, "[")
	v = strings.TrimSuffix(v, "]")
	m := clockRe.FindStringSubmatch(v)
	if m == nil {
		return 0, fmt.Errorf("invalid timestamp %q: want HH:MM:SS", s)
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	return h*3600 + min*60 + sec, nil
}

// Valid reports whether s is a well-formed timestamp.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Format renders seconds as zero-padded HH:MM:SS.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// FromDuration renders d as HH:MM:SS, truncating sub-second precision.
func FromDuration(d time.Duration) string {
	return Format(int(d / time.Second))
}

// LastMarker returns the last [HH:MM:SS] marker in a transcript, without
// brackets, or "" if the transcript has none.
func LastMarker(transcript string) string {
	all := markerRe.FindAllStringSubmatch(transcript, -1)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1][1]
}

// WithinBound reports whether ts is at or before bound. Both must parse.
func WithinBound(ts, bound string) (bool, error) {
	t, err := Parse(ts)
	if err != nil {
		return false, err
	}
	b, err := Parse(bound)
	if err != nil {
		return false, err
	}
	return t <= b, nil
}
