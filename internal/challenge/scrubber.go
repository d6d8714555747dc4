// Package challenge implements the streaming challenge channel: it relays
// conversation turns to the gatekeeper endpoint, reconstructs the reply
// from an incrementally delivered stream, and detects the embedded unlock
// marker without ever letting it reach rendered output.
package challenge

import "strings"

// Scrubber incrementally removes every occurrence of the marker from a
// chunked text stream and records whether one was seen. A marker split
// across any number of chunk boundaries is still caught: the scrubber
// holds back the longest trailing run that could still grow into a marker
// until the next chunk (or Flush) resolves it.
type Scrubber struct {
	marker string
	carry  string
	found  bool
}

// NewScrubber creates a scrubber for the given marker.
func NewScrubber(marker string) *Scrubber {
	return &Scrubber{marker: marker}
}

// Scan consumes the next chunk and returns the text safe to display.
func (s *Scrubber) Scan(chunk string) string {
	buf := s.carry + chunk
	for strings.Contains(buf, s.marker) {
		s.found = true
		buf = strings.ReplaceAll(buf, s.marker, "")
	}

	hold := 0
	max := len(s.marker) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(s.marker, buf[len(buf)-n:]) {
			hold = n
			break
		}
	}
	emit := buf[:len(buf)-hold]
	s.carry = buf[len(buf)-hold:]
	return emit
}

// Flush returns any held-back text once the stream is complete. Text held
// as a potential marker prefix turned out to be ordinary and is released.
func (s *Scrubber) Flush() string {
	out := s.carry
	s.carry = ""
	return out
}

// Detected reports whether at least one complete marker was seen.
func (s *Scrubber) Detected() bool {
	return s.found
}

// Reset clears all state for reuse on a new stream.
func (s *Scrubber) Reset() {
	s.carry = ""
	s.found = false
}
