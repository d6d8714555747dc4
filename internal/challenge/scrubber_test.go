package challenge

import (
	"strings"
	"testing"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
)

func TestScrubberRemovesWholeMarker(t *testing.T) {
	t.Parallel()

	s := NewScrubber(domain.UnlockMarker)
	out := s.Scan("Nice try. [[GATE_OPEN]]") + s.Flush()
	if out != "Nice try. " {
		t.Fatalf("unexpected display text: %q", out)
	}
	if !s.Detected() {
		t.Fatal("marker not detected")
	}
}

func TestScrubberCatchesMarkerSplitAtEveryBoundary(t *testing.T) {
	t.Parallel()

	full := "prefix [[GATE_OPEN]] suffix"
	for split := 1; split < len(full); split++ {
		s := NewScrubber(domain.UnlockMarker)
		out := s.Scan(full[:split]) + s.Scan(full[split:]) + s.Flush()
		if strings.Contains(out, domain.UnlockMarker) {
			t.Fatalf("split=%d: marker leaked: %q", split, out)
		}
		if out != "prefix  suffix" {
			t.Fatalf("split=%d: unexpected text: %q", split, out)
		}
		if !s.Detected() {
			t.Fatalf("split=%d: marker not detected", split)
		}
	}
}

func TestScrubberByteAtATime(t *testing.T) {
	t.Parallel()

	full := "Nice try. [[GATE_OPEN]]"
	s := NewScrubber(domain.UnlockMarker)
	var out strings.Builder
	for i := 0; i < len(full); i++ {
		out.WriteString(s.Scan(full[i : i+1]))
	}
	out.WriteString(s.Flush())

	if got := out.String(); got != "Nice try. " {
		t.Fatalf("unexpected display text: %q", got)
	}
	if !s.Detected() {
		t.Fatal("marker not detected")
	}
}

func TestScrubberReleasesFalsePrefixOnFlush(t *testing.T) {
	t.Parallel()

	s := NewScrubber(domain.UnlockMarker)
	out := s.Scan("so close: [[GATE_OPE") + s.Flush()
	if out != "so close: [[GATE_OPE" {
		t.Fatalf("legitimate text withheld: %q", out)
	}
	if s.Detected() {
		t.Fatal("false detection on incomplete marker")
	}
}

func TestScrubberHandlesNestedReassembly(t *testing.T) {
	t.Parallel()

	// Removing the inner marker must not expose a freshly joined one.
	s := NewScrubber(domain.UnlockMarker)
	out := s.Scan("[[GATE_[[GATE_OPEN]]OPEN]]") + s.Flush()
	if strings.Contains(out, domain.UnlockMarker) {
		t.Fatalf("reassembled marker leaked: %q", out)
	}
	if !s.Detected() {
		t.Fatal("marker not detected")
	}
}

func TestScrubberMultipleMarkers(t *testing.T) {
	t.Parallel()

	s := NewScrubber(domain.UnlockMarker)
	out := s.Scan("a[[GATE_OPEN]]b[[GATE_OPEN]]c") + s.Flush()
	if out != "abc" {
		t.Fatalf("unexpected text: %q", out)
	}
}

func TestScrubberReset(t *testing.T) {
	t.Parallel()

	s := NewScrubber(domain.UnlockMarker)
	s.Scan("[[GATE_OPEN]]")
	s.Reset()
	if s.Detected() {
		t.Fatal("Reset did not clear detection")
	}
	if out := s.Scan("hello") + s.Flush(); out != "hello" {
		t.Fatalf("unexpected text after reset: %q", out)
	}
}
