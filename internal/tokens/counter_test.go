package tokens

import (
	"math"
	"testing"

	"github.com/pkoukk/tiktoken-go"
)

// requireEncoding skips tests that need a real tiktoken encoding; without one
// the counter takes the character-estimate path, which ignores calibration.
func requireEncoding(t *testing.T) {
	t.Helper()
	if _, err := tiktoken.GetEncoding(DefaultEncoding); err != nil {
		t.Skipf("encoding %s unavailable: %v", DefaultEncoding, err)
	}
}

func TestCount_EmptyTextIsZero(t *testing.T) {
	c := NewCounter(0, nil)
	if got := c.Count(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", got)
	}
}

func TestCount_AppliesCalibration(t *testing.T) {
	requireEncoding(t)
	low := NewCounter(0.9, nil)
	high := NewCounter(1.3, nil)
	text := "The water cycle describes how water evaporates, condenses and precipitates."
	a, b := low.Count(text), high.Count(text)
	if a <= 0 || b <= 0 {
		t.Fatalf("expected positive counts, got %d and %d", a, b)
	}
	if b <= a {
		t.Fatalf("expected higher calibration to yield more tokens: %d vs %d", a, b)
	}
}

func TestNewCounter_ClampsCalibration(t *testing.T) {
	text := "calibration clamp check"
	over := NewCounter(5.0, nil)
	max := NewCounter(1.3, nil)
	if over.Count(text) != max.Count(text) {
		t.Fatalf("expected calibration clamped to 1.3")
	}
	under := NewCounter(0.1, nil)
	min := NewCounter(0.9, nil)
	if under.Count(text) != min.Count(text) {
		t.Fatalf("expected calibration clamped to 0.9")
	}
}

func TestEncodingForModel_PrefixMatch(t *testing.T) {
	cases := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", "o200k_base"},
		{"gpt-4-turbo", "cl100k_base"},
		{"claude-3-haiku-20240307", "cl100k_base"},
		{"unknown-model", DefaultEncoding},
	}
	for _, tc := range cases {
		if got := EncodingForModel(tc.model); got != tc.want {
			t.Fatalf("EncodingForModel(%q) = %q, want %q", tc.model, got, tc.want)
		}
	}
}

func TestEstimate_FallbackUsesCharacterRatio(t *testing.T) {
	c := NewCounter(0, nil)
	text := "abcdefghij" // 10 chars
	want := int(math.Ceil(10 / 4.5))
	if got := c.estimate(text); got != want {
		t.Fatalf("estimate(%q) = %d, want %d", text, got, want)
	}
}

func TestCount_Deterministic(t *testing.T) {
	c := NewCounter(0, nil)
	text := "Photosynthesis converts light energy into chemical energy."
	first := c.Count(text)
	for i := 0; i < 3; i++ {
		if got := c.Count(text); got != first {
			t.Fatalf("count changed between calls: %d vs %d", first, got)
		}
	}
}
