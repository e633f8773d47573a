package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func words(n int) []string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return w
}

func TestNew_InvalidConfig(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -1, 0},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 11},
		{"negative overlap", 10, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.size, tc.overlap); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New(%d, %d) error = %v, want ErrInvalidConfig", tc.size, tc.overlap, err)
			}
		})
	}
}

func TestSplit_Empty(t *testing.T) {
	c, err := New(100, 20)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := c.Split(""); got != nil {
		t.Errorf("Split(\"\") = %v, want nil", got)
	}
	if got := c.Split("   \n\t "); got != nil {
		t.Errorf("Split(whitespace) = %v, want nil", got)
	}
}

func TestSplit_SingleChunkWhenShort(t *testing.T) {
	c, err := New(10, 2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	chunks := c.Split("alpha beta gamma")
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	if chunks[0] != "alpha beta gamma" {
		t.Errorf("chunks[0] = %q", chunks[0])
	}
}

// TestSplit_OverlapAndCoverage checks the 2500-word case: chunk size 1000,
// overlap 200 must cover the whole input, end on the final word, and share
// exactly 200 words between consecutive chunks.
func TestSplit_OverlapAndCoverage(t *testing.T) {
	src := words(2500)
	c, err := New(1000, 200)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	chunks := c.Split(strings.Join(src, " "))
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}

	last := strings.Fields(chunks[len(chunks)-1])
	if got, want := last[len(last)-1], src[len(src)-1]; got != want {
		t.Errorf("last word = %q, want %q", got, want)
	}

	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		cur := strings.Fields(chunks[i])
		tail := prev[len(prev)-200:]
		head := cur[:200]
		for j := range tail {
			if tail[j] != head[j] {
				t.Fatalf("chunk %d does not overlap chunk %d by 200 words (word %d: %q != %q)",
					i, i-1, j, head[j], tail[j])
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	c, err := New(50, 10)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	text := strings.Join(words(337), " ")
	a := c.Split(text)
	b := c.Split(text)
	if len(a) != len(b) {
		t.Fatalf("len mismatch: %d != %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplit_FullChunkSizes(t *testing.T) {
	c, err := New(100, 25)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	chunks := c.Split(strings.Join(words(400), " "))
	for i, ch := range chunks[:len(chunks)-1] {
		if n := len(strings.Fields(ch)); n != 100 {
			t.Errorf("chunk %d has %d words, want 100", i, n)
		}
	}
}
