package ingest_test

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/agentoven/agentdock/internal/ingest"
)

func reassemble(chunks []ingest.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text[c.Overlap:]
	}
	return strings.Join(parts, " ")
}

func sampleText(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		b.WriteString("Sentence number ")
		b.WriteString(strings.Repeat("x", i%17))
		b.WriteString(" talks about topic ")
		b.WriteString(strings.Repeat("y", i%5))
		b.WriteString(". ")
		if i%7 == 6 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func TestSplit_ShortInputIsOneChunk(t *testing.T) {
	chunks := ingest.Chunker{Size: 1000, Overlap: 200}.Split("Hello world. This is a test.")
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Text != "Hello world. This is a test." || c.Index != 0 || c.Total != 1 || c.Overlap != 0 {
		t.Errorf("chunk = %+v", c)
	}
}

func TestSplit_Empty(t *testing.T) {
	for _, in := range []string{"", "   \n\n  "} {
		if got := (ingest.Chunker{Size: 1000, Overlap: 200}).Split(in); len(got) != 0 {
			t.Errorf("Split(%q) = %d chunks, want 0", in, len(got))
		}
	}
}

func TestSplit_RoundTripAndTotals(t *testing.T) {
	text := sampleText(300)
	c := ingest.Chunker{Size: 1000, Overlap: 200}
	chunks := c.Split(text)
	if len(chunks) < 5 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}

	want := strings.Join(ingest.Sentences(text), " ")
	if got := reassemble(chunks); got != want {
		t.Errorf("reassembled text differs from sentence sequence\n got: %.120q\nwant: %.120q", got, want)
	}

	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d Index = %d", i, ch.Index)
		}
		if ch.Total != len(chunks) {
			t.Errorf("chunk %d Total = %d, want %d", i, ch.Total, len(chunks))
		}
		if n := utf8.RuneCountInString(ch.Text); n > c.Size {
			t.Errorf("chunk %d has %d chars, over size", i, n)
		}
		if ch.Overlap > c.Overlap+1 {
			t.Errorf("chunk %d overlap %d exceeds budget", i, ch.Overlap)
		}
		if i > 0 {
			prefix := strings.TrimSuffix(ch.Text[:ch.Overlap], " ")
			if !strings.HasSuffix(chunks[i-1].Text, prefix) {
				t.Errorf("chunk %d overlap %q is not the tail of chunk %d", i, prefix, i-1)
			}
		}
	}
	if chunks[1].Overlap == 0 {
		t.Error("expected sentence overlap between chunks")
	}
}

func TestSplit_LongSentenceIsHardSplit(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 600)) + "."
	chunks := ingest.Chunker{Size: 1000, Overlap: 200}.Split(long)
	if len(chunks) < 3 {
		t.Fatalf("chunks = %d, want >= 3", len(chunks))
	}
	for _, c := range chunks {
		if utf8.RuneCountInString(c.Text) > 1000 {
			t.Errorf("chunk over size: %d", utf8.RuneCountInString(c.Text))
		}
	}
	if got := reassemble(chunks); got != long {
		t.Error("hard split at spaces should round trip")
	}
}

func TestSentences(t *testing.T) {
	got := ingest.Sentences("Hi there!  How are you? I'm fine.\nNew line without stop\n\"Quoted.\" End")
	want := []string{"Hi there!", "How are you?", "I'm fine.", "New line without stop", "\"Quoted.\"", "End"}
	if len(got) != len(want) {
		t.Fatalf("Sentences() = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestContentHash_Normalized(t *testing.T) {
	a := ingest.ContentHash("Hello   World.\n")
	b := ingest.ContentHash("hello world.")
	if a != b {
		t.Error("hash should ignore case and whitespace")
	}
	sum := sha256.Sum256([]byte("hello world."))
	if a != hex.EncodeToString(sum[:]) {
		t.Errorf("ContentHash() = %s, want sha256 of normalized text", a)
	}
	if ingest.ContentHash("hello world!") == a {
		t.Error("different text should hash differently")
	}
}
