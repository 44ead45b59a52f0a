package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk is one slice of source text.
type Chunk struct {
	Text  string
	Index int
	Total int

	// Overlap is the byte length of the prefix of Text repeated from the
	// previous chunk, including the joining space. Text[Overlap:] is new.
	Overlap int
}

// Chunker splits text on sentence boundaries into overlapping chunks.
// Size and Overlap are measured in characters.
type Chunker struct {
	Size    int
	Overlap int
}

// Split chunks text. Sentences are whitespace-collapsed and joined by a
// single space; sentences longer than Size are split at word boundaries
// where possible. Empty input yields no chunks.
func (c Chunker) Split(text string) []Chunk {
	size := c.Size
	if size <= 0 {
		size = 1000
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var units []string
	for _, s := range Sentences(text) {
		units = append(units, splitLong(s, size)...)
	}
	if len(units) == 0 {
		return nil
	}

	var (
		chunks  []Chunk
		current []string
		curLen  int
		prefix  int // units at the head of current carried from the previous chunk
	)
	emit := func() {
		carried := 0
		if prefix > 0 {
			carried = len(strings.Join(current[:prefix], " ")) + 1
		}
		chunks = append(chunks, Chunk{
			Text:    strings.Join(current, " "),
			Index:   len(chunks),
			Overlap: carried,
		})
	}

	for _, u := range units {
		n := utf8.RuneCountInString(u)
		if len(current) > prefix && curLen+1+n > size {
			emit()

			// Carry whole trailing sentences up to the overlap budget.
			keep := 0
			kept := 0
			for i := len(current) - 1; i >= 0; i-- {
				l := utf8.RuneCountInString(current[i])
				if keep > 0 {
					l++
				}
				if kept+l > overlap {
					break
				}
				kept += l
				keep++
			}
			tail := append([]string(nil), current[len(current)-keep:]...)
			// The carried prefix must leave room for the next sentence.
			for len(tail) > 0 && kept+1+n > size {
				kept -= utf8.RuneCountInString(tail[0])
				if len(tail) > 1 {
					kept--
				}
				tail = tail[1:]
			}
			current = tail
			prefix = len(tail)
			curLen = kept
		}
		if len(current) > 0 {
			curLen++
		}
		current = append(current, u)
		curLen += n
	}
	if len(current) > prefix {
		emit()
	}

	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

// Sentences splits text after terminal punctuation followed by whitespace
// and at line breaks. Each sentence has its whitespace collapsed.
func Sentences(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' {
			flush()
			continue
		}
		cur.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Keep runs of punctuation and closing quotes with the sentence.
		for i+1 < len(runes) && strings.ContainsRune(".!?\"')]”’", runes[i+1]) {
			i++
			cur.WriteRune(runes[i])
		}
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
			flush()
		}
	}
	flush()
	return out
}

// splitLong breaks a sentence longer than size characters into pieces,
// cutting at the last space before the limit when there is one.
func splitLong(s string, size int) []string {
	if utf8.RuneCountInString(s) <= size {
		return []string{s}
	}
	var out []string
	runes := []rune(s)
	for len(runes) > size {
		cut := size
		for i := size; i > size/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
