// Package parser splits streamed model output into sentences and cleans text crossing the speech boundary.
package parser

import (
	"regexp"
	"strings"
)

// sentenceBoundary matches terminal punctuation followed by whitespace and an uppercase letter.
// Only the punctuation belongs to the finished sentence.
var sentenceBoundary = regexp.MustCompile(`[.?!]\s+\p{Lu}`)

// SentenceChunker accumulates streamed text and emits each sentence as soon as the
// next one has started. It is not safe for concurrent use.
type SentenceChunker struct {
	buf  strings.Builder
	emit func(sentence string) error
}

// NewSentenceChunker returns a chunker that hands completed sentences to emit.
func NewSentenceChunker(emit func(sentence string) error) *SentenceChunker {
	return &SentenceChunker{emit: emit}
}

// Feed appends a fragment and emits every sentence it completed, in order.
// An error from emit stops emission; sentences already emitted stay emitted.
func (c *SentenceChunker) Feed(fragment string) error {
	if fragment == "" {
		return nil
	}
	c.buf.WriteString(fragment)

	for {
		pending := c.buf.String()
		sentence, rest, ok := cutSentence(pending)
		if !ok {
			return nil
		}

		c.buf.Reset()
		c.buf.WriteString(rest)
		if err := c.emit(sentence); err != nil {
			return err
		}
	}
}

// Flush emits whatever is buffered, punctuated or not, and empties the buffer.
func (c *SentenceChunker) Flush() error {
	rest := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	if rest == "" {
		return nil
	}
	return c.emit(rest)
}

// Pending returns the buffered text not yet emitted.
func (c *SentenceChunker) Pending() string {
	return c.buf.String()
}

// SplitSentences splits complete text with the same rule the chunker applies to streams.
func SplitSentences(text string) []string {
	var out []string
	c := NewSentenceChunker(func(s string) error {
		out = append(out, s)
		return nil
	})
	_ = c.Feed(text)
	_ = c.Flush()
	return out
}

// cutSentence splits text at its first sentence boundary. The sentence is trimmed and the
// remainder has its leading whitespace removed.
func cutSentence(text string) (sentence, rest string, ok bool) {
	loc := sentenceBoundary.FindStringIndex(text)
	if loc == nil {
		return "", text, false
	}

	// loc[0] is the punctuation, which is a single byte.
	end := loc[0] + 1
	sentence = strings.TrimSpace(text[:end])
	rest = strings.TrimLeft(text[end:], " \t\r\n")
	if sentence == "" {
		return "", rest, false
	}
	return sentence, rest, true
}
