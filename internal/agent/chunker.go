package agent

import "strings"

// sentenceTerminators end a speakable unit of streamed content.
const sentenceTerminators = ".?!;:\n"

// SentenceBuffer accumulates streamed content and releases it sentence by
// sentence, so text reaches the client (and the TTS queue) as soon as a
// terminator arrives instead of at end of stream.
type SentenceBuffer struct {
	buf strings.Builder
}

// Push appends a delta and returns any newly completed sentences, in order.
func (b *SentenceBuffer) Push(delta string) []string {
	b.buf.WriteString(delta)

	text := b.buf.String()
	last := strings.LastIndexAny(text, sentenceTerminators)
	if last < 0 {
		return nil
	}

	complete := text[:last+1]
	b.buf.Reset()
	b.buf.WriteString(text[last+1:])

	var sentences []string
	start := 0
	for i := 0; i < len(complete); i++ {
		if strings.IndexByte(sentenceTerminators, complete[i]) >= 0 {
			if s := complete[start : i+1]; strings.TrimSpace(s) != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	return sentences
}

// Flush returns whatever incomplete tail remains.
func (b *SentenceBuffer) Flush() string {
	tail := b.buf.String()
	b.buf.Reset()
	return tail
}
