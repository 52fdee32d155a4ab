package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentenceBufferFlushesOnTerminator(t *testing.T) {
	var b SentenceBuffer

	assert.Nil(t, b.Push("Hello"))
	assert.Equal(t, []string{"Hello there."}, b.Push(" there."))
	assert.Equal(t, "", b.Flush())
}

func TestSentenceBufferMultipleSentencesInOneDelta(t *testing.T) {
	var b SentenceBuffer

	got := b.Push("One. Two! Three? And a tail")
	assert.Equal(t, []string{"One.", " Two!", " Three?"}, got)
	assert.Equal(t, " And a tail", b.Flush())
}

func TestSentenceBufferAllTerminators(t *testing.T) {
	for _, term := range []string{".", "?", "!", ";", ":", "\n"} {
		var b SentenceBuffer
		got := b.Push("chunk" + term)
		assert.Len(t, got, 1, "terminator %q", term)
	}
}

func TestSentenceBufferSkipsWhitespaceOnlySentences(t *testing.T) {
	var b SentenceBuffer
	got := b.Push("Done.\n\n")
	assert.Equal(t, []string{"Done."}, got)
}

func TestSentenceBufferTailCarriesAcrossPushes(t *testing.T) {
	var b SentenceBuffer
	b.Push("The answer")
	got := b.Push(" is 42. But")
	assert.Equal(t, []string{"The answer is 42."}, got)
	assert.Equal(t, " But", b.Flush())
}
