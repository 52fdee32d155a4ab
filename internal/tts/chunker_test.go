package tts

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	chunks := SplitText("Hello there.")
	assert.Equal(t, []string{"Hello there."}, chunks)
}

func TestSplitTextPrefersParagraphs(t *testing.T) {
	text := "First paragraph.\nSecond paragraph."
	chunks := SplitText(text)
	assert.Equal(t, []string{"First paragraph.", "Second paragraph."}, chunks)
}

func TestSplitTextLongParagraphSplitsOnSentences(t *testing.T) {
	sentence := strings.Repeat("word ", 24) + "end. " // ~125 chars
	text := sentence + sentence + sentence

	chunks := SplitText(text)
	require.True(t, len(chunks) >= 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), MaxChunkChars, "chunk %q too long", c)
	}
}

func TestSplitTextHardSplitsUnbrokenRun(t *testing.T) {
	text := strings.Repeat("a", 450)
	chunks := SplitText(text)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], MaxChunkChars)
	assert.Len(t, chunks[2], 50)
}

func TestSplitTextDropsEmptyLines(t *testing.T) {
	chunks := SplitText("one.\n\n\ntwo.")
	assert.Equal(t, []string{"one.", "two."}, chunks)
}

func makeWAV(t *testing.T, payload []byte) []byte {
	t.Helper()
	wav := make([]byte, wavHeaderSize+len(payload))
	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(len(wav)-8))
	copy(wav[8:12], "WAVE")
	copy(wav[12:16], "fmt ")
	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(len(payload)))
	copy(wav[wavHeaderSize:], payload)
	return wav
}

func TestConcatWAV(t *testing.T) {
	a := makeWAV(t, []byte{1, 2, 3, 4})
	b := makeWAV(t, []byte{5, 6})

	out, err := ConcatWAV([][]byte{a, b})
	require.NoError(t, err)

	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, out[wavHeaderSize:])
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(out[40:44]))
	assert.Equal(t, uint32(len(out)-8), binary.LittleEndian.Uint32(out[4:8]))
}

func TestConcatWAVSingleSegment(t *testing.T) {
	a := makeWAV(t, []byte{9, 9})
	out, err := ConcatWAV([][]byte{a})
	require.NoError(t, err)
	assert.Equal(t, a, out)
}

func TestConcatWAVRejectsGarbage(t *testing.T) {
	junk := make([]byte, 60)
	_, err := ConcatWAV([][]byte{makeWAV(t, []byte{1}), junk})
	assert.Error(t, err)
}

func TestConcatWAVEmptyInput(t *testing.T) {
	_, err := ConcatWAV(nil)
	assert.Error(t, err)
}
